// Package crash detects vehicle-crash kinematics from a stream of speed
// samples: a hard deceleration followed by sustained stillness.
package crash

import (
	"sync"
	"time"

	"github.com/windhoek-dev/aegis/internal/geo"
)

// Config holds detector tuning. Zero values fall back to defaults.
type Config struct {
	MinSpeedKmh   float64       // speed considered "driving"
	StillSpeedKmh float64       // speed considered "stopped"
	SpeedDropKmh  float64       // minimum qualifying deceleration delta
	DropWindow    time.Duration // max elapsed time for the drop
	Stillness     time.Duration // confirmation delay before emitting
	HistoryWindow time.Duration // rolling speed history retention
}

func (c Config) withDefaults() Config {
	if c.MinSpeedKmh <= 0 {
		c.MinSpeedKmh = 35
	}
	if c.StillSpeedKmh <= 0 {
		c.StillSpeedKmh = 5
	}
	if c.SpeedDropKmh <= 0 {
		c.SpeedDropKmh = 25
	}
	if c.DropWindow <= 0 {
		c.DropWindow = 2 * time.Second
	}
	if c.Stillness <= 0 {
		c.Stillness = 10 * time.Second
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10 * time.Second
	}
	return c
}

// Event describes a confirmed crash. Immutable once emitted.
type Event struct {
	At               time.Time `json:"at"`
	PreviousSpeedKmh float64   `json:"previous_speed_kmh"`
	CurrentSpeedKmh  float64   `json:"current_speed_kmh"`
	SpeedDeltaKmh    float64   `json:"speed_delta_kmh"`
	DecelerationMs2  float64   `json:"deceleration_ms2"`
	Location         geo.Point `json:"location"`
}

type speedSample struct {
	kmh float64
	at  time.Time
}

type pendingCrash struct {
	prevKmh  float64
	currKmh  float64
	deltaKmh float64
	decelMs2 float64
	at       time.Time
}

// Detector consumes speed and location samples for one owner. All methods
// are safe for concurrent use. The onCrash callback runs on the timer
// goroutine and must not block.
type Detector struct {
	mu         sync.Mutex
	cfg        Config
	onCrash    func(Event)
	monitoring bool

	history      []speedSample
	lastSpeedKmh float64

	lastLocation geo.Point
	hasLocation  bool

	pending    *pendingCrash
	timer      *time.Timer
	generation int
}

func NewDetector(cfg Config, onCrash func(Event)) *Detector {
	return &Detector{
		cfg:        cfg.withDefaults(),
		onCrash:    onCrash,
		monitoring: true,
	}
}

// ProcessLocation records the most recent fix used for the emitted event.
func (d *Detector) ProcessLocation(p geo.Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.monitoring {
		return
	}
	d.lastLocation = p
	d.hasLocation = true
}

// ProcessSpeed ingests one speed sample. A qualifying deceleration arms the
// stillness-confirmation timer; speed rising above the stillness threshold
// while armed suppresses the pending event.
func (d *Detector) ProcessSpeed(kmh float64, at time.Time) {
	if kmh < 0 {
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.monitoring {
		return
	}

	d.lastSpeedKmh = kmh
	d.history = append(d.history, speedSample{kmh: kmh, at: at})
	d.pruneLocked(at)

	if d.pending != nil && kmh >= d.cfg.StillSpeedKmh {
		// Vehicle moved again during confirmation: not a crash.
		d.clearPendingLocked()
	}

	if kmh >= d.cfg.StillSpeedKmh {
		return
	}

	// Compare against the fastest driving sample inside the drop window so
	// that GPS jitter between the peak and the stop cannot mask the drop.
	var prev *speedSample
	for i := range d.history {
		s := d.history[i]
		if s.kmh < d.cfg.MinSpeedKmh {
			continue
		}
		elapsed := at.Sub(s.at)
		if elapsed <= 0 || elapsed > d.cfg.DropWindow {
			continue
		}
		if prev == nil || s.kmh > prev.kmh {
			prev = &d.history[i]
		}
	}
	if prev == nil {
		return
	}
	delta := prev.kmh - kmh
	if delta < d.cfg.SpeedDropKmh {
		return
	}

	d.pending = &pendingCrash{
		prevKmh:  prev.kmh,
		currKmh:  kmh,
		deltaKmh: delta,
		decelMs2: geo.KmhToMps(delta) / at.Sub(prev.at).Seconds(),
		at:       at,
	}
	d.armTimerLocked()
}

func (d *Detector) armTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	gen := d.generation
	d.timer = time.AfterFunc(d.cfg.Stillness, func() { d.confirm(gen) })
}

// confirm re-checks state when the stillness timer fires. A stale generation
// means the pending crash was superseded or dismissed while the timer was
// in flight.
func (d *Detector) confirm(gen int) {
	d.mu.Lock()
	if gen != d.generation || d.pending == nil || !d.monitoring {
		d.mu.Unlock()
		return
	}
	if d.lastSpeedKmh >= d.cfg.StillSpeedKmh || !d.hasLocation {
		d.clearPendingLocked()
		d.mu.Unlock()
		return
	}
	p := d.pending
	loc := d.lastLocation
	d.clearPendingLocked()
	cb := d.onCrash
	d.mu.Unlock()

	if cb != nil {
		cb(Event{
			At:               p.at,
			PreviousSpeedKmh: p.prevKmh,
			CurrentSpeedKmh:  p.currKmh,
			SpeedDeltaKmh:    p.deltaKmh,
			DecelerationMs2:  p.decelMs2,
			Location:         loc,
		})
	}
}

// Dismiss clears history and cancels any pending confirmation.
func (d *Detector) Dismiss() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// SetMonitoring toggles detection. Disabling cancels all state so no stale
// timer can fire later.
func (d *Detector) SetMonitoring(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.monitoring == enabled {
		return
	}
	d.monitoring = enabled
	if !enabled {
		d.resetLocked()
		d.hasLocation = false
	}
}

// Monitoring reports whether detection is enabled.
func (d *Detector) Monitoring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitoring
}

// Close cancels any pending timer. Idempotent.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *Detector) resetLocked() {
	d.history = nil
	d.lastSpeedKmh = 0
	d.clearPendingLocked()
}

func (d *Detector) clearPendingLocked() {
	d.pending = nil
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.cfg.HistoryWindow)
	i := 0
	for i < len(d.history) && d.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.history = append(d.history[:0], d.history[i:]...)
	}
}
