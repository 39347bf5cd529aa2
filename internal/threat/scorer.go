// Package threat accumulates weighted danger signals into a bounded score
// with time-windowed deduplication and escalation thresholds.
package threat

import (
	"context"
	"sync"
	"time"

	"github.com/windhoek-dev/aegis/internal/geo"
)

// Config holds scorer tuning. Zero values fall back to defaults.
type Config struct {
	DedupWindow     time.Duration // same-kind suppression window
	NightStartHour  int           // inclusive, local time
	NightEndHour    int           // exclusive, local time
	MovementEpsilon float64       // meters considered real movement
	LocationWindow  time.Duration // location ring retention
	NoMovementAfter time.Duration // SOS age before the no-movement rule applies
	NoMovementIdle  time.Duration // stillness span that fires the rule
	LongSOSAfter    time.Duration // SOS age that fires the long-active rule
	RapidSpeedMps   float64       // effective speed implying forced transport
	CancelWindow    time.Duration // repeated-cancel sliding window
	CancelThreshold int
	AudioSpikeLevel float64 // amplitude 0..1 treated as a spike
	LowBatteryPct   float64
}

func (c Config) withDefaults() Config {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 60 * time.Second
	}
	if c.NightStartHour == 0 {
		c.NightStartHour = 22
	}
	if c.NightEndHour == 0 {
		c.NightEndHour = 6
	}
	if c.MovementEpsilon <= 0 {
		c.MovementEpsilon = 5
	}
	if c.LocationWindow <= 0 {
		c.LocationWindow = 5 * time.Minute
	}
	if c.NoMovementAfter <= 0 {
		c.NoMovementAfter = 120 * time.Second
	}
	if c.NoMovementIdle <= 0 {
		c.NoMovementIdle = 60 * time.Second
	}
	if c.LongSOSAfter <= 0 {
		c.LongSOSAfter = 300 * time.Second
	}
	if c.RapidSpeedMps <= 0 {
		c.RapidSpeedMps = 33.3
	}
	if c.CancelWindow <= 0 {
		c.CancelWindow = 30 * time.Minute
	}
	if c.CancelThreshold <= 0 {
		c.CancelThreshold = 3
	}
	if c.AudioSpikeLevel <= 0 {
		c.AudioSpikeLevel = 0.85
	}
	if c.LowBatteryPct <= 0 {
		c.LowBatteryPct = 15
	}
	return c
}

type locSample struct {
	p  geo.Point
	at time.Time
}

// Scorer accumulates threat signals for a single owner. The onEscalate
// callback fires exactly once per session, on the first transition into the
// escalate tier, outside the scorer lock.
type Scorer struct {
	mu  sync.Mutex
	cfg Config

	score     int
	escalated bool
	signals   []Signal
	lastKind  map[Kind]time.Time

	locations      []locSample
	lastMovementAt time.Time

	sosActive    bool
	sosStartedAt time.Time

	cancelTimes []time.Time

	onEscalate func(State)
}

func NewScorer(cfg Config, onEscalate func(State)) *Scorer {
	return &Scorer{
		cfg:        cfg.withDefaults(),
		lastKind:   make(map[Kind]time.Time),
		onEscalate: onEscalate,
	}
}

// Report records an externally observed signal of the given kind.
// Unknown kinds are ignored. Returns the updated state.
func (s *Scorer) Report(kind Kind, at time.Time, detail string) State {
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	fire := s.addLocked(kind, at, detail)
	st := s.stateLocked()
	s.mu.Unlock()
	s.maybeEscalate(fire, st)
	return st
}

// ProcessAudioLevel scores an audio spike when amplitude crosses the
// configured level.
func (s *Scorer) ProcessAudioLevel(amplitude float64, at time.Time) {
	if amplitude < s.cfg.AudioSpikeLevel {
		return
	}
	s.Report(KindAudioSpike, at, "")
}

// ProcessBattery scores a low-battery condition.
func (s *Scorer) ProcessBattery(percent float64, at time.Time) {
	if percent >= s.cfg.LowBatteryPct {
		return
	}
	s.Report(KindLowBattery, at, "")
}

// ProcessLocation feeds one fix into the movement ring. Movement beyond the
// epsilon resets the inactivity clock; a trajectory faster than the rapid
// threshold scores a possible forced transport.
func (s *Scorer) ProcessLocation(p geo.Point, at time.Time) {
	if !p.Valid() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	if n := len(s.locations); n > 0 {
		if geo.DistanceMeters(s.locations[n-1].p, p) > s.cfg.MovementEpsilon {
			s.lastMovementAt = at
		}
	} else {
		s.lastMovementAt = at
	}
	s.locations = append(s.locations, locSample{p: p, at: at})
	s.pruneLocationsLocked(at)

	var fire bool
	if len(s.locations) >= 3 {
		oldest := s.locations[0]
		newest := s.locations[len(s.locations)-1]
		span := newest.at.Sub(oldest.at).Seconds()
		if span > 0 {
			mps := geo.DistanceMeters(oldest.p, newest.p) / span
			if mps > s.cfg.RapidSpeedMps {
				fire = s.addLocked(KindRapidLocationDeviation, at, "")
			}
		}
	}
	st := s.stateLocked()
	s.mu.Unlock()
	s.maybeEscalate(fire, st)
}

// NoteSOSStarted marks an SOS active. A silent activation during the night
// window scores immediately.
func (s *Scorer) NoteSOSStarted(at time.Time, silent bool) {
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	s.sosActive = true
	s.sosStartedAt = at
	s.lastMovementAt = at
	var fire bool
	if silent && s.inNightWindow(at) {
		fire = s.addLocked(KindSilentSOSNight, at, "")
	}
	st := s.stateLocked()
	s.mu.Unlock()
	s.maybeEscalate(fire, st)
}

// NoteSOSEnded marks the SOS inactive without resetting accumulated score.
func (s *Scorer) NoteSOSEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sosActive = false
}

// NoteSOSCancelled records one cancellation in the sliding window and scores
// repeated cancels once the threshold is reached. Entries expire by age, so
// bursts cannot over- or under-count.
func (s *Scorer) NoteSOSCancelled(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	s.cancelTimes = append(s.cancelTimes, at)
	s.pruneCancelsLocked(at)
	var fire bool
	if len(s.cancelTimes) >= s.cfg.CancelThreshold {
		fire = s.addLocked(KindRepeatedSOSCancels, at, "")
	}
	st := s.stateLocked()
	s.mu.Unlock()
	s.maybeEscalate(fire, st)
}

// RunChecks evaluates the re-checked time-based rules. Safe to call from a
// ticker; the 60 s dedup window keeps repeat hits from inflating the score.
func (s *Scorer) RunChecks(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	if !s.sosActive {
		s.mu.Unlock()
		return
	}
	var fire bool
	age := at.Sub(s.sosStartedAt)
	if age > s.cfg.NoMovementAfter && at.Sub(s.lastMovementAt) > s.cfg.NoMovementIdle {
		fire = s.addLocked(KindNoMovementAfterSOS, at, "")
	}
	if age > s.cfg.LongSOSAfter {
		if s.addLocked(KindLongActiveSOS, at, "") {
			fire = true
		}
	}
	st := s.stateLocked()
	s.mu.Unlock()
	s.maybeEscalate(fire, st)
}

// StartChecks runs RunChecks on a ticker until ctx is cancelled.
func (s *Scorer) StartChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.RunChecks(now)
			}
		}
	}()
}

// State returns a snapshot.
func (s *Scorer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Reset clears score, signal history, and counters. Called when a session
// ends normally.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score = 0
	s.escalated = false
	s.signals = nil
	s.lastKind = make(map[Kind]time.Time)
	s.locations = nil
	s.lastMovementAt = time.Time{}
	s.sosActive = false
	s.sosStartedAt = time.Time{}
	s.cancelTimes = nil
}

// addLocked applies one signal under the dedup rule and returns true when
// this addition transitioned the state into escalate for the first time.
func (s *Scorer) addLocked(kind Kind, at time.Time, detail string) bool {
	weight, ok := Weights[kind]
	if !ok {
		return false
	}
	if last, seen := s.lastKind[kind]; seen && at.Sub(last) < s.cfg.DedupWindow {
		return false
	}
	s.lastKind[kind] = at

	wasEscalate := s.score >= ThresholdEscalate
	s.score += weight
	if s.score > MaxScore {
		s.score = MaxScore
	}
	s.signals = append(s.signals, Signal{Kind: kind, Score: weight, At: at, Detail: detail})
	if len(s.signals) > 64 {
		s.signals = append([]Signal(nil), s.signals[len(s.signals)-64:]...)
	}

	if !wasEscalate && s.score >= ThresholdEscalate && !s.escalated {
		s.escalated = true
		return true
	}
	return false
}

func (s *Scorer) maybeEscalate(fire bool, st State) {
	if fire && s.onEscalate != nil {
		s.onEscalate(st)
	}
}

func (s *Scorer) stateLocked() State {
	out := State{
		Score:     s.score,
		Level:     LevelForScore(s.score),
		Escalated: s.escalated,
		Signals:   make([]Signal, len(s.signals)),
	}
	copy(out.Signals, s.signals)
	return out
}

func (s *Scorer) inNightWindow(at time.Time) bool {
	h := at.Hour()
	if s.cfg.NightStartHour > s.cfg.NightEndHour {
		return h >= s.cfg.NightStartHour || h < s.cfg.NightEndHour
	}
	return h >= s.cfg.NightStartHour && h < s.cfg.NightEndHour
}

func (s *Scorer) pruneLocationsLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.LocationWindow)
	i := 0
	for i < len(s.locations) && s.locations[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.locations = append(s.locations[:0], s.locations[i:]...)
	}
}

func (s *Scorer) pruneCancelsLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.CancelWindow)
	i := 0
	for i < len(s.cancelTimes) && s.cancelTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.cancelTimes = append(s.cancelTimes[:0], s.cancelTimes[i:]...)
	}
}
