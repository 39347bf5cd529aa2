// Package engine wires the detection pipeline together: normalized signals
// feed per-owner threat scorers and crash detectors, confirmed emergencies
// become sessions, and escalations fan out through the dispatcher.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windhoek-dev/aegis/internal/crash"
	"github.com/windhoek-dev/aegis/internal/dispatch"
	"github.com/windhoek-dev/aegis/internal/emergency"
	"github.com/windhoek-dev/aegis/internal/geo"
	"github.com/windhoek-dev/aegis/internal/observability"
	"github.com/windhoek-dev/aegis/internal/protocol"
	"github.com/windhoek-dev/aegis/internal/recording"
	"github.com/windhoek-dev/aegis/internal/signal"
	"github.com/windhoek-dev/aegis/internal/store"
	"github.com/windhoek-dev/aegis/internal/threat"
)

const (
	persistTimeout  = 2 * time.Second
	dispatchTimeout = 10 * time.Second
	eventBuffer     = 256
)

// Config holds engine tuning. Zero values fall back to defaults.
type Config struct {
	CrashCountdown time.Duration // auto-SOS delay after a confirmed crash
	CheckInterval  time.Duration // periodic inactivity / long-SOS sweep
	Threat         threat.Config
	Crash          crash.Config
}

func (c Config) withDefaults() Config {
	if c.CrashCountdown <= 0 {
		c.CrashCountdown = 10 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 15 * time.Second
	}
	return c
}

// Event is one entry on an owner's live feed. Payload is a protocol message
// struct carrying its own type tag.
type Event struct {
	Type    protocol.MessageType
	Payload any
}

// coordinator bundles the per-owner detection state. Created lazily on the
// first signal or an explicit monitoring enable, torn down on disable.
type coordinator struct {
	ownerID      string
	scorer       *threat.Scorer
	detector     *crash.Detector
	cancelChecks context.CancelFunc
}

type countdown struct {
	id       string
	ownerID  string
	crash    crash.Event
	timer    *time.Timer
	deadline time.Time
}

type Engine struct {
	cfg        Config
	sessions   *emergency.Manager
	dispatcher *dispatch.Dispatcher
	store      store.Store
	recorder   recording.Recorder
	metrics    *observability.Metrics
	broker     *signal.Broker

	mu          sync.Mutex
	coords      map[string]*coordinator
	countdowns  map[string]*countdown
	byOwner     map[string]string // ownerID -> active countdown id
	subscribers map[string]map[int]chan Event
	nextSubID   int
	closed      bool
}

func New(
	sessions *emergency.Manager,
	dispatcher *dispatch.Dispatcher,
	st store.Store,
	recorder recording.Recorder,
	metrics *observability.Metrics,
	cfg Config,
) *Engine {
	e := &Engine{
		cfg:         cfg.withDefaults(),
		sessions:    sessions,
		dispatcher:  dispatcher,
		store:       st,
		recorder:    recorder,
		metrics:     metrics,
		broker:      signal.NewBroker(),
		coords:      make(map[string]*coordinator),
		countdowns:  make(map[string]*countdown),
		byOwner:     make(map[string]string),
		subscribers: make(map[string]map[int]chan Event),
	}
	sessions.SetInterruptHook(e.onInterrupt)
	if dispatcher != nil && metrics != nil {
		dispatcher.SetObserver(func(t dispatch.Target) {
			metrics.DispatchAttempts.WithLabelValues(string(t.Channel), string(t.Status)).Inc()
		})
	}
	samples, cancelLog := e.broker.Subscribe()
	go e.consumeSignalLog(samples, cancelLog)
	return e
}

// Broker exposes the normalized-signal fan-out for auxiliary consumers,
// such as the live signal tap in the HTTP API.
func (e *Engine) Broker() *signal.Broker { return e.broker }

// consumeSignalLog drains the broker into the signal audit trail. The loop
// exits when Close shuts the broker down.
func (e *Engine) consumeSignalLog(samples <-chan signal.Sample, cancel func()) {
	defer cancel()
	for s := range samples {
		ctx, done := context.WithTimeout(context.Background(), persistTimeout)
		if _, err := e.store.Insert(ctx, store.CollectionSignalLog, signalData(s)); err != nil {
			log.Printf("engine: signal log insert owner=%s: %v", s.OwnerID, err)
		}
		done()
	}
}

// Subscribe attaches a live event feed for one owner. The returned cancel
// func is idempotent.
func (e *Engine) Subscribe(ownerID string) (<-chan Event, func()) {
	if ownerID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, eventBuffer)
	e.mu.Lock()
	e.nextSubID++
	id := e.nextSubID
	if _, ok := e.subscribers[ownerID]; !ok {
		e.subscribers[ownerID] = make(map[int]chan Event)
	}
	e.subscribers[ownerID][id] = ch
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.subscribers[ownerID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(e.subscribers, ownerID)
		}
	}
}

func (e *Engine) publish(ownerID string, evt Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishLocked(ownerID, evt)
}

func (e *Engine) publishLocked(ownerID string, evt Event) {
	subs := e.subscribers[ownerID]
	if len(subs) == 0 {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// StartSession opens an emergency for the owner. Fails with an actionable
// error when the location is unusable; the caller should retry with a fix.
func (e *Engine) StartSession(ctx context.Context, ownerID string, trigger emergency.Trigger, loc geo.Point, silent bool) (*emergency.Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id required", emergency.ErrValidation)
	}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("cannot open emergency without a usable location, retry with a fresh fix: %w", err)
	}

	sess, err := e.sessions.Create(ownerID, trigger, loc, silent)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	co := e.coordinatorFor(ownerID)
	co.scorer.NoteSOSStarted(now, silent)

	if err := e.recorder.Start(ctx, sess.ID); err != nil {
		log.Printf("engine: recorder start session=%s: %v", sess.ID, err)
	} else {
		_ = e.sessions.SetRecording(sess.ID, true)
	}

	if e.metrics != nil {
		e.metrics.ActiveSessions.Inc()
		e.metrics.SessionEvents.WithLabelValues("started").Inc()
	}

	e.persist(func(ctx context.Context) error {
		_, err := e.store.Insert(ctx, store.CollectionSessions, sessionData(sess))
		return err
	})

	evType := dispatch.EventPanic
	if trigger == emergency.TriggerCrash {
		evType = dispatch.EventCrash
	}
	e.dispatchAsync(sess.OwnerID, dispatch.Event{
		ID:           sess.ID,
		Type:         evType,
		Message:      sessionMessage(sess),
		SourceUserID: sess.OwnerID,
		Lat:          loc.Lat,
		Lng:          loc.Lng,
		HasLocation:  true,
		Priority:     "high",
	})

	e.publish(ownerID, Event{Type: protocol.TypeSessionStarted, Payload: protocol.SessionEvent{
		Type:      protocol.TypeSessionStarted,
		OwnerID:   ownerID,
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Trigger:   string(trigger),
		Lat:       loc.Lat,
		Lng:       loc.Lng,
	}})

	return sess, nil
}

// UpdateLocation appends a location to an active session and feeds the
// owner's detectors.
func (e *Engine) UpdateLocation(ctx context.Context, sessionID string, p geo.Point, at time.Time) (*emergency.Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	sess, err := e.sessions.UpdateLocation(sessionID, p, at)
	if err != nil {
		return nil, err
	}

	co := e.coordinatorFor(sess.OwnerID)
	co.scorer.ProcessLocation(p, at)
	co.detector.ProcessLocation(p)
	if p.SpeedKmh > 0 {
		co.detector.ProcessSpeed(p.SpeedKmh, at)
	}

	e.persist(func(ctx context.Context) error {
		_, err := e.store.Insert(ctx, store.CollectionLocationLog, map[string]any{
			"session_id": sessionID,
			"lat":        p.Lat,
			"lng":        p.Lng,
			"accuracy":   p.Accuracy,
			"speed_kmh":  p.SpeedKmh,
			"at":         at.Format(time.RFC3339Nano),
		})
		return err
	})

	e.publish(sess.OwnerID, Event{Type: protocol.TypeSessionLocation, Payload: protocol.SessionEvent{
		Type:      protocol.TypeSessionLocation,
		OwnerID:   sess.OwnerID,
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Lat:       p.Lat,
		Lng:       p.Lng,
	}})

	return sess, nil
}

// EndSession closes an active session normally.
func (e *Engine) EndSession(ctx context.Context, sessionID, reason string) (*emergency.Session, error) {
	sess, err := e.sessions.End(sessionID, reason)
	if err != nil {
		return nil, err
	}
	e.finishSession(ctx, sess, protocol.TypeSessionEnded, "ended")
	return sess, nil
}

// EscalateSession marks a session escalated and fans out a high-priority
// alert. Escalation is terminal.
func (e *Engine) EscalateSession(ctx context.Context, sessionID string) (*emergency.Session, error) {
	sess, err := e.sessions.Escalate(sessionID)
	if err != nil {
		return nil, err
	}
	e.finishSession(ctx, sess, protocol.TypeSessionEscalated, "escalated")

	e.dispatchAsync(sess.OwnerID, dispatch.Event{
		ID:           uuid.NewString(),
		Type:         dispatch.EventPanic,
		Message:      "Emergency escalated: immediate attention required.",
		SourceUserID: sess.OwnerID,
		Lat:          sess.LastKnownLocation.Lat,
		Lng:          sess.LastKnownLocation.Lng,
		HasLocation:  sess.LastKnownLocation.Valid(),
		Priority:     "high",
	})
	return sess, nil
}

func (e *Engine) finishSession(ctx context.Context, sess *emergency.Session, msgType protocol.MessageType, metricEvent string) {
	if sum, err := e.recorder.Stop(ctx, sess.ID); err != nil {
		log.Printf("engine: recorder stop session=%s: %v", sess.ID, err)
	} else if sum.ChunkCount > 0 {
		log.Printf("engine: session %s captured %d audio chunks (%.1fs)", sess.ID, sum.ChunkCount, sum.DurationSeconds)
	}

	if co, ok := e.coordinator(sess.OwnerID); ok {
		co.scorer.NoteSOSEnded()
		co.scorer.Reset()
	}

	if e.metrics != nil {
		e.metrics.ActiveSessions.Dec()
		e.metrics.SessionEvents.WithLabelValues(metricEvent).Inc()
	}

	e.persist(func(ctx context.Context) error {
		recs, err := e.store.Query(ctx, store.CollectionSessions, store.Filter{"session_id": sess.ID})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			_, err = e.store.Insert(ctx, store.CollectionSessions, sessionData(sess))
			return err
		}
		_, err = e.store.Update(ctx, store.CollectionSessions, recs[0].ID, sessionData(sess))
		return err
	})

	e.publish(sess.OwnerID, Event{Type: msgType, Payload: protocol.SessionEvent{
		Type:      msgType,
		OwnerID:   sess.OwnerID,
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Reason:    sess.EndReason,
	}})
}

// onInterrupt runs from the session janitor when a stale session is closed.
func (e *Engine) onInterrupt(sess emergency.Session) {
	e.finishSession(context.Background(), &sess, protocol.TypeSessionInterrupted, "interrupted")
}

// ReportSignal ingests one raw sensor reading for the owner and returns the
// resulting threat state. Malformed readings are dropped without error.
func (e *Engine) ReportSignal(ctx context.Context, ownerID string, raw signal.RawReading) (threat.State, error) {
	if ownerID == "" {
		return threat.State{}, fmt.Errorf("%w: owner id required", emergency.ErrValidation)
	}
	start := time.Now()

	sig, ok := signal.Normalize(raw)
	if !ok {
		if e.metrics != nil {
			e.metrics.ObserveIndicator("malformed_signal_dropped")
		}
		return e.GetThreatState(ownerID), nil
	}
	if e.metrics != nil {
		e.metrics.SignalsIngested.WithLabelValues(string(sig.Kind)).Inc()
	}
	e.broker.Publish(signal.Sample{OwnerID: ownerID, Signal: sig})

	co := e.coordinatorFor(ownerID)
	prevLevel := co.scorer.State().Level

	switch sig.Kind {
	case signal.KindLocation:
		co.scorer.ProcessLocation(sig.Location, sig.At)
		co.detector.ProcessLocation(sig.Location)
		if sig.Location.SpeedKmh > 0 {
			co.detector.ProcessSpeed(sig.Location.SpeedKmh, sig.At)
		}
		if sess, ok := e.sessions.ActiveByOwner(ownerID); ok {
			if _, err := e.sessions.UpdateLocation(sess.ID, sig.Location, sig.At); err == nil {
				e.persist(func(ctx context.Context) error {
					_, err := e.store.Insert(ctx, store.CollectionLocationLog, map[string]any{
						"session_id": sess.ID,
						"lat":        sig.Location.Lat,
						"lng":        sig.Location.Lng,
						"accuracy":   sig.Location.Accuracy,
						"speed_kmh":  sig.Location.SpeedKmh,
						"at":         sig.At.Format(time.RFC3339Nano),
					})
					return err
				})
				e.publish(ownerID, Event{Type: protocol.TypeSessionLocation, Payload: protocol.SessionEvent{
					Type:      protocol.TypeSessionLocation,
					OwnerID:   ownerID,
					SessionID: sess.ID,
					Status:    string(sess.Status),
					Lat:       sig.Location.Lat,
					Lng:       sig.Location.Lng,
				}})
			}
		}
	case signal.KindSpeed:
		co.detector.ProcessSpeed(sig.SpeedKmh, sig.At)
	case signal.KindAudioLevel:
		co.scorer.ProcessAudioLevel(sig.Amplitude, sig.At)
	case signal.KindBattery:
		co.scorer.ProcessBattery(sig.Battery, sig.At)
	}

	st := co.scorer.State()
	if e.metrics != nil {
		e.metrics.ObserveStage("signal_to_score", time.Since(start))
		if st.Level != prevLevel {
			e.metrics.ThreatTransitions.WithLabelValues(string(st.Level)).Inc()
		}
	}
	if st.Level != prevLevel {
		e.publish(ownerID, Event{Type: protocol.TypeThreatUpdate, Payload: protocol.ThreatUpdate{
			Type:    protocol.TypeThreatUpdate,
			OwnerID: ownerID,
			State:   st,
		}})
	}
	return st, nil
}

// GetThreatState returns the owner's current threat snapshot. Owners with no
// coordinator are safe by definition.
func (e *Engine) GetThreatState(ownerID string) threat.State {
	if co, ok := e.coordinator(ownerID); ok {
		return co.scorer.State()
	}
	return threat.State{Level: threat.LevelSafe}
}

// SetMonitoring toggles background detection for the owner. Disabling tears
// down the coordinator and discards accumulated threat state.
func (e *Engine) SetMonitoring(ownerID string, enabled bool) {
	if enabled {
		e.coordinatorFor(ownerID)
		return
	}
	e.mu.Lock()
	co, ok := e.coords[ownerID]
	if ok {
		delete(e.coords, ownerID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	co.cancelChecks()
	co.detector.Close()
	co.scorer.Reset()
}

// Monitoring reports whether a coordinator exists for the owner.
func (e *Engine) Monitoring(ownerID string) bool {
	_, ok := e.coordinator(ownerID)
	return ok
}

func (e *Engine) coordinator(ownerID string) (*coordinator, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	co, ok := e.coords[ownerID]
	return co, ok
}

func (e *Engine) coordinatorFor(ownerID string) *coordinator {
	e.mu.Lock()
	defer e.mu.Unlock()
	if co, ok := e.coords[ownerID]; ok {
		return co
	}

	co := &coordinator{ownerID: ownerID}
	co.scorer = threat.NewScorer(e.cfg.Threat, func(st threat.State) {
		e.onEscalate(ownerID, st)
	})
	co.detector = crash.NewDetector(e.cfg.Crash, func(ev crash.Event) {
		e.onCrash(ownerID, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	co.cancelChecks = cancel
	co.scorer.StartChecks(ctx, e.cfg.CheckInterval)

	e.coords[ownerID] = co
	return co
}

// onEscalate fires once per scorer lifecycle when the score crosses the
// escalate threshold. With an active session the session escalates; without
// one the alert fans out directly.
func (e *Engine) onEscalate(ownerID string, st threat.State) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if sess, ok := e.sessions.ActiveByOwner(ownerID); ok {
		if _, err := e.EscalateSession(ctx, sess.ID); err != nil {
			log.Printf("engine: escalate session=%s: %v", sess.ID, err)
		}
	} else {
		e.dispatchAsync(ownerID, dispatch.Event{
			ID:           uuid.NewString(),
			Type:         dispatch.EventAmber,
			Message:      fmt.Sprintf("Threat score reached %d: check on this user.", st.Score),
			SourceUserID: ownerID,
			Priority:     "high",
		})
	}
	if e.metrics != nil {
		e.metrics.ObserveStage("escalate_to_dispatch", time.Since(start))
	}
	e.publish(ownerID, Event{Type: protocol.TypeThreatUpdate, Payload: protocol.ThreatUpdate{
		Type:    protocol.TypeThreatUpdate,
		OwnerID: ownerID,
		State:   st,
	}})
}

// onCrash runs on the detector's confirmation timer. A crash during an
// active session escalates it immediately; otherwise a cancellable
// countdown precedes the automatic SOS.
func (e *Engine) onCrash(ownerID string, ev crash.Event) {
	if e.metrics != nil {
		e.metrics.CrashDetections.Inc()
	}
	e.publish(ownerID, Event{Type: protocol.TypeCrashDetected, Payload: protocol.CrashEvent{
		Type:            protocol.TypeCrashDetected,
		OwnerID:         ownerID,
		SpeedDeltaKmh:   ev.SpeedDeltaKmh,
		DecelerationMs2: ev.DecelerationMs2,
		Lat:             ev.Location.Lat,
		Lng:             ev.Location.Lng,
	}})

	if sess, ok := e.sessions.ActiveByOwner(ownerID); ok {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if _, err := e.EscalateSession(ctx, sess.ID); err != nil {
			log.Printf("engine: crash escalate session=%s: %v", sess.ID, err)
		}
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, ok := e.byOwner[ownerID]; ok {
		// A countdown is already pending for this owner.
		e.mu.Unlock()
		return
	}
	cd := &countdown{
		id:       uuid.NewString(),
		ownerID:  ownerID,
		crash:    ev,
		deadline: time.Now().Add(e.cfg.CrashCountdown),
	}
	cd.timer = time.AfterFunc(e.cfg.CrashCountdown, func() {
		e.countdownElapsed(cd.id)
	})
	e.countdowns[cd.id] = cd
	e.byOwner[ownerID] = cd.id
	e.publishLocked(ownerID, Event{Type: protocol.TypeCountdownStarted, Payload: protocol.CountdownEvent{
		Type:        protocol.TypeCountdownStarted,
		OwnerID:     ownerID,
		CountdownID: cd.id,
		SecondsLeft: int(e.cfg.CrashCountdown.Seconds()),
	}})
	e.mu.Unlock()
}

func (e *Engine) countdownElapsed(countdownID string) {
	e.mu.Lock()
	cd, ok := e.countdowns[countdownID]
	if ok {
		delete(e.countdowns, countdownID)
		delete(e.byOwner, cd.ownerID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	if e.metrics != nil {
		e.metrics.CountdownResults.WithLabelValues("completed").Inc()
		e.metrics.ObserveStage("crash_drop_to_countdown", time.Since(cd.crash.At))
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	sess, err := e.StartSession(ctx, cd.ownerID, emergency.TriggerCrash, cd.crash.Location, false)
	if err != nil {
		log.Printf("engine: crash auto-sos owner=%s: %v", cd.ownerID, err)
		return
	}

	e.publish(cd.ownerID, Event{Type: protocol.TypeCountdownFinished, Payload: protocol.CountdownEvent{
		Type:        protocol.TypeCountdownFinished,
		OwnerID:     cd.ownerID,
		CountdownID: cd.id,
		Reason:      "auto-sos session " + sess.ID,
	}})
}

// CancelCountdown aborts a pending crash countdown. Cancelling counts
// toward the repeated-cancel threat signal but has no session side effects.
func (e *Engine) CancelCountdown(countdownID, reason string) error {
	e.mu.Lock()
	cd, ok := e.countdowns[countdownID]
	if ok {
		cd.timer.Stop()
		delete(e.countdowns, countdownID)
		delete(e.byOwner, cd.ownerID)
	}
	e.mu.Unlock()
	if !ok {
		return emergency.ErrNotFound
	}

	if e.metrics != nil {
		e.metrics.CountdownResults.WithLabelValues("cancelled").Inc()
	}
	if co, coOK := e.coordinator(cd.ownerID); coOK {
		co.scorer.NoteSOSCancelled(time.Now().UTC())
		co.detector.Dismiss()
	}

	e.publish(cd.ownerID, Event{Type: protocol.TypeCountdownCancelled, Payload: protocol.CountdownEvent{
		Type:        protocol.TypeCountdownCancelled,
		OwnerID:     cd.ownerID,
		CountdownID: cd.id,
		Reason:      reason,
	}})
	return nil
}

// PendingCountdown returns the owner's pending countdown id, if any.
func (e *Engine) PendingCountdown(ownerID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byOwner[ownerID]
	return id, ok
}

// AppendAudioChunk stores one evidence chunk for an active session.
func (e *Engine) AppendAudioChunk(ctx context.Context, sessionID string, pcm []byte, sampleRate int) (string, error) {
	chunkID, err := e.recorder.AppendChunk(ctx, sessionID, pcm, sampleRate)
	if err != nil {
		return "", err
	}
	if _, err := e.sessions.NoteAudioChunk(sessionID); err != nil {
		return chunkID, err
	}
	return chunkID, nil
}

func (e *Engine) dispatchAsync(ownerID string, ev dispatch.Event) {
	if e.dispatcher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		start := time.Now()
		targets, err := e.dispatcher.Dispatch(ctx, ev)
		if err != nil {
			log.Printf("engine: dispatch event=%s: %v", ev.ID, err)
			return
		}
		if e.metrics != nil {
			e.metrics.ObserveDispatchLatency(time.Since(start))
		}
		sent, failed := 0, 0
		for _, t := range targets {
			if t.Status == dispatch.StatusSent {
				sent++
			} else {
				failed++
			}
		}
		e.publish(ownerID, Event{Type: protocol.TypeDispatchResult, Payload: protocol.DispatchResult{
			Type:    protocol.TypeDispatchResult,
			OwnerID: ownerID,
			EventID: ev.ID,
			Sent:    sent,
			Failed:  failed,
		}})
	}()
}

// persist runs a store write off the hot path with a bounded timeout.
func (e *Engine) persist(fn func(ctx context.Context) error) {
	if e.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("engine: persist: %v", err)
		}
	}()
}

// Close tears down coordinators, pending countdowns, and the signal broker.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	coords := make([]*coordinator, 0, len(e.coords))
	for _, co := range e.coords {
		coords = append(coords, co)
	}
	e.coords = make(map[string]*coordinator)
	for _, cd := range e.countdowns {
		cd.timer.Stop()
	}
	e.countdowns = make(map[string]*countdown)
	e.byOwner = make(map[string]string)
	e.mu.Unlock()

	for _, co := range coords {
		co.cancelChecks()
		co.detector.Close()
	}
	e.broker.Close()
}

func signalData(s signal.Sample) map[string]any {
	data := map[string]any{
		"owner_id": s.OwnerID,
		"kind":     string(s.Signal.Kind),
		"at":       s.Signal.At.Format(time.RFC3339Nano),
	}
	switch s.Signal.Kind {
	case signal.KindLocation:
		data["lat"] = s.Signal.Location.Lat
		data["lng"] = s.Signal.Location.Lng
		data["speed_kmh"] = s.Signal.Location.SpeedKmh
	case signal.KindSpeed:
		data["speed_kmh"] = s.Signal.SpeedKmh
	case signal.KindAudioLevel:
		data["amplitude"] = s.Signal.Amplitude
	case signal.KindBattery:
		data["battery"] = s.Signal.Battery
	}
	return data
}

func sessionData(s *emergency.Session) map[string]any {
	data := map[string]any{
		"session_id":        s.ID,
		"owner_id":          s.OwnerID,
		"status":            string(s.Status),
		"trigger":           string(s.Trigger),
		"silent":            s.Silent,
		"started_at":        s.StartedAt.Format(time.RFC3339Nano),
		"lat":               s.LastKnownLocation.Lat,
		"lng":               s.LastKnownLocation.Lng,
		"audio_chunk_count": s.AudioChunkCount,
	}
	if s.EndedAt != nil {
		data["ended_at"] = s.EndedAt.Format(time.RFC3339Nano)
		data["end_reason"] = s.EndReason
	}
	return data
}

func sessionMessage(s *emergency.Session) string {
	switch s.Trigger {
	case emergency.TriggerCrash:
		return "Possible vehicle crash detected. Occupant may need help."
	default:
		if s.Silent {
			return "Silent SOS activated. Do not call; check location."
		}
		return "SOS activated. User may be in danger."
	}
}
