// Package emergency owns the lifecycle of active emergency sessions:
// serialized state transitions, the one-active-session-per-owner invariant,
// and staleness interruption.
package emergency

import (
	"context"
	"errors"
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/windhoek-dev/aegis/internal/geo"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyActive = errors.New("an active session already exists for this owner")
	ErrNotActive     = errors.New("session is not active")
	ErrValidation    = errors.New("invalid request")
)

// Manager holds sessions for all owners. All transitions on a given session
// are serialized under the manager lock.
type Manager struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	activeByOwner map[string]string
	staleAfter    time.Duration
	onInterrupt   func(Session)
}

func NewManager(staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		activeByOwner: make(map[string]string),
		staleAfter:    staleAfter,
	}
}

// SetInterruptHook installs a callback invoked after the janitor interrupts
// a stale session.
func (m *Manager) SetInterruptHook(hook func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInterrupt = hook
}

// Create starts a new session. Rejects with ErrAlreadyActive when the owner
// already has one active.
func (m *Manager) Create(ownerID string, trigger Trigger, loc geo.Point, silent bool) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Status:            StatusActive,
		Trigger:           trigger,
		Silent:            silent,
		StartedAt:         now,
		InitialLocation:   loc,
		LastKnownLocation: loc,
		LastLocationAt:    now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id := m.activeByOwner[ownerID]; id != "" {
		return nil, ErrAlreadyActive
	}
	m.sessions[s.ID] = s
	m.activeByOwner[ownerID] = s.ID
	return clone(s), nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// ActiveByOwner returns the owner's active session, if any.
func (m *Manager) ActiveByOwner(ownerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.activeByOwner[ownerID]
	if id == "" {
		return nil, false
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return clone(s), true
}

// UpdateLocation appends a fix to an active session. Applied in arrival
// order: the latest call wins for last-known location.
func (m *Manager) UpdateLocation(sessionID string, p geo.Point, at time.Time) (*Session, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrNotActive
	}
	s.LastKnownLocation = p
	s.LastLocationAt = at
	return clone(s), nil
}

// End transitions active → ended. A second call is an ErrNotActive error,
// not a duplicate state change.
func (m *Manager) End(sessionID, reason string) (*Session, error) {
	return m.finish(sessionID, StatusEnded, reason)
}

// Escalate transitions active → escalated.
func (m *Manager) Escalate(sessionID string) (*Session, error) {
	return m.finish(sessionID, StatusEscalated, "escalated")
}

// Interrupt transitions active → interrupted, used when a session went
// stale and must not silently vanish.
func (m *Manager) Interrupt(sessionID, reason string) (*Session, error) {
	return m.finish(sessionID, StatusInterrupted, reason)
}

func (m *Manager) finish(sessionID string, status Status, reason string) (*Session, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrNotActive
	}
	s.Status = status
	s.EndedAt = &now
	s.EndReason = reason
	s.RecordingActive = false
	delete(m.activeByOwner, s.OwnerID)
	return clone(s), nil
}

// NoteAudioChunk increments the chunk counter on an active session.
func (m *Manager) NoteAudioChunk(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrNotActive
	}
	s.AudioChunkCount++
	return clone(s), nil
}

// SetRecording flags whether audio capture is currently running.
func (m *Manager) SetRecording(sessionID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.RecordingActive = active
	return nil
}

// ActiveCount reports the number of active sessions across all owners.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeByOwner)
}

// StartJanitor interrupts sessions with no location or audio activity for
// the staleness window. Runs until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.interruptStale()
			}
		}
	}()
}

func (m *Manager) interruptStale() {
	now := time.Now().UTC()
	var interrupted []Session

	m.mu.Lock()
	for _, id := range m.activeByOwner {
		s, ok := m.sessions[id]
		if !ok {
			continue
		}
		last := s.LastLocationAt
		if last.IsZero() {
			last = s.StartedAt
		}
		if now.Sub(last) < m.staleAfter {
			continue
		}
		s.Status = StatusInterrupted
		s.EndedAt = &now
		s.EndReason = "stale: no activity"
		s.RecordingActive = false
		interrupted = append(interrupted, *clone(s))
	}
	for _, s := range interrupted {
		delete(m.activeByOwner, s.OwnerID)
	}
	hook := m.onInterrupt
	m.mu.Unlock()

	if hook != nil {
		for _, s := range interrupted {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
