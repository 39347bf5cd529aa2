package emergency

import (
	"time"

	"github.com/windhoek-dev/aegis/internal/geo"
)

// Status is the session lifecycle state. Ended, escalated, and interrupted
// are terminal.
type Status string

const (
	StatusActive      Status = "active"
	StatusEnded       Status = "ended"
	StatusEscalated   Status = "escalated"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusEscalated || s == StatusInterrupted
}

// Trigger records what started the session.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerCrash  Trigger = "crash"
	TriggerAI     Trigger = "ai"
	TriggerAPI    Trigger = "api"
)

// Session is one emergency, owned exclusively by its creator. At most one
// active session exists per owner.
type Session struct {
	ID                string     `json:"session_id"`
	OwnerID           string     `json:"owner_id"`
	Status            Status     `json:"status"`
	Trigger           Trigger    `json:"trigger"`
	Silent            bool       `json:"silent,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	EndReason         string     `json:"end_reason,omitempty"`
	InitialLocation   geo.Point  `json:"initial_location"`
	LastKnownLocation geo.Point  `json:"last_known_location"`
	LastLocationAt    time.Time  `json:"last_location_at"`
	AudioChunkCount   int        `json:"audio_chunk_count"`
	RecordingActive   bool       `json:"recording_active"`
}
