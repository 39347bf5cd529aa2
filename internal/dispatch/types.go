package dispatch

import (
	"time"

	"github.com/windhoek-dev/aegis/internal/sender"
)

// EventType selects the geofence radius and message priority rules.
type EventType string

const (
	EventPanic EventType = "panic"
	EventCrash EventType = "crash"
	EventAmber EventType = "amber"
	EventInfo  EventType = "info"
)

// RadiusMeters is the per-type geofence for nearby-user fan-out.
var RadiusMeters = map[EventType]float64{
	EventPanic: 1000,
	EventCrash: 2000,
	EventAmber: 5000,
	EventInfo:  500,
}

// Event is one notification request entering the dispatcher.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Message      string    `json:"message"`
	SourceUserID string    `json:"source_user_id"`
	Lat          float64   `json:"lat,omitempty"`
	Lng          float64   `json:"lng,omitempty"`
	HasLocation  bool      `json:"has_location"`
	Priority     string    `json:"priority,omitempty"` // "normal" or "high"
}

// DeliveryStatus is the outcome of one channel attempt.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// Target is one append-only delivery record: one recipient, one channel,
// one attempt. Retries create new records rather than mutating old ones.
type Target struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	RecipientID string         `json:"recipient_id"`
	Channel     sender.Channel `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	At          time.Time      `json:"at"`
}

// Contact holds a recipient's reachable addresses per channel. Empty fields
// mean the channel is not eligible for that recipient.
type Contact struct {
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	PushEndpoint string `json:"push_endpoint,omitempty"`
}
