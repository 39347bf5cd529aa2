// Package protocol defines the typed websocket messages exchanged with
// safety clients: sensor readings inbound, engine events outbound.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/windhoek-dev/aegis/internal/signal"
	"github.com/windhoek-dev/aegis/internal/threat"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSignal  MessageType = "client_signal"
	TypeClientControl MessageType = "client_control"

	TypeSessionStarted     MessageType = "session_started"
	TypeSessionLocation    MessageType = "session_location"
	TypeSessionEnded       MessageType = "session_ended"
	TypeSessionEscalated   MessageType = "session_escalated"
	TypeSessionInterrupted MessageType = "session_interrupted"
	TypeThreatUpdate       MessageType = "threat_update"
	TypeCrashDetected      MessageType = "crash_detected"
	TypeCountdownStarted   MessageType = "countdown_started"
	TypeCountdownCancelled MessageType = "countdown_cancelled"
	TypeCountdownFinished  MessageType = "countdown_finished"
	TypeDispatchResult     MessageType = "dispatch_result"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientSignal carries one raw sensor reading from the device.
type ClientSignal struct {
	Type    MessageType       `json:"type"`
	OwnerID string            `json:"owner_id"`
	Reading signal.RawReading `json:"reading"`
}

// ClientControl carries a user action, e.g. cancelling a crash countdown.
type ClientControl struct {
	Type        MessageType `json:"type"`
	OwnerID     string      `json:"owner_id"`
	Action      string      `json:"action"`
	CountdownID string      `json:"countdown_id,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// SessionEvent reports a lifecycle transition on an emergency session.
type SessionEvent struct {
	Type      MessageType `json:"type"`
	OwnerID   string      `json:"owner_id"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status"`
	Trigger   string      `json:"trigger,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Lat       float64     `json:"lat,omitempty"`
	Lng       float64     `json:"lng,omitempty"`
}

// ThreatUpdate reports the owner's threat state after a scored signal.
type ThreatUpdate struct {
	Type    MessageType  `json:"type"`
	OwnerID string       `json:"owner_id"`
	State   threat.State `json:"state"`
}

// CrashEvent reports a confirmed crash detection.
type CrashEvent struct {
	Type            MessageType `json:"type"`
	OwnerID         string      `json:"owner_id"`
	SpeedDeltaKmh   float64     `json:"speed_delta_kmh"`
	DecelerationMs2 float64     `json:"deceleration_ms2"`
	Lat             float64     `json:"lat"`
	Lng             float64     `json:"lng"`
}

// CountdownEvent reports crash-to-SOS countdown progress.
type CountdownEvent struct {
	Type        MessageType `json:"type"`
	OwnerID     string      `json:"owner_id"`
	CountdownID string      `json:"countdown_id"`
	SecondsLeft int         `json:"seconds_left,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// DispatchResult summarizes one notification fan-out.
type DispatchResult struct {
	Type    MessageType `json:"type"`
	OwnerID string      `json:"owner_id"`
	EventID string      `json:"event_id"`
	Sent    int         `json:"sent"`
	Failed  int         `json:"failed"`
}

// ErrorEvent reports a request or engine failure to the client.
type ErrorEvent struct {
	Type    MessageType `json:"type"`
	OwnerID string      `json:"owner_id"`
	Code    string      `json:"code"`
	Detail  string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound client payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSignal:
		var msg ClientSignal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.OwnerID == "" || msg.Reading.Kind == "" {
			return nil, errors.New("invalid client_signal")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.OwnerID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
