package protocol

import (
	"errors"
	"testing"

	"github.com/windhoek-dev/aegis/internal/signal"
)

func TestParseClientMessageSignal(t *testing.T) {
	raw := []byte(`{"type":"client_signal","owner_id":"u1","reading":{"kind":"speed","speed":42.5,"speed_unit":"kmh","at":"2025-06-01T20:00:00Z"}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	sig, ok := msg.(ClientSignal)
	if !ok {
		t.Fatalf("message type = %T, want ClientSignal", msg)
	}
	if sig.OwnerID != "u1" || sig.Reading.Kind != signal.KindSpeed {
		t.Fatalf("unexpected client signal: %+v", sig)
	}
	if sig.Reading.Speed != 42.5 {
		t.Fatalf("Speed = %v, want %v", sig.Reading.Speed, 42.5)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","owner_id":"u1","action":"cancel_countdown","countdown_id":"c1","reason":"false alarm"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.OwnerID != "u1" || control.Action != "cancel_countdown" {
		t.Fatalf("unexpected client control: %+v", control)
	}
	if control.CountdownID != "c1" {
		t.Fatalf("CountdownID = %q, want %q", control.CountdownID, "c1")
	}
	if control.Reason != "false alarm" {
		t.Fatalf("Reason = %q, want %q", control.Reason, "false alarm")
	}
}

func TestParseClientMessageRejectsInvalidSignal(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_signal","owner_id":"","reading":{}}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageSignal(b *testing.B) {
	raw := []byte(`{"type":"client_signal","owner_id":"u1","reading":{"kind":"location","lat":-22.5609,"lng":17.0658,"accuracy":8}}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientSignal); !ok {
			b.Fatalf("message type = %T, want ClientSignal", msg)
		}
	}
}
