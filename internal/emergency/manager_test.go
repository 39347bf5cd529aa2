package emergency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/windhoek-dev/aegis/internal/geo"
)

var windhoek = geo.Point{Lat: -22.56, Lng: 17.08}

func TestCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s, err := m.Create("u1", TriggerManual, windhoek, false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID == "" || s.Status != StatusActive || s.Trigger != TriggerManual {
		t.Fatalf("unexpected session: %+v", s)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.InitialLocation != windhoek || got.LastKnownLocation != windhoek {
		t.Fatalf("locations not initialized: %+v", got)
	}

	ended, err := m.End(s.ID, "user ended")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt == nil || ended.EndReason != "user ended" {
		t.Fatalf("unexpected ended session: %+v", ended)
	}
}

func TestSingleActivePerOwner(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Create("u1", TriggerManual, windhoek, false); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.Create("u1", TriggerCrash, windhoek, false); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Create() error = %v, want ErrAlreadyActive", err)
	}
	// A different owner is unaffected.
	if _, err := m.Create("u2", TriggerManual, windhoek, false); err != nil {
		t.Fatalf("Create() for other owner error = %v", err)
	}
}

func TestEndTwiceIsError(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", TriggerManual, windhoek, false)
	if _, err := m.End(s.ID, "first"); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.End(s.ID, "second"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second End() error = %v, want ErrNotActive", err)
	}
	// Status is unchanged by the rejected call.
	got, _ := m.Get(s.ID)
	if got.Status != StatusEnded || got.EndReason != "first" {
		t.Fatalf("rejected End mutated session: %+v", got)
	}
}

func TestNewSessionAllowedAfterTerminal(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", TriggerManual, windhoek, false)
	if _, err := m.Escalate(s.ID); err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if _, err := m.Create("u1", TriggerManual, windhoek, false); err != nil {
		t.Fatalf("Create() after escalate error = %v", err)
	}
}

func TestUpdateLocationOnlyWhileActive(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", TriggerManual, windhoek, false)

	// ~2 km north.
	moved := geo.Point{Lat: -22.542, Lng: 17.08}
	got, err := m.UpdateLocation(s.ID, moved, time.Now())
	if err != nil {
		t.Fatalf("UpdateLocation() error = %v", err)
	}
	if got.LastKnownLocation != moved {
		t.Fatalf("LastKnownLocation = %+v, want %+v", got.LastKnownLocation, moved)
	}

	_, _ = m.End(s.ID, "done")
	if _, err := m.UpdateLocation(s.ID, windhoek, time.Now()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("UpdateLocation() on ended session error = %v, want ErrNotActive", err)
	}
}

func TestAudioChunkCounting(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", TriggerManual, windhoek, false)
	if err := m.SetRecording(s.ID, true); err != nil {
		t.Fatalf("SetRecording() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.NoteAudioChunk(s.ID); err != nil {
			t.Fatalf("NoteAudioChunk() error = %v", err)
		}
	}
	got, _ := m.Get(s.ID)
	if got.AudioChunkCount != 3 || !got.RecordingActive {
		t.Fatalf("chunks=%d recording=%v, want 3/true", got.AudioChunkCount, got.RecordingActive)
	}
}

func TestJanitorInterruptsStale(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s, _ := m.Create("u1", TriggerManual, windhoek, false)

	var interrupted []Session
	done := make(chan struct{})
	m.SetInterruptHook(func(sess Session) {
		interrupted = append(interrupted, sess)
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("janitor never interrupted the stale session")
	}

	got, _ := m.Get(s.ID)
	if got.Status != StatusInterrupted {
		t.Fatalf("Status = %q, want interrupted", got.Status)
	}
	if len(interrupted) != 1 || interrupted[0].ID != s.ID {
		t.Fatalf("hook calls = %+v", interrupted)
	}
	// Owner may start a new session afterwards.
	if _, err := m.Create("u1", TriggerManual, windhoek, false); err != nil {
		t.Fatalf("Create() after interrupt error = %v", err)
	}
}
