package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/windhoek-dev/aegis/internal/directory"
	"github.com/windhoek-dev/aegis/internal/sender"
	"github.com/windhoek-dev/aegis/internal/store"
)

func newTestDispatcher() (*Dispatcher, *directory.InMemoryDirectory, *InMemoryContacts, *sender.MockSender) {
	dir := directory.NewInMemoryDirectory()
	contacts := NewInMemoryContacts()
	mock := sender.NewMockSender()
	reg := sender.NewRegistry()
	reg.Register(sender.ChannelInApp, mock)
	reg.Register(sender.ChannelSMS, mock)
	d := New(dir, contacts, reg, store.NewInMemoryStore())
	return d, dir, contacts, mock
}

func TestDispatchToWatchers(t *testing.T) {
	d, dir, _, _ := newTestDispatcher()
	dir.AddWatcher("owner", "w1")
	dir.AddWatcher("owner", "w2")

	targets, err := d.Dispatch(context.Background(), Event{
		Type:         EventPanic,
		Message:      "SOS started",
		SourceUserID: "owner",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	// Two watchers, in-app only (no contact addresses set).
	if len(targets) != 2 {
		t.Fatalf("target count = %d, want 2", len(targets))
	}
	for _, tg := range targets {
		if tg.Status != StatusSent || tg.Channel != sender.ChannelInApp {
			t.Fatalf("unexpected target: %+v", tg)
		}
	}
}

func TestDispatchGeofenceExcludesFarGhostAndSource(t *testing.T) {
	d, dir, _, _ := newTestDispatcher()
	// Info event: 500 m radius.
	dir.UpsertLocation("near", -22.5645, 17.08, false)  // ~500 m
	dir.UpsertLocation("far", -22.5655, 17.08, false)   // ~600 m
	dir.UpsertLocation("ghost", -22.5640, 17.08, true)  // inside, ghost mode
	dir.UpsertLocation("owner", -22.5601, 17.08, false) // the source

	targets, err := d.Dispatch(context.Background(), Event{
		Type:         EventInfo,
		Message:      "danger reported nearby",
		SourceUserID: "owner",
		Lat:          -22.56,
		Lng:          17.08,
		HasLocation:  true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(targets) != 1 || targets[0].RecipientID != "near" {
		t.Fatalf("targets = %+v, want only %q", targets, "near")
	}
}

func TestDispatchMultiChannelPerContact(t *testing.T) {
	d, dir, contacts, mock := newTestDispatcher()
	dir.AddWatcher("owner", "w1")
	contacts.Set("w1", Contact{Phone: "+264811234567"})

	targets, err := d.Dispatch(context.Background(), Event{
		Type:         EventPanic,
		SourceUserID: "owner",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("target count = %d, want 2 (in-app + sms)", len(targets))
	}
	channels := map[sender.Channel]bool{}
	for _, tg := range targets {
		channels[tg.Channel] = true
	}
	if !channels[sender.ChannelInApp] || !channels[sender.ChannelSMS] {
		t.Fatalf("channels = %v, want in_app and sms", channels)
	}
	if len(mock.Sends()) != 2 {
		t.Fatalf("send count = %d, want 2", len(mock.Sends()))
	}
}

func TestDispatchRedactsNearbyStrangers(t *testing.T) {
	d, dir, _, mock := newTestDispatcher()
	dir.AddWatcher("owner", "w1")
	dir.UpsertLocation("stranger", -22.5605, 17.0659, false)

	_, err := d.Dispatch(context.Background(), Event{
		Type:         EventPanic,
		Message:      "call me at +264 81 123 4567",
		SourceUserID: "owner",
		Lat:          -22.560912,
		Lng:          17.065836,
		HasLocation:  true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	byRecipient := map[string]sender.Payload{}
	for _, s := range mock.Sends() {
		byRecipient[s.Address] = s.Payload
	}
	watcher, ok := byRecipient["w1"]
	if !ok {
		t.Fatalf("watcher w1 not delivered to: %v", byRecipient)
	}
	if watcher.Body != "call me at +264 81 123 4567" || watcher.Lat != -22.560912 {
		t.Fatalf("watcher payload should be untouched: %+v", watcher)
	}
	stranger, ok := byRecipient["stranger"]
	if !ok {
		t.Fatalf("nearby stranger not delivered to: %v", byRecipient)
	}
	if stranger.Body == watcher.Body {
		t.Fatalf("stranger body should be redacted: %q", stranger.Body)
	}
	if stranger.Lat != -22.561 || stranger.Lng != 17.066 {
		t.Fatalf("stranger location should be coarsened: %v,%v", stranger.Lat, stranger.Lng)
	}
}

func TestDispatchFailureDoesNotBlockOthers(t *testing.T) {
	dir := directory.NewInMemoryDirectory()
	contacts := NewInMemoryContacts()
	okSender := sender.NewMockSender()
	failing := sender.NewMockSender()
	failing.Err = errors.New("gateway down")

	reg := sender.NewRegistry()
	reg.Register(sender.ChannelInApp, okSender)
	reg.Register(sender.ChannelSMS, failing)
	d := New(dir, contacts, reg, nil)

	dir.AddWatcher("owner", "w1")
	contacts.Set("w1", Contact{Phone: "+264811234567"})

	targets, err := d.Dispatch(context.Background(), Event{Type: EventPanic, SourceUserID: "owner"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	var sent, failed int
	for _, tg := range targets {
		switch tg.Status {
		case StatusSent:
			sent++
		case StatusFailed:
			failed++
			if tg.Error == "" {
				t.Fatalf("failed target should carry the error")
			}
		}
	}
	if sent != 1 || failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 1/1", sent, failed)
	}
}

// flakySender fails the first failures sends with the given error.
type flakySender struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakySender) Send(context.Context, string, sender.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestDeliverRetriesTransientProviderRejections(t *testing.T) {
	dir := directory.NewInMemoryDirectory()
	flaky := &flakySender{failures: 2, err: &sender.DeliveryError{Code: "rate_limited", Err: errors.New("too many requests")}}
	reg := sender.NewRegistry()
	reg.Register(sender.ChannelInApp, flaky)
	d := New(dir, NewInMemoryContacts(), reg, nil)

	dir.AddWatcher("owner", "w1")
	targets, err := d.Dispatch(context.Background(), Event{Type: EventPanic, SourceUserID: "owner"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(targets) != 1 || targets[0].Status != StatusSent {
		t.Fatalf("targets = %+v, want one sent", targets)
	}
	if flaky.calls != 3 {
		t.Fatalf("send attempts = %d, want 3", flaky.calls)
	}
}

func TestDeliverDoesNotRetryPermanentRejections(t *testing.T) {
	dir := directory.NewInMemoryDirectory()
	flaky := &flakySender{failures: 5, err: &sender.DeliveryError{Code: "invalid_number", Err: errors.New("not reachable")}}
	reg := sender.NewRegistry()
	reg.Register(sender.ChannelInApp, flaky)
	d := New(dir, NewInMemoryContacts(), reg, nil)

	dir.AddWatcher("owner", "w1")
	targets, err := d.Dispatch(context.Background(), Event{Type: EventPanic, SourceUserID: "owner"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(targets) != 1 || targets[0].Status != StatusFailed {
		t.Fatalf("targets = %+v, want one failed", targets)
	}
	if flaky.calls != 1 {
		t.Fatalf("send attempts = %d, want 1", flaky.calls)
	}
}

func TestDispatchAppendsAuditRecords(t *testing.T) {
	dir := directory.NewInMemoryDirectory()
	contacts := NewInMemoryContacts()
	reg := sender.NewRegistry()
	reg.Register(sender.ChannelInApp, sender.NewMockSender())
	st := store.NewInMemoryStore()
	d := New(dir, contacts, reg, st)

	dir.AddWatcher("owner", "w1")
	ev := Event{ID: "evt-1", Type: EventPanic, SourceUserID: "owner"}

	if _, err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	// Re-invocation appends, never mutates.
	if _, err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		recs, err := st.Query(context.Background(), store.CollectionDeliveryLog, store.Filter{"event_id": "evt-1"})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(recs) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit record count = %d, want 2", len(recs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
