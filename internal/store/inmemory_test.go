package store

import (
	"context"
	"testing"
)

func TestInsertQueryUpdate(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	rec, err := s.Insert(ctx, CollectionSessions, map[string]any{"owner_id": "u1", "status": "active"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("record ID should not be empty")
	}

	got, err := s.Query(ctx, CollectionSessions, Filter{"owner_id": "u1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].Data["status"] != "active" {
		t.Fatalf("unexpected query result: %+v", got)
	}

	if _, err := s.Update(ctx, CollectionSessions, rec.ID, map[string]any{"status": "ended"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = s.Query(ctx, CollectionSessions, Filter{"status": "ended"})
	if len(got) != 1 {
		t.Fatalf("updated record not found by new filter")
	}
}

func TestQueryFilterExcludesNonMatching(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_, _ = s.Insert(ctx, CollectionDeliveryLog, map[string]any{"recipient_id": "a", "channel": "sms"})
	_, _ = s.Insert(ctx, CollectionDeliveryLog, map[string]any{"recipient_id": "b", "channel": "push"})

	got, err := s.Query(ctx, CollectionDeliveryLog, Filter{"channel": "sms"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].Data["recipient_id"] != "a" {
		t.Fatalf("filter matched wrong records: %+v", got)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Update(context.Background(), CollectionSessions, "nope", map[string]any{"x": 1}); err != ErrNotFound {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestSubscribeReceivesMatchingChanges(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	var changes []Change
	cancel := s.Subscribe(CollectionSessions, Filter{"owner_id": "u1"}, func(c Change) {
		changes = append(changes, c)
	})
	defer cancel()

	_, _ = s.Insert(ctx, CollectionSessions, map[string]any{"owner_id": "u1"})
	_, _ = s.Insert(ctx, CollectionSessions, map[string]any{"owner_id": "u2"})

	if len(changes) != 1 {
		t.Fatalf("change count = %d, want 1", len(changes))
	}
	if changes[0].Kind != ChangeInsert {
		t.Fatalf("change kind = %q, want insert", changes[0].Kind)
	}

	cancel()
	cancel() // idempotent
	_, _ = s.Insert(ctx, CollectionSessions, map[string]any{"owner_id": "u1"})
	if len(changes) != 1 {
		t.Fatalf("cancelled subscriber still notified")
	}
}
