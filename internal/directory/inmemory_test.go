package directory

import (
	"context"
	"testing"
)

func TestListWatchersDeduplicates(t *testing.T) {
	d := NewInMemoryDirectory()
	d.AddWatcher("u1", "w1")
	d.AddWatcher("u1", "w2")
	d.AddWatcher("u1", "w1")

	got, err := d.ListWatchers(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListWatchers() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("watcher count = %d, want 2", len(got))
	}
}

func TestListNearbyUsersRadius(t *testing.T) {
	d := NewInMemoryDirectory()
	// ~0.0045° lat ≈ 500 m.
	d.UpsertLocation("near", -22.5645, 17.08, false)
	d.UpsertLocation("far", -22.5655, 17.08, false) // ~600 m
	d.UpsertLocation("ghost", -22.5640, 17.08, true)

	got, err := d.ListNearbyUsers(context.Background(), -22.56, 17.08, 500)
	if err != nil {
		t.Fatalf("ListNearbyUsers() error = %v", err)
	}
	ids := make(map[string]bool)
	for _, u := range got {
		ids[u.UserID] = u.GhostMode
	}
	if _, ok := ids["near"]; !ok {
		t.Fatalf("user within radius missing: %+v", got)
	}
	if _, ok := ids["far"]; ok {
		t.Fatalf("user at 600 m should be excluded")
	}
	if ghost, ok := ids["ghost"]; !ok || !ghost {
		t.Fatalf("ghost user should be returned with its flag set")
	}
}
