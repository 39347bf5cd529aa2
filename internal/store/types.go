// Package store provides the generic data-store boundary: collections of
// JSON-shaped records with insert/update/query and realtime change
// subscription. The engine treats the backing system as eventually
// consistent; writes happen off the detection path.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Collection names used by the engine.
const (
	CollectionSessions    = "emergency_sessions"
	CollectionLocationLog = "session_locations"
	CollectionDeliveryLog = "notification_targets"
	CollectionAudioChunks = "session_audio_chunks"
	CollectionSignalLog   = "signal_samples"
)

// Record is one stored document.
type Record struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Filter matches records whose data contains every listed key with an equal
// value.
type Filter map[string]any

// ChangeKind discriminates subscription notifications.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

// Change is one realtime mutation notification.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	Record     Record     `json:"record"`
}

// Store is the persistence boundary.
type Store interface {
	Insert(ctx context.Context, collection string, data map[string]any) (Record, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) (Record, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Record, error)
	// Subscribe registers a change callback for a collection. The returned
	// cancel func is idempotent. Callbacks must not block.
	Subscribe(collection string, filter Filter, onChange func(Change)) func()
	Close() error
}

// Matches reports whether data satisfies the filter.
func Matches(data map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := data[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
