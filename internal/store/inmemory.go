package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
	order       map[string][]string
	subs        map[string]map[int]subscription
	nextSubID   int
}

type subscription struct {
	filter   Filter
	onChange func(Change)
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string]map[string]Record),
		order:       make(map[string][]string),
		subs:        make(map[string]map[int]subscription),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, collection string, data map[string]any) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		Data:      cloneData(data),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = make(map[string]Record)
	}
	s.collections[collection][rec.ID] = rec
	s.order[collection] = append(s.order[collection], rec.ID)
	subs := s.matchingSubsLocked(collection, rec)
	s.mu.Unlock()

	notify(subs, Change{Kind: ChangeInsert, Collection: collection, Record: rec})
	return rec, nil
}

func (s *InMemoryStore) Update(_ context.Context, collection, id string, patch map[string]any) (Record, error) {
	s.mu.Lock()
	coll, ok := s.collections[collection]
	if !ok {
		s.mu.Unlock()
		return Record{}, ErrNotFound
	}
	rec, ok := coll[id]
	if !ok {
		s.mu.Unlock()
		return Record{}, ErrNotFound
	}
	rec.Data = cloneData(rec.Data)
	for k, v := range patch {
		rec.Data[k] = v
	}
	rec.UpdatedAt = time.Now().UTC()
	coll[id] = rec
	subs := s.matchingSubsLocked(collection, rec)
	s.mu.Unlock()

	notify(subs, Change{Kind: ChangeUpdate, Collection: collection, Record: rec})
	return rec, nil
}

func (s *InMemoryStore) Query(_ context.Context, collection string, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.collections[collection]
	out := make([]Record, 0)
	for _, id := range s.order[collection] {
		rec, ok := coll[id]
		if !ok {
			continue
		}
		if Matches(rec.Data, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Subscribe(collection string, filter Filter, onChange func(Change)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if _, ok := s.subs[collection]; !ok {
		s.subs[collection] = make(map[int]subscription)
	}
	s.subs[collection][id] = subscription{filter: filter, onChange: onChange}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[collection], id)
		})
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) matchingSubsLocked(collection string, rec Record) []func(Change) {
	var out []func(Change)
	for _, sub := range s.subs[collection] {
		if Matches(rec.Data, sub.filter) {
			out = append(out, sub.onChange)
		}
	}
	return out
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}

func cloneData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
