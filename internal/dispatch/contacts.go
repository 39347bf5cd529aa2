package dispatch

import (
	"context"
	"sync"
)

// ContactBook resolves per-recipient channel addresses.
type ContactBook interface {
	Contacts(ctx context.Context, userID string) (Contact, error)
}

// InMemoryContacts is an in-process contact book for local/dev use and tests.
type InMemoryContacts struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewInMemoryContacts() *InMemoryContacts {
	return &InMemoryContacts{contacts: make(map[string]Contact)}
}

func (c *InMemoryContacts) Set(userID string, contact Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts[userID] = contact
}

func (c *InMemoryContacts) Contacts(_ context.Context, userID string) (Contact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contacts[userID], nil
}
