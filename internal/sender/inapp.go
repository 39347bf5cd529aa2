package sender

import (
	"context"
	"fmt"

	"github.com/windhoek-dev/aegis/internal/store"
)

const inboxCollection = "inbox_messages"

// InAppSender delivers by appending to the recipient's inbox collection in
// the data store; the client app observes it via a store subscription.
type InAppSender struct {
	store store.Store
}

func NewInAppSender(st store.Store) *InAppSender {
	return &InAppSender{store: st}
}

func (s *InAppSender) Send(ctx context.Context, address string, p Payload) error {
	_, err := s.store.Insert(ctx, inboxCollection, map[string]any{
		"recipient_id": address,
		"event_id":     p.EventID,
		"event_type":   p.EventType,
		"title":        p.Title,
		"body":         p.Body,
		"lat":          p.Lat,
		"lng":          p.Lng,
		"priority":     p.Priority,
		"read":         false,
	})
	if err != nil {
		return fmt.Errorf("inbox insert: %w", err)
	}
	return nil
}
