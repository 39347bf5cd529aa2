// Package dispatch resolves recipients for safety events and fans
// notifications out across eligible channels, keeping an append-only
// delivery audit trail.
package dispatch

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/windhoek-dev/aegis/internal/directory"
	"github.com/windhoek-dev/aegis/internal/policy"
	"github.com/windhoek-dev/aegis/internal/reliability"
	"github.com/windhoek-dev/aegis/internal/sender"
	"github.com/windhoek-dev/aegis/internal/store"
)

// Dispatcher fans one event out to watchers and geofenced nearby users.
// Channel failures are recorded per target and never abort the fan-out.
type Dispatcher struct {
	dir      directory.Directory
	contacts ContactBook
	senders  *sender.Registry
	store    store.Store
	observer func(Target)
}

func New(dir directory.Directory, contacts ContactBook, senders *sender.Registry, st store.Store) *Dispatcher {
	return &Dispatcher{
		dir:      dir,
		contacts: contacts,
		senders:  senders,
		store:    st,
	}
}

// SetObserver installs a per-target callback, used for metrics. Must be set
// before the first Dispatch call.
func (d *Dispatcher) SetObserver(fn func(Target)) {
	d.observer = fn
}

// Dispatch resolves recipients and delivers across all eligible channels.
// Re-invoking for the same event appends new delivery records. The returned
// error covers recipient resolution only; per-target send failures are
// inside the Target records.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) ([]Target, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	recipients, err := d.resolveRecipients(ctx, ev)
	if err != nil {
		return nil, err
	}

	payload := sender.Payload{
		EventID:   ev.ID,
		EventType: string(ev.Type),
		Title:     titleFor(ev),
		Body:      ev.Message,
		Lat:       ev.Lat,
		Lng:       ev.Lng,
		Priority:  ev.Priority,
	}
	// Strangers inside the geofence get a redacted body and a coarsened
	// location; trusted watchers see everything.
	nearbyPayload := payload
	nearbyPayload.Body, _ = policy.RedactPII(payload.Body)
	nearbyPayload.Lat = policy.CoarsenCoordinate(payload.Lat)
	nearbyPayload.Lng = policy.CoarsenCoordinate(payload.Lng)

	var targets []Target
	for _, rcpt := range recipients {
		contact, err := d.contacts.Contacts(ctx, rcpt.id)
		if err != nil {
			log.Printf("dispatch: contact lookup failed for %s: %v", rcpt.id, err)
			contact = Contact{}
		}
		p := payload
		if rcpt.nearbyOnly {
			p = nearbyPayload
		}
		for _, attempt := range d.eligibleChannels(rcpt.id, contact) {
			targets = append(targets, d.deliver(ctx, ev, attempt, p))
		}
	}
	return targets, nil
}

type channelAttempt struct {
	recipientID string
	channel     sender.Channel
	address     string
}

func (d *Dispatcher) eligibleChannels(recipientID string, contact Contact) []channelAttempt {
	var out []channelAttempt
	if d.senders.Has(sender.ChannelInApp) {
		out = append(out, channelAttempt{recipientID, sender.ChannelInApp, recipientID})
	}
	if contact.PushEndpoint != "" && d.senders.Has(sender.ChannelPush) {
		out = append(out, channelAttempt{recipientID, sender.ChannelPush, contact.PushEndpoint})
	}
	if contact.Phone != "" && d.senders.Has(sender.ChannelSMS) {
		out = append(out, channelAttempt{recipientID, sender.ChannelSMS, contact.Phone})
	}
	if contact.Email != "" && d.senders.Has(sender.ChannelEmail) {
		out = append(out, channelAttempt{recipientID, sender.ChannelEmail, contact.Email})
	}
	return out
}

const (
	deliverMaxAttempts = 3
	deliverBackoffBase = 100 * time.Millisecond
	deliverBackoffCap  = time.Second
)

// deliver sends one payload on one channel. Provider rejections classified
// as transient are retried with capped backoff; only the final outcome is
// recorded.
func (d *Dispatcher) deliver(ctx context.Context, ev Event, attempt channelAttempt, payload sender.Payload) Target {
	target := Target{
		ID:          uuid.NewString(),
		EventID:     ev.ID,
		RecipientID: attempt.recipientID,
		Channel:     attempt.channel,
		Status:      StatusSent,
		At:          time.Now().UTC(),
	}

	var lastErr error
	for try := 0; try < deliverMaxAttempts; try++ {
		if try > 0 {
			wait := reliability.ExponentialBackoff(try-1, deliverBackoffBase, deliverBackoffCap)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}
		err := d.senders.Send(ctx, attempt.channel, attempt.address, payload)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		var de *sender.DeliveryError
		if !errors.As(err, &de) || !reliability.IsRetryableDeliveryError(de.Code) {
			break
		}
	}
	if lastErr != nil {
		target.Status = StatusFailed
		target.Error = lastErr.Error()
		log.Printf("dispatch: %s to %s failed: %v", attempt.channel, attempt.recipientID, lastErr)
	}
	d.record(target)
	return target
}

// record persists the audit row off the delivery path. Store failures are
// logged, never propagated.
func (d *Dispatcher) record(t Target) {
	if d.observer != nil {
		d.observer(t)
	}
	if d.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := d.store.Insert(ctx, store.CollectionDeliveryLog, map[string]any{
			"target_id":    t.ID,
			"event_id":     t.EventID,
			"recipient_id": t.RecipientID,
			"channel":      string(t.Channel),
			"status":       string(t.Status),
			"error":        t.Error,
			"at":           t.At.Format(time.RFC3339Nano),
		}); err != nil {
			log.Printf("dispatch: audit insert failed: %v", err)
		}
	}()
}

type recipient struct {
	id         string
	nearbyOnly bool
}

func (d *Dispatcher) resolveRecipients(ctx context.Context, ev Event) ([]recipient, error) {
	watcherSet := make(map[string]bool)

	watchers, err := d.dir.ListWatchers(ctx, ev.SourceUserID)
	if err != nil {
		return nil, err
	}
	for _, w := range watchers {
		if w != ev.SourceUserID {
			watcherSet[w] = true
		}
	}

	nearbySet := make(map[string]bool)
	if ev.HasLocation {
		radius, ok := RadiusMeters[ev.Type]
		if !ok {
			radius = RadiusMeters[EventInfo]
		}
		nearby, err := d.dir.ListNearbyUsers(ctx, ev.Lat, ev.Lng, radius)
		if err != nil {
			// Watchers still get notified when the geo lookup is down.
			log.Printf("dispatch: nearby lookup failed: %v", err)
		}
		for _, u := range nearby {
			if u.UserID == ev.SourceUserID || u.GhostMode || watcherSet[u.UserID] {
				continue
			}
			nearbySet[u.UserID] = true
		}
	}

	out := make([]recipient, 0, len(watcherSet)+len(nearbySet))
	for id := range watcherSet {
		out = append(out, recipient{id: id})
	}
	for id := range nearbySet {
		out = append(out, recipient{id: id, nearbyOnly: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

func titleFor(ev Event) string {
	switch ev.Type {
	case EventPanic:
		if ev.Priority == "high" {
			return "URGENT: emergency escalated"
		}
		return "Emergency alert"
	case EventCrash:
		return "Possible vehicle crash"
	case EventAmber:
		return "Missing person alert"
	default:
		return "Safety notice"
	}
}
