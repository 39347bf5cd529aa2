// Package sender abstracts outbound delivery channels. Senders own their
// transport-level retries; provider rejections they classify as transient
// surface as DeliveryError so the dispatcher can retry before recording the
// final outcome.
package sender

import (
	"context"
	"errors"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

var ErrNoSender = errors.New("no sender for channel")

// DeliveryError is a provider rejection with a classified code. Codes the
// reliability package recognizes as transient get retried by the dispatcher.
type DeliveryError struct {
	Code string
	Err  error
}

func (e *DeliveryError) Error() string { return e.Code + ": " + e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

// Payload is the message handed to a transport.
type Payload struct {
	EventID   string  `json:"event_id"`
	EventType string  `json:"event_type"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	Lat       float64 `json:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty"`
	Priority  string  `json:"priority,omitempty"`
}

// Sender delivers one payload to one address on one channel.
type Sender interface {
	Send(ctx context.Context, address string, p Payload) error
}

// Registry routes channels to their configured transports.
type Registry struct {
	senders map[Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[Channel]Sender)}
}

// Register installs a transport for a channel, replacing any previous one.
func (r *Registry) Register(ch Channel, s Sender) {
	r.senders[ch] = s
}

// Send routes to the channel's transport.
func (r *Registry) Send(ctx context.Context, ch Channel, address string, p Payload) error {
	s, ok := r.senders[ch]
	if !ok {
		return ErrNoSender
	}
	return s.Send(ctx, address, p)
}

// Has reports whether a transport is registered for the channel.
func (r *Registry) Has(ch Channel) bool {
	_, ok := r.senders[ch]
	return ok
}
