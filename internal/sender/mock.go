package sender

import (
	"context"
	"sync"
)

// MockSender records sends and optionally fails, for tests.
type MockSender struct {
	mu    sync.Mutex
	Err   error
	sends []MockSend
}

type MockSend struct {
	Address string
	Payload Payload
}

func NewMockSender() *MockSender { return &MockSender{} }

func (m *MockSender) Send(_ context.Context, address string, p Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sends = append(m.sends, MockSend{Address: address, Payload: p})
	return nil
}

func (m *MockSender) Sends() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSend, len(m.sends))
	copy(out, m.sends)
	return out
}
