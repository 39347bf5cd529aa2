package signal

import "sync"

const subscriberBuffer = 128

// Broker fans normalized signals out to any number of subscribers.
// Publish never blocks: a subscriber that falls behind loses samples
// instead of stalling the sampling path.
type Broker struct {
	mu      sync.Mutex
	subs    map[int]chan Sample
	nextID  int
	dropped uint64
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Sample)}
}

// Subscribe registers a new receiver. The returned cancel func is idempotent
// and safe to call concurrently with Publish.
func (b *Broker) Subscribe() (<-chan Sample, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Sample)
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	ch := make(chan Sample, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers s to every subscriber without blocking.
func (b *Broker) Publish(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			b.dropped++
		}
	}
}

// Dropped reports how many samples were discarded due to slow subscribers.
func (b *Broker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close terminates all subscriptions. Idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
