package events

import "sync"

// Bus delivers committed envelopes to in-process subscribers. Slow
// subscribers drop events rather than stall the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Envelope
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Envelope)}
}

// Subscribe returns a channel of future envelopes and a cancel func that
// closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Envelope, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers envelopes in order to every subscriber.
func (b *Bus) Publish(envs ...Envelope) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		for _, env := range envs {
			select {
			case ch <- env:
			default:
			}
		}
	}
}
