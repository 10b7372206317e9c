package events

import (
	"context"
	"sync"
)

// Broker is an in-process Bus. Slow subscribers miss events rather than
// stall publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // carrierID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(carrierID string) chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	if b.subs[carrierID] == nil {
		b.subs[carrierID] = map[chan Event]struct{}{}
	}
	b.subs[carrierID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(carrierID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[carrierID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, carrierID)
	}
	close(ch)
}

// Publish delivers evt to the carrier's subscribers and to AllCarriers subscribers.
func (b *Broker) Publish(_ context.Context, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{evt.CarrierID, AllCarriers} {
		for ch := range b.subs[key] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}
