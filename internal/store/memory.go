package store

import (
	"context"
	"sync"

	"carrierlink/internal/events"
)

// DefaultMemoryCapacity bounds the in-memory event ring.
const DefaultMemoryCapacity = 10000

// Memory is a simple in-memory store used when no DATABASE_URL is set. The
// event log is a ring; the oldest entries are overwritten once full.
type Memory struct {
	mu       sync.Mutex
	ring     []events.Event
	next     int
	full     bool
	webhooks map[string]WebhookReceipt // carrier|dedup -> receipt
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		ring:     make([]events.Event, capacity),
		webhooks: map[string]WebhookReceipt{},
	}
}

func (m *Memory) AppendEvent(_ context.Context, evt events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = evt
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// each walks the ring newest first until fn returns false. Caller holds mu.
func (m *Memory) each(fn func(events.Event) bool) {
	n := m.next
	if m.full {
		n = len(m.ring)
	}
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		if !fn(m.ring[idx]) {
			return
		}
	}
}

func (m *Memory) ListEvents(_ context.Context, f EventFilter) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := f.limit()
	out := []events.Event{}
	m.each(func(evt events.Event) bool {
		if f.match(evt) {
			out = append(out, evt)
		}
		return len(out) < limit
	})
	return out, nil
}

func (m *Memory) EventCounts(_ context.Context, carrierID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	m.each(func(evt events.Event) bool {
		if carrierID == "" || evt.CarrierID == carrierID {
			counts[evt.Type]++
		}
		return true
	})
	return counts, nil
}

func (m *Memory) RecordWebhook(_ context.Context, r WebhookReceipt) (WebhookReceipt, bool, error) {
	r = prepareReceipt(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.CarrierID + "|" + r.DedupKey
	if prev, ok := m.webhooks[key]; ok {
		return prev, true, nil
	}
	r.Payload = append([]byte(nil), r.Payload...)
	m.webhooks[key] = r
	return r, false, nil
}

func (m *Memory) GetWebhook(_ context.Context, carrierID, dedupKey string) (WebhookReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.webhooks[carrierID+"|"+dedupKey]
	if !ok {
		return WebhookReceipt{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
