package webhooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carrierlink/internal/events"
	"carrierlink/internal/metrics"
)

// DefaultQueueSize bounds the number of deliveries waiting for the worker.
const DefaultQueueSize = 1000

// Target is a downstream endpoint that receives forwarded events.
type Target struct {
	URL    string
	Secret string
	Types  []string // empty forwards every type
}

func (t Target) wants(typ string) bool {
	if len(t.Types) == 0 {
		return true
	}
	for _, x := range t.Types {
		if x == typ {
			return true
		}
	}
	return false
}

// Delivery is one event queued for one target.
type Delivery struct {
	ID        string
	Target    Target
	EventType string
	Payload   []byte
	Attempts  int
	NextAt    time.Time
	LastError string
}

// Publisher turns bus events into pending deliveries, one per interested
// target. The payload is a structured-mode CloudEvent.
type Publisher struct {
	targets []Target
	log     *zap.Logger
	max     int
	now     func() time.Time

	mu      sync.Mutex
	pending []*Delivery
}

func NewPublisher(targets []Target, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{targets: targets, log: log.Named("forwarder"), max: DefaultQueueSize, now: time.Now}
}

// Publish enqueues evt. When the queue is full the event is dropped.
func (p *Publisher) Publish(_ context.Context, evt events.Event) {
	var body []byte
	for _, t := range p.targets {
		if !t.wants(evt.Type) {
			continue
		}
		if body == nil {
			ce, err := events.ToCloudEvent(evt)
			if err != nil {
				p.log.Warn("encoding event", zap.String("type", evt.Type), zap.Error(err))
				return
			}
			if body, err = json.Marshal(ce); err != nil {
				p.log.Warn("encoding event", zap.String("type", evt.Type), zap.Error(err))
				return
			}
		}
		d := &Delivery{ID: uuid.NewString(), Target: t, EventType: evt.Type, Payload: body, NextAt: p.now()}
		p.mu.Lock()
		full := len(p.pending) >= p.max
		if !full {
			p.pending = append(p.pending, d)
		}
		p.mu.Unlock()
		if full {
			metrics.ForwardedEvents.WithLabelValues("dropped").Inc()
			p.log.Warn("forward queue full, dropping event", zap.String("type", evt.Type), zap.String("url", t.URL))
		}
	}
}

// due removes and returns up to limit deliveries whose NextAt has passed.
func (p *Publisher) due(now time.Time, limit int) []*Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Delivery
	keep := p.pending[:0]
	for _, d := range p.pending {
		if len(out) < limit && !d.NextAt.After(now) {
			out = append(out, d)
			continue
		}
		keep = append(keep, d)
	}
	p.pending = keep
	return out
}

func (p *Publisher) requeue(d *Delivery) {
	p.mu.Lock()
	p.pending = append(p.pending, d)
	p.mu.Unlock()
}

// Pending reports how many deliveries are waiting.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
