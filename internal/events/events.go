// Package events carries connector lifecycle events from producers to
// subscribers (logs, the event log store, websocket clients).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by connectors and the integration service.
const (
	Connecting       = "connecting"
	Connected        = "connected"
	ConnectionFailed = "connection-failed"
	Disconnected     = "disconnected"
	Request          = "request"
	Response         = "response"
	RequestError     = "request-error"
	Retry            = "retry"
	RateLimit        = "rate-limit"
	Throttled        = "throttled"
	AuthRefreshed    = "auth-refreshed"
	AuthError        = "auth-error"

	CarrierInitialized   = "carrier-initialized"
	InitializationFailed = "initialization-failed"
	ScheduleError        = "schedule-error"
	TrackingError        = "tracking-error"
	WebhookReceived      = "webhook-received"
	WebhookError         = "webhook-error"
	Shutdown             = "shutdown"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CarrierID string         `json:"carrierId"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

// New stamps an id and time.
func New(typ, carrierID string, data map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: typ, CarrierID: carrierID, Time: time.Now().UTC(), Data: data}
}

// Publisher receives events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt Event)

func (f PublisherFunc) Publish(ctx context.Context, evt Event) { f(ctx, evt) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) {})

// Multi fans an event out to several publishers in order.
func Multi(pubs ...Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, evt Event) {
		for _, p := range pubs {
			if p != nil {
				p.Publish(ctx, evt)
			}
		}
	})
}

// AllCarriers subscribes to every carrier's events.
const AllCarriers = "*"

// Bus is a Publisher that also hands out subscriptions keyed by carrier id.
type Bus interface {
	Publisher
	Subscribe(carrierID string) chan Event
	Unsubscribe(carrierID string, ch chan Event)
}
