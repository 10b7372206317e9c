// Package store persists the integration event log and inbound webhook
// receipts. Memory backs tests and local runs; Postgres is used when a
// DATABASE_URL is configured.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"carrierlink/internal/events"
)

var ErrNotFound = errors.New("not found")

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	CarrierID string
	Type      string
	Since     time.Time
	Limit     int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (f EventFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	if f.Limit > maxListLimit {
		return maxListLimit
	}
	return f.Limit
}

func (f EventFilter) match(evt events.Event) bool {
	if f.CarrierID != "" && evt.CarrierID != f.CarrierID {
		return false
	}
	if f.Type != "" && evt.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && evt.Time.Before(f.Since) {
		return false
	}
	return true
}

// WebhookReceipt records one inbound carrier webhook.
type WebhookReceipt struct {
	CarrierID  string    `json:"carrierId"`
	DedupKey   string    `json:"dedupKey"`
	EventType  string    `json:"eventType,omitempty"`
	Verified   bool      `json:"verified"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Store is the event log. ListEvents returns newest first.
type Store interface {
	AppendEvent(ctx context.Context, evt events.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error)
	EventCounts(ctx context.Context, carrierID string) (map[string]int, error)
	// RecordWebhook stores a receipt keyed by carrier and dedup key. The
	// returned bool is true when the same delivery was already recorded.
	RecordWebhook(ctx context.Context, r WebhookReceipt) (WebhookReceipt, bool, error)
	GetWebhook(ctx context.Context, carrierID, dedupKey string) (WebhookReceipt, error)
	Ping(ctx context.Context) error
}

// computeDedupKey prefers a delivery id from the payload and falls back to a
// content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		for _, k := range []string{"id", "eventId", "eventID"} {
			if v, ok := m[k].(string); ok && v != "" {
				return v
			}
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func prepareReceipt(r WebhookReceipt) WebhookReceipt {
	if r.DedupKey == "" {
		r.DedupKey = computeDedupKey(r.Payload)
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	return r
}
