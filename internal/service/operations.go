package service

import (
	"context"
	"errors"
	"fmt"

	"carrierlink/internal/events"
	"carrierlink/internal/integration"
	"carrierlink/internal/metrics"
	"carrierlink/internal/store"
)

// capability returns the active connector for id as T, or
// ErrUnsupportedOperation when the carrier does not implement op.
func capability[T any](s *Service, id, op string) (T, error) {
	var zero T
	c, err := s.Integration(id)
	if err != nil {
		return zero, err
	}
	v, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s does not support %s", integration.ErrUnsupportedOperation, c.ID(), op)
	}
	return v, nil
}

func (s *Service) CreateBooking(ctx context.Context, id string, booking integration.Record) (integration.Record, error) {
	c, err := capability[integration.BookingCreator](s, id, "booking creation")
	if err != nil {
		return nil, err
	}
	return c.CreateBooking(ctx, booking)
}

func (s *Service) GetBooking(ctx context.Context, id, bookingNumber string) (integration.Record, error) {
	c, err := capability[integration.BookingGetter](s, id, "booking retrieval")
	if err != nil {
		return nil, err
	}
	return c.GetBooking(ctx, bookingNumber)
}

func (s *Service) UpdateBooking(ctx context.Context, id, bookingNumber string, changes integration.Record) (integration.Record, error) {
	c, err := capability[integration.BookingUpdater](s, id, "booking amendment")
	if err != nil {
		return nil, err
	}
	return c.UpdateBooking(ctx, bookingNumber, changes)
}

func (s *Service) CancelBooking(ctx context.Context, id, bookingNumber, reason string) (integration.Record, error) {
	c, err := capability[integration.BookingCanceller](s, id, "booking cancellation")
	if err != nil {
		return nil, err
	}
	return c.CancelBooking(ctx, bookingNumber, reason)
}

func (s *Service) GetBillOfLading(ctx context.Context, id, blNumber string) (*integration.Document, error) {
	c, err := capability[integration.BillOfLadingFetcher](s, id, "document retrieval")
	if err != nil {
		return nil, err
	}
	return c.GetBillOfLading(ctx, blNumber)
}

func (s *Service) GetQuote(ctx context.Context, id string, request integration.Record) (integration.Record, error) {
	c, err := capability[integration.Quoter](s, id, "quotes")
	if err != nil {
		return nil, err
	}
	return c.GetQuote(ctx, request)
}

func (s *Service) UploadFile(ctx context.Context, id, filename string, content []byte, fileType string) (integration.Record, error) {
	c, err := capability[integration.FileUploader](s, id, "file uploads")
	if err != nil {
		return nil, err
	}
	return c.UploadFile(ctx, filename, content, fileType)
}

// WebhookResult is a handled webhook plus whether it was seen before.
type WebhookResult struct {
	integration.WebhookEvent
	Duplicate bool `json:"duplicate"`
}

// HandleWebhook verifies and transforms a carrier push, records the receipt
// and emits webhook-received. Failures are confined to the one carrier.
func (s *Service) HandleWebhook(ctx context.Context, id string, payload []byte, signature string) (WebhookResult, error) {
	c, err := s.Integration(id)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(id, "unknown").Inc()
		return WebhookResult{}, err
	}
	evt, err := c.HandleWebhook(ctx, payload, signature)
	if err != nil {
		status := "error"
		if errors.Is(err, integration.ErrInvalidSignature) {
			status = "rejected"
		}
		metrics.WebhooksReceived.WithLabelValues(c.ID(), status).Inc()
		s.emit(ctx, events.WebhookError, c.ID(), map[string]any{"error": err.Error()})
		return WebhookResult{}, err
	}

	rcpt, dup, err := s.store.RecordWebhook(ctx, store.WebhookReceipt{
		CarrierID: c.ID(),
		EventType: evt.EventType,
		Verified:  evt.Verified,
		Payload:   payload,
	})
	if err != nil {
		return WebhookResult{}, fmt.Errorf("recording webhook: %w", err)
	}
	status := "accepted"
	if dup {
		status = "duplicate"
	}
	metrics.WebhooksReceived.WithLabelValues(c.ID(), status).Inc()
	s.emit(ctx, events.WebhookReceived, c.ID(), map[string]any{
		"eventType": evt.EventType,
		"verified":  evt.Verified,
		"duplicate": dup,
		"dedupKey":  rcpt.DedupKey,
		"data":      map[string]any(evt.Record),
	})
	return WebhookResult{WebhookEvent: evt, Duplicate: dup}, nil
}

// CarrierStatus describes a registered carrier and, when active, its state.
type CarrierStatus struct {
	integration.Info
	State           State                        `json:"state"`
	Connected       bool                         `json:"connected"`
	Metrics         *integration.MetricsSnapshot `json:"metrics,omitempty"`
	LastHealthCheck *integration.HealthStatus    `json:"lastHealthCheck,omitempty"`
}

// Carrier describes one registered carrier.
func (s *Service) Carrier(id string) (CarrierStatus, error) {
	info, err := s.reg.Describe(id)
	if err != nil {
		return CarrierStatus{}, err
	}
	st := CarrierStatus{Info: info, State: s.State(info.ID)}
	if c, err := s.Integration(info.ID); err == nil {
		m := c.Metrics()
		st.Connected = c.Connected()
		st.Metrics = &m
		st.LastHealthCheck = c.Base().LastHealth()
	}
	return st, nil
}

// Carriers describes every registered carrier in id order.
func (s *Service) Carriers() []CarrierStatus {
	ids := s.reg.List()
	out := make([]CarrierStatus, 0, len(ids))
	for _, id := range ids {
		if st, err := s.Carrier(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// ActiveIntegration is one live connector's summary.
type ActiveIntegration struct {
	CarrierID string                      `json:"carrierId"`
	Name      string                      `json:"name"`
	Connected bool                        `json:"connected"`
	Metrics   integration.MetricsSnapshot `json:"metrics"`
}

func (s *Service) ActiveIntegrations() []ActiveIntegration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActiveIntegration, 0, len(s.active))
	for _, id := range sortedKeys(s.active) {
		c := s.active[id]
		out = append(out, ActiveIntegration{CarrierID: id, Name: c.Name(), Connected: c.Connected(), Metrics: c.Metrics()})
	}
	return out
}

// Analytics aggregates request metrics across active integrations.
type Analytics struct {
	TotalIntegrations     int                 `json:"totalIntegrations"`
	ConnectedIntegrations int                 `json:"connectedIntegrations"`
	TotalRequests         int64               `json:"totalRequests"`
	AverageSuccessRate    float64             `json:"averageSuccessRate"`
	Integrations          []ActiveIntegration `json:"integrations"`
}

// Metrics averages the per-carrier success ratio; a carrier with no requests
// counts as zero.
func (s *Service) Metrics() Analytics {
	active := s.ActiveIntegrations()
	a := Analytics{TotalIntegrations: len(active), Integrations: active}
	var sum float64
	for _, i := range active {
		if i.Connected {
			a.ConnectedIntegrations++
		}
		a.TotalRequests += i.Metrics.TotalRequests
		if i.Metrics.TotalRequests > 0 {
			sum += float64(i.Metrics.SuccessfulRequests) / float64(i.Metrics.TotalRequests)
		}
	}
	if len(active) > 0 {
		a.AverageSuccessRate = sum / float64(len(active))
	}
	return a
}

// Events queries the event log.
func (s *Service) Events(ctx context.Context, f store.EventFilter) ([]events.Event, error) {
	return s.store.ListEvents(ctx, f)
}

// EventCounts tallies logged events by type, optionally for one carrier.
func (s *Service) EventCounts(ctx context.Context, carrierID string) (map[string]int, error) {
	return s.store.EventCounts(ctx, carrierID)
}
