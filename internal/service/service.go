// Package service orchestrates live carrier connectors: it initializes them
// from the registry, routes tracking calls by detected carrier, fans queries
// out across connected carriers and hosts inbound webhook handling.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"carrierlink/internal/events"
	"carrierlink/internal/integration"
	"carrierlink/internal/metrics"
	"carrierlink/internal/store"
)

// State is a carrier's lifecycle position inside the service.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateFailed        State = "failed"
)

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithBus forwards every event to a subscription bus.
func WithBus(b events.Publisher) Option { return func(s *Service) { s.bus = b } }

// WithStore appends every event to the event log.
func WithStore(st store.Store) Option { return func(s *Service) { s.store = st } }

// WithConnectorOptions are applied to every connector the service builds.
func WithConnectorOptions(opts ...integration.Option) Option {
	return func(s *Service) { s.connOpts = append(s.connOpts, opts...) }
}

type Service struct {
	reg      *integration.Registry
	log      *zap.Logger
	bus      events.Publisher
	store    store.Store
	connOpts []integration.Option
	tracer   trace.Tracer

	mu     sync.RWMutex
	active map[string]integration.Carrier
	states map[string]State
}

func New(reg *integration.Registry, opts ...Option) *Service {
	s := &Service{
		reg:    reg,
		log:    zap.NewNop(),
		bus:    events.Discard,
		store:  store.NewMemory(0),
		tracer: otel.Tracer("carrierlink/service"),
		active: map[string]integration.Carrier{},
		states: map[string]State{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Registry() *integration.Registry { return s.reg }
func (s *Service) Store() store.Store { return s.store }

// Publish is the single sink for connector and service events.
func (s *Service) Publish(ctx context.Context, evt events.Event) {
	metrics.Events.WithLabelValues(evt.CarrierID, evt.Type).Inc()
	fields := []zap.Field{zap.String("carrier", evt.CarrierID), zap.String("event", evt.Type)}
	switch evt.Type {
	case events.Request, events.Response:
		s.log.Debug("integration event", fields...)
	case events.RequestError, events.ConnectionFailed, events.AuthError, events.InitializationFailed,
		events.ScheduleError, events.TrackingError, events.WebhookError:
		s.log.Warn("integration event", append(fields, zap.Any("data", evt.Data))...)
	default:
		s.log.Info("integration event", fields...)
	}
	if err := s.store.AppendEvent(context.WithoutCancel(ctx), evt); err != nil {
		s.log.Error("append event", zap.String("event", evt.Type), zap.Error(err))
	}
	s.bus.Publish(ctx, evt)
}

func (s *Service) emit(ctx context.Context, typ, carrierID string, data map[string]any) {
	s.Publish(ctx, events.New(typ, carrierID, data))
}

// State reports where id is in its lifecycle.
func (s *Service) State(id string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[strings.ToUpper(id)]; ok {
		return st
	}
	return StateUninitialized
}

// InitializeCarrier builds a connector for id, connects it and makes it
// active. On failure no entry is kept and the caller must retry.
func (s *Service) InitializeCarrier(ctx context.Context, id string, cfg integration.Config) error {
	id = strings.ToUpper(id)
	ctx, span := s.tracer.Start(ctx, "InitializeCarrier", trace.WithAttributes(carrierAttr(id)))
	defer span.End()

	if !s.reg.Has(id) {
		return fmt.Errorf("%w: %s", integration.ErrUnknownCarrier, id)
	}
	s.mu.Lock()
	prev := s.active[id]
	delete(s.active, id)
	s.states[id] = StateConnecting
	s.mu.Unlock()
	// Old and new connectors share the carrier's metric labels.
	if prev != nil {
		prev.Disconnect()
	}

	opts := append([]integration.Option{
		integration.WithLogger(s.log),
		integration.WithPublisher(events.PublisherFunc(s.Publish)),
	}, s.connOpts...)
	c, err := s.reg.CreateIntegration(id, cfg, opts...)
	if err != nil {
		s.fail(ctx, id, err)
		return err
	}
	if !c.Connect(ctx) {
		err := fmt.Errorf("%w: %s", integration.ErrConnectionFailed, id)
		if hs := c.Base().LastHealth(); hs != nil && hs.Error != "" {
			err = fmt.Errorf("%w: %s: %s", integration.ErrConnectionFailed, id, hs.Error)
		}
		s.fail(ctx, id, err)
		return err
	}

	s.mu.Lock()
	s.active[id] = c
	s.states[id] = StateConnected
	s.mu.Unlock()
	s.emit(ctx, events.CarrierInitialized, id, map[string]any{"name": c.Name()})
	return nil
}

func (s *Service) fail(ctx context.Context, id string, err error) {
	recordErr(ctx, err)
	s.mu.Lock()
	prev := s.active[id]
	delete(s.active, id)
	s.states[id] = StateFailed
	s.mu.Unlock()
	if prev != nil {
		prev.Disconnect()
	}
	s.emit(ctx, events.InitializationFailed, id, map[string]any{"error": err.Error()})
}

// Integration returns the active connector for id.
func (s *Service) Integration(id string) (integration.Carrier, error) {
	id = strings.ToUpper(id)
	s.mu.RLock()
	c, ok := s.active[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrNotConnected, id)
	}
	return c, nil
}

// IsConnected reports whether id is active and connected.
func (s *Service) IsConnected(id string) bool {
	c, err := s.Integration(id)
	return err == nil && c.Connected()
}

// connected returns active carriers that are still connected, in id order.
func (s *Service) connected() []integration.Carrier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]integration.Carrier, 0, len(s.active))
	for _, id := range sortedKeys(s.active) {
		if c := s.active[id]; c.Connected() {
			out = append(out, c)
		}
	}
	return out
}

// Disconnect drops id from the active set.
func (s *Service) Disconnect(id string) error {
	id = strings.ToUpper(id)
	s.mu.Lock()
	c, ok := s.active[id]
	delete(s.active, id)
	if ok {
		s.states[id] = StateUninitialized
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", integration.ErrNotConnected, id)
	}
	c.Disconnect()
	return nil
}

// Test runs a health check against an active carrier.
func (s *Service) Test(ctx context.Context, id string) (integration.HealthStatus, error) {
	c, err := s.Integration(id)
	if err != nil {
		return integration.HealthStatus{}, err
	}
	return c.HealthCheck(ctx), nil
}

// Shutdown disconnects every active carrier.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	active := s.active
	s.active = map[string]integration.Carrier{}
	for id := range active {
		s.states[id] = StateUninitialized
	}
	s.mu.Unlock()
	for _, id := range sortedKeys(active) {
		active[id].Disconnect()
	}
	s.emit(ctx, events.Shutdown, "", map[string]any{"carriers": len(active)})
}

// Ready reports whether the event log is reachable.
func (s *Service) Ready(ctx context.Context) error { return s.store.Ping(ctx) }
