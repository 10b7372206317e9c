// Package api implements the HTTP surface of the carrier integration service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"carrierlink/internal/auth"
	"carrierlink/internal/events"
	"carrierlink/internal/metrics"
	"carrierlink/internal/service"
)

const (
	maxJSONBody    = 1 << 20
	maxWebhookBody = 1 << 20
	maxUploadBody  = 10 << 20
)

type Server struct {
	Service *service.Service
	Auth    *auth.Verifier
	Bus     events.Bus
	Log     *zap.Logger

	validate *validator.Validate
}

// NewServer wires the handlers. A nil bus disables /events/ws.
func NewServer(svc *service.Service, verifier *auth.Verifier, bus events.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if verifier == nil {
		verifier = auth.NewVerifier(auth.ModeDev, nil, "", "")
	}
	return &Server{
		Service:  svc,
		Auth:     verifier,
		Bus:      bus,
		Log:      log.Named("api"),
		validate: newValidator(),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(instrument)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Post("/webhooks/{carrierId}", s.WebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/carriers", s.ListCarriers)
		r.Get("/carriers/{id}", s.GetCarrier)
		r.Post("/carriers/{id}/connect", s.ConnectCarrier)
		r.Post("/carriers/{id}/disconnect", s.DisconnectCarrier)
		r.Post("/carriers/{id}/test", s.TestCarrier)

		r.Get("/track/{trackingNumber}", s.TrackHandler)
		r.Post("/track/bulk", s.BulkTrackHandler)
		r.Get("/schedules", s.SchedulesHandler)

		r.Post("/bookings", s.CreateBookingHandler)
		r.Get("/bookings/{bookingNumber}", s.GetBookingHandler)
		r.Patch("/bookings/{bookingNumber}", s.UpdateBookingHandler)
		r.Post("/bookings/{bookingNumber}/cancel", s.CancelBookingHandler)
		r.Post("/quotes", s.QuoteHandler)
		r.Get("/documents/bill-of-lading/{blNumber}", s.BillOfLadingHandler)
		r.Post("/upload/tracking", s.UploadTrackingHandler)

		r.Get("/analytics/metrics", s.AnalyticsMetricsHandler)
		r.Get("/analytics/events", s.AnalyticsEventsHandler)

		r.Get("/events/ws", s.EventsWSHandler)
		r.Get("/debug/info", s.DebugJSON)
	})

	return otelhttp.NewHandler(r, "carrierlink")
}
