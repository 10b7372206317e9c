package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the service
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts inbound API requests by method, route, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records inbound request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // CarrierRequests counts outbound carrier calls by carrier, operation, and outcome
    CarrierRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "carrier_requests_total", Help: "Outbound carrier requests by outcome."},
        []string{"carrier", "operation", "outcome"},
    )
    // CarrierLatency tracks outbound carrier call latency in milliseconds
    CarrierLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "carrier_request_latency_ms", Help: "Carrier request latency in ms.", Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}},
        []string{"carrier", "operation"},
    )
    // CarrierRetries counts retry attempts per carrier
    CarrierRetries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "carrier_retries_total", Help: "Retry attempts against carriers."},
        []string{"carrier"},
    )
    // RateLimitWait accumulates time spent waiting for a rate limiter token
    RateLimitWait = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "carrier_rate_limit_wait_seconds_total", Help: "Seconds spent waiting on carrier rate limiters."},
        []string{"carrier"},
    )
    // CarrierConnected is 1 while a carrier connector is connected
    CarrierConnected = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "carrier_connected", Help: "Carrier connection state."},
        []string{"carrier"},
    )

    // WebhooksReceived counts inbound carrier webhooks by carrier and status
    WebhooksReceived = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "carrier_webhooks_total", Help: "Inbound carrier webhooks by status."},
        []string{"carrier", "status"},
    )
    // ForwardedEvents counts outbound event deliveries by outcome
    ForwardedEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "forwarded_events_total", Help: "Events forwarded to downstream endpoints by status."},
        []string{"status"},
    )
    // Events counts lifecycle events by type
    Events = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "integration_events_total", Help: "Integration lifecycle events by type."},
        []string{"carrier", "type"},
    )
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(CarrierRequests)
        Registry.MustRegister(CarrierLatency)
        Registry.MustRegister(CarrierRetries)
        Registry.MustRegister(RateLimitWait)
        Registry.MustRegister(CarrierConnected)
        Registry.MustRegister(WebhooksReceived)
        Registry.MustRegister(Events)
        Registry.MustRegister(ForwardedEvents)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
