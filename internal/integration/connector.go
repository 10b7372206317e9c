// Package integration provides the carrier connector framework: request
// pipeline, retry policy, auth strategies, rate limiting, field mapping and
// the registry that builds connectors by carrier id.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"carrierlink/internal/events"
	"carrierlink/internal/metrics"
)

const (
	maxResponseBytes  = 16 << 20
	maxBackoff        = 10 * time.Second
	defaultRetryAfter = 60 * time.Second
)

// Health check outcomes.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusError     = "error"
)

// HealthStatus is the result of a credential validation round trip.
type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	ResponseTime int64     `json:"responseTime,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// MetricsSnapshot is a copy of a connector's rolling request metrics.
type MetricsSnapshot struct {
	TotalRequests      int64      `json:"totalRequests"`
	SuccessfulRequests int64      `json:"successfulRequests"`
	FailedRequests     int64      `json:"failedRequests"`
	AverageLatencyMs   float64    `json:"averageResponseTime"`
	SuccessRate        string     `json:"successRate"`
	LastError          string     `json:"lastError,omitempty"`
	LastErrorAt        *time.Time `json:"lastErrorAt,omitempty"`
	Uptime             string     `json:"uptime"`
}

// ScheduleQuery selects point-to-point sailings.
type ScheduleQuery struct {
	Origin        string `json:"origin" validate:"required"`
	Destination   string `json:"destination" validate:"required"`
	DepartureDate string `json:"departureDate"`
	WeeksOut      int    `json:"weeksOut,omitempty"`
}

// Document is a binary document fetched from a carrier.
type Document struct {
	Type        string
	Number      string
	ContentType string
	Content     []byte
}

// WebhookEvent is one inbound carrier push, verified and transformed.
type WebhookEvent struct {
	CarrierID  string          `json:"carrierId"`
	EventType  string          `json:"eventType"`
	Payload    json.RawMessage `json:"payload"`
	Verified   bool            `json:"verified"`
	Record     Record          `json:"record"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Carrier is the uniform contract every carrier adapter satisfies.
type Carrier interface {
	ID() string
	Name() string
	Connect(ctx context.Context) bool
	Disconnect()
	Connected() bool
	HealthCheck(ctx context.Context) HealthStatus
	Metrics() MetricsSnapshot
	Base() *Connector

	TrackShipment(ctx context.Context, number, trackingType string) (Record, error)
	GetSchedule(ctx context.Context, q ScheduleQuery) ([]Record, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error)
}

// Optional capabilities. The service type-asserts for them.
type (
	BatchTracker interface {
		TrackMultiple(ctx context.Context, numbers []string) ([]Record, error)
	}
	BookingCreator interface {
		CreateBooking(ctx context.Context, booking Record) (Record, error)
	}
	BookingGetter interface {
		GetBooking(ctx context.Context, bookingNumber string) (Record, error)
	}
	BookingUpdater interface {
		UpdateBooking(ctx context.Context, bookingNumber string, changes Record) (Record, error)
	}
	BookingCanceller interface {
		CancelBooking(ctx context.Context, bookingNumber, reason string) (Record, error)
	}
	BillOfLadingFetcher interface {
		GetBillOfLading(ctx context.Context, blNumber string) (*Document, error)
	}
	Quoter interface {
		GetQuote(ctx context.Context, request Record) (Record, error)
	}
	FileUploader interface {
		UploadFile(ctx context.Context, filename string, content []byte, fileType string) (Record, error)
	}
)

// CredentialValidator performs the carrier's cheapest authenticated call.
type CredentialValidator func(ctx context.Context) (bool, error)

// Sleeper pauses between retries. It must return early when ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Connector.
type Option func(*Connector)

func WithHTTPClient(c *http.Client) Option { return func(x *Connector) { x.client = c } }
func WithPublisher(p events.Publisher) Option { return func(x *Connector) { x.pub = p } }
func WithLogger(l *zap.Logger) Option { return func(x *Connector) { x.log = l } }
func WithSleeper(s Sleeper) Option { return func(x *Connector) { x.sleep = s } }
func WithAuthHook(h HookFunc) Option { return func(x *Connector) { x.hook = h } }

// Connector implements the request pipeline shared by every carrier adapter.
// Adapters embed it and supply an Authenticator, a CredentialValidator and a
// Transformer.
type Connector struct {
	cfg         Config
	client      *http.Client
	auth        Authenticator
	validate    CredentialValidator
	transformer Transformer
	limiter     *RateLimiter
	pub         events.Publisher
	log         *zap.Logger
	tracer      trace.Tracer
	sleep       Sleeper
	hook        HookFunc
	started     time.Time

	mu         sync.Mutex
	connected  bool
	lastHealth *HealthStatus
	total      int64
	success    int64
	failed     int64
	avgLatency float64
	lastErr    string
	lastErrAt  time.Time
}

// NewConnector validates cfg and builds the shared pipeline.
func NewConnector(cfg Config, opts ...Option) (*Connector, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Connector{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RequestsPerMinute),
		pub:     events.Discard,
		log:     zap.NewNop(),
		tracer:  otel.Tracer("carrierlink/integration"),
		sleep:   sleepCtx,
		started: time.Now(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	c.log = c.log.Named(strings.ToLower(cfg.CarrierID))
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connector) SetAuthenticator(a Authenticator) { c.auth = a }
func (c *Connector) SetValidator(v CredentialValidator) { c.validate = v }
func (c *Connector) SetTransformer(t Transformer) { c.transformer = t }
func (c *Connector) Transformer() Transformer { return c.transformer }
func (c *Connector) Config() Config { return c.cfg }
func (c *Connector) HTTPClient() *http.Client { return c.client }
func (c *Connector) Logger() *zap.Logger { return c.log }
func (c *Connector) Limiter() *RateLimiter { return c.limiter }
func (c *Connector) AuthHook() HookFunc { return c.hook }
func (c *Connector) Base() *Connector { return c }
func (c *Connector) ID() string { return c.cfg.CarrierID }
func (c *Connector) Name() string { return c.cfg.Name }

// Emit publishes a lifecycle event for this carrier.
func (c *Connector) Emit(ctx context.Context, typ string, data map[string]any) {
	c.pub.Publish(ctx, events.New(typ, c.cfg.CarrierID, data))
}

// Connect validates credentials and marks the connector connected on success.
func (c *Connector) Connect(ctx context.Context) bool {
	c.Emit(ctx, events.Connecting, nil)
	hs := c.HealthCheck(ctx)
	ok := hs.Status == StatusHealthy
	c.mu.Lock()
	c.connected = ok
	c.mu.Unlock()
	if ok {
		metrics.CarrierConnected.WithLabelValues(c.cfg.CarrierID).Set(1)
		c.log.Info("connected", zap.Int64("responseTimeMs", hs.ResponseTime))
		c.Emit(ctx, events.Connected, map[string]any{"responseTime": hs.ResponseTime})
		return true
	}
	c.log.Warn("connection failed", zap.String("status", hs.Status), zap.String("error", hs.Error))
	c.Emit(ctx, events.ConnectionFailed, map[string]any{"status": hs.Status, "error": hs.Error})
	return false
}

// Disconnect clears the connected flag. Calling it twice is harmless.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	c.mu.Unlock()
	metrics.CarrierConnected.WithLabelValues(c.cfg.CarrierID).Set(0)
	if was {
		c.Emit(context.Background(), events.Disconnected, nil)
	}
}

func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// HealthCheck runs the credential validator. It never fails: errors and
// panics are reported in the returned status.
func (c *Connector) HealthCheck(ctx context.Context) (hs HealthStatus) {
	start := time.Now()
	hs.Timestamp = start.UTC()
	defer func() {
		if r := recover(); r != nil {
			hs.Status = StatusError
			hs.Error = fmt.Sprint(r)
		}
		c.mu.Lock()
		h := hs
		c.lastHealth = &h
		c.mu.Unlock()
	}()
	if c.validate == nil {
		hs.Status = StatusError
		hs.Error = fmt.Sprintf("%s: credential validation %v", c.cfg.CarrierID, ErrNotImplemented)
		return hs
	}
	ok, err := c.validate(ctx)
	hs.ResponseTime = time.Since(start).Milliseconds()
	switch {
	case err != nil:
		hs.Status = StatusError
		hs.Error = err.Error()
	case ok:
		hs.Status = StatusHealthy
	default:
		hs.Status = StatusUnhealthy
	}
	return hs
}

// LastHealth returns the most recent health check, if any.
func (c *Connector) LastHealth() *HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastHealth == nil {
		return nil
	}
	h := *c.lastHealth
	return &h
}

// Backoff is the delay before retry attempt n (zero based).
func Backoff(attempt int) time.Duration {
	if attempt > 4 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Retry runs fn with the configured retry budget.
func (c *Connector) Retry(ctx context.Context, fn func(context.Context) error) error {
	return c.RequestWithRetry(ctx, max(c.cfg.RetryAttempts, 0), fn)
}

// RequestWithRetry runs fn, retrying retryable failures up to retries times
// with capped exponential backoff. 4xx responses other than 401 and 429 are
// returned after the first attempt. The last error is returned once the budget
// is spent.
func (c *Connector) RequestWithRetry(ctx context.Context, retries int, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= retries || !Retryable(err) || ctx.Err() != nil {
			return err
		}
		delay := Backoff(attempt)
		metrics.CarrierRetries.WithLabelValues(c.cfg.CarrierID).Inc()
		c.log.Debug("retrying", zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		c.Emit(ctx, events.Retry, map[string]any{
			"attempt": attempt + 1,
			"delayMs": delay.Milliseconds(),
			"error":   err.Error(),
		})
		if serr := c.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

// Response is a fully read carrier response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Do sends one request through the pipeline: auth, request id, rate limit
// token, transport, metrics and events. 429 responses wait out Retry-After
// and 401 responses force a credential refresh before returning the error.
func (c *Connector) Do(ctx context.Context, op string, req *http.Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, c.cfg.CarrierID+" "+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("carrier.id", c.cfg.CarrierID), attribute.String("carrier.operation", op)))
	defer span.End()
	req = req.WithContext(ctx)

	if c.auth == nil {
		return nil, c.opErr(op, ErrNotImplemented)
	}
	if err := c.auth.Apply(ctx, req); err != nil {
		c.Emit(ctx, events.AuthError, map[string]any{"error": err.Error()})
		return nil, c.opErr(op, err)
	}
	reqID := c.newRequestID()
	req.Header.Set("X-Request-ID", reqID)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "carrierlink/1.0")
	}

	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, c.opErr(op, err)
	}
	if waited > time.Millisecond {
		metrics.RateLimitWait.WithLabelValues(c.cfg.CarrierID).Add(waited.Seconds())
		c.Emit(ctx, events.Throttled, map[string]any{"requestId": reqID, "waitMs": waited.Milliseconds()})
	}

	c.Emit(ctx, events.Request, map[string]any{
		"requestId": reqID,
		"method":    req.Method,
		"url":       req.URL.Redacted(),
		"headers":   SanitizeHeaders(req.Header),
	})

	start := time.Now()
	resp, err := c.client.Do(req)
	dur := time.Since(start)
	if err != nil {
		c.record(op, dur, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.Emit(ctx, events.RequestError, map[string]any{"requestId": reqID, "error": err.Error()})
		return nil, c.opErr(op, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.record(op, dur, err)
		return nil, c.opErr(op, fmt.Errorf("%w: reading body: %v", ErrTransient, err))
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		herr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: truncate(string(body), 512)}
		c.record(op, dur, herr)
		span.SetStatus(codes.Error, herr.Error())
		c.Emit(ctx, events.RequestError, map[string]any{"requestId": reqID, "status": resp.StatusCode, "error": herr.Error()})
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			herr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			c.log.Warn("rate limited by carrier", zap.Duration("retryAfter", herr.RetryAfter))
			c.Emit(ctx, events.RateLimit, map[string]any{"requestId": reqID, "retryAfterMs": herr.RetryAfter.Milliseconds()})
			if err := c.sleep(ctx, herr.RetryAfter); err != nil {
				return nil, c.opErr(op, err)
			}
		case http.StatusUnauthorized:
			if rerr := c.auth.Refresh(ctx); rerr != nil {
				c.log.Error("credential refresh failed", zap.Error(rerr))
				c.Emit(ctx, events.AuthError, map[string]any{"error": rerr.Error()})
				return nil, c.opErr(op, rerr)
			}
			c.Emit(ctx, events.AuthRefreshed, nil)
		}
		return nil, c.opErr(op, herr)
	}

	c.record(op, dur, nil)
	c.Emit(ctx, events.Response, map[string]any{"requestId": reqID, "status": resp.StatusCode, "durationMs": dur.Milliseconds()})
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body, RequestID: reqID}, nil
}

// Call builds a fresh request per attempt and runs it through Do under the
// retry policy.
func (c *Connector) Call(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	var out *Response
	err := c.Retry(ctx, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return c.opErr(op, err)
		}
		resp, err := c.Do(ctx, op, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

// URL joins path onto the base URL and encodes query.
func (c *Connector) URL(path string, query url.Values) string {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetJSON issues a GET and decodes the JSON body into out.
func (c *Connector) GetJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	resp, err := c.Call(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, query), nil)
	})
	if err != nil {
		return err
	}
	if err := resp.JSON(out); err != nil {
		return c.opErr(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// SendJSON issues method with a JSON body and decodes the JSON reply into out.
func (c *Connector) SendJSON(ctx context.Context, op, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return c.opErr(op, err)
	}
	resp, err := c.Call(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.URL(path, nil), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.JSON(out); err != nil {
		return c.opErr(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// Inbound runs the attached transformer.
func (c *Connector) Inbound(data map[string]any, dataType string) (Record, error) {
	if c.transformer == nil {
		return nil, c.opErr("transform", ErrNotImplemented)
	}
	rec, err := c.transformer.TransformInbound(data, dataType)
	if err != nil {
		return nil, c.opErr("transform", err)
	}
	return rec, nil
}

// Outbound runs the attached transformer in reverse.
func (c *Connector) Outbound(rec Record, dataType string) (map[string]any, error) {
	if c.transformer == nil {
		return nil, c.opErr("transform", ErrNotImplemented)
	}
	out, err := c.transformer.TransformOutbound(rec, dataType)
	if err != nil {
		return nil, c.opErr("transform", err)
	}
	return out, nil
}

// Metrics returns a snapshot of the rolling request metrics.
func (c *Connector) Metrics() MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := MetricsSnapshot{
		TotalRequests:      c.total,
		SuccessfulRequests: c.success,
		FailedRequests:     c.failed,
		AverageLatencyMs:   c.avgLatency,
		SuccessRate:        "N/A",
		LastError:          c.lastErr,
		Uptime:             time.Since(c.started).Round(time.Second).String(),
	}
	if c.total > 0 {
		s.SuccessRate = fmt.Sprintf("%.2f%%", float64(c.success)/float64(c.total)*100)
	}
	if !c.lastErrAt.IsZero() {
		t := c.lastErrAt
		s.LastErrorAt = &t
	}
	return s
}

func (c *Connector) record(op string, d time.Duration, err error) {
	ms := float64(d) / float64(time.Millisecond)
	outcome := "success"
	c.mu.Lock()
	c.total++
	c.avgLatency = (c.avgLatency*float64(c.total-1) + ms) / float64(c.total)
	if err != nil {
		outcome = "failure"
		c.failed++
		c.lastErr = err.Error()
		c.lastErrAt = time.Now().UTC()
	} else {
		c.success++
	}
	c.mu.Unlock()
	metrics.CarrierRequests.WithLabelValues(c.cfg.CarrierID, op, outcome).Inc()
	metrics.CarrierLatency.WithLabelValues(c.cfg.CarrierID, op).Observe(ms)
}

func (c *Connector) opErr(op string, err error) error {
	if _, ok := err.(*OpError); ok {
		return err
	}
	return &OpError{Carrier: c.cfg.CarrierID, Op: op, Err: err}
}

// OpErr annotates err with this carrier and op.
func (c *Connector) OpErr(op string, err error) error { return c.opErr(op, err) }

func (c *Connector) newRequestID() string {
	return fmt.Sprintf("%s-%d-%s", c.cfg.CarrierID, time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

var sensitiveHeaders = []string{"authorization", "cookie", "key", "secret", "token", "password"}

// SanitizeHeaders copies h with credential bearing values redacted.
func SanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		lk := strings.ToLower(k)
		redact := false
		for _, s := range sensitiveHeaders {
			if strings.Contains(lk, s) {
				redact = true
				break
			}
		}
		if redact {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
