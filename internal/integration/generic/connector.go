// Package generic integrates carriers without a bespoke adapter. Auth method
// and wire format come from configuration.
package generic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carrierlink/internal/integration"
)

var defaultEndpoints = map[string]string{
	"tracking": "/tracking",
	"schedule": "/schedules/search",
	"booking":  "/bookings",
	"upload":   "/upload",
	"validate": "/status",
}

// Connector is a configuration-driven carrier adapter.
type Connector struct {
	*integration.Connector
	codec Codec
	oauth *integration.OAuth2Auth
}

// New builds a generic connector. The auth strategy and codec are chosen here
// and never change for the connector's lifetime.
func New(cfg integration.Config, opts ...integration.Option) (*Connector, error) {
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = "api-key"
	}
	base, err := integration.NewConnector(cfg, opts...)
	if err != nil {
		return nil, err
	}
	c := &Connector{Connector: base}
	cfg = base.Config()
	if c.codec, err = NewCodec(cfg.DataFormat, cfg.EDI, time.Now); err != nil {
		return nil, err
	}
	auth, err := c.authenticator(cfg)
	if err != nil {
		return nil, err
	}
	c.SetAuthenticator(auth)
	c.SetValidator(c.validateCredentials)
	c.SetTransformer(NewTransformer(cfg))
	return c, nil
}

func Factory(cfg integration.Config, opts ...integration.Option) (integration.Carrier, error) {
	return New(cfg, opts...)
}

// Codec returns the connector's wire codec.
func (c *Connector) Codec() Codec { return c.codec }

func (c *Connector) authenticator(cfg integration.Config) (integration.Authenticator, error) {
	creds := cfg.Credentials
	var primary integration.Authenticator
	switch cfg.AuthMethod {
	case "api-key":
		primary = integration.APIKeyAuth{Header: creds.APIKeyHeader, Key: creds.APIKey}
	case "basic":
		primary = integration.BasicAuth{Username: creds.Username, Password: creds.Password}
	case "bearer":
		tok := creds.AccessToken
		if tok == "" {
			tok = creds.APIKey
		}
		primary = integration.BearerAuth{Token: tok}
	case "oauth2":
		c.oauth = integration.NewOAuth2Auth(c.fetchToken)
		primary = c.oauth
	case "custom", "custom-hook":
		return integration.HookAuth{Hook: c.AuthHook(), Headers: cfg.Headers}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported auth method %q", integration.ErrInvalidConfig, cfg.AuthMethod)
	}
	if len(cfg.Headers) == 0 {
		return primary, nil
	}
	return integration.Chain{primary, integration.HookAuth{Headers: cfg.Headers}}, nil
}

func (c *Connector) fetchToken(ctx context.Context) (integration.Token, error) {
	cfg := c.Config()
	tokenURL := cfg.Credentials.TokenURL
	if tokenURL == "" {
		tokenURL = cfg.BaseURL + "/oauth/token"
	}
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {cfg.Credentials.ClientID},
		"client_secret": {cfg.Credentials.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return integration.Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return integration.Token{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return integration.Token{}, &integration.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return integration.Token{}, err
	}
	return integration.Token{AccessToken: tr.AccessToken, ExpiresIn: time.Duration(tr.ExpiresIn) * time.Second}, nil
}

func (c *Connector) endpoint(name string) string {
	if p, ok := c.Config().Endpoints[name]; ok && p != "" {
		return p
	}
	return defaultEndpoints[name]
}

func (c *Connector) validateCredentials(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(c.endpoint("validate"), nil), nil)
	if err != nil {
		return false, err
	}
	if _, err := c.Do(ctx, "validate", req); err != nil {
		if code := integration.StatusCode(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// fetch sends a request and decodes the reply with the connector's codec.
func (c *Connector) fetch(ctx context.Context, op, method, path string, query url.Values, body any) (any, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = c.codec.Encode(body); err != nil {
			return nil, c.OpErr(op, err)
		}
	}
	resp, err := c.Call(ctx, op, func(ctx context.Context) (*http.Request, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", c.codec.ContentType())
		if payload != nil {
			req.Header.Set("Content-Type", c.codec.ContentType())
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	v, err := c.codec.Decode(resp.Body)
	if err != nil {
		return nil, c.OpErr(op, err)
	}
	return v, nil
}

// record flattens a decoded reply into one object. EDI replies yield their
// interpreted data bag and CSV replies their first row.
func record(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		if data, ok := m["data"].(map[string]any); ok {
			if _, isEDI := m["segments"]; isEDI {
				return data
			}
		}
		return m
	}
	if rows := integration.Maps(v); len(rows) > 0 {
		return rows[0]
	}
	return map[string]any{}
}

func records(v any, key string) []map[string]any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m[key]; ok {
			return integration.Maps(inner)
		}
	}
	return integration.Maps(v)
}

// TrackShipment queries {tracking}/{type}/{number}.
func (c *Connector) TrackShipment(ctx context.Context, number, trackingType string) (integration.Record, error) {
	typ := integration.ResolveTrackingType(number, trackingType)
	path := fmt.Sprintf("%s/%s/%s", c.endpoint("tracking"), url.PathEscape(typ), url.PathEscape(number))
	v, err := c.fetch(ctx, "track", http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return c.Inbound(record(v), "tracking")
}

func (c *Connector) GetSchedule(ctx context.Context, q integration.ScheduleQuery) ([]integration.Record, error) {
	query := url.Values{"origin": {q.Origin}, "destination": {q.Destination}}
	if q.DepartureDate != "" {
		query.Set("date", q.DepartureDate)
	}
	v, err := c.fetch(ctx, "schedule", http.MethodGet, c.endpoint("schedule"), query, nil)
	if err != nil {
		return nil, err
	}
	items := records(v, "schedules")
	out := make([]integration.Record, 0, len(items))
	for _, item := range items {
		rec, err := c.Inbound(item, "schedule")
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Connector) CreateBooking(ctx context.Context, booking integration.Record) (integration.Record, error) {
	body, err := c.Outbound(booking, "booking")
	if err != nil {
		return nil, err
	}
	v, err := c.fetch(ctx, "create-booking", http.MethodPost, c.endpoint("booking"), nil, body)
	if err != nil {
		return nil, err
	}
	return c.Inbound(record(v), "booking")
}

func (c *Connector) GetBooking(ctx context.Context, bookingNumber string) (integration.Record, error) {
	v, err := c.fetch(ctx, "get-booking", http.MethodGet, c.endpoint("booking")+"/"+url.PathEscape(bookingNumber), nil, nil)
	if err != nil {
		return nil, err
	}
	return c.Inbound(record(v), "booking")
}

// UploadFile posts a file as multipart/form-data.
func (c *Connector) UploadFile(ctx context.Context, filename string, content []byte, fileType string) (integration.Record, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, c.OpErr("upload", err)
	}
	if _, err := fw.Write(content); err != nil {
		return nil, c.OpErr("upload", err)
	}
	if fileType != "" {
		if err := mw.WriteField("type", fileType); err != nil {
			return nil, c.OpErr("upload", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, c.OpErr("upload", err)
	}
	payload := buf.Bytes()
	ctype := mw.FormDataContentType()
	resp, err := c.Call(ctx, "upload", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(c.endpoint("upload"), nil), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", ctype)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := resp.JSON(&data); err != nil {
		v, derr := c.codec.Decode(resp.Body)
		if derr != nil {
			return nil, c.OpErr("upload", derr)
		}
		data = record(v)
	}
	if data == nil {
		data = map[string]any{}
	}
	return c.Inbound(data, "upload")
}

// HandleWebhook rejects a bad signature before touching the payload, then
// transforms it as "webhook-<eventType>".
func (c *Connector) HandleWebhook(ctx context.Context, payload []byte, signature string) (integration.WebhookEvent, error) {
	verified, err := integration.VerifyWebhook(c.Config().WebhookSecret, payload, signature)
	if err != nil {
		return integration.WebhookEvent{}, c.OpErr("webhook", err)
	}
	eventType, data, err := integration.ParseWebhook(payload)
	if err != nil {
		return integration.WebhookEvent{}, c.OpErr("webhook", err)
	}
	rec, err := c.Inbound(data, "webhook-"+eventType)
	if err != nil {
		return integration.WebhookEvent{}, err
	}
	return integration.NewWebhookEvent(c.ID(), eventType, payload, verified, rec), nil
}
