// Package maersk integrates the Maersk REST API (OAuth2 client credentials).
package maersk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"carrierlink/internal/integration"
)

const (
	CarrierID      = "MAEU"
	DefaultBaseURL = "https://api.maersk.com/v1"
	RateLimit      = 300
)

// Defaults is the built-in configuration operators overlay their credentials on.
func Defaults() integration.Config {
	return integration.Config{
		CarrierID:         CarrierID,
		Name:              "Maersk Line",
		BaseURL:           DefaultBaseURL,
		RequestsPerMinute: RateLimit,
	}
}

// Info documents the adapter for the registry.
func Info() integration.Info {
	return integration.Info{
		ID:          CarrierID,
		Name:        "Maersk Line",
		Description: "Maersk API: container and booking tracking, schedules, bookings and documents.",
		AuthMethod:  "oauth2",
		DataFormats: []string{"json"},
		Operations: []string{"trackShipment", "trackMultiple", "getSchedule", "getVesselSchedule",
			"createBooking", "getBooking", "updateBooking", "getShippingInstructions",
			"getBillOfLading", "getEquipmentAvailability", "handleWebhook"},
		DocsURL:   "https://developer.maersk.com",
		RateLimit: RateLimit,
	}
}

// Connector talks to Maersk.
type Connector struct {
	*integration.Connector
	oauth *integration.OAuth2Auth
}

// New builds a Maersk connector. Unset fields fall back to Defaults.
func New(cfg integration.Config, opts ...integration.Option) (*Connector, error) {
	base, err := integration.NewConnector(Defaults().Merge(cfg), opts...)
	if err != nil {
		return nil, err
	}
	c := &Connector{Connector: base}
	creds := base.Config().Credentials
	c.oauth = integration.NewOAuth2Auth(c.fetchToken)
	c.SetAuthenticator(integration.Chain{
		c.oauth,
		integration.APIKeyAuth{Header: "Consumer-Key", Key: creds.ClientID},
		integration.APIKeyAuth{Header: "X-Customer-ID", Key: creds.CustomerID},
	})
	c.SetValidator(c.validateCredentials)
	c.SetTransformer(NewTransformer())
	return c, nil
}

// Factory adapts New to the registry.
func Factory(cfg integration.Config, opts ...integration.Option) (integration.Carrier, error) {
	return New(cfg, opts...)
}

// OAuth exposes the token cache.
func (c *Connector) OAuth() *integration.OAuth2Auth { return c.oauth }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
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
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return integration.Token{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return integration.Token{}, &integration.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	var tr tokenResponse
	if err := decodeJSON(resp, &tr); err != nil {
		return integration.Token{}, err
	}
	return integration.Token{AccessToken: tr.AccessToken, ExpiresIn: seconds(tr.ExpiresIn)}, nil
}

func (c *Connector) validateCredentials(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL("/customers/profile", nil), nil)
	if err != nil {
		return false, err
	}
	if _, err := c.Do(ctx, "validate", req); err != nil {
		if integration.StatusCode(err) == http.StatusUnauthorized || integration.StatusCode(err) == http.StatusForbidden {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TrackShipment looks up a container or booking.
func (c *Connector) TrackShipment(ctx context.Context, number, trackingType string) (integration.Record, error) {
	kind := "containers"
	if integration.ResolveTrackingType(number, trackingType) == integration.TrackingBooking {
		kind = "bookings"
	}
	var data map[string]any
	if err := c.GetJSON(ctx, "track", "/tracking/"+kind+"/"+url.PathEscape(number), nil, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "tracking")
}

// TrackMultiple tracks several containers in one call.
func (c *Connector) TrackMultiple(ctx context.Context, numbers []string) ([]integration.Record, error) {
	var data any
	if err := c.SendJSON(ctx, "track-batch", http.MethodPost, "/tracking/batch", map[string]any{"trackingNumbers": numbers}, &data); err != nil {
		return nil, err
	}
	return c.inboundList(listOf(data, "results"), "tracking")
}

// GetSchedule searches point-to-point sailings.
func (c *Connector) GetSchedule(ctx context.Context, q integration.ScheduleQuery) ([]integration.Record, error) {
	query := url.Values{"originPort": {q.Origin}, "destinationPort": {q.Destination}}
	if q.DepartureDate != "" {
		query.Set("departureDate", q.DepartureDate)
	}
	var data any
	if err := c.GetJSON(ctx, "schedule", "/schedules/point-to-point", query, &data); err != nil {
		return nil, err
	}
	return c.inboundList(listOf(data, "schedules"), "schedule")
}

// GetVesselSchedule returns the port rotation of one voyage.
func (c *Connector) GetVesselSchedule(ctx context.Context, vessel, voyage string) (integration.Record, error) {
	var data map[string]any
	path := fmt.Sprintf("/schedules/vessels/%s/voyages/%s", url.PathEscape(vessel), url.PathEscape(voyage))
	if err := c.GetJSON(ctx, "vessel-schedule", path, nil, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "vessel-schedule")
}

func (c *Connector) CreateBooking(ctx context.Context, booking integration.Record) (integration.Record, error) {
	body, err := c.Outbound(booking, "booking-request")
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := c.SendJSON(ctx, "create-booking", http.MethodPost, "/bookings", body, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "booking")
}

func (c *Connector) GetBooking(ctx context.Context, bookingNumber string) (integration.Record, error) {
	var data map[string]any
	if err := c.GetJSON(ctx, "get-booking", "/bookings/"+url.PathEscape(bookingNumber), nil, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "booking")
}

// UpdateBooking amends the mutable booking fields only.
func (c *Connector) UpdateBooking(ctx context.Context, bookingNumber string, changes integration.Record) (integration.Record, error) {
	body, err := c.Outbound(changes, "booking-update")
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := c.SendJSON(ctx, "update-booking", http.MethodPatch, "/bookings/"+url.PathEscape(bookingNumber), body, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "booking")
}

func (c *Connector) GetShippingInstructions(ctx context.Context, bookingNumber string) (integration.Record, error) {
	var data map[string]any
	if err := c.GetJSON(ctx, "shipping-instructions", "/documents/shipping-instructions/"+url.PathEscape(bookingNumber), nil, &data); err != nil {
		return nil, err
	}
	return stamp(data), nil
}

// GetBillOfLading downloads the bill of lading document.
func (c *Connector) GetBillOfLading(ctx context.Context, blNumber string) (*integration.Document, error) {
	resp, err := c.Call(ctx, "bill-of-lading", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL("/documents/bill-of-lading/"+url.PathEscape(blNumber), nil), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/pdf")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/pdf"
	}
	return &integration.Document{Type: "bill-of-lading", Number: blNumber, ContentType: ct, Content: resp.Body}, nil
}

func (c *Connector) GetEquipmentAvailability(ctx context.Context, location, equipmentType, date string) (integration.Record, error) {
	query := url.Values{"location": {location}}
	if equipmentType != "" {
		query.Set("equipmentType", equipmentType)
	}
	if date != "" {
		query.Set("date", date)
	}
	var data map[string]any
	if err := c.GetJSON(ctx, "equipment", "/equipment/availability", query, &data); err != nil {
		return nil, err
	}
	return stamp(data), nil
}

// HandleWebhook verifies a Maersk push and maps it by event type.
func (c *Connector) HandleWebhook(ctx context.Context, payload []byte, signature string) (integration.WebhookEvent, error) {
	verified, err := integration.VerifyWebhook(c.Config().WebhookSecret, payload, signature)
	if err != nil {
		return integration.WebhookEvent{}, c.OpErr("webhook", err)
	}
	eventType, data, err := integration.ParseWebhook(payload)
	if err != nil {
		return integration.WebhookEvent{}, c.OpErr("webhook", err)
	}
	var rec integration.Record
	switch eventType {
	case "SHIPMENT_UPDATE", "CONTAINER_EVENT":
		rec, err = c.Inbound(data, "tracking")
	case "BOOKING_CONFIRMATION", "BOOKING_UPDATE":
		rec, err = c.Inbound(data, "booking")
	case "DOCUMENT_READY":
		rec = stamp(map[string]any{
			"type":         "document",
			"documentType": integration.String(data, "documentType"),
			"documentId":   integration.String(data, "documentId"),
			"reference":    integration.String(data, "reference"),
		})
	default:
		rec = stamp(data)
	}
	if err != nil {
		return integration.WebhookEvent{}, err
	}
	return integration.NewWebhookEvent(c.ID(), eventType, payload, verified, rec), nil
}

func (c *Connector) inboundList(items []map[string]any, dataType string) ([]integration.Record, error) {
	out := make([]integration.Record, 0, len(items))
	for _, item := range items {
		rec, err := c.Inbound(item, dataType)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// listOf accepts either a bare array or an object wrapping it under key.
func listOf(data any, key string) []map[string]any {
	if m, ok := data.(map[string]any); ok {
		if inner, ok := m[key]; ok {
			return integration.Maps(inner)
		}
	}
	return integration.Maps(data)
}

func stamp(data map[string]any) integration.Record {
	t := integration.BaseTransformer{Source: "maersk"}
	rec := integration.Record{}
	for k, v := range data {
		rec[k] = v
	}
	return t.Stamp(rec)
}
