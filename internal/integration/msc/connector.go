// Package msc integrates Mediterranean Shipping Company: REST endpoints with
// basic auth plus SOAP envelopes for tracking, vessel schedules and bills of
// lading.
package msc

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"carrierlink/internal/integration"
)

const (
	CarrierID      = "MSCU"
	DefaultBaseURL = "https://api.msc.com/services"
	RateLimit      = 200
)

func Defaults() integration.Config {
	return integration.Config{
		CarrierID:         CarrierID,
		Name:              "Mediterranean Shipping Company",
		BaseURL:           DefaultBaseURL,
		RequestsPerMinute: RateLimit,
	}
}

func Info() integration.Info {
	return integration.Info{
		ID:          CarrierID,
		Name:        "Mediterranean Shipping Company",
		Description: "MSC services: SOAP container tracking and documents, REST bookings, schedules and rates.",
		AuthMethod:  "basic",
		DataFormats: []string{"json", "soap"},
		Operations: []string{"trackShipment", "trackMultiple", "getSchedule", "getVesselSchedule",
			"createBooking", "getBooking", "cancelBooking", "getQuote", "getContractRates",
			"getBillOfLading", "getContainerManifest", "handleWebhook"},
		DocsURL:   "https://www.msc.com/en/ebusiness",
		RateLimit: RateLimit,
	}
}

// Connector talks to MSC. Credentials are static; there is no token to refresh.
type Connector struct {
	*integration.Connector
}

func New(cfg integration.Config, opts ...integration.Option) (*Connector, error) {
	base, err := integration.NewConnector(Defaults().Merge(cfg), opts...)
	if err != nil {
		return nil, err
	}
	c := &Connector{Connector: base}
	creds := base.Config().Credentials
	c.SetAuthenticator(integration.Chain{
		integration.BasicAuth{Username: creds.Username, Password: creds.Password},
		integration.APIKeyAuth{Header: "X-MSC-Account", Key: creds.AccountNumber},
	})
	c.SetValidator(c.validateCredentials)
	c.SetTransformer(NewTransformer())
	return c, nil
}

func Factory(cfg integration.Config, opts ...integration.Option) (integration.Carrier, error) {
	return New(cfg, opts...)
}

func (c *Connector) validateCredentials(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL("/account/validate", nil), nil)
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

// TrackShipment uses SOAP for containers and REST for bookings.
func (c *Connector) TrackShipment(ctx context.Context, number, trackingType string) (integration.Record, error) {
	if integration.ResolveTrackingType(number, trackingType) == integration.TrackingBooking {
		var data map[string]any
		if err := c.GetJSON(ctx, "track-booking", "/tracking/bookings/"+url.PathEscape(number), nil, &data); err != nil {
			return nil, err
		}
		return c.Inbound(data, "booking-tracking")
	}
	var op trackContainer
	op.Request.AccountNumber = c.Config().Credentials.AccountNumber
	op.Request.ContainerNumber = integration.StandardizeContainerNumber(number)
	op.Request.IncludeHistory = true
	result, err := c.soapCall(ctx, "TrackContainer", op)
	if err != nil {
		return nil, err
	}
	return c.Inbound(containerResult(result), "container-tracking")
}

func (c *Connector) TrackMultiple(ctx context.Context, numbers []string) ([]integration.Record, error) {
	var op trackMultipleContainers
	op.Request.AccountNumber = c.Config().Credentials.AccountNumber
	for _, n := range numbers {
		op.Request.ContainerNumbers = append(op.Request.ContainerNumbers, integration.StandardizeContainerNumber(n))
	}
	result, err := c.soapCall(ctx, "TrackMultipleContainers", op)
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	if list, ok := result["Containers"].(map[string]any); ok {
		items = integration.Maps(list["Container"])
	} else {
		items = integration.Maps(result["Container"])
	}
	out := make([]integration.Record, 0, len(items))
	for _, item := range items {
		rec, err := c.Inbound(item, "container-tracking")
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Connector) GetSchedule(ctx context.Context, q integration.ScheduleQuery) ([]integration.Record, error) {
	body := map[string]any{
		"originPort":      q.Origin,
		"destinationPort": q.Destination,
		"departureDate":   q.DepartureDate,
	}
	if q.WeeksOut > 0 {
		body["weeksOut"] = q.WeeksOut
	}
	var data any
	if err := c.SendJSON(ctx, "schedule", http.MethodPost, "/schedules/search", body, &data); err != nil {
		return nil, err
	}
	return c.inboundList(listOf(data, "Schedules"), "schedule")
}

func (c *Connector) GetVesselSchedule(ctx context.Context, vessel, voyage string) (integration.Record, error) {
	var op getVesselSchedule
	op.Request.VesselName = vessel
	op.Request.VoyageNumber = voyage
	result, err := c.soapCall(ctx, "GetVesselSchedule", op)
	if err != nil {
		return nil, err
	}
	return c.Inbound(result, "vessel-schedule")
}

func (c *Connector) CreateBooking(ctx context.Context, booking integration.Record) (integration.Record, error) {
	body, err := c.Outbound(booking, "booking-request")
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := c.SendJSON(ctx, "create-booking", http.MethodPost, "/bookings/create", body, &data); err != nil {
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

func (c *Connector) CancelBooking(ctx context.Context, bookingNumber, reason string) (integration.Record, error) {
	var data map[string]any
	path := "/bookings/" + url.PathEscape(bookingNumber) + "/cancel"
	if err := c.SendJSON(ctx, "cancel-booking", http.MethodPost, path, map[string]any{"reason": reason}, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["BookingReference"]; !ok {
		data["BookingReference"] = bookingNumber
	}
	return c.Inbound(data, "booking")
}

// GetQuote requests a spot rate.
func (c *Connector) GetQuote(ctx context.Context, request integration.Record) (integration.Record, error) {
	body, err := c.Outbound(request, "quote-request")
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := c.SendJSON(ctx, "quote", http.MethodPost, "/rates/quote", body, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "quote")
}

func (c *Connector) GetContractRates(ctx context.Context, contractNumber string) (integration.Record, error) {
	var data map[string]any
	if err := c.GetJSON(ctx, "contract-rates", "/rates/contract", url.Values{"contractNumber": {contractNumber}}, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "contract-rates")
}

// GetBillOfLading fetches the PDF through SOAP; the document arrives base64 encoded.
func (c *Connector) GetBillOfLading(ctx context.Context, blNumber string) (*integration.Document, error) {
	var op getBillOfLading
	op.Request.AccountNumber = c.Config().Credentials.AccountNumber
	op.Request.BLNumber = blNumber
	op.Request.Format = "PDF"
	result, err := c.soapCall(ctx, "GetBillOfLading", op)
	if err != nil {
		return nil, err
	}
	encoded := integration.String(result, "Document")
	if encoded == "" {
		return nil, c.OpErr("GetBillOfLading", fmt.Errorf("%w: empty document for %s", integration.ErrNotFound, blNumber))
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, c.OpErr("GetBillOfLading", fmt.Errorf("decoding document: %w", err))
	}
	ct := integration.String(result, "ContentType")
	if ct == "" {
		ct = "application/pdf"
	}
	return &integration.Document{Type: "bill-of-lading", Number: blNumber, ContentType: ct, Content: content}, nil
}

func (c *Connector) GetContainerManifest(ctx context.Context, containerNumber string) (integration.Record, error) {
	var data map[string]any
	if err := c.GetJSON(ctx, "manifest", "/documents/manifest/"+url.PathEscape(containerNumber), nil, &data); err != nil {
		return nil, err
	}
	return c.Inbound(data, "manifest")
}

// HandleWebhook verifies an MSC push and maps it by event type.
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
	case "ContainerStatusUpdate", "CONTAINER_STATUS":
		rec, err = c.Inbound(data, "container-tracking")
	case "BookingConfirmation", "BookingUpdate", "BOOKING_CONFIRMED":
		rec, err = c.Inbound(data, "booking")
	default:
		t := integration.BaseTransformer{Source: "msc"}
		rec = t.Stamp(integration.Record(data))
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

// containerResult unwraps the optional Container element of a tracking result.
func containerResult(result map[string]any) map[string]any {
	if inner, ok := result["Container"].(map[string]any); ok {
		return inner
	}
	return result
}

func listOf(data any, key string) []map[string]any {
	if m, ok := data.(map[string]any); ok {
		for _, k := range []string{key, "schedules", "results"} {
			if inner, ok := m[k]; ok {
				return integration.Maps(inner)
			}
		}
	}
	return integration.Maps(data)
}
