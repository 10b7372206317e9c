package maersk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"

	"carrierlink/internal/integration"
	"carrierlink/internal/webhooks"
)

func noSleep(context.Context, time.Duration) error { return nil }

func replay(t *testing.T, name string) *http.Client {
	t.Helper()
	r, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", name), recorder.ModeReplaying, nil)
	require.NoError(t, err)
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method && r.URL.String() == i.URL
	})
	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("stopping recorder: %v", err)
		}
	})
	return &http.Client{Transport: r}
}

func TestTrackShipmentReplay(t *testing.T) {
	c, err := New(integration.Config{
		Credentials: integration.Credentials{ClientID: "client-1", ClientSecret: "secret-1", CustomerID: "C-42"},
	}, integration.WithHTTPClient(replay(t, "maersk_track")), integration.WithSleeper(noSleep))
	require.NoError(t, err)

	rec, err := c.TrackShipment(context.Background(), "MAEU1234567", "")
	require.NoError(t, err)
	assert.Equal(t, "MAEU1234567", rec["trackingNumber"])
	assert.Equal(t, "discharged", rec.Status())
	assert.Equal(t, "NLRTM", rec["locationCode"])
	assert.Equal(t, "MAERSK ESSEN", rec["vessel"])
	assert.Equal(t, "402W", rec["voyage"])
	assert.Equal(t, "maersk", rec["_source"])

	evs, ok := rec["events"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, evs, 2)
	assert.Equal(t, "loaded", evs[0]["type"])
	assert.Equal(t, "CNYTN", evs[0]["locationCode"])
	assert.Equal(t, true, evs[0]["actualEvent"])

	assert.EqualValues(t, 1, c.OAuth().Refreshes())

	_, err = c.TrackShipment(context.Background(), "221234567890", "")
	assert.ErrorIs(t, err, integration.ErrNotFound)
	assert.EqualValues(t, 1, c.OAuth().Refreshes(), "cached token is reused")
}

type fakeMaersk struct {
	tokens  atomic.Int32
	lastReq atomic.Value
}

func (f *fakeMaersk) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("GET /customers/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"customerId":"C-42"}`))
	})
	mux.HandleFunc("POST /bookings", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.lastReq.Store(body)
		_, _ = w.Write([]byte(`{"carrierBookingReference":"221234567890","bookingStatus":"CONFIRMED","placeOfReceipt":"CNSHA","placeOfDelivery":"NLRTM","equipment":[{"ISOEquipmentCode":"42G1","numberOfContainers":2},{"ISOEquipmentCode":"22G1","numberOfContainers":1}]}`))
	})
	mux.HandleFunc("PATCH /bookings/{n}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.lastReq.Store(body)
		_, _ = w.Write([]byte(`{"carrierBookingReference":"` + r.PathValue("n") + `","bookingStatus":"AMENDED"}`))
	})
	mux.HandleFunc("GET /schedules/point-to-point", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CNSHA", r.URL.Query().Get("originPort"))
		_, _ = w.Write([]byte(`{"schedules":[{"pointFrom":{"facility":"Shanghai","UNLocationCode":"CNSHA"},"pointTo":{"facility":"Rotterdam","UNLocationCode":"NLRTM"},"departureDateTime":"2024-03-01T10:00:00Z","arrivalDateTime":"2024-04-02T06:00:00Z","transportLegs":[{"transport":{"vessel":{"name":"MAERSK ESSEN"},"voyage":"410W"},"departure":{"location":{"UNLocationCode":"CNSHA"},"dateTime":"2024-03-01T10:00:00Z"},"arrival":{"location":{"UNLocationCode":"NLRTM"},"dateTime":"2024-04-02T06:00:00Z"}}]}]}`))
	})
	mux.HandleFunc("GET /documents/bill-of-lading/{bl}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.4")
	})
	return mux
}

func newFake(t *testing.T, cfg integration.Config) (*Connector, *fakeMaersk) {
	t.Helper()
	f := &fakeMaersk{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	cfg.Credentials = integration.Credentials{ClientID: "id", ClientSecret: "secret"}
	c, err := New(cfg, integration.WithSleeper(noSleep))
	require.NoError(t, err)
	return c, f
}

func TestConnectAndBooking(t *testing.T) {
	c, f := newFake(t, integration.Config{})
	require.True(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())

	rec, err := c.CreateBooking(context.Background(), integration.Record{
		"origin":        "CNSHA",
		"destination":   "NLRTM",
		"commodity":     "Furniture",
		"weight":        12000.0,
		"requestedDate": "2024-03-01",
		"containers":    []any{map[string]any{"type": "42g1", "quantity": 2.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "221234567890", rec["bookingNumber"])
	assert.Equal(t, 5, rec["totalTEU"])

	sent := f.lastReq.Load().(map[string]any)
	assert.Equal(t, "CNSHA", sent["placeOfReceipt"])
	assert.Equal(t, map[string]any{"description": "Furniture", "weight": map[string]any{"value": 12000.0, "unit": "KGM"}}, sent["commodity"])
	assert.Equal(t, []any{map[string]any{"ISOEquipmentCode": "42G1", "numberOfContainers": 2.0}}, sent["equipment"])
	assert.EqualValues(t, 1, f.tokens.Load())
}

func TestUpdateBookingSendsOnlyAmendableFields(t *testing.T) {
	c, f := newFake(t, integration.Config{})
	rec, err := c.UpdateBooking(context.Background(), "221234567890", integration.Record{
		"commodity":     "Coffee",
		"requestedDate": "2024-05-01",
		"origin":        "DEHAM",
		"bookingNumber": "999",
	})
	require.NoError(t, err)
	assert.Equal(t, "AMENDED", rec.Status())

	sent := f.lastReq.Load().(map[string]any)
	assert.Equal(t, map[string]any{
		"commodity":              map[string]any{"description": "Coffee"},
		"requestedDepartureDate": "2024-05-01",
	}, sent)
}

func TestGetSchedule(t *testing.T) {
	c, _ := newFake(t, integration.Config{})
	recs, err := c.GetSchedule(context.Background(), integration.ScheduleQuery{Origin: "CNSHA", Destination: "NLRTM"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 32, recs[0]["transitTimeDays"])
	legs := recs[0]["services"].([]map[string]any)
	assert.Equal(t, "MAERSK ESSEN", legs[0]["vessel"])
	assert.Equal(t, "NLRTM", legs[0]["to"])
}

func TestGetBillOfLading(t *testing.T) {
	c, _ := newFake(t, integration.Config{})
	doc, err := c.GetBillOfLading(context.Background(), "MAEU123456789")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), doc.Content)
}

func TestHandleWebhook(t *testing.T) {
	c, _ := newFake(t, integration.Config{WebhookSecret: "hook-secret"})
	payload := []byte(`{"eventType":"SHIPMENT_UPDATE","data":{"containerNumber":"MAEU1234567","transportStatus":{"status":"GATED_OUT"}}}`)

	evt, err := c.HandleWebhook(context.Background(), payload, webhooks.SignHMAC("hook-secret", payload))
	require.NoError(t, err)
	assert.True(t, evt.Verified)
	assert.Equal(t, "gate_out", evt.Record.Status())

	_, err = c.HandleWebhook(context.Background(), payload, webhooks.SignHMAC("wrong", payload))
	assert.ErrorIs(t, err, integration.ErrInvalidSignature)

	doc := []byte(`{"eventType":"DOCUMENT_READY","data":{"documentType":"BL","documentId":"D1"}}`)
	evt, err = c.HandleWebhook(context.Background(), doc, webhooks.SignHMAC("hook-secret", doc))
	require.NoError(t, err)
	assert.Equal(t, "document", evt.Record["type"])
	assert.Equal(t, "D1", evt.Record["documentId"])
}

func TestBookingRoundTrip(t *testing.T) {
	tr := NewTransformer()
	external := map[string]any{
		"carrierBookingReference": "221234567890",
		"bookingStatus":           "CONFIRMED",
		"placeOfReceipt":          "CNSHA",
		"placeOfDelivery":         "NLRTM",
		"requestedDepartureDate":  "2024-03-01",
		"commodity":               map[string]any{"description": "Furniture", "weight": 12000.0},
		"parties":                 map[string]any{"shipper": "ACME", "consignee": "Globex"},
	}
	rec, err := tr.TransformInbound(external, "booking")
	require.NoError(t, err)
	back, err := tr.TransformOutbound(rec, "booking")
	require.NoError(t, err)
	assert.Equal(t, external, back)

	_, err = tr.TransformInbound(external, "invoice")
	assert.ErrorIs(t, err, integration.ErrUnmappedDataType)
}
