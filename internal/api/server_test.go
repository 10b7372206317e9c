package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierlink/internal/auth"
	"carrierlink/internal/events"
	"carrierlink/internal/integration"
	"carrierlink/internal/metrics"
	"carrierlink/internal/service"
	"carrierlink/internal/store"
	"carrierlink/internal/webhooks"
)

type fakeCarrier struct {
	*integration.Connector
}

func (f *fakeCarrier) TrackShipment(_ context.Context, number, _ string) (integration.Record, error) {
	if strings.HasPrefix(number, "MISSING") {
		return nil, fmt.Errorf("%w: %s", integration.ErrNotFound, number)
	}
	return integration.Record{"trackingNumber": number, "status": "in-transit"}, nil
}

func (f *fakeCarrier) GetSchedule(_ context.Context, q integration.ScheduleQuery) ([]integration.Record, error) {
	return []integration.Record{
		{"origin": q.Origin, "destination": q.Destination, "departure": q.DepartureDate},
		{"origin": q.Origin, "destination": q.Destination, "departure": q.DepartureDate, "service": "AE7"},
	}, nil
}

func (f *fakeCarrier) HandleWebhook(_ context.Context, payload []byte, signature string) (integration.WebhookEvent, error) {
	verified, err := integration.VerifyWebhook(f.Config().WebhookSecret, payload, signature)
	if err != nil {
		return integration.WebhookEvent{}, err
	}
	typ, data, err := integration.ParseWebhook(payload)
	if err != nil {
		return integration.WebhookEvent{}, err
	}
	return integration.NewWebhookEvent(f.ID(), typ, payload, verified, integration.Record(data)), nil
}

func (f *fakeCarrier) CreateBooking(_ context.Context, booking integration.Record) (integration.Record, error) {
	return integration.Record{"bookingNumber": "BK-1", "origin": booking["origin"]}, nil
}

func (f *fakeCarrier) GetBillOfLading(_ context.Context, bl string) (*integration.Document, error) {
	return &integration.Document{Type: "bill-of-lading", Number: bl, ContentType: "application/pdf", Content: []byte("%PDF-1.4")}, nil
}

func (f *fakeCarrier) UploadFile(_ context.Context, filename string, content []byte, fileType string) (integration.Record, error) {
	return integration.Record{"filename": filename, "size": len(content), "type": fileType}, nil
}

type fixture struct {
	srv    *Server
	h      http.Handler
	bus    *events.Broker
	events *store.Memory
}

func newFixture(t *testing.T, verifier *auth.Verifier) *fixture {
	t.Helper()
	reg := integration.NewRegistry()
	reg.Register("FAKE", func(cfg integration.Config, opts ...integration.Option) (integration.Carrier, error) {
		base, err := integration.NewConnector(cfg, opts...)
		if err != nil {
			return nil, err
		}
		base.SetValidator(func(context.Context) (bool, error) { return true, nil })
		return &fakeCarrier{Connector: base}, nil
	}, nil, integration.Info{Name: "Fake Line"})

	bus := events.NewBroker()
	mem := store.NewMemory(0)
	svc := service.New(reg, service.WithBus(bus), service.WithStore(mem))
	s := NewServer(svc, verifier, bus, nil)
	return &fixture{srv: s, h: s.Routes(), bus: bus, events: mem}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	rr := f.do(http.MethodPost, "/carriers/fake/connect", `{"baseUrl":"http://fake.invalid","webhookSecret":"s3cret"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

func TestHealthReadyMetrics(t *testing.T) {
	metrics.RegisterDefault()
	f := newFixture(t, auth.NewVerifier("apikey", []string{"k1"}, "", ""))

	rr := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode(t, rr)["status"])

	rr = f.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, auth.NewVerifier("apikey", []string{"k1"}, "", ""))

	rr := f.do(http.MethodGet, "/carriers", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.EqualValues(t, 401, decode(t, rr)["status"])

	req := httptest.NewRequest(http.MethodGet, "/carriers", nil)
	req.Header.Set("X-API-Key", "k1")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rr = f.do(http.MethodGet, "/carriers?apiKey=k1", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/carriers?apiKey=nope", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCarrierLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodGet, "/carriers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["total"])

	rr = f.do(http.MethodPost, "/carriers/NOPE/connect", `{"baseUrl":"http://x.invalid"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodPost, "/carriers/FAKE/connect", `{"carrierId":"OTHER"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.connect(t)
	rr = f.do(http.MethodGet, "/carriers/FAKE", "")
	require.Equal(t, http.StatusOK, rr.Code)
	carrier := decode(t, rr)["carrier"].(map[string]any)
	assert.Equal(t, "connected", carrier["state"])

	rr = f.do(http.MethodPost, "/carriers/FAKE/test", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode(t, rr)["health"].(map[string]any)["status"])

	rr = f.do(http.MethodPost, "/carriers/FAKE/disconnect", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(http.MethodPost, "/carriers/FAKE/disconnect", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(http.MethodGet, "/carriers/UNKNOWN", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTrackEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t)

	rr := f.do(http.MethodGet, "/track/FAKE0000001?carrierId=fake", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "FAKE", body["carrierId"])
	assert.Equal(t, "in-transit", body["data"].(map[string]any)["status"])

	rr = f.do(http.MethodGet, "/track/MISSING1?carrierId=FAKE", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodPost, "/track/bulk", `{"trackingNumbers":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode(t, rr)["detail"], "trackingNumbers")

	rr = f.do(http.MethodPost, "/track/bulk", `{"carrierId":"FAKE","trackingNumbers":["C1","MISSING2","C3"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode(t, rr)
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 2, body["successful"])
	assert.EqualValues(t, 1, body["failed"])
	results := body["results"].([]any)
	assert.Equal(t, "MISSING2", results[1].(map[string]any)["containerNumber"])
	assert.Contains(t, results[1].(map[string]any)["error"], "not found")
}

func TestSchedulesEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t)

	rr := f.do(http.MethodGet, "/schedules?destination=NLRTM", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/schedules?origin=cnsha&destination=NLRTM&date=2026-11-02&carriers=fake", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "CNSHA", body["origin"])
	assert.EqualValues(t, 2, body["total"])

	rr = f.do(http.MethodGet, "/schedules?origin=CNSHA&destination=NLRTM", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), decode(t, rr)["date"])
}

func TestBookingsQuotesDocuments(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t)

	rr := f.do(http.MethodPost, "/bookings", `{"carrierId":"FAKE","bookingData":{"origin":"CNSHA"}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "BK-1", decode(t, rr)["booking"].(map[string]any)["bookingNumber"])

	rr = f.do(http.MethodPost, "/bookings", `{"bookingData":{"origin":"CNSHA"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, "/bookings", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/bookings/BK-1?carrierId=FAKE", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code, "fake carrier cannot look up bookings")

	rr = f.do(http.MethodPost, "/quotes", `{"carrierId":"FAKE","request":{"origin":"CNSHA"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode(t, rr)["detail"], "not supported")

	rr = f.do(http.MethodGet, "/documents/bill-of-lading/BL42?carrierId=FAKE", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="BL_BL42.pdf"`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4", rr.Body.String())

	rr = f.do(http.MethodGet, "/documents/bill-of-lading/BL42", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadTracking(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("carrierId", "FAKE"))
	fw, err := mw.CreateFormFile("file", "containers.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("containerNumber\nFAKE0000001\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/tracking", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode(t, rr)["result"].(map[string]any)
	assert.Equal(t, "containers.csv", res["filename"])
	assert.Equal(t, "tracking", res["type"])
}

func TestWebhookEndpoint(t *testing.T) {
	f := newFixture(t, auth.NewVerifier("apikey", []string{"k1"}, "", ""))
	rr := f.do(http.MethodPost, "/carriers/FAKE/connect?apiKey=k1", `{"baseUrl":"http://fake.invalid","webhookSecret":"s3cret"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	payload := `{"id":"evt-9","eventType":"ARRIVAL","data":{"containerNumber":"FAKE0000001"}}`
	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/fake", strings.NewReader(payload))
		req.Header.Set(webhooks.SignatureHeader, sig)
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, req)
		return rec
	}

	rr = post(webhooks.SignHMAC("s3cret", []byte(payload)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "ARRIVAL", body["eventType"])
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, false, body["duplicate"])

	rr = post(webhooks.SignHMAC("s3cret", []byte(payload)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["duplicate"])

	rr = post(webhooks.SignHMAC("wrong", []byte(payload)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAnalyticsEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t)

	rr := f.do(http.MethodGet, "/analytics/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["metrics"].(map[string]any)["totalIntegrations"])

	rr = f.do(http.MethodGet, "/analytics/events?carrierId=fake&limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.EqualValues(t, 2, body["total"])
	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 1, counts[events.CarrierInitialized])

	rr = f.do(http.MethodGet, "/analytics/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodGet, "/analytics/events?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEventsWebSocket(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() wsMessage {
		var m wsMessage
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	assert.Equal(t, "connection_ack", read().Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "s1", Payload: json.RawMessage(`{"carrierId":"fake","types":["custom"]}`)}))
	// messages are handled in order, so the pong means the subscription is live
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	assert.Equal(t, "pong", read().Type)

	f.srv.Service.Publish(context.Background(), events.New("ignored", "FAKE", nil))
	f.srv.Service.Publish(context.Background(), events.New("custom", "OTHER", nil))
	f.srv.Service.Publish(context.Background(), events.New("custom", "FAKE", map[string]any{"n": 1}))

	msg := read()
	require.Equal(t, "next", msg.Type)
	assert.Equal(t, "s1", msg.ID)
	var evt events.Event
	require.NoError(t, json.Unmarshal(msg.Payload, &evt))
	assert.Equal(t, "custom", evt.Type)
	assert.Equal(t, "FAKE", evt.CarrierID)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "complete", ID: "s1"}))
	assert.Equal(t, "complete", read().Type)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{integration.ErrUnknownCarrier, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", integration.ErrNotFound), http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{integration.ErrNotConnected, http.StatusConflict},
		{integration.ErrInvalidSignature, http.StatusUnauthorized},
		{integration.ErrUnsupportedOperation, http.StatusBadRequest},
		{&integration.HTTPError{StatusCode: 422}, http.StatusBadRequest},
		{&integration.HTTPError{StatusCode: 429}, http.StatusTooManyRequests},
		{&integration.HTTPError{StatusCode: 503}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, c := range cases {
		got, _ := errorStatus(c.err)
		assert.Equal(t, c.want, got, c.err.Error())
	}
}
