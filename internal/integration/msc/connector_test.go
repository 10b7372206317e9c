package msc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierlink/internal/integration"
)

const trackResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <TrackContainerResponse xmlns="http://www.msc.com/services">
      <TrackContainerResult>
        <Container>
          <ContainerNumber>MSCU1234567</ContainerNumber>
          <Status><Code>DIS</Code><Description>Discharged</Description></Status>
          <CurrentLocation><Name>Antwerp</Name><UNCode>BEANR</UNCode></CurrentLocation>
          <VesselName>MSC GULSUN</VesselName>
          <TrackingHistory>
            <Event><EventCode>LOD</EventCode><Location>Ningbo</Location><EventDate>2024-01-02</EventDate></Event>
            <Event><EventCode>DIS</EventCode><Location>Antwerp</Location><EventDate>2024-02-03</EventDate></Event>
          </TrackingHistory>
          <DemurrageInformation><LastFreeDate>2024-02-10</LastFreeDate></DemurrageInformation>
        </Container>
      </TrackContainerResult>
    </TrackContainerResponse>
  </soap:Body>
</soap:Envelope>`

const faultResponse = `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body><soap:Fault><faultcode>soap:Client</faultcode><faultstring>Unknown BL</faultstring></soap:Fault></soap:Body>
</soap:Envelope>`

func newTestConnector(t *testing.T, h http.Handler) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(integration.Config{
		BaseURL: srv.URL,
		Credentials: integration.Credentials{
			Username: "user", Password: "pass", AccountNumber: "ACC-1",
		},
	}, integration.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	return c
}

func TestTrackContainerOverSOAP(t *testing.T) {
	var envelope string
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/MSCServices", r.URL.Path)
		assert.Equal(t, "http://www.msc.com/services/TrackContainer", r.Header.Get("SOAPAction"))
		assert.Equal(t, "ACC-1", r.Header.Get("X-MSC-Account"))
		u, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", u)
		b, _ := io.ReadAll(r.Body)
		envelope = string(b)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, trackResponse)
	}))

	rec, err := c.TrackShipment(context.Background(), "mscu 1234567", integration.TrackingContainer)
	require.NoError(t, err)
	assert.Contains(t, envelope, "<msc:ContainerNumber>MSCU1234567</msc:ContainerNumber>")
	assert.Contains(t, envelope, "<wsse:Username>user</wsse:Username>")

	assert.Equal(t, "MSCU1234567", rec["containerNumber"])
	assert.Equal(t, "MSCU1234567", rec["trackingNumber"])
	assert.Equal(t, "discharged", rec.Status())
	assert.Equal(t, "BEANR", rec["locationCode"])
	assert.Equal(t, "2024-02-10", rec["lastFreeDate"])
	evs := rec["events"].([]map[string]any)
	require.Len(t, evs, 2)
	assert.Equal(t, "loaded", evs[0]["code"])
	assert.Equal(t, "msc", rec["_source"])
}

func TestSOAPFault(t *testing.T) {
	var hits int
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = io.WriteString(w, faultResponse)
	}))
	_, err := c.GetBillOfLading(context.Background(), "MEDU12345678")
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrClient)
	assert.Contains(t, err.Error(), "Unknown BL")
	assert.Equal(t, 1, hits)
}

func TestBillOfLadingDecodesBase64(t *testing.T) {
	pdf := []byte("%PDF-1.7 msc")
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`+
			`<GetBillOfLadingResponse><GetBillOfLadingResult><Document>`+base64.StdEncoding.EncodeToString(pdf)+
			`</Document><ContentType>application/pdf</ContentType></GetBillOfLadingResult></GetBillOfLadingResponse></soap:Body></soap:Envelope>`)
	}))
	doc, err := c.GetBillOfLading(context.Background(), "MEDU12345678")
	require.NoError(t, err)
	assert.Equal(t, pdf, doc.Content)
	assert.Equal(t, "application/pdf", doc.ContentType)
}

func TestTrackBookingUsesREST(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tracking/bookings/1234567890", r.URL.Path)
		_, _ = io.WriteString(w, `{"BookingNumber":"1234567890","BookingStatus":"TRA","Containers":{"Container":[{"ContainerNumber":"MSCU1234567","Type":"40HC","Weight":"21000.5"}]}}`)
	}))
	rec, err := c.TrackShipment(context.Background(), "1234567890", "")
	require.NoError(t, err)
	assert.Equal(t, "in_transit", rec.Status())
	cs := rec["containers"].([]map[string]any)
	require.Len(t, cs, 1)
	assert.Equal(t, "40", cs[0]["size"])
	assert.Equal(t, 21000.5, cs[0]["weight"])
}

func TestQuoteChargesSumExactly(t *testing.T) {
	var sent map[string]any
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_, _ = io.WriteString(w, `{"QuoteReference":"Q-1","Origin":"CNSHA","Destination":"BEANR","ChargeBreakdown":{"Charge":[
			{"ChargeCode":"OFR","Amount":"1200.10","Currency":"USD","IsIncluded":"N"},
			{"ChargeCode":"BAF","Amount":"0.20","Currency":"USD","IsIncluded":"N"},
			{"ChargeCode":"THC","Amount":"150.00","Currency":"USD","IsIncluded":"Y"}]},
			"Routing":{"Leg":[{"From":"CNSHA","To":"SGSIN","CO2Emission":"0.1"},{"From":"SGSIN","To":"BEANR","CO2Emission":"0.2"}]}}`)
	}))
	rec, err := c.GetQuote(context.Background(), integration.Record{
		"origin":      "CNSHA",
		"destination": "BEANR",
		"containers":  []any{map[string]any{"type": "40hc", "quantity": 2.0}},
	})
	require.NoError(t, err)

	req := sent["QuoteRequest"].(map[string]any)
	assert.Equal(t, "CNSHA", req["Origin"])
	assert.Equal(t, []any{map[string]any{"Type": "40HC", "Quantity": 2.0}}, req["Equipment"])

	assert.Equal(t, "1200.30", rec["totalAmount"])
	assert.Equal(t, "0.3", rec["totalCO2"])
	inc := rec["inclusions"].(map[string]bool)
	assert.True(t, inc["thc"])
	assert.False(t, inc["baf"])
	charges := rec["charges"].([]map[string]any)
	assert.Equal(t, "150.00", charges[2]["amount"])
}

func TestCancelBooking(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookings/BK1/cancel", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "customer request", body["reason"])
		_, _ = io.WriteString(w, `{"BookingStatus":"CANCELLED"}`)
	}))
	rec, err := c.CancelBooking(context.Background(), "BK1", "customer request")
	require.NoError(t, err)
	assert.Equal(t, "BK1", rec["bookingNumber"])
	assert.Equal(t, "CANCELLED", rec["status"])
}

func TestCreateBookingRequestShape(t *testing.T) {
	var sent map[string]any
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_, _ = io.WriteString(w, `{"BookingReference":"MSC-BK-9","BookingStatus":"CONFIRMED","Cargo":{"SpecialRequirements":{"Reefer":"Y","Temperature":"-18","DangerousGoods":"N"}}}`)
	}))
	rec, err := c.CreateBooking(context.Background(), integration.Record{
		"origin":     "CNSHA",
		"commodity":  "Frozen fish",
		"weight":     18000.0,
		"containers": []any{map[string]any{"type": "40rf"}},
	})
	require.NoError(t, err)

	req := sent["BookingRequest"].(map[string]any)
	assert.Equal(t, "CNSHA", req["PlaceOfReceipt"])
	assert.Equal(t, map[string]any{
		"Description": "Frozen fish",
		"Weight":      map[string]any{"Value": 18000.0, "Unit": "KGS"},
	}, req["Cargo"])
	assert.Equal(t, []any{map[string]any{"Type": "40RF", "Quantity": 1.0}}, req["Equipment"])

	assert.Equal(t, "MSC-BK-9", rec["bookingNumber"])
	sr := rec["specialRequirements"].(map[string]any)
	assert.Equal(t, true, sr["reefer"])
	assert.Equal(t, "-18", sr["temperature"])
	assert.Equal(t, false, sr["dangerous"])
}

func TestWebhookWithoutSecretIsUnverified(t *testing.T) {
	c := newTestConnector(t, http.NotFoundHandler())
	evt, err := c.HandleWebhook(context.Background(), []byte(`{"EventType":"ContainerStatusUpdate","Data":{"ContainerNumber":"MSCU1234567","Status":{"Code":"GTO"}}}`), "")
	require.NoError(t, err)
	assert.False(t, evt.Verified)
	assert.Equal(t, "gate_out", evt.Record.Status())
}

func TestBookingRoundTrip(t *testing.T) {
	tr := NewTransformer()
	external := map[string]any{
		"BookingReference":     "MSC-BK-1",
		"BookingStatus":        "CONFIRMED",
		"Shipper":              "ACME",
		"Consignee":            "Globex",
		"PlaceOfReceipt":       "CNSHA",
		"PlaceOfDelivery":      "BEANR",
		"RequestedSailingDate": "2024-04-01",
		"Cargo":                map[string]any{"Description": "Toys", "Weight": 5000.0},
	}
	rec, err := tr.TransformInbound(external, "booking")
	require.NoError(t, err)
	back, err := tr.TransformOutbound(rec, "booking")
	require.NoError(t, err)
	assert.Equal(t, external, back)
}

func TestEnvelopeMarshals(t *testing.T) {
	c := newTestConnector(t, http.NotFoundHandler())
	var op trackMultipleContainers
	op.Request.ContainerNumbers = []string{"MSCU1", "MSCU2"}
	out, err := c.envelope(op)
	require.NoError(t, err)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"`)
	assert.Contains(t, s, "<msc:ContainerNumbers><msc:ContainerNumber>MSCU1</msc:ContainerNumber><msc:ContainerNumber>MSCU2</msc:ContainerNumber></msc:ContainerNumbers>")
}
