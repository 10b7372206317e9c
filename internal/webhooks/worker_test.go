package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierlink/internal/events"
)

type capture struct {
	mu      sync.Mutex
	sig     string
	typ     string
	ctype   string
	payload []byte
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var got capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.sig = r.Header.Get("X-Signature")
		got.typ = r.Header.Get("X-Event-Type")
		got.ctype = r.Header.Get("Content-Type")
		got.payload = body
		got.mu.Unlock()
		w.WriteHeader(200)
	}))
	defer srv.Close()

	pub := NewPublisher([]Target{{URL: srv.URL, Secret: "secret", Types: []string{events.WebhookReceived}}}, nil)
	w := NewWorker(pub, 3, nil)
	w.HTTP = srv.Client()

	pub.Publish(context.Background(), events.New(events.Request, "MAEU", nil))
	assert.Equal(t, 0, pub.Pending(), "type filter applies")
	pub.Publish(context.Background(), events.New(events.WebhookReceived, "MAEU", map[string]any{"eventType": "ARRIVAL"}))
	require.Equal(t, 1, pub.Pending())

	w.processOnce()

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, events.WebhookReceived, got.typ)
	assert.Equal(t, "application/cloudevents+json", got.ctype)
	assert.True(t, VerifyHMAC("secret", got.payload, got.sig))
	var ce map[string]any
	require.NoError(t, json.Unmarshal(got.payload, &ce))
	assert.Equal(t, "com.carrierlink.webhook-received", ce["type"])
	assert.Equal(t, "MAEU", ce["subject"])
	assert.Equal(t, 0, pub.Pending())
}

func TestWorkerRetriesThenGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(500)
	}))
	defer srv.Close()

	pub := NewPublisher([]Target{{URL: srv.URL}}, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return now }
	w := NewWorker(pub, 2, nil)
	w.HTTP = srv.Client()

	pub.Publish(context.Background(), events.New(events.Connected, "MSCU", nil))
	w.processOnce()
	assert.EqualValues(t, 1, hits.Load())
	require.Equal(t, 1, pub.Pending(), "requeued after first failure")

	w.processOnce()
	assert.EqualValues(t, 1, hits.Load(), "not due until the backoff elapses")

	now = now.Add(nextBackoff(0))
	w.processOnce()
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 0, pub.Pending(), "dropped after max attempts")
}

func TestPublisherDropsWhenFull(t *testing.T) {
	pub := NewPublisher([]Target{{URL: "http://sink.invalid"}}, nil)
	pub.max = 2
	for i := 0; i < 5; i++ {
		pub.Publish(context.Background(), events.New(events.Request, "MAEU", nil))
	}
	assert.Equal(t, 2, pub.Pending())
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 4*time.Second, nextBackoff(2))
	assert.Equal(t, 1024*time.Second, nextBackoff(50))
}
