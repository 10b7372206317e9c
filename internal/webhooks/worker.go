package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"carrierlink/internal/metrics"
)

const DefaultMaxAttempts = 10

// Worker delivers queued events, retrying failures with exponential backoff.
// It schedules retries on the queue's clock.
type Worker struct {
	Queue       *Publisher
	HTTP        *http.Client
	MaxAttempts int
	Log         *zap.Logger

	stop chan struct{}
	done chan struct{}
}

func NewWorker(q *Publisher, maxAttempts int, log *zap.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Queue:       q,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Log:         log.Named("forwarder"),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

// Close stops the loop and waits for the in-flight batch.
func (w *Worker) Close() {
	close(w.stop)
	<-w.done
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, d := range w.Queue.due(w.Queue.now(), 50) {
		code, err := w.deliver(ctx, d)
		if err == nil {
			metrics.ForwardedEvents.WithLabelValues("delivered").Inc()
			continue
		}
		d.Attempts++
		d.LastError = err.Error()
		if d.Attempts >= w.MaxAttempts {
			metrics.ForwardedEvents.WithLabelValues("failed").Inc()
			w.Log.Error("giving up on event delivery",
				zap.String("id", d.ID), zap.String("type", d.EventType), zap.String("url", d.Target.URL),
				zap.Int("attempts", d.Attempts), zap.Int("status", code), zap.Error(err))
			continue
		}
		metrics.ForwardedEvents.WithLabelValues("retried").Inc()
		d.NextAt = w.Queue.now().Add(nextBackoff(d.Attempts - 1))
		w.Queue.requeue(d)
	}
}

func (w *Worker) deliver(ctx context.Context, d *Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Target.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set("X-Event-Type", d.EventType)
	req.Header.Set("X-Delivery-Id", d.ID)
	if d.Target.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(d.Target.Secret, d.Payload))
	}
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint responded %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
