package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carrierlink/internal/events"
	"carrierlink/internal/integration"
)

// BulkBatchSize is how many tracking calls run concurrently in BulkTrackContainers.
const BulkBatchSize = 20

// Carrier codes that own a container prefix. Each pattern is the code followed
// by exactly seven digits, so the set is disjoint by construction.
var detectionOrder = []string{"MAEU", "MSCU", "CMDU", "HLCU", "ONEY", "COSU", "EGLV"}

var detectionPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(detectionOrder))
	for _, code := range detectionOrder {
		m[code] = regexp.MustCompile(`^` + code + `\d{7}$`)
	}
	return m
}()

// DetectCarrierFromTracking returns the carrier owning number's prefix, or "".
func DetectCarrierFromTracking(number string) string {
	for _, code := range detectionOrder {
		if detectionPatterns[code].MatchString(number) {
			return code
		}
	}
	return ""
}

// CarrierResult is one carrier's answer in a broadcast.
type CarrierResult struct {
	CarrierID   string             `json:"carrierId"`
	CarrierName string             `json:"carrierName"`
	Data        integration.Record `json:"data"`
}

// TrackResult is the outcome of TrackShipment. A direct or detected call, or
// a broadcast with a single hit, fills Record; an ambiguous broadcast fills
// Matches instead.
type TrackResult struct {
	CarrierID string
	Record    integration.Record
	Matches   []CarrierResult
}

func (r TrackResult) Ambiguous() bool { return len(r.Matches) > 1 }

func (r TrackResult) MarshalJSON() ([]byte, error) {
	if r.Ambiguous() {
		return json.Marshal(r.Matches)
	}
	return json.Marshal(r.Record)
}

// TrackShipment tracks number on carrierID, on the carrier detected from the
// number, or failing both on every connected carrier at once.
func (s *Service) TrackShipment(ctx context.Context, number, carrierID, typ string) (TrackResult, error) {
	if typ == "" {
		typ = integration.TrackingAuto
	}
	ctx, span := s.tracer.Start(ctx, "TrackShipment", trace.WithAttributes(
		attribute.String("tracking.number", number), attribute.String("tracking.type", typ)))
	defer span.End()

	if carrierID == "" {
		carrierID = DetectCarrierFromTracking(number)
	}
	if carrierID != "" {
		span.SetAttributes(carrierAttr(carrierID))
		c, err := s.Integration(carrierID)
		if err != nil {
			recordErr(ctx, err)
			return TrackResult{}, err
		}
		rec, err := c.TrackShipment(ctx, number, typ)
		if err != nil {
			recordErr(ctx, err)
			return TrackResult{}, err
		}
		return TrackResult{CarrierID: c.ID(), Record: rec}, nil
	}
	return s.broadcastTrack(ctx, number, typ)
}

func (s *Service) broadcastTrack(ctx context.Context, number, typ string) (TrackResult, error) {
	carriers := s.connected()
	hits, err := gather(ctx, len(carriers), func(ctx context.Context, i int) *CarrierResult {
		c := carriers[i]
		rec, err := c.TrackShipment(ctx, number, typ)
		if err != nil {
			s.emit(ctx, events.TrackingError, c.ID(), map[string]any{"trackingNumber": number, "error": err.Error()})
			return nil
		}
		if rec.Status() == "" {
			return nil
		}
		return &CarrierResult{CarrierID: c.ID(), CarrierName: c.Name(), Data: rec}
	})
	if err != nil {
		return TrackResult{}, err
	}
	var matches []CarrierResult
	for _, h := range hits {
		if h != nil {
			matches = append(matches, *h)
		}
	}
	switch len(matches) {
	case 0:
		err := fmt.Errorf("%w: %s in any connected carrier", integration.ErrNotFound, number)
		recordErr(ctx, err)
		return TrackResult{}, err
	case 1:
		return TrackResult{CarrierID: matches[0].CarrierID, Record: matches[0].Data}, nil
	default:
		return TrackResult{Matches: matches}, nil
	}
}

// CarrierSchedules is one carrier's contribution to a schedule search.
type CarrierSchedules struct {
	CarrierID   string               `json:"carrierId"`
	CarrierName string               `json:"carrierName"`
	Schedules   []integration.Record `json:"schedules"`
}

// GetSchedules queries carrierIDs, or every connected carrier when empty.
// Carriers that fail are left out of the result.
func (s *Service) GetSchedules(ctx context.Context, q integration.ScheduleQuery, carrierIDs []string) ([]CarrierSchedules, error) {
	ctx, span := s.tracer.Start(ctx, "GetSchedules", trace.WithAttributes(
		attribute.String("schedule.origin", q.Origin), attribute.String("schedule.destination", q.Destination)))
	defer span.End()

	if len(carrierIDs) == 0 {
		for _, c := range s.connected() {
			carrierIDs = append(carrierIDs, c.ID())
		}
	}
	results, err := gather(ctx, len(carrierIDs), func(ctx context.Context, i int) *CarrierSchedules {
		c, err := s.Integration(carrierIDs[i])
		if err == nil {
			var recs []integration.Record
			if recs, err = c.GetSchedule(ctx, q); err == nil {
				return &CarrierSchedules{CarrierID: c.ID(), CarrierName: c.Name(), Schedules: recs}
			}
		}
		s.emit(ctx, events.ScheduleError, carrierIDs[i], map[string]any{"error": err.Error()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := []CarrierSchedules{}
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// BulkItem is one container's outcome in BulkTrackContainers.
type BulkItem struct {
	ContainerNumber string
	Result          TrackResult
	Err             error
}

func (b BulkItem) MarshalJSON() ([]byte, error) {
	if b.Err != nil {
		return json.Marshal(map[string]string{"containerNumber": b.ContainerNumber, "error": b.Err.Error()})
	}
	return json.Marshal(b.Result)
}

// BulkTrackContainers tracks numbers in concurrent batches. Per-item failures
// are reported inline; the returned slice always matches numbers in order and
// length unless ctx ends first.
func (s *Service) BulkTrackContainers(ctx context.Context, numbers []string, carrierID string) ([]BulkItem, error) {
	ctx, span := s.tracer.Start(ctx, "BulkTrackContainers", trace.WithAttributes(attribute.Int("tracking.count", len(numbers))))
	defer span.End()

	out := make([]BulkItem, 0, len(numbers))
	for start := 0; start < len(numbers); start += BulkBatchSize {
		batch := numbers[start:min(start+BulkBatchSize, len(numbers))]
		items, err := gather(ctx, len(batch), func(ctx context.Context, i int) BulkItem {
			res, err := s.TrackShipment(ctx, batch[i], carrierID, integration.TrackingContainer)
			return BulkItem{ContainerNumber: batch[i], Result: res, Err: err}
		})
		if err != nil {
			return out, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// gather runs fn for 0..n-1 concurrently and waits for all of them. If ctx
// ends first gather returns its error; the calls keep running on a context
// that is not cancelled with ctx.
func gather[T any](ctx context.Context, n int, fn func(ctx context.Context, i int) T) ([]T, error) {
	out := make([]T, n)
	run := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = fn(run, i)
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func carrierAttr(id string) attribute.KeyValue { return attribute.String("carrier.id", id) }

func recordErr(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
