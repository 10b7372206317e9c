package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"carrierlink/internal/store"
)

func (s *Server) AnalyticsMetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "metrics": s.Service.Metrics()})
}

// AnalyticsEventsHandler lists logged events newest first with per-type counts.
func (s *Server) AnalyticsEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		CarrierID: strings.ToUpper(q.Get("carrierId")),
		Type:      q.Get("type"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "validation failed", "limit must be a non-negative integer", r.URL.Path)
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "validation failed", "since must be RFC3339", r.URL.Path)
			return
		}
		f.Since = t
	}
	evts, err := s.Service.Events(r.Context(), f)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "event log unavailable", err.Error(), r.URL.Path)
		return
	}
	counts, err := s.Service.EventCounts(r.Context(), f.CarrierID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "event log unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   len(evts),
		"events":  evts,
		"counts":  counts,
	})
}
