package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"carrierlink/internal/integration"
)

func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "trackingNumber")
	q := r.URL.Query()
	res, err := s.Service.TrackShipment(r.Context(), number, strings.ToUpper(q.Get("carrierId")), q.Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"trackingNumber": number,
		"carrierId":      res.CarrierID,
		"ambiguous":      res.Ambiguous(),
		"data":           res,
	})
}

func (s *Server) BulkTrackHandler(w http.ResponseWriter, r *http.Request) {
	var req bulkTrackRequest
	if !s.bind(w, r, &req) {
		return
	}
	items, err := s.Service.BulkTrackContainers(r.Context(), req.TrackingNumbers, strings.ToUpper(req.CarrierID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"total":      len(items),
		"successful": len(items) - failed,
		"failed":     failed,
		"results":    items,
	})
}

// SchedulesHandler queries sailings across the requested carriers, or every
// connected carrier when none are named. The date defaults to today.
func (s *Server) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := integration.ScheduleQuery{
		Origin:        strings.ToUpper(strings.TrimSpace(v.Get("origin"))),
		Destination:   strings.ToUpper(strings.TrimSpace(v.Get("destination"))),
		DepartureDate: v.Get("date"),
	}
	if err := s.check(q); err != nil {
		writeProblem(w, http.StatusBadRequest, "validation failed", err.Error(), r.URL.Path)
		return
	}
	if q.DepartureDate == "" {
		q.DepartureDate = time.Now().UTC().Format("2006-01-02")
	}
	var ids []string
	for _, id := range strings.Split(v.Get("carriers"), ",") {
		if id = strings.ToUpper(strings.TrimSpace(id)); id != "" {
			ids = append(ids, id)
		}
	}
	res, err := s.Service.GetSchedules(r.Context(), q, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := 0
	for _, cs := range res {
		total += len(cs.Schedules)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"origin":      q.Origin,
		"destination": q.Destination,
		"date":        q.DepartureDate,
		"total":       total,
		"carriers":    res,
	})
}

func (s *Server) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if !s.bind(w, r, &req) {
		return
	}
	booking, err := s.Service.CreateBooking(r.Context(), strings.ToUpper(req.CarrierID), req.BookingData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "booking": booking})
}

func (s *Server) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	carrierID := strings.ToUpper(r.URL.Query().Get("carrierId"))
	if carrierID == "" {
		writeProblem(w, http.StatusBadRequest, "validation failed", "carrierId is required", r.URL.Path)
		return
	}
	booking, err := s.Service.GetBooking(r.Context(), carrierID, chi.URLParam(r, "bookingNumber"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": booking})
}

func (s *Server) UpdateBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req bookingUpdateRequest
	if !s.bind(w, r, &req) {
		return
	}
	booking, err := s.Service.UpdateBooking(r.Context(), strings.ToUpper(req.CarrierID), chi.URLParam(r, "bookingNumber"), req.Changes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": booking})
}

func (s *Server) CancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !s.bind(w, r, &req) {
		return
	}
	res, err := s.Service.CancelBooking(r.Context(), strings.ToUpper(req.CarrierID), chi.URLParam(r, "bookingNumber"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (s *Server) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !s.bind(w, r, &req) {
		return
	}
	quote, err := s.Service.GetQuote(r.Context(), strings.ToUpper(req.CarrierID), req.Request)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "quote": quote})
}

// BillOfLadingHandler streams the carrier's document with its content type.
func (s *Server) BillOfLadingHandler(w http.ResponseWriter, r *http.Request) {
	carrierID := strings.ToUpper(r.URL.Query().Get("carrierId"))
	if carrierID == "" {
		writeProblem(w, http.StatusBadRequest, "validation failed", "carrierId is required", r.URL.Path)
		return
	}
	bl := chi.URLParam(r, "blNumber")
	doc, err := s.Service.GetBillOfLading(r.Context(), carrierID, bl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ct := doc.ContentType
	if ct == "" {
		ct = "application/pdf"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="BL_%s.pdf"`, bl))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

// UploadTrackingHandler forwards a multipart "file" to the carrier's bulk
// tracking upload.
func (s *Server) UploadTrackingHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid upload", err.Error(), r.URL.Path)
		return
	}
	carrierID := strings.ToUpper(r.FormValue("carrierId"))
	if carrierID == "" {
		writeProblem(w, http.StatusBadRequest, "validation failed", "carrierId is required", r.URL.Path)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid upload", "file is required", r.URL.Path)
		return
	}
	defer func() { _ = f.Close() }()
	content, err := io.ReadAll(f)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid upload", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Service.UploadFile(r.Context(), carrierID, hdr.Filename, content, "tracking")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "filename": hdr.Filename, "result": res})
}

// bind decodes and validates a JSON body, answering 400 on failure.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return false
	}
	if err := s.check(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "validation failed", err.Error(), r.URL.Path)
		return false
	}
	return true
}
