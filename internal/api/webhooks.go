package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// WebhookHandler accepts a carrier push. The raw body is verified against
// the x-webhook-signature header before it is parsed.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(chi.URLParam(r, "carrierId"))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "payload too large", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Service.HandleWebhook(r.Context(), id, body, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		s.Log.Warn("webhook rejected", zap.String("carrier", id), zap.Error(err))
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"eventType": res.EventType,
		"verified":  res.Verified,
		"duplicate": res.Duplicate,
	})
}
