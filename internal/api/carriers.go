package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"carrierlink/internal/integration"
)

func carrierParam(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "id"))
}

func (s *Server) ListCarriers(w http.ResponseWriter, r *http.Request) {
	carriers := s.Service.Carriers()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"total":    len(carriers),
		"carriers": carriers,
	})
}

func (s *Server) GetCarrier(w http.ResponseWriter, r *http.Request) {
	st, err := s.Service.Carrier(carrierParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "carrier": st})
}

// ConnectCarrier initializes the carrier with the posted configuration. An
// empty body connects with built-in defaults.
func (s *Server) ConnectCarrier(w http.ResponseWriter, r *http.Request) {
	id := carrierParam(r)
	var cfg integration.Config
	if err := decodeJSON(w, r, &cfg); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return
	}
	if cfg.CarrierID != "" && !strings.EqualFold(cfg.CarrierID, id) {
		writeProblem(w, http.StatusBadRequest, "invalid body", "carrierId does not match path", r.URL.Path)
		return
	}
	cfg.CarrierID = id
	if err := s.Service.InitializeCarrier(r.Context(), id, cfg); err != nil {
		s.Log.Warn("connect failed", zap.String("carrier", id), zap.Error(err))
		writeError(w, r, err)
		return
	}
	st, _ := s.Service.Carrier(id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "carrier": st})
}

func (s *Server) DisconnectCarrier(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.Disconnect(carrierParam(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) TestCarrier(w http.ResponseWriter, r *http.Request) {
	hs, err := s.Service.Test(r.Context(), carrierParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if hs.Status != integration.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"success": status == http.StatusOK, "health": hs})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	active := s.Service.ActiveIntegrations()
	connected := 0
	for _, a := range active {
		if a.Connected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"integrations": map[string]int{
			"total":     len(active),
			"connected": connected,
		},
	})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.Ready(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
