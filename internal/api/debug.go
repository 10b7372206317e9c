package api

import (
	"net/http"
	"os"
	"time"

	"carrierlink/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"caller": caller,
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":             os.Getenv("PORT"),
			"AUTH_MODE":        s.Auth.Mode,
			"CARRIERS_FILE":    os.Getenv("CARRIERS_FILE"),
			"HAS_DATABASE_URL": os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":    os.Getenv("REDIS_URL") != "",
		},
		"registered": s.Service.Registry().List(),
		"active":     s.Service.ActiveIntegrations(),
	})
}
