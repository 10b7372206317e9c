package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"carrierlink/internal/auth"
	"carrierlink/internal/integration"
	"carrierlink/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// errorStatus maps a service or carrier error to an HTTP status and title.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, integration.ErrUnknownCarrier):
		return http.StatusNotFound, "unknown carrier"
	case errors.Is(err, integration.ErrNotConnected):
		return http.StatusConflict, "carrier not connected"
	case errors.Is(err, integration.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, integration.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid webhook signature"
	case errors.Is(err, integration.ErrUnsupportedOperation),
		errors.Is(err, integration.ErrUnsupportedTransactionType),
		errors.Is(err, integration.ErrUnmappedDataType),
		errors.Is(err, integration.ErrInvalidConfig):
		return http.StatusBadRequest, "bad request"
	case errors.Is(err, integration.ErrNotImplemented):
		return http.StatusNotImplemented, "not implemented"
	case errors.Is(err, integration.ErrRateLimited):
		return http.StatusTooManyRequests, "carrier rate limited"
	case errors.Is(err, integration.ErrClient):
		return http.StatusBadRequest, "rejected by carrier"
	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "carrier timeout"
	default:
		return http.StatusBadGateway, "carrier error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := errorStatus(err)
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
}
