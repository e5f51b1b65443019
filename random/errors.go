package random

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

var (
	// ErrFeatureDisabled is returned when random selection is switched off.
	ErrFeatureDisabled = errors.New("random is disabled")

	// ErrNotConfigured is returned when no catalog store has been configured.
	ErrNotConfigured = errors.New("catalog store not configured")

	// ErrUpstreamUnavailable is returned when the catalog store or the file
	// origin could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUnknownHost is returned when the Host header is not in the
	// configured allow-list.
	ErrUnknownHost = errors.New("unknown host")
)

// Response bodies observed by existing clients.
const (
	disabledMessage      = "Random is disabled"
	notConfiguredMessage = "Error: Please configure KV database"
)

// writeError maps an error from the random pipeline to an HTTP response.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrFeatureDisabled):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": disabledMessage})
	case errors.Is(err, ErrNotConfigured):
		http.Error(w, notConfiguredMessage, http.StatusInternalServerError)
	case errors.Is(err, ErrUnknownHost):
		http.Error(w, "unknown host", http.StatusMisdirectedRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request timeout", http.StatusGatewayTimeout)
	case errors.Is(err, ErrUpstreamUnavailable):
		logger.Error("upstream failed", "error", err)
		http.Error(w, "upstream error", http.StatusBadGateway)
	default:
		logger.Error("random request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
