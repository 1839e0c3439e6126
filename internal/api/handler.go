// Package api provides HTTP handlers for the Unplug API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/lifecycle"
	"github.com/unplugd/unplug/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	svc  *lifecycle.Service
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, svc *lifecycle.Service) *Handler {
	return &Handler{repo: repo, svc: svc}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DomainError maps the lifecycle error taxonomy to HTTP status codes.
// Anything outside the taxonomy is an internal failure reported generically;
// in that case the session state is preserved and the caller may retry.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrForbidden):
		Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrInvalidDuration):
		Error(w, http.StatusBadRequest, "invalid duration")
	case errors.Is(err, domain.ErrIllegalTransition):
		Error(w, http.StatusConflict, "illegal status transition")
	case errors.Is(err, domain.ErrSessionLimit):
		Error(w, http.StatusConflict, "active session limit reached")
	default:
		slog.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
