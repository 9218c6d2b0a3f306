// Package api provides HTTP handlers for the chat API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/chatxai/internal/domain"
	"github.com/ashureev/chatxai/internal/session"
)

// StatsSource aggregates the turn ledger.
type StatsSource interface {
	TurnStats(ctx context.Context, clientID string) (*domain.TurnStats, error)
}

// Handler provides common handler utilities.
type Handler struct {
	mgr       *session.Manager
	stats     StatsSource
	aiEnabled bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(mgr *session.Manager, stats StatsSource, aiEnabled bool) *Handler {
	return &Handler{
		mgr:       mgr,
		stats:     stats,
		aiEnabled: aiEnabled,
	}
}

// Manager returns the workspace manager behind the handlers.
func (h *Handler) Manager() *session.Manager {
	return h.mgr
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
