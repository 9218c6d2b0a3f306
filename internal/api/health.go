package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports readiness.
type HealthHandler struct {
	db        Pinger
	aiEnabled bool
	started   time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db Pinger, aiEnabled bool) *HealthHandler {
	return &HealthHandler{db: db, aiEnabled: aiEnabled, started: time.Now()}
}

// RegisterHealth registers the readiness route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Ready)
}

// Ready answers 200 when the database responds, 503 otherwise.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	db := "ok"
	if err := h.db.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		db = "unavailable"
	}
	JSON(w, status, map[string]interface{}{
		"database":   db,
		"ai_enabled": h.aiEnabled,
		"uptime_s":   int64(time.Since(h.started).Seconds()),
	})
}
