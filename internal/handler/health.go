package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is anything the health check should reach, such as the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
	now    func() time.Time
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger, now: time.Now}
}

// HandleHealth reports liveness and whether the database answers.
//
// HTTP: GET /api/health
// RESPONSE: 200 {"success": true, "status": "ok", "timestamp"}
// or 503 {"success": false, "status": "degraded", ...} when the ping fails
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := envelope{
		"success":   true,
		"status":    "ok",
		"timestamp": h.now().UTC(),
	}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check: database ping failed", slog.String("error", err.Error()))
		body["success"] = false
		body["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}
