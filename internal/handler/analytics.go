package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/inmyopinion/internal/service"
)

type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	logger    *slog.Logger
}

func NewAnalyticsHandler(analytics *service.AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logger}
}

// HandleAuthor returns analytics over the caller's own posts.
//
// HTTP: GET /api/author/analytics
func (h *AnalyticsHandler) HandleAuthor(w http.ResponseWriter, r *http.Request) {
	a, err := h.analytics.ForAuthor(r.Context(), viewerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"analytics": a})
}
