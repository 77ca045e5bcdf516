package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/service"
)

// AdminHandler is the moderation dashboard. Every route is behind
// RequireAuth + RequireRole(admin); the service checks the role again.
type AdminHandler struct {
	posts  *service.PostService
	logger *slog.Logger
}

func NewAdminHandler(posts *service.PostService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{posts: posts, logger: logger}
}

// HandleGet serves the dashboard.
//
// HTTP: GET /api/admin/posts?action=stats → {"success", "stats"}
// HTTP: GET /api/admin/posts[?status=...] → review queue, pending by default
func (h *AdminHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)

	if r.URL.Query().Get("action") == "stats" {
		stats, err := h.posts.Stats(r.Context(), viewer)
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, envelope{"stats": stats})
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if q.Status == "" {
		q.Status = model.PostPending
	}
	page, err := h.posts.List(r.Context(), viewer, q)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writePage(w, page)
}

// HandleModerate approves, rejects or features a post.
//
// HTTP: PUT /api/admin/posts?postId=...
// REQUEST BODY: {"action": "approve"|"reject"|"feature", "rejectionReason", "featured"}
func (h *AdminHandler) HandleModerate(w http.ResponseWriter, r *http.Request) {
	var in service.ModerateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	post, msg, err := h.posts.Moderate(r.Context(), viewerFrom(r), r.URL.Query().Get("postId"), in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"message": msg, "post": post})
}

// HandleDelete removes a post.
//
// HTTP: DELETE /api/admin/posts?postId=...
func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.posts.Delete(r.Context(), viewerFrom(r), r.URL.Query().Get("postId")); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"message": "Post deleted successfully"})
}
