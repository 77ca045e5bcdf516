package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/service"
)

// PostHandler serves blog posts to writers and readers. Moderation lives in
// AdminHandler.
type PostHandler struct {
	posts  *service.PostService
	logger *slog.Logger
}

func NewPostHandler(posts *service.PostService, logger *slog.Logger) *PostHandler {
	return &PostHandler{posts: posts, logger: logger}
}

// HandleCreate stores a new post for the signed-in writer.
//
// HTTP: POST /api/posts/create
// REQUEST BODY: {"title", "content", "tags", "featuredImage", "isDraft"}
// RESPONSE: 201 {"success", "message", "post"}
func (h *PostHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.CreatePostInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	post, msg, err := h.posts.Create(r.Context(), viewerFrom(r), in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, envelope{"message": msg, "post": post})
}

// HandleList returns a page of posts the caller may see.
//
// HTTP: GET /api/posts and GET /api/posts/create
// QUERY: status, authorId, tag, featured, limit, offset
// RESPONSE: {"success", "posts", "pagination": {"total", "limit", "offset", "hasMore"}}
func (h *PostHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	page, err := h.posts.List(r.Context(), viewerFrom(r), q)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writePage(w, page)
}

// HandleGet returns one post.
//
// HTTP: GET /api/posts/{id}
func (h *PostHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.Get(r.Context(), viewerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"post": post})
}

// HandleLike adds a like to an approved post.
//
// HTTP: POST /api/posts/{id}/like
func (h *PostHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	likes, err := h.posts.Like(r.Context(), viewerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"likes": likes})
}

func writePage(w http.ResponseWriter, page *service.PostPage) {
	writeSuccess(w, http.StatusOK, envelope{
		"posts": page.Posts,
		"pagination": envelope{
			"total":   page.Total,
			"limit":   page.Limit,
			"offset":  page.Offset,
			"hasMore": page.Offset+len(page.Posts) < page.Total,
		},
	})
}

// parseListQuery reads the listing filters. Absent values are zero and the
// service applies its defaults.
func parseListQuery(r *http.Request) (service.ListQuery, error) {
	v := r.URL.Query()
	q := service.ListQuery{
		Status:   model.PostStatus(v.Get("status")),
		AuthorID: v.Get("authorId"),
		Tag:      v.Get("tag"),
	}

	var err error
	if q.Limit, err = intParam(v.Get("limit"), "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(v.Get("offset"), "offset"); err != nil {
		return q, err
	}
	if s := v.Get("featured"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, apperror.ValidationFailed("featured", "featured must be true or false")
		}
		q.Featured = &b
	}
	return q, nil
}

func intParam(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
