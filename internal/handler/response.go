package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ENVELOPE:
// Every response carries a "success" flag so the web client can branch on
// one field regardless of the endpoint:
//
//	{"success": true,  "post": {...}, "message": "..."}
//	{"success": false, "error": "Validation failed", "details": ["Title is required"]}
//
// "details" only appears on validation errors.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/auth"
	"github.com/sakif/inmyopinion/internal/service"
)

// maxBodyBytes caps JSON request bodies. Post content is the largest input.
const maxBodyBytes = 1 << 20

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// You MUST set headers and status code BEFORE writing the body.
// Once you call w.Write() (which Encode does internally), the headers are sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// envelope is a success body. Handlers add their payload fields to it.
type envelope map[string]any

func writeSuccess(w http.ResponseWriter, status int, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	writeJSON(w, status, body)
}

// statusFor maps the sentinel at the bottom of err's chain to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError maps a domain error to a status code and the failure envelope.
//
// errors.As() walks the chain built by fmt.Errorf("...: %w") in the service
// layer and pulls out the *AppError for its human-readable message. Anything
// that is not an AppError, and every 5xx, gets a generic message: the raw
// error may contain SQL or file paths. The real cause is logged.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := statusFor(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	resp := ErrorResponse{Error: "An internal error occurred"}
	switch {
	case status == http.StatusInternalServerError:
	case appErr != nil:
		resp.Error = appErr.Message
		if status == http.StatusBadRequest {
			resp.Details = appErr.Details
		}
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into dst. A missing, oversized or malformed
// body is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return apperror.ValidationFailed("body", fmt.Sprintf("Request body must be at most %d bytes", tooBig.Limit))
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "Request body is required")
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// viewerFrom turns the claims set by the auth middleware into a service
// Viewer. No claims means an anonymous viewer.
func viewerFrom(r *http.Request) service.Viewer {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return service.Viewer{}
	}
	return service.Viewer{ID: claims.UserID, Role: claims.Role}
}

// NotFound and MethodNotAllowed replace chi's plain-text defaults so that
// unknown routes answer in the same envelope as everything else.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Route not found"})
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
}
