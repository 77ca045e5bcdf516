package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/inmyopinion/internal/service"
)

// AuthHandler exposes registration, login and the caller's profile.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister      → create an account, return it with a bearer token
//   - HandleLogin         → exchange email + password for a bearer token
//   - HandleMe            → return the signed-in user's profile
//   - HandleUpdateProfile → partial profile update
//
// Tokens are returned in the body, not a cookie. The web client keeps them
// and sends "Authorization: Bearer <token>".
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// HandleRegister creates an account.
//
// HTTP: POST /api/auth/register
// REQUEST BODY: {"name", "email", "password", "writerType": "writer"|"reader"}
// RESPONSE: 201 {"success", "message", "user", "token"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, envelope{
		"message": res.Message,
		"user":    res.User,
		"token":   res.Token,
	})
}

// HandleLogin signs a user in.
//
// HTTP: POST /api/auth/login
// REQUEST BODY: {"email", "password"}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.auth.Login(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{
		"message": res.Message,
		"user":    res.User,
		"token":   res.Token,
	})
}

// HandleMe returns the current user as stored, not as the token remembers
// them: role and subscription may have changed since the token was issued.
//
// HTTP: GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Me(r.Context(), viewerFrom(r).ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"user": user})
}

// HandleUpdateProfile applies a partial profile update.
//
// HTTP: PUT /api/auth/me
// REQUEST BODY: any of {"name", "bio", "website", "twitter", "linkedin", "github"}
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	user, err := h.auth.UpdateProfile(r.Context(), viewerFrom(r).ID, in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{
		"message": "Profile updated successfully",
		"user":    user,
	})
}
