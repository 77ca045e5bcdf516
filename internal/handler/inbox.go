package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/inmyopinion/internal/service"
)

// InboxHandler serves the public contact and newsletter forms.
type InboxHandler struct {
	inbox  *service.InboxService
	logger *slog.Logger
}

func NewInboxHandler(inbox *service.InboxService, logger *slog.Logger) *InboxHandler {
	return &InboxHandler{inbox: inbox, logger: logger}
}

// HandleContact accepts a contact form submission.
//
// HTTP: POST /api/contact
// REQUEST BODY: {"name", "email", "message"}
func (h *InboxHandler) HandleContact(w http.ResponseWriter, r *http.Request) {
	var in service.ContactInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	msg, err := h.inbox.Contact(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"message": msg})
}

// HandleSubscribe adds an email to the newsletter.
//
// HTTP: POST /api/subscribe
// REQUEST BODY: {"email", "name"}
// RESPONSE: 201, or 409 when the email is already on the list
func (h *InboxHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var in service.SubscribeInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	sub, err := h.inbox.Subscribe(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, envelope{
		"message":    "Successfully subscribed to the newsletter!",
		"subscriber": sub,
	})
}

// HandleStats reports newsletter list size.
//
// HTTP: GET /api/subscribe (admin)
// RESPONSE: {"success", "stats": {"total", "confirmed", "recent"}}
func (h *InboxHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inbox.SubscriberStats(r.Context(), viewerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"stats": stats})
}
