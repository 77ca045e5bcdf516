package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/metrics"
	"github.com/sakif/inmyopinion/internal/payment"
	"github.com/sakif/inmyopinion/internal/service"
)

// maxWebhookBytes is the payload limit Stripe recommends for webhook
// endpoints.
const maxWebhookBytes = 65536

// PaymentHandler exposes plans, checkout, the billing portal and the
// provider webhook.
type PaymentHandler struct {
	billing *service.BillingService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPaymentHandler(billing *service.BillingService, m *metrics.Metrics, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{billing: billing, metrics: m, logger: logger}
}

// HandleStatus returns the caller's subscription summary.
//
// HTTP: GET /api/payments/status
// RESPONSE: {"success", "subscription", "hasActiveSubscription", "canWritePosts"}
func (h *PaymentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sum, err := h.billing.Status(r.Context(), viewerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{
		"subscription":          sum.Subscription,
		"hasActiveSubscription": sum.HasActiveSubscription,
		"canWritePosts":         sum.CanWritePosts,
	})
}

// HandlePlans lists the plan catalogue.
//
// HTTP: GET /api/payments/stripe
func (h *PaymentHandler) HandlePlans(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{"plans": h.billing.Plans()})
}

// HandleAction starts a checkout or opens the billing portal, depending on
// "action".
//
// HTTP: POST /api/payments/stripe
// REQUEST BODY: {"action": "create-checkout-session", "planId", "successUrl", "cancelUrl"}
//
//	or {"action": "create-portal-session", "returnUrl"}
//
// RESPONSE: {"success", "sessionId", "url"}
func (h *PaymentHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var in service.CheckoutInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	viewer := viewerFrom(r)
	var (
		sess *payment.Session
		err  error
	)
	switch in.Action {
	case service.ActionCreateCheckout:
		sess, err = h.billing.Checkout(r.Context(), viewer, in)
	case service.ActionCreatePortal:
		sess, err = h.billing.Portal(r.Context(), viewer, in.ReturnURL)
	default:
		err = apperror.ValidationFailed("action", "Invalid action")
	}
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"sessionId": sess.ID, "url": sess.URL})
}

// HandleWebhook ingests a provider event.
//
// HTTP: POST /api/payments/webhook
// HEADERS: Stripe-Signature
//
// The raw body must reach the signature check byte for byte, so it is read
// as-is rather than decoded.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, h.logger, r, apperror.ValidationFailed("body", "Webhook payload too large"))
		return
	}

	ev, err := h.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.count("unknown", "error")
		writeError(w, h.logger, r, err)
		return
	}
	h.count(ev.Type, "ok")
	writeJSON(w, http.StatusOK, envelope{"received": true})
}

func (h *PaymentHandler) count(eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
	}
}
