package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/payment"
	"github.com/sakif/inmyopinion/internal/policy"
	"github.com/sakif/inmyopinion/internal/repository"
)

// BillingService connects accounts to the payment provider.
//
// The provider is the source of truth for subscriptions. We keep a mirror
// (model.Subscription) that webhook events bring up to date, and copy the
// outcome onto the user row (subscriptionStatus/subscriptionEnd) so the
// gating rules in the policy package see it.
type BillingService struct {
	subs        repository.SubscriptionRepository
	users       repository.UserRepository
	gateway     payment.Gateway
	frontendURL string
	logger      *slog.Logger
	now         Clock
}

func NewBillingService(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	gateway payment.Gateway,
	frontendURL string,
	logger *slog.Logger,
) *BillingService {
	return &BillingService{
		subs:        subs,
		users:       users,
		gateway:     gateway,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
		now:         systemClock,
	}
}

// SubscriptionSummary is the read model behind GET /api/payments/status.
type SubscriptionSummary struct {
	Subscription          *SubscriptionView `json:"subscription"`
	HasActiveSubscription bool              `json:"hasActiveSubscription"`
	CanWritePosts         bool              `json:"canWritePosts"`
}

type SubscriptionView struct {
	Status            string    `json:"status"`
	PlanID            string    `json:"planId"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	IsActive          bool      `json:"isActive"`
}

// Status projects the viewer's account and provider mirror into a summary.
// It has no side effects and is recomputed on every call.
func (s *BillingService) Status(ctx context.Context, viewer Viewer) (*SubscriptionSummary, error) {
	user, err := s.users.GetByID(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("service/billing: loading user %s: %w", viewer.ID, err)
	}
	sub, err := s.subs.GetByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/billing: loading subscription of %s: %w", user.ID, err)
	}
	if err != nil {
		sub = nil
	}

	now := s.now()
	hasActive := policy.HasActiveSubscription(user, sub, now)
	out := &SubscriptionSummary{
		HasActiveSubscription: hasActive,
		CanWritePosts:         policy.CanAuthor(user.Role, hasActive),
	}
	if sub != nil {
		out.Subscription = &SubscriptionView{
			Status:            sub.Status,
			PlanID:            sub.PlanID,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			IsActive:          policy.IsSubscriptionActive(sub, now),
		}
	}
	return out, nil
}

func (s *BillingService) Plans() []payment.Plan {
	return payment.Plans()
}

// Checkout actions accepted by the payments endpoint.
const (
	ActionCreateCheckout = "create-checkout-session"
	ActionCreatePortal   = "create-portal-session"
)

// CheckoutInput is the body of POST /api/payments/stripe. ReturnURL is only
// read for the portal action.
type CheckoutInput struct {
	Action     string `json:"action"`
	PlanID     string `json:"planId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	ReturnURL  string `json:"returnUrl"`
}

// Checkout starts a hosted checkout for one of the catalogue plans.
func (s *BillingService) Checkout(ctx context.Context, viewer Viewer, in CheckoutInput) (*payment.Session, error) {
	if viewer.Anonymous() {
		return nil, apperror.Unauthorized("No token provided")
	}
	if _, ok := payment.PlanByID(in.PlanID); !ok {
		return nil, apperror.ValidationFailed("planId", "Invalid plan selected")
	}
	user, err := s.users.GetByID(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("service/billing: loading user %s: %w", viewer.ID, err)
	}

	req := payment.CheckoutRequest{
		UserID:     user.ID,
		Email:      user.Email,
		PlanID:     in.PlanID,
		SuccessURL: in.SuccessURL,
		CancelURL:  in.CancelURL,
	}
	if req.SuccessURL == "" {
		req.SuccessURL = s.frontendURL + "/dashboard?subscription=success&session_id={CHECKOUT_SESSION_ID}"
	}
	if req.CancelURL == "" {
		req.CancelURL = s.frontendURL + "/pricing?subscription=cancelled"
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.logger.Error("checkout session failed",
			slog.String("userID", user.ID),
			slog.String("planID", in.PlanID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("Payment processing failed. Please try again later.", err)
	}
	s.logger.Info("checkout session created",
		slog.String("userID", user.ID),
		slog.String("planID", in.PlanID),
	)
	return sess, nil
}

// Portal opens the provider's billing portal for the viewer's customer
// record, found by email.
func (s *BillingService) Portal(ctx context.Context, viewer Viewer, returnURL string) (*payment.Session, error) {
	if viewer.Anonymous() {
		return nil, apperror.Unauthorized("No token provided")
	}
	user, err := s.users.GetByID(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("service/billing: loading user %s: %w", viewer.ID, err)
	}
	if returnURL == "" {
		returnURL = s.frontendURL + "/dashboard"
	}

	sess, err := s.gateway.CreatePortalSession(ctx, user.Email, returnURL)
	switch {
	case errors.Is(err, payment.ErrNoCustomer):
		return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "No subscription found for this user"}
	case err != nil:
		s.logger.Error("portal session failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("Unable to create portal session", err)
	}
	return sess, nil
}

// HandleWebhook verifies and applies one provider event.
//
// EVENTS:
//   - checkout.session.completed     → fetch the subscription, create the mirror
//   - customer.subscription.updated  → refresh the mirror (found by customer)
//   - customer.subscription.deleted  → drop the mirror, account becomes cancelled
//   - invoice.payment_*              → logged only
//
// Anything else is acknowledged and logged. Events that cannot be matched
// to a local user are acknowledged too; retrying them would not help.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*payment.Event, error) {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		return nil, apperror.ValidationFailed("signature", "Webhook signature verification failed")
	case errors.Is(err, payment.ErrNotConfigured):
		return nil, apperror.Upstream("Webhooks are not configured", err)
	case err != nil:
		return nil, apperror.ValidationFailed("payload", "Malformed webhook payload")
	}

	log := s.logger.With(slog.String("eventID", ev.ID), slog.String("type", ev.Type))

	switch ev.Type {
	case payment.EventCheckoutCompleted:
		err = s.checkoutCompleted(ctx, log, ev.Checkout)
	case payment.EventSubscriptionUpdated:
		err = s.subscriptionUpdated(ctx, log, ev.Subscription)
	case payment.EventSubscriptionDeleted:
		err = s.subscriptionDeleted(ctx, log, ev.Subscription)
	case payment.EventInvoicePaid:
		log.Info("payment succeeded",
			slog.String("customerID", ev.Invoice.CustomerID),
			slog.Int64("amountPaid", ev.Invoice.AmountPaid),
		)
	case payment.EventInvoiceFailed:
		log.Warn("payment failed",
			slog.String("customerID", ev.Invoice.CustomerID),
			slog.String("subscriptionID", ev.Invoice.SubscriptionID),
		)
	default:
		log.Info("unhandled webhook event")
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *BillingService) checkoutCompleted(ctx context.Context, log *slog.Logger, cs *payment.CheckoutCompleted) error {
	if cs.Mode != "subscription" || cs.SubscriptionID == "" {
		log.Info("checkout without subscription ignored", slog.String("mode", cs.Mode))
		return nil
	}
	if cs.UserID == "" {
		log.Warn("checkout carries no user id", slog.String("sessionID", cs.SessionID))
		return nil
	}

	// A session for an account that no longer exists can never be applied.
	// Acknowledging it keeps the provider from retrying it forever.
	user, err := s.users.GetByID(ctx, cs.UserID)
	if errors.Is(err, apperror.ErrNotFound) {
		log.Warn("checkout for unknown user",
			slog.String("userID", cs.UserID),
			slog.String("subscriptionID", cs.SubscriptionID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/billing: loading user %s: %w", cs.UserID, err)
	}

	remote, err := s.gateway.GetSubscription(ctx, cs.SubscriptionID)
	if err != nil {
		return apperror.Upstream("Webhook processing failed", err)
	}

	planID := cs.PlanID
	if planID == "" {
		planID = remote.PlanID
	}
	customerID := remote.CustomerID
	if customerID == "" {
		customerID = cs.CustomerID
	}
	email := cs.Email
	if email == "" {
		email = user.Email
	}

	sub := &model.Subscription{
		UserID:            cs.UserID,
		Email:             email,
		SubscriptionID:    remote.ID,
		CustomerID:        customerID,
		Status:            remote.Status,
		PlanID:            planID,
		CurrentPeriodEnd:  remote.CurrentPeriodEnd,
		CancelAtPeriodEnd: remote.CancelAtPeriodEnd,
		UpdatedAt:         s.now(),
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("service/billing: storing subscription: %w", err)
	}
	log.Info("subscription created",
		slog.String("userID", sub.UserID),
		slog.String("planID", sub.PlanID),
		slog.String("subscriptionID", sub.SubscriptionID),
	)
	return s.syncUser(ctx, sub)
}

func (s *BillingService) subscriptionUpdated(ctx context.Context, log *slog.Logger, remote *payment.Subscription) error {
	mirror, err := s.findMirror(ctx, remote)
	if err != nil {
		return err
	}
	if mirror == nil {
		log.Warn("subscription update for unknown customer", slog.String("customerID", remote.CustomerID))
		return nil
	}

	mirror.SubscriptionID = remote.ID
	mirror.Status = remote.Status
	mirror.CurrentPeriodEnd = remote.CurrentPeriodEnd
	mirror.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	if remote.PlanID != "" {
		mirror.PlanID = remote.PlanID
	}
	mirror.UpdatedAt = s.now()

	if err := s.subs.Upsert(ctx, mirror); err != nil {
		return fmt.Errorf("service/billing: updating subscription: %w", err)
	}
	log.Info("subscription updated",
		slog.String("userID", mirror.UserID),
		slog.String("status", mirror.Status),
		slog.Bool("cancelAtPeriodEnd", mirror.CancelAtPeriodEnd),
	)
	return s.syncUser(ctx, mirror)
}

func (s *BillingService) subscriptionDeleted(ctx context.Context, log *slog.Logger, remote *payment.Subscription) error {
	mirror, err := s.findMirror(ctx, remote)
	if err != nil {
		return err
	}
	if mirror == nil {
		log.Warn("subscription deletion for unknown customer", slog.String("customerID", remote.CustomerID))
		return nil
	}

	if err := s.subs.Delete(ctx, mirror.UserID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/billing: deleting subscription: %w", err)
	}
	if err := s.users.SetSubscription(ctx, mirror.UserID, model.SubscriptionCancelled, nil); err != nil {
		return fmt.Errorf("service/billing: cancelling user %s: %w", mirror.UserID, err)
	}
	if err := s.demote(ctx, mirror.UserID); err != nil {
		return err
	}
	log.Info("subscription cancelled",
		slog.String("userID", mirror.UserID),
		slog.String("subscriptionID", remote.ID),
	)
	return nil
}

// findMirror locates the local mirror for a provider subscription: by
// customer first, then by subscription id, then by the user id stamped into
// its metadata at checkout.
func (s *BillingService) findMirror(ctx context.Context, remote *payment.Subscription) (*model.Subscription, error) {
	if remote.CustomerID != "" {
		sub, err := s.subs.GetByCustomerID(ctx, remote.CustomerID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/billing: finding customer %s: %w", remote.CustomerID, err)
		}
	}
	if remote.ID != "" {
		sub, err := s.subs.GetBySubscriptionID(ctx, remote.ID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/billing: finding subscription %s: %w", remote.ID, err)
		}
	}
	if remote.UserID != "" {
		sub, err := s.subs.GetByUserID(ctx, remote.UserID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/billing: finding user %s: %w", remote.UserID, err)
		}
	}
	return nil, nil
}

// syncUser copies the mirror's outcome onto the account.
//
//	active, trialing           → active until the period end, writer upgraded to premium
//	canceled, unpaid, expired  → cancelled
//	anything else (past_due…)  → left alone until the provider settles it
func (s *BillingService) syncUser(ctx context.Context, sub *model.Subscription) error {
	switch sub.Status {
	case "active", "trialing":
		end := sub.CurrentPeriodEnd
		if err := s.users.SetSubscription(ctx, sub.UserID, model.SubscriptionActive, &end); err != nil {
			return fmt.Errorf("service/billing: activating user %s: %w", sub.UserID, err)
		}
		user, err := s.users.GetByID(ctx, sub.UserID)
		if err != nil {
			return fmt.Errorf("service/billing: loading user %s: %w", sub.UserID, err)
		}
		if user.Role == model.RoleFreeWriter || user.Role == model.RoleReader {
			if err := s.users.SetRole(ctx, user.ID, model.RolePremiumWriter); err != nil {
				return fmt.Errorf("service/billing: upgrading user %s: %w", user.ID, err)
			}
		}
	case "canceled", "unpaid", "incomplete_expired":
		end := sub.CurrentPeriodEnd
		if err := s.users.SetSubscription(ctx, sub.UserID, model.SubscriptionCancelled, &end); err != nil {
			return fmt.Errorf("service/billing: cancelling user %s: %w", sub.UserID, err)
		}
		return s.demote(ctx, sub.UserID)
	}
	return nil
}

// demote turns a premium writer back into a free writer. Admins and
// readers are left as they are.
func (s *BillingService) demote(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/billing: loading user %s: %w", userID, err)
	}
	if user.Role != model.RolePremiumWriter {
		return nil
	}
	if err := s.users.SetRole(ctx, userID, model.RoleFreeWriter); err != nil {
		return fmt.Errorf("service/billing: downgrading user %s: %w", userID, err)
	}
	return nil
}

// ExpireTrials ends every writer trial whose end date has passed.
// Run periodically by the jobs package.
func (s *BillingService) ExpireTrials(ctx context.Context) (int64, error) {
	n, err := s.users.ExpireTrials(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("service/billing: expiring trials: %w", err)
	}
	if n > 0 {
		s.logger.Info("trials expired", slog.Int64("count", n))
	}
	return n, nil
}
