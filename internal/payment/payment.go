// Package payment talks to the subscription billing provider.
//
// The rest of the application only sees the Gateway interface and the plain
// types below; provider SDK types never leave this package.
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidSignature means a webhook payload did not verify against the
	// signing secret (or was not signed at all).
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")

	// ErrNotConfigured is returned by every call when no API key is set.
	ErrNotConfigured = errors.New("payment: provider not configured")

	// ErrNoCustomer means the provider has no customer record for the email.
	ErrNoCustomer = errors.New("payment: no customer for email")
)

// Webhook event types the service reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Metadata keys attached to checkout sessions and subscriptions so webhook
// events can be traced back to a local user and plan.
const (
	MetaUserID = "userId"
	MetaPlanID = "planId"
)

type CheckoutRequest struct {
	UserID     string
	Email      string
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// Session is a hosted page (checkout or billing portal) the client should
// redirect to.
type Session struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Subscription is the provider's view of one subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PlanID            string
	UserID            string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

type CheckoutCompleted struct {
	SessionID      string
	Mode           string
	UserID         string
	PlanID         string
	Email          string
	CustomerID     string
	SubscriptionID string
}

type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	AmountPaid     int64
}

// Event is a verified webhook event. Exactly one of the payload pointers is
// set for the types listed above; all are nil for anything else.
type Event struct {
	ID           string
	Type         string
	Checkout     *CheckoutCompleted
	Subscription *Subscription
	Invoice      *Invoice
}

// Gateway is everything the application needs from the billing provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	CreatePortalSession(ctx context.Context, email, returnURL string) (*Session, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
}
