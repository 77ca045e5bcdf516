package model

import "time"

// Subscription mirrors the payment provider's view of a user's plan.
// It is eventually consistent with the provider and never the source of truth.
type Subscription struct {
	UserID            string    `json:"userId"`
	Email             string    `json:"email"`
	SubscriptionID    string    `json:"subscriptionId"`
	CustomerID        string    `json:"customerId"`
	Status            string    `json:"status"` // provider-defined: active, past_due, canceled, ...
	PlanID            string    `json:"planId"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// IsActive reports whether the subscription grants access at time now:
// the provider says "active" and the paid period has not ended yet.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == "active" && s.CurrentPeriodEnd.After(now)
}

// Subscriber is a newsletter recipient, keyed by email.
type Subscriber struct {
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	SubscribedAt time.Time `json:"subscribedAt"`
	Confirmed    bool      `json:"confirmed"`
}

// SubscriberStats summarises the newsletter list.
type SubscriberStats struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Recent    int `json:"recent"`
}
