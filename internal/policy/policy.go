// Package policy answers "who may do what" from a role and a subscription.
//
// Everything here is a pure function of its inputs (the current time is
// passed in), so callers can recompute it on every request and tests need no
// fakes.
package policy

import (
	"time"

	"github.com/sakif/inmyopinion/internal/model"
)

// IsSubscriptionActive is the gating definition of "active" for a provider
// subscription: status "active" and the paid period ends strictly after now.
func IsSubscriptionActive(sub *model.Subscription, now time.Time) bool {
	return sub.IsActive(now)
}

// HasActiveSubscription resolves whether user currently has paid (or trial)
// access. Either source is enough:
//   - the provider mirror says the subscription is active, or
//   - the account itself is active/trial and the end date has not passed.
//
// sub may be nil when the user never checked out.
func HasActiveSubscription(user *model.User, sub *model.Subscription, now time.Time) bool {
	if IsSubscriptionActive(sub, now) {
		return true
	}
	if user == nil {
		return false
	}
	switch user.SubscriptionStatus {
	case model.SubscriptionActive, model.SubscriptionTrial:
		return user.SubscriptionEnd == nil || user.SubscriptionEnd.After(now)
	}
	return false
}

// CanAuthor reports whether a user may create posts.
// Admins always can; other writer roles need an active subscription.
func CanAuthor(role model.Role, hasActive bool) bool {
	if role == model.RoleAdmin {
		return true
	}
	return role.IsWriter() && hasActive
}

// CanModerate reports whether role may approve, reject, feature or delete
// any post.
func CanModerate(role model.Role) bool {
	return role == model.RoleAdmin
}

// CanRead reports whether the viewer may see post. Approved posts are public;
// anything else is visible to its author and to admins only. viewerID is ""
// for anonymous callers.
func CanRead(post *model.Post, viewerID string, viewerRole model.Role) bool {
	if post.Status == model.PostApproved {
		return true
	}
	if viewerID == "" {
		return false
	}
	return post.AuthorID == viewerID || viewerRole == model.RoleAdmin
}
