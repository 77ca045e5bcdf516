// Package repository declares the storage contracts the services depend on.
//
// Services only ever see these interfaces; the sqlite package provides the
// production implementation and tests substitute hand-written fakes.
//
// ATOMICITY:
// Every method that changes state does so in a single statement or a single
// transaction. Status transitions are compare-and-swap updates
// (UPDATE ... WHERE id = ? AND status IN (...)), so two admins acting on the
// same post at once cannot both win.
package repository

import (
	"context"
	"time"

	"github.com/sakif/inmyopinion/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// PostFilter narrows a post listing. Zero values mean "no constraint".
//
// VisibleTo, when set, restricts the result to approved posts plus the
// posts authored by that user ID. It is how a signed-in non-admin sees their
// own drafts mixed into the public list.
type PostFilter struct {
	Status    model.PostStatus
	AuthorID  string
	VisibleTo string
	Tag       string
	Featured  *bool
	ListOptions
}

// Transition describes a moderation step applied atomically to one post.
// The update only happens if the post's current status is one of From.
type Transition struct {
	From            []model.PostStatus
	To              model.PostStatus
	At              time.Time
	RejectionReason string // stored when To is rejected
}

type UserRepository interface {
	// Create fails with apperror.ErrConflict when the email is taken
	// (compared case-insensitively).
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error)
	SetRole(ctx context.Context, id string, role model.Role) error
	SetSubscription(ctx context.Context, id string, status model.SubscriptionStatus, end *time.Time) error
	// ExpireTrials moves every trial that ended before now to "none" and
	// returns how many accounts changed.
	ExpireTrials(ctx context.Context, now time.Time) (int64, error)
}

type PostRepository interface {
	// Create stores the post and bumps the author's counters in the same
	// transaction.
	Create(ctx context.Context, post *model.Post) error
	GetByID(ctx context.Context, id string) (*model.Post, error)
	List(ctx context.Context, f PostFilter) ([]model.Post, error)
	Count(ctx context.Context, f PostFilter) (int, error)
	// Transition returns apperror.ErrNotFound for an unknown id and
	// apperror.ErrConflict when the post is not in one of t.From.
	Transition(ctx context.Context, id string, t Transition) (*model.Post, error)
	SetFeatured(ctx context.Context, id string, featured bool, at time.Time) (*model.Post, error)
	Delete(ctx context.Context, id string) error
	// IncrementViews and IncrementLikes only touch approved posts.
	IncrementViews(ctx context.Context, id string) error
	IncrementLikes(ctx context.Context, id string) (int, error)
	Stats(ctx context.Context, recent int) (*model.PostStats, error)
}

type SubscriptionRepository interface {
	// Upsert is keyed by UserID.
	Upsert(ctx context.Context, sub *model.Subscription) error
	GetByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	GetByCustomerID(ctx context.Context, customerID string) (*model.Subscription, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Subscription, error)
	Delete(ctx context.Context, userID string) error
}

type SubscriberRepository interface {
	// Add fails with apperror.ErrConflict when the email is already on the list.
	Add(ctx context.Context, sub *model.Subscriber) error
	Stats(ctx context.Context, since time.Time) (*model.SubscriberStats, error)
}
