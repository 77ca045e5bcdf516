// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Role decides what a user may do on the platform.
type Role string

const (
	RoleAdmin         Role = "admin"
	RolePremiumWriter Role = "premium_writer"
	RoleFreeWriter    Role = "free_writer"
	RoleReader        Role = "reader"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePremiumWriter, RoleFreeWriter, RoleReader:
		return true
	}
	return false
}

// IsWriter reports whether the role is allowed to author posts at all.
// Whether a writer may publish right now also depends on their subscription,
// see the policy package.
func (r Role) IsWriter() bool {
	return r == RoleAdmin || r == RolePremiumWriter || r == RoleFreeWriter
}

// SubscriptionStatus is the account-level billing state stored on the user.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionNone      SubscriptionStatus = "none"
)

// User represents a registered account.
//
// WHY PasswordHash HAS json:"-"?
// The struct is returned straight from handlers. The "-" tag guarantees the
// bcrypt hash is never serialised, no matter which endpoint encodes a User.
//
// WHY *time.Time FOR SubscriptionEnd?
// Only trial and active accounts have an end date. A nil pointer encodes as
// an absent field (with omitempty), which is what API clients expect.
type User struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	Name               string             `json:"name"`
	PasswordHash       string             `json:"-"`
	Role               Role               `json:"role"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionEnd    *time.Time         `json:"subscriptionEnd,omitempty"`
	EmailVerified      bool               `json:"emailVerified"`

	Bio      string `json:"bio,omitempty"`
	Website  string `json:"website,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	GitHub   string `json:"github,omitempty"`

	// Maintained by the post repository in the same transaction as the
	// post mutation that changes them.
	TotalPosts    int `json:"totalPosts"`
	ApprovedPosts int `json:"approvedPosts"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProfileUpdate carries the user-editable profile fields.
// A nil pointer leaves the field untouched; a pointer to "" clears it.
type ProfileUpdate struct {
	Name     *string
	Bio      *string
	Website  *string
	Twitter  *string
	LinkedIn *string
	GitHub   *string
}
