// Package ratelimit implements fixed-window request counting.
//
// FIXED WINDOW:
// Each key has a {count, resetAt} pair. The first request opens a window of
// length Window; requests inside it are counted, and once Max have been let
// through the rest are refused until the window expires and resets wholesale.
// Unlike a token bucket there is no gradual refill.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more request for key fits in its window.
// An error means the back end could not answer; callers decide whether to
// fail open or closed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Policy is a named limit. The name prefixes the key so different endpoints
// keep separate counters for the same client.
type Policy struct {
	Name    string
	Max     int
	Window  time.Duration
	Message string
}

var (
	Login = Policy{
		Name: "login", Max: 5, Window: 15 * time.Minute,
		Message: "Too many login attempts, please try again later.",
	}
	Register = Policy{
		Name: "register", Max: 3, Window: 15 * time.Minute,
		Message: "Too many registration attempts, please try again later.",
	}
	Contact = Policy{
		Name: "contact", Max: 5, Window: 15 * time.Minute,
		Message: "Too many contact form submissions, please try again later.",
	}
	Newsletter = Policy{
		Name: "newsletter", Max: 3, Window: 15 * time.Minute,
		Message: "Too many subscription attempts, please try again later.",
	}
)

// Key builds the storage key for a client under this policy.
func (p Policy) Key(client string) string {
	return p.Name + ":" + client
}
