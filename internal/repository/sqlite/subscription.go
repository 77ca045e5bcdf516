package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/repository"
)

var (
	_ repository.SubscriptionRepository = (*SubscriptionDB)(nil)
	_ repository.SubscriberRepository   = (*SubscriberDB)(nil)
)

// SubscriptionDB holds the local mirror of payment-provider subscriptions.
type SubscriptionDB struct {
	db *DB
}

const subscriptionColumns = `user_id, email, subscription_id, customer_id, status, plan_id,
	current_period_end, cancel_at_period_end, updated_at`

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var (
		s           model.Subscription
		end, update int64
	)
	if err := row.Scan(&s.UserID, &s.Email, &s.SubscriptionID, &s.CustomerID, &s.Status, &s.PlanID,
		&end, &s.CancelAtPeriodEnd, &update); err != nil {
		return nil, err
	}
	s.CurrentPeriodEnd = fromMillis(end)
	s.UpdatedAt = fromMillis(update)
	return &s, nil
}

// Upsert writes the mirror row for sub.UserID, replacing whatever the
// previous event left there.
func (r *SubscriptionDB) Upsert(ctx context.Context, sub *model.Subscription) error {
	sub.UpdatedAt = stamp(r.db.now())
	sub.CurrentPeriodEnd = stamp(sub.CurrentPeriodEnd)

	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     email = excluded.email,
		     subscription_id = excluded.subscription_id,
		     customer_id = excluded.customer_id,
		     status = excluded.status,
		     plan_id = CASE WHEN excluded.plan_id = '' THEN subscriptions.plan_id ELSE excluded.plan_id END,
		     current_period_end = excluded.current_period_end,
		     cancel_at_period_end = excluded.cancel_at_period_end,
		     updated_at = excluded.updated_at`,
		sub.UserID, sub.Email, sub.SubscriptionID, sub.CustomerID, sub.Status, sub.PlanID,
		toMillis(sub.CurrentPeriodEnd), sub.CancelAtPeriodEnd, toMillis(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting subscription for %s: %w", sub.UserID, err)
	}
	return nil
}

func (r *SubscriptionDB) getBy(ctx context.Context, column, value string) (*model.Subscription, error) {
	s, err := scanSubscription(r.db.conn.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+column+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("subscription", value)
		}
		return nil, fmt.Errorf("sqlite: getting subscription by %s: %w", column, err)
	}
	return s, nil
}

func (r *SubscriptionDB) GetByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	return r.getBy(ctx, "user_id", userID)
}

func (r *SubscriptionDB) GetByCustomerID(ctx context.Context, customerID string) (*model.Subscription, error) {
	return r.getBy(ctx, "customer_id", customerID)
}

func (r *SubscriptionDB) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	return r.getBy(ctx, "subscription_id", subscriptionID)
}

func (r *SubscriptionDB) Delete(ctx context.Context, userID string) error {
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting subscription for %s: %w", userID, err)
	}
	return mustAffect(res, "subscription", userID)
}

// SubscriberDB is the newsletter list.
type SubscriberDB struct {
	db *DB
}

// Add stores a new subscriber. Subscribers are confirmed on sign-up.
func (r *SubscriberDB) Add(ctx context.Context, sub *model.Subscriber) error {
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	sub.SubscribedAt = stamp(r.db.now())
	sub.Confirmed = true

	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO subscribers (email, name, subscribed_at, confirmed) VALUES (?, ?, ?, ?)`,
		sub.Email, sub.Name, toMillis(sub.SubscribedAt), sub.Confirmed)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMsg("Email already subscribed")
		}
		return fmt.Errorf("sqlite: adding subscriber: %w", err)
	}
	return nil
}

// Stats counts all, confirmed and recently added (subscribed after since)
// subscribers.
func (r *SubscriberDB) Stats(ctx context.Context, since time.Time) (*model.SubscriberStats, error) {
	var st model.SubscriberStats
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(confirmed = 1), 0),
		       COALESCE(SUM(subscribed_at > ?), 0)
		FROM subscribers`, toMillis(since)).Scan(&st.Total, &st.Confirmed, &st.Recent)
	if err != nil {
		return nil, fmt.Errorf("sqlite: subscriber stats: %w", err)
	}
	return &st, nil
}
