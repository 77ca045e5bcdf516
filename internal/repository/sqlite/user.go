package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB stores accounts.
type UserDB struct {
	db *DB
}

const userColumns = `id, email, name, password_hash, role, subscription_status, subscription_end,
	email_verified, bio, website, twitter, linkedin, github, total_posts, approved_posts,
	created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                model.User
		end              sql.NullInt64
		created, updated int64
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.SubscriptionStatus, &end,
		&u.EmailVerified, &u.Bio, &u.Website, &u.Twitter, &u.LinkedIn, &u.GitHub,
		&u.TotalPosts, &u.ApprovedPosts, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	u.SubscriptionEnd = fromNullMillis(end)
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

// Create inserts a new account. The email is stored lower-cased; the UNIQUE
// NOCASE column turns a duplicate into a conflict even if a caller forgot to
// normalise.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	now := stamp(u.db.now())
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.SubscriptionStatus == "" {
		user.SubscriptionStatus = model.SubscriptionNone
	}
	if user.SubscriptionEnd != nil {
		end := stamp(*user.SubscriptionEnd)
		user.SubscriptionEnd = &end
	}

	_, err := u.db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role,
		user.SubscriptionStatus, nullMillis(user.SubscriptionEnd), user.EmailVerified,
		user.Bio, user.Website, user.Twitter, user.LinkedIn, user.GitHub,
		0, 0, toMillis(user.CreatedAt), toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMsg("User already exists with this email")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	user.TotalPosts, user.ApprovedPosts = 0, 0
	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(u.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetByEmail looks the address up case-insensitively.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := scanUser(u.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user not found"}
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of upd in one UPDATE and returns
// the stored result.
func (u *UserDB) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(u.db.now())}

	add := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *v)
		}
	}
	add("name", upd.Name)
	add("bio", upd.Bio)
	add("website", upd.Website)
	add("twitter", upd.Twitter)
	add("linkedin", upd.LinkedIn)
	add("github", upd.GitHub)

	args = append(args, id)
	res, err := u.db.conn.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating profile %s: %w", id, err)
	}
	if err := mustAffect(res, "user", id); err != nil {
		return nil, err
	}
	return u.GetByID(ctx, id)
}

func (u *UserDB) SetRole(ctx context.Context, id string, role model.Role) error {
	res, err := u.db.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, toMillis(u.db.now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting role for %s: %w", id, err)
	}
	return mustAffect(res, "user", id)
}

func (u *UserDB) SetSubscription(ctx context.Context, id string, status model.SubscriptionStatus, end *time.Time) error {
	res, err := u.db.conn.ExecContext(ctx,
		`UPDATE users SET subscription_status = ?, subscription_end = ?, updated_at = ? WHERE id = ?`,
		status, nullMillis(end), toMillis(u.db.now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting subscription for %s: %w", id, err)
	}
	return mustAffect(res, "user", id)
}

func (u *UserDB) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	res, err := u.db.conn.ExecContext(ctx,
		`UPDATE users SET subscription_status = 'none', updated_at = ?
		 WHERE subscription_status = 'trial' AND subscription_end IS NOT NULL AND subscription_end < ?`,
		toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("sqlite: expiring trials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

// mustAffect turns "UPDATE matched nothing" into a NotFound error.
func mustAffect(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
