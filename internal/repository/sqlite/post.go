package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/repository"
)

var _ repository.PostRepository = (*PostDB)(nil)

// PostDB stores blog posts and keeps the author's post counters in step.
type PostDB struct {
	db *DB
}

// querier is what *sql.DB and *sql.Tx have in common, so read helpers can
// run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const postColumns = `id, title, content, excerpt, author_id, author_name, status, tags,
	featured_image, featured, read_time, views, likes, created_at, updated_at,
	published_at, rejection_reason`

func scanPost(row rowScanner) (*model.Post, error) {
	var (
		p                model.Post
		tags             string
		created, updated int64
		published        sql.NullInt64
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Content, &p.Excerpt, &p.AuthorID, &p.AuthorName, &p.Status, &tags,
		&p.FeaturedImage, &p.Featured, &p.ReadTime, &p.Views, &p.Likes, &created, &updated,
		&published, &p.RejectionReason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of post %s: %w", p.ID, err)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	p.PublishedAt = fromNullMillis(published)
	return &p, nil
}

func getPost(ctx context.Context, q querier, id string) (*model.Post, error) {
	p, err := scanPost(q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("post", id)
		}
		return nil, fmt.Errorf("sqlite: getting post %s: %w", id, err)
	}
	return p, nil
}

// Create inserts post and increments the author's totalPosts (and
// approvedPosts, for posts that start out approved) in one transaction.
//
// Approved-on-create posts get PublishedAt = CreatedAt.
func (s *PostDB) Create(ctx context.Context, post *model.Post) error {
	post.ID = xid.New().String()
	now := stamp(s.db.now())
	post.CreatedAt = now
	post.UpdatedAt = now
	post.PublishedAt = nil
	if post.Status == model.PostApproved {
		published := now
		post.PublishedAt = &published
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	tags, err := json.Marshal(post.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO posts (`+postColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			post.ID, post.Title, post.Content, post.Excerpt, post.AuthorID, post.AuthorName,
			post.Status, string(tags), post.FeaturedImage, post.Featured, post.ReadTime,
			post.Views, post.Likes, toMillis(post.CreatedAt), toMillis(post.UpdatedAt),
			nullMillis(post.PublishedAt), post.RejectionReason,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating post: %w", err)
		}

		approved := 0
		if post.Status == model.PostApproved {
			approved = 1
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET total_posts = total_posts + 1, approved_posts = approved_posts + ?
			 WHERE id = ?`, approved, post.AuthorID)
		if err != nil {
			return fmt.Errorf("sqlite: bumping post counters: %w", err)
		}
		return mustAffect(res, "user", post.AuthorID)
	})
}

func (s *PostDB) GetByID(ctx context.Context, id string) (*model.Post, error) {
	return getPost(ctx, s.db.conn, id)
}

// whereClause renders the filter as SQL conditions. Only placeholders carry
// values; column names are fixed strings.
func whereClause(f repository.PostFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.AuthorID != "" {
		conds = append(conds, "author_id = ?")
		args = append(args, f.AuthorID)
	}
	if f.VisibleTo != "" {
		conds = append(conds, "(status = 'approved' OR author_id = ?)")
		args = append(args, f.VisibleTo)
	}
	if f.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(posts.tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}
	if f.Featured != nil {
		conds = append(conds, "featured = ?")
		args = append(args, *f.Featured)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns matching posts newest first. Posts created in the same
// millisecond are ordered by id, so the order never depends on the query plan.
//
// A negative Limit means "everything"; zero means the default page of 20.
func (s *PostDB) List(ctx context.Context, f repository.PostFilter) ([]model.Post, error) {
	limit := f.Limit
	switch {
	case limit == 0:
		limit = 20
	case limit > 100:
		limit = 100
	case limit < 0:
		limit = -1 // SQLite: no limit
	}
	offset := max(f.Offset, 0)

	where, args := whereClause(f)
	args = append(args, limit, offset)

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts`+where+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts: %w", err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning post row: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating posts: %w", err)
	}
	return posts, nil
}

func (s *PostDB) Count(ctx context.Context, f repository.PostFilter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting posts: %w", err)
	}
	return n, nil
}

// Transition moves a post between moderation states.
//
// The current status is read and then used as the guard of the UPDATE
// (WHERE id = ? AND status = ?). If anything changed the row in between, the
// UPDATE matches nothing and the caller gets a conflict instead of silently
// overwriting the other write.
func (s *PostDB) Transition(ctx context.Context, id string, t repository.Transition) (*model.Post, error) {
	var out *model.Post
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		var (
			current  model.PostStatus
			authorID string
		)
		err := tx.QueryRowContext(ctx, `SELECT status, author_id FROM posts WHERE id = ?`, id).
			Scan(&current, &authorID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("post", id)
		}
		if err != nil {
			return fmt.Errorf("sqlite: reading post %s: %w", id, err)
		}
		if !slices.Contains(t.From, current) {
			return apperror.ConflictMsg(fmt.Sprintf("Post is %s and cannot be %s", current, t.To))
		}

		at := toMillis(t.At)
		sets := "status = ?, updated_at = ?"
		args := []any{t.To, at}
		switch t.To {
		case model.PostApproved:
			sets += ", published_at = ?"
			args = append(args, at)
		case model.PostRejected:
			sets += ", published_at = NULL, rejection_reason = ?"
			args = append(args, t.RejectionReason)
		default:
			sets += ", published_at = NULL"
		}
		args = append(args, id, current)

		res, err := tx.ExecContext(ctx, `UPDATE posts SET `+sets+` WHERE id = ? AND status = ?`, args...)
		if err != nil {
			return fmt.Errorf("sqlite: updating post %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		} else if n == 0 {
			return apperror.ConflictMsg("Post was modified concurrently, please retry")
		}

		delta := 0
		switch {
		case t.To == model.PostApproved && current != model.PostApproved:
			delta = 1
		case t.To != model.PostApproved && current == model.PostApproved:
			delta = -1
		}
		if delta != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET approved_posts = MAX(approved_posts + ?, 0) WHERE id = ?`,
				delta, authorID); err != nil {
				return fmt.Errorf("sqlite: adjusting approved count: %w", err)
			}
		}

		out, err = getPost(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostDB) SetFeatured(ctx context.Context, id string, featured bool, at time.Time) (*model.Post, error) {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE posts SET featured = ?, updated_at = ? WHERE id = ?`,
		featured, toMillis(at), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: featuring post %s: %w", id, err)
	}
	if err := mustAffect(res, "post", id); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Delete removes the post and gives back the author's counters.
// An unknown id is NotFound and nothing is touched.
func (s *PostDB) Delete(ctx context.Context, id string) error {
	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		var (
			status   model.PostStatus
			authorID string
		)
		err := tx.QueryRowContext(ctx, `SELECT status, author_id FROM posts WHERE id = ?`, id).
			Scan(&status, &authorID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("post", id)
		}
		if err != nil {
			return fmt.Errorf("sqlite: reading post %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting post %s: %w", id, err)
		}

		approved := 0
		if status == model.PostApproved {
			approved = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET total_posts = MAX(total_posts - 1, 0),
			                  approved_posts = MAX(approved_posts - ?, 0)
			 WHERE id = ?`, approved, authorID); err != nil {
			return fmt.Errorf("sqlite: adjusting post counters: %w", err)
		}
		return nil
	})
}

func (s *PostDB) IncrementViews(ctx context.Context, id string) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE posts SET views = views + 1 WHERE id = ? AND status = 'approved'`, id)
	if err != nil {
		return fmt.Errorf("sqlite: counting view on %s: %w", id, err)
	}
	return mustAffect(res, "post", id)
}

// IncrementLikes returns the new like count.
func (s *PostDB) IncrementLikes(ctx context.Context, id string) (int, error) {
	var likes int
	err := s.db.conn.QueryRowContext(ctx,
		`UPDATE posts SET likes = likes + 1 WHERE id = ? AND status = 'approved' RETURNING likes`, id).
		Scan(&likes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.NotFound("post", id)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: liking post %s: %w", id, err)
	}
	return likes, nil
}

// Stats aggregates the whole table in one pass and attaches the most recent
// pending posts for the review queue preview.
func (s *PostDB) Stats(ctx context.Context, recent int) (*model.PostStats, error) {
	var st model.PostStats
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'pending'), 0),
		       COALESCE(SUM(status = 'approved'), 0),
		       COALESCE(SUM(status = 'rejected'), 0),
		       COALESCE(SUM(status = 'draft'), 0),
		       COALESCE(SUM(views), 0),
		       COALESCE(SUM(likes), 0)
		FROM posts`).Scan(
		&st.TotalPosts, &st.PendingReview, &st.Approved, &st.Rejected, &st.Drafts,
		&st.TotalViews, &st.TotalLikes,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: post stats: %w", err)
	}

	st.RecentActivity, err = s.List(ctx, repository.PostFilter{
		Status:      model.PostPending,
		ListOptions: repository.ListOptions{Limit: recent},
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}
