package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/model"
)

type postFixture struct {
	svc    *PostService
	users  *fakeUserRepo
	posts  *fakePostRepo
	subs   *fakeSubscriptionRepo
	sender *recordingSender

	admin  Viewer
	writer Viewer // free writer on an open trial
	other  Viewer // second writer, paid
	reader Viewer
}

func newTestPostService(t *testing.T) *postFixture {
	t.Helper()
	users := newFakeUserRepo()
	posts := newFakePostRepo(users)
	subs := newFakeSubscriptionRepo()
	sender := &recordingSender{}

	svc := NewPostService(posts, users, subs, sender, "https://www.inmyop1nion.com/", testLogger())
	svc.now = fixedClock

	trialEnd := testNow.Add(7 * 24 * time.Hour)
	users.add(model.User{ID: "admin", Name: "Owner", Email: "owner@example.com", Role: model.RoleAdmin, SubscriptionStatus: model.SubscriptionActive})
	users.add(model.User{ID: "writer", Name: "Wendy", Email: "wendy@example.com", Role: model.RoleFreeWriter, SubscriptionStatus: model.SubscriptionTrial, SubscriptionEnd: &trialEnd})
	users.add(model.User{ID: "other", Name: "Oscar", Email: "oscar@example.com", Role: model.RolePremiumWriter, SubscriptionStatus: model.SubscriptionNone})
	users.add(model.User{ID: "reader", Name: "Rita", Email: "rita@example.com", Role: model.RoleReader, SubscriptionStatus: model.SubscriptionNone})
	require.NoError(t, subs.Upsert(context.Background(), &model.Subscription{
		UserID: "other", Status: "active", CurrentPeriodEnd: testNow.Add(30 * 24 * time.Hour),
	}))

	return &postFixture{
		svc: svc, users: users, posts: posts, subs: subs, sender: sender,
		admin:  Viewer{ID: "admin", Role: model.RoleAdmin},
		writer: Viewer{ID: "writer", Role: model.RoleFreeWriter},
		other:  Viewer{ID: "other", Role: model.RolePremiumWriter},
		reader: Viewer{ID: "reader", Role: model.RoleReader},
	}
}

func validPost() CreatePostInput {
	return CreatePostInput{
		Title:   "Why fixed windows are fine",
		Content: strings.Repeat("Rate limiting is a trade-off between precision and cost. ", 4),
		Tags:    []string{" go ", "", "ops"},
	}
}

func (f *postFixture) create(t *testing.T, v Viewer, mutate ...func(*CreatePostInput)) *model.Post {
	t.Helper()
	in := validPost()
	for _, m := range mutate {
		m(&in)
	}
	post, _, err := f.svc.Create(context.Background(), v, in)
	require.NoError(t, err)
	return post
}

func TestCreatePost_StatusByRole(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()

	post, msg, err := f.svc.Create(ctx, f.writer, validPost())
	require.NoError(t, err)
	assert.Equal(t, model.PostPending, post.Status)
	assert.Nil(t, post.PublishedAt)
	assert.Contains(t, msg, "submitted for review")

	post, msg, err = f.svc.Create(ctx, f.admin, validPost())
	require.NoError(t, err)
	assert.Equal(t, model.PostApproved, post.Status)
	require.NotNil(t, post.PublishedAt)
	assert.Equal(t, post.CreatedAt, *post.PublishedAt)
	assert.Equal(t, "Blog post published successfully!", msg)

	draft := validPost()
	draft.IsDraft = true
	post, msg, err = f.svc.Create(ctx, f.admin, draft)
	require.NoError(t, err)
	assert.Equal(t, model.PostDraft, post.Status)
	assert.Nil(t, post.PublishedAt)
	assert.Equal(t, "Blog post saved as draft.", msg)
}

func TestCreatePost_Derivations(t *testing.T) {
	f := newTestPostService(t)

	post := f.create(t, f.writer, func(in *CreatePostInput) {
		in.Title = "   Padded title   "
		in.Content = "<p>" + strings.Repeat("word ", 250) + "</p>"
	})

	assert.Equal(t, "Padded title", post.Title)
	assert.Equal(t, []string{"go", "ops"}, post.Tags)
	assert.Equal(t, 2, post.ReadTime)
	assert.False(t, strings.Contains(post.Excerpt, "<p>"))
	assert.True(t, strings.HasSuffix(post.Excerpt, "..."))
	assert.Equal(t, "Wendy", post.AuthorName)
	assert.Equal(t, "writer", post.AuthorID)

	author, err := f.users.GetByID(context.Background(), "writer")
	require.NoError(t, err)
	assert.Equal(t, 1, author.TotalPosts)
	assert.Equal(t, 0, author.ApprovedPosts)
}

func TestCreatePost_Gating(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()

	t.Run("reader is forbidden", func(t *testing.T) {
		_, _, err := f.svc.Create(ctx, f.reader, validPost())
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		_, _, err := f.svc.Create(ctx, Viewer{}, validPost())
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("writer with a paid mirror but no account status may post", func(t *testing.T) {
		_, _, err := f.svc.Create(ctx, f.other, validPost())
		assert.NoError(t, err)
	})

	t.Run("expired trial is forbidden", func(t *testing.T) {
		ended := testNow.Add(-time.Hour)
		require.NoError(t, f.users.SetSubscription(ctx, "writer", model.SubscriptionTrial, &ended))
		_, _, err := f.svc.Create(ctx, f.writer, validPost())
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("stale token role does not grant writing", func(t *testing.T) {
		_, _, err := f.svc.Create(ctx, Viewer{ID: "reader", Role: model.RoleFreeWriter}, validPost())
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})
}

func TestCreatePost_Validation(t *testing.T) {
	f := newTestPostService(t)

	in := CreatePostInput{
		Title:   " Hi ",
		Content: "too short",
		Tags:    []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"},
	}
	_, _, err := f.svc.Create(context.Background(), f.writer, in)
	require.ErrorIs(t, err, apperror.ErrValidation)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, []string{
		"Title must be at least 5 characters long",
		"Content must be at least 100 characters long",
		"Maximum 10 tags allowed",
	}, appErr.Details)
	assert.Empty(t, f.posts.posts)
}

func TestListPosts_Visibility(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()

	mine := f.create(t, f.writer)
	draft := f.create(t, f.writer, func(in *CreatePostInput) { in.IsDraft = true })
	theirs := f.create(t, f.other)
	public := f.create(t, f.admin)

	ids := func(p *PostPage) []string {
		out := make([]string, 0, len(p.Posts))
		for _, post := range p.Posts {
			out = append(out, post.ID)
		}
		return out
	}

	t.Run("anonymous sees approved only", func(t *testing.T) {
		page, err := f.svc.List(ctx, Viewer{}, ListQuery{})
		require.NoError(t, err)
		assert.Equal(t, []string{public.ID}, ids(page))
		assert.Equal(t, 1, page.Total)
	})

	t.Run("anonymous asking for pending gets nothing", func(t *testing.T) {
		page, err := f.svc.List(ctx, Viewer{}, ListQuery{Status: model.PostPending})
		require.NoError(t, err)
		assert.Empty(t, page.Posts)
	})

	t.Run("writer sees own posts plus approved, newest first", func(t *testing.T) {
		page, err := f.svc.List(ctx, f.writer, ListQuery{})
		require.NoError(t, err)
		assert.Equal(t, []string{public.ID, draft.ID, mine.ID}, ids(page))
	})

	t.Run("writer filtering by pending sees only their own", func(t *testing.T) {
		page, err := f.svc.List(ctx, f.writer, ListQuery{Status: model.PostPending})
		require.NoError(t, err)
		assert.Equal(t, []string{mine.ID}, ids(page))
	})

	t.Run("writer cannot read another author's pending posts via authorId", func(t *testing.T) {
		page, err := f.svc.List(ctx, f.writer, ListQuery{Status: model.PostPending, AuthorID: "other"})
		require.NoError(t, err)
		assert.NotContains(t, ids(page), theirs.ID)
	})

	t.Run("admin sees everything and can filter", func(t *testing.T) {
		page, err := f.svc.List(ctx, f.admin, ListQuery{})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)

		page, err = f.svc.List(ctx, f.admin, ListQuery{Status: model.PostPending})
		require.NoError(t, err)
		assert.Equal(t, []string{theirs.ID, mine.ID}, ids(page))
	})

	t.Run("paging", func(t *testing.T) {
		page, err := f.svc.List(ctx, f.admin, ListQuery{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, page.Posts, 2)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, 2, page.Limit)
		assert.Equal(t, 1, page.Offset)

		page, err = f.svc.List(ctx, f.admin, ListQuery{Limit: 5000})
		require.NoError(t, err)
		assert.Equal(t, MaxPageSize, page.Limit)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := f.svc.List(ctx, f.admin, ListQuery{Status: "published"})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})
}

func TestGetPost(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()

	pending := f.create(t, f.writer)
	public := f.create(t, f.admin)

	t.Run("unreadable posts are not found", func(t *testing.T) {
		_, err := f.svc.Get(ctx, Viewer{}, pending.ID)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
		_, err = f.svc.Get(ctx, f.other, pending.ID)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("author and admin can read a pending post", func(t *testing.T) {
		_, err := f.svc.Get(ctx, f.writer, pending.ID)
		assert.NoError(t, err)
		_, err = f.svc.Get(ctx, f.admin, pending.ID)
		assert.NoError(t, err)
	})

	t.Run("views count for readers but not the author", func(t *testing.T) {
		got, err := f.svc.Get(ctx, Viewer{}, public.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Views)

		got, err = f.svc.Get(ctx, f.admin, public.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Views)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.svc.Get(ctx, f.admin, "nope")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})
}

func TestLikePost(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()
	public := f.create(t, f.admin)
	pending := f.create(t, f.writer)

	n, err := f.svc.Like(ctx, f.reader, public.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.svc.Like(ctx, f.writer, public.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.svc.Like(ctx, f.reader, pending.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.svc.Like(ctx, Viewer{}, public.ID)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestModerate_ApproveAndReject(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()

	t.Run("approve pending publishes and emails the author", func(t *testing.T) {
		post := f.create(t, f.writer)
		got, msg, err := f.svc.Moderate(ctx, f.admin, post.ID, ModerateInput{Action: ActionApprove})
		require.NoError(t, err)
		assert.Equal(t, model.PostApproved, got.Status)
		require.NotNil(t, got.PublishedAt)
		assert.Equal(t, testNow, *got.PublishedAt)
		assert.Equal(t, "Post approved and published successfully!", msg)

		msgs := f.sender.messages()
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]
		assert.Equal(t, []string{"wendy@example.com"}, last.To)
		assert.Contains(t, last.HTML, "https://www.inmyop1nion.com/blog/"+post.ID)
	})

	t.Run("approving twice is a conflict", func(t *testing.T) {
		post := f.create(t, f.writer)
		_, err := f.svc.Approve(ctx, post.ID)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, post.ID)
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("reject needs a reason and stores it trimmed", func(t *testing.T) {
		post := f.create(t, f.writer)
		_, _, err := f.svc.Moderate(ctx, f.admin, post.ID, ModerateInput{Action: ActionReject, RejectionReason: "   "})
		require.ErrorIs(t, err, apperror.ErrValidation)

		got, _, err := f.svc.Moderate(ctx, f.admin, post.ID, ModerateInput{Action: ActionReject, RejectionReason: "  Needs sources  "})
		require.NoError(t, err)
		assert.Equal(t, model.PostRejected, got.Status)
		assert.Equal(t, "Needs sources", got.RejectionReason)
		assert.Nil(t, got.PublishedAt)
	})

	t.Run("rejected post can still be approved and keeps the reason", func(t *testing.T) {
		post := f.create(t, f.writer)
		_, err := f.svc.Reject(ctx, post.ID, "Too short")
		require.NoError(t, err)
		got, err := f.svc.Approve(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PostApproved, got.Status)
		assert.Equal(t, "Too short", got.RejectionReason)
	})

	t.Run("drafts cannot be approved or rejected", func(t *testing.T) {
		draft := f.create(t, f.writer, func(in *CreatePostInput) { in.IsDraft = true })
		_, err := f.svc.Approve(ctx, draft.ID)
		assert.ErrorIs(t, err, apperror.ErrConflict)
		_, err = f.svc.Reject(ctx, draft.ID, "no")
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("unknown post", func(t *testing.T) {
		_, err := f.svc.Approve(ctx, "missing")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		post := f.create(t, f.writer)
		_, _, err := f.svc.Moderate(ctx, f.writer, post.ID, ModerateInput{Action: ActionApprove})
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, _, err := f.svc.Moderate(ctx, f.admin, "x", ModerateInput{Action: "publish"})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("mail failure does not fail the approval", func(t *testing.T) {
		post := f.create(t, f.writer)
		f.sender.err = errors.New("smtp down")
		defer func() { f.sender.err = nil }()
		_, err := f.svc.Approve(ctx, post.ID)
		assert.NoError(t, err)
	})
}

func TestModerate_ConcurrentReviewsHaveOneWinner(t *testing.T) {
	f := newTestPostService(t)
	post := f.create(t, f.writer)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.Approve(context.Background(), post.ID)
			} else {
				_, err = f.svc.Reject(context.Background(), post.ID, "no")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	// Reject → approve is allowed, so up to two calls may succeed, but never
	// more, and every other call must be a clean conflict.
	assert.GreaterOrEqual(t, successes, 1)
	assert.LessOrEqual(t, successes, 2)
	assert.Equal(t, 8, successes+conflicts)
}

func TestModerate_Feature(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()
	post := f.create(t, f.admin)

	got, msg, err := f.svc.Moderate(ctx, f.admin, post.ID, ModerateInput{Action: ActionFeature})
	require.NoError(t, err)
	assert.True(t, got.Featured)
	assert.Equal(t, "Post featured successfully!", msg)

	off := false
	got, msg, err = f.svc.Moderate(ctx, f.admin, post.ID, ModerateInput{Action: ActionFeature, Featured: &off})
	require.NoError(t, err)
	assert.False(t, got.Featured)
	assert.Equal(t, "Post unfeatured", msg)
}

func TestDeletePost(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()
	post := f.create(t, f.writer)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.writer, post.ID), apperror.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, f.admin, post.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, post.ID), apperror.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, ""), apperror.ErrValidation)
}

func TestPostStats(t *testing.T) {
	f := newTestPostService(t)
	ctx := context.Background()
	for range 6 {
		f.create(t, f.writer)
	}
	f.create(t, f.admin)

	stats, err := f.svc.Stats(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalPosts)
	assert.Equal(t, 6, stats.PendingReview)
	assert.Equal(t, 1, stats.Approved)
	assert.Len(t, stats.RecentActivity, 5)

	_, err = f.svc.Stats(ctx, f.writer)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}
