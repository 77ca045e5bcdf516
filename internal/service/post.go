package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/content"
	"github.com/sakif/inmyopinion/internal/mail"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/policy"
	"github.com/sakif/inmyopinion/internal/repository"
)

// Post list paging.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// recentPending is how many review-queue posts the admin stats carry.
	recentPending = 5
)

// Viewer is whoever is making the request. The zero Viewer is anonymous.
type Viewer struct {
	ID   string
	Role model.Role
}

func (v Viewer) Anonymous() bool { return v.ID == "" }

// PostService owns blog posts: authoring, visibility and moderation.
//
// DEPENDENCIES (injected via NewPostService):
//   - posts  repository.PostRepository          → post storage, atomic transitions
//   - users  repository.UserRepository          → author lookups for gating and email
//   - subs   repository.SubscriptionRepository  → provider mirror for gating
//   - mailer mail.Sender                        → best-effort review notifications
type PostService struct {
	posts   repository.PostRepository
	users   repository.UserRepository
	subs    repository.SubscriptionRepository
	mailer  mail.Sender
	siteURL string
	logger  *slog.Logger
	now     Clock
}

func NewPostService(
	posts repository.PostRepository,
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	mailer mail.Sender,
	siteURL string,
	logger *slog.Logger,
) *PostService {
	return &PostService{
		posts:   posts,
		users:   users,
		subs:    subs,
		mailer:  mailer,
		siteURL: strings.TrimRight(siteURL, "/"),
		logger:  logger,
		now:     systemClock,
	}
}

// CreatePostInput is the authoring form.
type CreatePostInput struct {
	Title         string   `json:"title" label:"Title" validate:"required,min=5,max=100"`
	Content       string   `json:"content" label:"Content" validate:"required,min=100"`
	Tags          []string `json:"tags" label:"Tags" validate:"max=10"`
	FeaturedImage string   `json:"featuredImage" label:"Featured image" validate:"omitempty,url"`
	IsDraft       bool     `json:"isDraft"`
}

// Create stores a new post authored by viewer.
//
// RESULTING STATUS:
//   - isDraft            → draft
//   - admin, not a draft → approved and published immediately
//   - writer, not draft  → pending, waiting in the review queue
//
// The returned message is the one the client shows for that status.
func (s *PostService) Create(ctx context.Context, viewer Viewer, in CreatePostInput) (*model.Post, string, error) {
	if viewer.Anonymous() {
		return nil, "", apperror.Unauthorized("No token provided")
	}
	if !viewer.Role.IsWriter() {
		return nil, "", apperror.Forbidden("You need a writer account to create posts")
	}

	// The token's role may be up to a week old; the stored account decides.
	author, err := s.users.GetByID(ctx, viewer.ID)
	if err != nil {
		return nil, "", fmt.Errorf("service/post: loading author %s: %w", viewer.ID, err)
	}
	sub, err := s.subscriptionOf(ctx, author.ID)
	if err != nil {
		return nil, "", err
	}
	if !policy.CanAuthor(author.Role, policy.HasActiveSubscription(author, sub, s.now())) {
		return nil, "", apperror.Forbidden("An active subscription is required to create posts")
	}

	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.FeaturedImage = strings.TrimSpace(in.FeaturedImage)
	if err := validate.Struct(in); err != nil {
		return nil, "", invalid(err)
	}

	post := &model.Post{
		Title:         in.Title,
		Content:       in.Content,
		Excerpt:       content.Excerpt(in.Content),
		AuthorID:      author.ID,
		AuthorName:    author.Name,
		Tags:          cleanTags(in.Tags),
		FeaturedImage: in.FeaturedImage,
		ReadTime:      content.ReadTime(in.Content),
	}
	switch {
	case in.IsDraft:
		post.Status = model.PostDraft
	case author.Role == model.RoleAdmin:
		post.Status = model.PostApproved
	default:
		post.Status = model.PostPending
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, "", fmt.Errorf("service/post: creating post: %w", err)
	}

	s.logger.Info("post created",
		slog.String("postID", post.ID),
		slog.String("authorID", author.ID),
		slog.String("status", string(post.Status)),
	)

	return post, createdMessage(post.Status), nil
}

func createdMessage(status model.PostStatus) string {
	switch status {
	case model.PostPending:
		return "Blog post submitted for review! It will be reviewed soon."
	case model.PostDraft:
		return "Blog post saved as draft."
	case model.PostApproved:
		return "Blog post published successfully!"
	}
	return "Blog post created successfully!"
}

// cleanTags trims every tag and drops the empty ones.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// subscriptionOf returns the provider mirror for a user, or nil if the user
// never subscribed.
func (s *PostService) subscriptionOf(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/post: loading subscription of %s: %w", userID, err)
	}
	return sub, nil
}

// ListQuery are the filters a client may pass to a post listing.
type ListQuery struct {
	Status   model.PostStatus
	AuthorID string
	Tag      string
	Featured *bool
	Limit    int
	Offset   int
}

// PostPage is one page of a listing plus the total number of matches.
type PostPage struct {
	Posts  []model.Post `json:"posts"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// List returns the posts matching q that viewer is allowed to see.
//
// VISIBILITY:
//   - admin:     everything, filters as given
//   - signed in: approved posts plus their own posts in any state; asking for
//     a non-approved status only ever returns their own posts
//   - anonymous: approved posts only
func (s *PostService) List(ctx context.Context, viewer Viewer, q ListQuery) (*PostPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("Unknown status %q", q.Status))
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	offset := max(q.Offset, 0)

	f := repository.PostFilter{
		Status:      q.Status,
		AuthorID:    q.AuthorID,
		Tag:         q.Tag,
		Featured:    q.Featured,
		ListOptions: repository.ListOptions{Limit: limit, Offset: offset},
	}

	switch {
	case viewer.Role == model.RoleAdmin:
	case viewer.Anonymous():
		if q.Status != "" && q.Status != model.PostApproved {
			return &PostPage{Posts: []model.Post{}, Limit: limit, Offset: offset}, nil
		}
		f.Status = model.PostApproved
	case q.Status == model.PostApproved:
	case q.Status != "":
		f.AuthorID = viewer.ID
	default:
		f.VisibleTo = viewer.ID
	}

	posts, err := s.posts.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("service/post: listing posts: %w", err)
	}
	total, err := s.posts.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("service/post: counting posts: %w", err)
	}
	return &PostPage{Posts: posts, Total: total, Limit: limit, Offset: offset}, nil
}

// Get returns a single post. A post the viewer may not read is reported as
// not found, so its existence is not leaked. Reading an approved post that
// someone else wrote counts a view.
func (s *PostService) Get(ctx context.Context, viewer Viewer, id string) (*model.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/post: fetching post %s: %w", id, err)
	}
	if !policy.CanRead(post, viewer.ID, viewer.Role) {
		return nil, apperror.NotFound("post", id)
	}

	if post.Status == model.PostApproved && post.AuthorID != viewer.ID {
		if err := s.posts.IncrementViews(ctx, id); err != nil {
			s.logger.Warn("counting view failed",
				slog.String("postID", id),
				slog.String("error", err.Error()),
			)
		} else {
			post.Views++
		}
	}
	return post, nil
}

// Like adds one like to an approved post and returns the new count.
func (s *PostService) Like(ctx context.Context, viewer Viewer, id string) (int, error) {
	if viewer.Anonymous() {
		return 0, apperror.Unauthorized("No token provided")
	}
	likes, err := s.posts.IncrementLikes(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("service/post: liking post %s: %w", id, err)
	}
	return likes, nil
}

// Moderation actions accepted by Moderate.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionFeature = "feature"
)

// ModerateInput is the admin review form.
type ModerateInput struct {
	Action          string `json:"action"`
	RejectionReason string `json:"rejectionReason"`
	Featured        *bool  `json:"featured"`
}

// Moderate dispatches an admin action on a post and returns the updated
// post with the message the client shows.
func (s *PostService) Moderate(ctx context.Context, viewer Viewer, id string, in ModerateInput) (*model.Post, string, error) {
	if !policy.CanModerate(viewer.Role) {
		return nil, "", apperror.Forbidden("Admin access required")
	}
	if id == "" {
		return nil, "", apperror.ValidationFailed("postId", "Post ID is required")
	}

	switch in.Action {
	case ActionApprove:
		post, err := s.Approve(ctx, id)
		return post, "Post approved and published successfully!", err
	case ActionReject:
		post, err := s.Reject(ctx, id, in.RejectionReason)
		return post, "Post rejected with feedback", err
	case ActionFeature:
		featured := in.Featured == nil || *in.Featured
		post, err := s.Feature(ctx, id, featured)
		msg := "Post unfeatured"
		if featured {
			msg = "Post featured successfully!"
		}
		return post, msg, err
	}
	return nil, "", apperror.ValidationFailed("action", "Invalid action")
}

// Approve publishes a pending post, or reverses an earlier rejection.
func (s *PostService) Approve(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.posts.Transition(ctx, id, repository.Transition{
		From: []model.PostStatus{model.PostPending, model.PostRejected},
		To:   model.PostApproved,
		At:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("service/post: approving %s: %w", id, err)
	}
	s.logger.Info("post approved", slog.String("postID", id))
	s.notifyAuthor(ctx, post, true)
	return post, nil
}

// Reject sends a pending post back to its author with a reason.
func (s *PostService) Reject(ctx context.Context, id, reason string) (*model.Post, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.ValidationFailed("rejectionReason", "Rejection reason is required")
	}
	post, err := s.posts.Transition(ctx, id, repository.Transition{
		From:            []model.PostStatus{model.PostPending},
		To:              model.PostRejected,
		At:              s.now(),
		RejectionReason: reason,
	})
	if err != nil {
		return nil, fmt.Errorf("service/post: rejecting %s: %w", id, err)
	}
	s.logger.Info("post rejected", slog.String("postID", id))
	s.notifyAuthor(ctx, post, false)
	return post, nil
}

func (s *PostService) Feature(ctx context.Context, id string, featured bool) (*model.Post, error) {
	post, err := s.posts.SetFeatured(ctx, id, featured, s.now())
	if err != nil {
		return nil, fmt.Errorf("service/post: featuring %s: %w", id, err)
	}
	return post, nil
}

// Delete removes a post in any state. There is no undo.
func (s *PostService) Delete(ctx context.Context, viewer Viewer, id string) error {
	if !policy.CanModerate(viewer.Role) {
		return apperror.Forbidden("Admin access required")
	}
	if id == "" {
		return apperror.ValidationFailed("postId", "Post ID is required")
	}
	if err := s.posts.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/post: deleting %s: %w", id, err)
	}
	s.logger.Info("post deleted", slog.String("postID", id))
	return nil
}

// Stats is the admin dashboard summary.
func (s *PostService) Stats(ctx context.Context, viewer Viewer) (*model.PostStats, error) {
	if !policy.CanModerate(viewer.Role) {
		return nil, apperror.Forbidden("Admin access required")
	}
	stats, err := s.posts.Stats(ctx, recentPending)
	if err != nil {
		return nil, fmt.Errorf("service/post: computing stats: %w", err)
	}
	return stats, nil
}

// notifyAuthor emails the author about a review decision. Admins reviewing
// their own posts are not emailed.
func (s *PostService) notifyAuthor(ctx context.Context, post *model.Post, approved bool) {
	author, err := s.users.GetByID(ctx, post.AuthorID)
	if err != nil {
		s.logger.Warn("review email skipped: author lookup failed",
			slog.String("postID", post.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if author.Role == model.RoleAdmin {
		return
	}
	msg, merr := mail.PostReviewed(author.Email, mail.PostReviewedData{
		AuthorName: author.Name,
		Title:      post.Title,
		Approved:   approved,
		Reason:     post.RejectionReason,
		PostURL:    s.siteURL + "/blog/" + post.ID,
	})
	notify(ctx, s.mailer, s.logger, msg, merr)
}
