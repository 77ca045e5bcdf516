package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/repository"
)

const (
	topTagsLimit     = 5
	recentPostsLimit = 5
)

// AuthorAnalytics summarises one writer's posts.
type AuthorAnalytics struct {
	TotalPosts     int          `json:"totalPosts"`
	PublishedPosts int          `json:"publishedPosts"`
	PendingPosts   int          `json:"pendingPosts"`
	RejectedPosts  int          `json:"rejectedPosts"`
	DraftPosts     int          `json:"draftPosts"`
	TotalViews     int          `json:"totalViews"`
	TotalLikes     int          `json:"totalLikes"`
	AvgReadTime    float64      `json:"avgReadTime"`
	TopTags        []TagCount   `json:"topTags"`
	RecentPosts    []PostDigest `json:"recentPosts"`
	Engagement     Engagement   `json:"engagement"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// PostDigest is the short form of a post used in dashboards.
type PostDigest struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Status      model.PostStatus `json:"status"`
	Views       int              `json:"views"`
	Likes       int              `json:"likes"`
	PublishedAt *time.Time       `json:"publishedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Engagement ratios are per published post; the rate is likes per hundred
// views. All are rounded to one decimal and zero when undefined.
type Engagement struct {
	LikesPerPost   float64 `json:"likesPerPost"`
	ViewsPerPost   float64 `json:"viewsPerPost"`
	EngagementRate float64 `json:"engagementRate"`
}

type AnalyticsService struct {
	posts  repository.PostRepository
	logger *slog.Logger
}

func NewAnalyticsService(posts repository.PostRepository, logger *slog.Logger) *AnalyticsService {
	return &AnalyticsService{posts: posts, logger: logger}
}

// ForAuthor computes analytics over every post the viewer has written.
func (s *AnalyticsService) ForAuthor(ctx context.Context, viewer Viewer) (*AuthorAnalytics, error) {
	if viewer.Anonymous() {
		return nil, apperror.Unauthorized("No token provided")
	}
	if !viewer.Role.IsWriter() {
		return nil, apperror.Forbidden("Writer access required")
	}

	posts, err := s.posts.List(ctx, repository.PostFilter{
		AuthorID:    viewer.ID,
		ListOptions: repository.ListOptions{Limit: -1},
	})
	if err != nil {
		return nil, fmt.Errorf("service/analytics: listing posts of %s: %w", viewer.ID, err)
	}
	return summarise(posts), nil
}

// summarise expects posts newest first, as the repository returns them.
func summarise(posts []model.Post) *AuthorAnalytics {
	out := &AuthorAnalytics{
		TotalPosts:  len(posts),
		TopTags:     []TagCount{},
		RecentPosts: []PostDigest{},
	}

	tags := map[string]int{}
	readTime := 0
	for _, p := range posts {
		switch p.Status {
		case model.PostApproved:
			out.PublishedPosts++
		case model.PostPending:
			out.PendingPosts++
		case model.PostRejected:
			out.RejectedPosts++
		case model.PostDraft:
			out.DraftPosts++
		}
		out.TotalViews += p.Views
		out.TotalLikes += p.Likes
		readTime += p.ReadTime
		for _, t := range p.Tags {
			tags[t]++
		}
		if len(out.RecentPosts) < recentPostsLimit {
			out.RecentPosts = append(out.RecentPosts, PostDigest{
				ID:          p.ID,
				Title:       p.Title,
				Status:      p.Status,
				Views:       p.Views,
				Likes:       p.Likes,
				PublishedAt: p.PublishedAt,
				CreatedAt:   p.CreatedAt,
			})
		}
	}

	for tag, n := range tags {
		out.TopTags = append(out.TopTags, TagCount{Tag: tag, Count: n})
	}
	slices.SortFunc(out.TopTags, func(a, b TagCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	if len(out.TopTags) > topTagsLimit {
		out.TopTags = out.TopTags[:topTagsLimit]
	}

	out.AvgReadTime = ratio(readTime, len(posts), 1)
	out.Engagement = Engagement{
		LikesPerPost:   ratio(out.TotalLikes, out.PublishedPosts, 1),
		ViewsPerPost:   ratio(out.TotalViews, out.PublishedPosts, 1),
		EngagementRate: ratio(out.TotalLikes, out.TotalViews, 100),
	}
	return out
}

// ratio returns scale*num/den rounded to one decimal, or 0 when den is 0.
func ratio(num, den int, scale float64) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*scale*10) / 10
}
