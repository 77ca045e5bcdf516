package model

import "time"

// PostStatus is the moderation state of a blog post.
//
//	draft ──(saved, terminal for now)
//	pending ──approve──▶ approved
//	pending ──reject───▶ rejected ──approve──▶ approved
//
// Admin submissions skip pending and are approved on creation.
type PostStatus string

const (
	PostDraft    PostStatus = "draft"
	PostPending  PostStatus = "pending"
	PostApproved PostStatus = "approved"
	PostRejected PostStatus = "rejected"
)

// Valid reports whether s is one of the known post states.
func (s PostStatus) Valid() bool {
	switch s {
	case PostDraft, PostPending, PostApproved, PostRejected:
		return true
	}
	return false
}

// Post represents a blog post and its moderation state.
// The `json:"..."` tags tell Go's encoding/json package how to serialize/deserialize
// this struct to/from JSON.
//
// PublishedAt is set iff Status == PostApproved. RejectionReason is set once a
// post has been rejected and is kept if the post is approved later.
type Post struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	Excerpt         string     `json:"excerpt"`
	AuthorID        string     `json:"authorId"`
	AuthorName      string     `json:"authorName"`
	Status          PostStatus `json:"status"`
	Tags            []string   `json:"tags"`
	FeaturedImage   string     `json:"featuredImage,omitempty"`
	Featured        bool       `json:"featured"`
	ReadTime        int        `json:"readTime"`
	Views           int        `json:"views"`
	Likes           int        `json:"likes"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
}

// PostStats is the admin dashboard summary.
type PostStats struct {
	TotalPosts     int    `json:"totalPosts"`
	PendingReview  int    `json:"pendingReview"`
	Approved       int    `json:"approved"`
	Rejected       int    `json:"rejected"`
	Drafts         int    `json:"drafts"`
	TotalViews     int    `json:"totalViews"`
	TotalLikes     int    `json:"totalLikes"`
	RecentActivity []Post `json:"recentActivity"`
}
