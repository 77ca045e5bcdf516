package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/mail"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/payment"
	"github.com/sakif/inmyopinion/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory implementations of the repository and gateway
// interfaces. They follow the same contracts as the sqlite package
// (NotFound/Conflict errors, counters) but keep everything in maps so the
// service tests stay fast and readable.

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	// set to simulate a database failure
	getErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*model.User{}}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.ConflictMsg("User already exists with this email")
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = testNow
	user.UpdatedAt = testNow
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	out := *u
	return &out, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user not found"}
}

func (f *fakeUserRepo) UpdateProfile(_ context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&u.Name, upd.Name)
	set(&u.Bio, upd.Bio)
	set(&u.Website, upd.Website)
	set(&u.Twitter, upd.Twitter)
	set(&u.LinkedIn, upd.LinkedIn)
	set(&u.GitHub, upd.GitHub)
	out := *u
	return &out, nil
}

func (f *fakeUserRepo) SetRole(_ context.Context, id string, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.Role = role
	return nil
}

func (f *fakeUserRepo) SetSubscription(_ context.Context, id string, status model.SubscriptionStatus, end *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.SubscriptionStatus = status
	u.SubscriptionEnd = end
	return nil
}

func (f *fakeUserRepo) ExpireTrials(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, u := range f.users {
		if u.SubscriptionStatus == model.SubscriptionTrial && u.SubscriptionEnd != nil && u.SubscriptionEnd.Before(now) {
			u.SubscriptionStatus = model.SubscriptionNone
			n++
		}
	}
	return n, nil
}

// add stores a user directly, bypassing Create's ID assignment.
func (f *fakeUserRepo) add(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := u
	f.users[u.ID] = &stored
	return &u
}

type fakePostRepo struct {
	mu     sync.Mutex
	posts  map[string]*model.Post
	users  *fakeUserRepo
	nextID int
	seq    time.Duration
}

func newFakePostRepo(users *fakeUserRepo) *fakePostRepo {
	return &fakePostRepo{posts: map[string]*model.Post{}, users: users}
}

func (f *fakePostRepo) Create(_ context.Context, post *model.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.seq += time.Second
	post.ID = fmt.Sprintf("post-%02d", f.nextID)
	post.CreatedAt = testNow.Add(f.seq)
	post.UpdatedAt = post.CreatedAt
	if post.Status == model.PostApproved {
		at := post.CreatedAt
		post.PublishedAt = &at
	}
	stored := *post
	f.posts[post.ID] = &stored

	f.users.mu.Lock()
	if u, ok := f.users.users[post.AuthorID]; ok {
		u.TotalPosts++
		if post.Status == model.PostApproved {
			u.ApprovedPosts++
		}
	}
	f.users.mu.Unlock()
	return nil
}

func (f *fakePostRepo) GetByID(_ context.Context, id string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, apperror.NotFound("post", id)
	}
	out := *p
	return &out, nil
}

func (f *fakePostRepo) matching(flt repository.PostFilter) []model.Post {
	var out []model.Post
	for _, p := range f.posts {
		if flt.Status != "" && p.Status != flt.Status {
			continue
		}
		if flt.AuthorID != "" && p.AuthorID != flt.AuthorID {
			continue
		}
		if flt.VisibleTo != "" && p.Status != model.PostApproved && p.AuthorID != flt.VisibleTo {
			continue
		}
		if flt.Tag != "" && !slices.Contains(p.Tags, flt.Tag) {
			continue
		}
		if flt.Featured != nil && p.Featured != *flt.Featured {
			continue
		}
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b model.Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

func (f *fakePostRepo) List(_ context.Context, flt repository.PostFilter) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.matching(flt)
	if flt.Offset >= len(all) {
		return []model.Post{}, nil
	}
	all = all[flt.Offset:]
	if flt.Limit > 0 && flt.Limit < len(all) {
		all = all[:flt.Limit]
	}
	return all, nil
}

func (f *fakePostRepo) Count(_ context.Context, flt repository.PostFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.matching(flt)), nil
}

func (f *fakePostRepo) Transition(_ context.Context, id string, t repository.Transition) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, apperror.NotFound("post", id)
	}
	if !slices.Contains(t.From, p.Status) {
		return nil, apperror.ConflictMsg(fmt.Sprintf("Post is %s and cannot be %s", p.Status, t.To))
	}
	p.Status = t.To
	p.UpdatedAt = t.At
	switch t.To {
	case model.PostApproved:
		at := t.At
		p.PublishedAt = &at
	case model.PostRejected:
		p.PublishedAt = nil
		p.RejectionReason = t.RejectionReason
	}
	out := *p
	return &out, nil
}

func (f *fakePostRepo) SetFeatured(_ context.Context, id string, featured bool, at time.Time) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, apperror.NotFound("post", id)
	}
	p.Featured = featured
	p.UpdatedAt = at
	out := *p
	return &out, nil
}

func (f *fakePostRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.posts[id]; !ok {
		return apperror.NotFound("post", id)
	}
	delete(f.posts, id)
	return nil
}

func (f *fakePostRepo) IncrementViews(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.Status != model.PostApproved {
		return apperror.NotFound("post", id)
	}
	p.Views++
	return nil
}

func (f *fakePostRepo) IncrementLikes(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.Status != model.PostApproved {
		return 0, apperror.NotFound("post", id)
	}
	p.Likes++
	return p.Likes, nil
}

func (f *fakePostRepo) Stats(_ context.Context, recent int) (*model.PostStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &model.PostStats{TotalPosts: len(f.posts)}
	for _, p := range f.posts {
		switch p.Status {
		case model.PostPending:
			st.PendingReview++
		case model.PostApproved:
			st.Approved++
		case model.PostRejected:
			st.Rejected++
		case model.PostDraft:
			st.Drafts++
		}
		st.TotalViews += p.Views
		st.TotalLikes += p.Likes
	}
	pending := f.matching(repository.PostFilter{Status: model.PostPending})
	if len(pending) > recent {
		pending = pending[:recent]
	}
	st.RecentActivity = pending
	return st, nil
}

type fakeSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription // keyed by user id
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: map[string]*model.Subscription{}}
}

func (f *fakeSubscriptionRepo) Upsert(_ context.Context, sub *model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *sub
	f.subs[sub.UserID] = &stored
	return nil
}

func (f *fakeSubscriptionRepo) find(match func(*model.Subscription) bool, key string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if match(s) {
			out := *s
			return &out, nil
		}
	}
	return nil, apperror.NotFound("subscription", key)
}

func (f *fakeSubscriptionRepo) GetByUserID(_ context.Context, userID string) (*model.Subscription, error) {
	return f.find(func(s *model.Subscription) bool { return s.UserID == userID }, userID)
}

func (f *fakeSubscriptionRepo) GetByCustomerID(_ context.Context, customerID string) (*model.Subscription, error) {
	return f.find(func(s *model.Subscription) bool { return s.CustomerID == customerID }, customerID)
}

func (f *fakeSubscriptionRepo) GetBySubscriptionID(_ context.Context, id string) (*model.Subscription, error) {
	return f.find(func(s *model.Subscription) bool { return s.SubscriptionID == id }, id)
}

func (f *fakeSubscriptionRepo) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[userID]; !ok {
		return apperror.NotFound("subscription", userID)
	}
	delete(f.subs, userID)
	return nil
}

type fakeSubscriberRepo struct {
	mu   sync.Mutex
	subs map[string]model.Subscriber
}

func newFakeSubscriberRepo() *fakeSubscriberRepo {
	return &fakeSubscriberRepo{subs: map[string]model.Subscriber{}}
}

func (f *fakeSubscriberRepo) Add(_ context.Context, sub *model.Subscriber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub.Email]; ok {
		return apperror.ConflictMsg("Email already subscribed")
	}
	f.subs[sub.Email] = *sub
	return nil
}

func (f *fakeSubscriberRepo) Stats(_ context.Context, since time.Time) (*model.SubscriberStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &model.SubscriberStats{Total: len(f.subs)}
	for _, s := range f.subs {
		if s.Confirmed {
			st.Confirmed++
		}
		if !s.SubscribedAt.Before(since) {
			st.Recent++
		}
	}
	return st, nil
}

// recordingSender captures every message; err makes Send fail.
type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

// fakeGateway is a scripted payment.Gateway.
type fakeGateway struct {
	checkoutReq  payment.CheckoutRequest
	checkoutErr  error
	portalEmail  string
	portalErr    error
	subscription *payment.Subscription
	event        *payment.Event
	parseErr     error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	g.checkoutReq = req
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	return &payment.Session{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, email, _ string) (*payment.Session, error) {
	g.portalEmail = email
	if g.portalErr != nil {
		return nil, g.portalErr
	}
	return &payment.Session{ID: "bps_1", URL: "https://billing.example/bps_1"}, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*payment.Subscription, error) {
	if g.subscription == nil || g.subscription.ID != id {
		return nil, errors.New("no such subscription")
	}
	out := *g.subscription
	return &out, nil
}

func (g *fakeGateway) ParseWebhook(_ []byte, _ string) (*payment.Event, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.event, nil
}

var (
	_ repository.UserRepository         = (*fakeUserRepo)(nil)
	_ repository.PostRepository         = (*fakePostRepo)(nil)
	_ repository.SubscriptionRepository = (*fakeSubscriptionRepo)(nil)
	_ repository.SubscriberRepository   = (*fakeSubscriberRepo)(nil)
	_ mail.Sender                       = (*recordingSender)(nil)
	_ payment.Gateway                   = (*fakeGateway)(nil)
)
