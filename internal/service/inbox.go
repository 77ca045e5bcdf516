package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/mail"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/policy"
	"github.com/sakif/inmyopinion/internal/repository"
)

// recentWindow is what "recent" means in subscriber stats.
const recentWindow = 7 * 24 * time.Hour

// InboxService handles the two public forms: newsletter signup and the
// contact form. Both store or forward what the visitor typed and send a
// best-effort email.
type InboxService struct {
	subscribers repository.SubscriberRepository
	mailer      mail.Sender
	owner       string
	siteURL     string
	logger      *slog.Logger
	now         Clock
}

// NewInboxService wires the forms. owner receives contact form messages;
// an empty owner means messages are only logged.
func NewInboxService(
	subscribers repository.SubscriberRepository,
	mailer mail.Sender,
	owner, siteURL string,
	logger *slog.Logger,
) *InboxService {
	return &InboxService{
		subscribers: subscribers,
		mailer:      mailer,
		owner:       owner,
		siteURL:     siteURL,
		logger:      logger,
		now:         systemClock,
	}
}

type SubscribeInput struct {
	Email string `json:"email" label:"Email" validate:"required,email"`
	Name  string `json:"name" label:"Name" validate:"omitempty,min=2"`
}

// Subscribe adds an email to the newsletter. Subscriptions are confirmed
// on the spot; a repeated email is a conflict.
func (s *InboxService) Subscribe(ctx context.Context, in SubscribeInput) (*model.Subscriber, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}

	sub := &model.Subscriber{
		Email:        in.Email,
		Name:         in.Name,
		SubscribedAt: s.now(),
		Confirmed:    true,
	}
	if err := s.subscribers.Add(ctx, sub); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.ConflictMsg("This email is already subscribed to our newsletter.")
		}
		return nil, fmt.Errorf("service/inbox: adding subscriber: %w", err)
	}

	s.logger.Info("newsletter subscription", slog.String("email", sub.Email))

	msg, merr := mail.NewsletterWelcome(sub.Email, mail.NewsletterData{Name: sub.Name, SiteURL: s.siteURL})
	notify(ctx, s.mailer, s.logger, msg, merr)
	return sub, nil
}

// SubscriberStats reports list size, confirmed count and signups in the
// last seven days. Admin only.
func (s *InboxService) SubscriberStats(ctx context.Context, viewer Viewer) (*model.SubscriberStats, error) {
	if !policy.CanModerate(viewer.Role) {
		return nil, apperror.Forbidden("Admin access required")
	}
	stats, err := s.subscribers.Stats(ctx, s.now().Add(-recentWindow))
	if err != nil {
		return nil, fmt.Errorf("service/inbox: subscriber stats: %w", err)
	}
	return stats, nil
}

type ContactInput struct {
	Name    string `json:"name" label:"Name" validate:"required,min=2,max=100"`
	Email   string `json:"email" label:"Email" validate:"required,email"`
	Message string `json:"message" label:"Message" validate:"required,min=10,max=2000"`
}

const msgContactReceived = "Thank you! Your message has been received successfully. I'll get back to you soon!"

// Contact validates a contact form submission and forwards it to the site
// owner. The returned string is the confirmation shown to the visitor.
func (s *InboxService) Contact(ctx context.Context, in ContactInput) (string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Message = strings.TrimSpace(in.Message)
	if err := validate.Struct(in); err != nil {
		return "", invalid(err)
	}

	s.logger.Info("contact form submission",
		slog.String("email", in.Email),
		slog.Int("messageLength", len(in.Message)),
	)

	if s.owner == "" {
		return msgContactReceived, nil
	}
	msg, merr := mail.ContactNotification(s.owner, mail.ContactData{
		Name:    in.Name,
		Email:   in.Email,
		Message: in.Message,
	}, s.now())
	notify(ctx, s.mailer, s.logger, msg, merr)
	return msgContactReceived, nil
}
