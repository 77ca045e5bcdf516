package service

// AuthService is the business logic layer for accounts:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// KEY RESPONSIBILITIES:
//   - Registration rules (field validation, password strength, role choice)
//   - Credential checks on login, with one generic failure message
//   - Profile reads and partial updates
//   - Admin seeding for the create-admin command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/auth"
	"github.com/sakif/inmyopinion/internal/mail"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/repository"
)

// TrialPeriod is how long a newly registered writer may publish before
// they need a paid plan.
const TrialPeriod = 14 * 24 * time.Hour

const (
	msgWelcomeReader = "Welcome to InMyOpinion!"
	msgWelcomeWriter = "Welcome to InMyOpinion Writers! Your 14-day free trial has started."
	msgWelcomeAdmin  = "Welcome back! Your admin account is ready."

	msgBadCredentials = "Invalid email or password"
	msgEmailTaken     = "An account with this email already exists"
)

// AuthConfig carries the deployment-specific knobs of AuthService.
type AuthConfig struct {
	// AdminEmail registers as admin with an active subscription.
	// Empty disables the rule.
	AdminEmail string
	// SiteURL is linked from the welcome email.
	SiteURL string
}

// AuthService handles registration, login and profiles.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mailer    mail.Sender
	cfg       AuthConfig
	logger    *slog.Logger
	now       Clock
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mailer mail.Sender,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		mailer:    mailer,
		cfg:       cfg,
		logger:    logger,
		now:       systemClock,
	}
}

// AuthResult is returned by Register and Login: the account, a fresh bearer
// token and the message the client shows.
type AuthResult struct {
	User    *model.User
	Token   string
	Message string
}

// RegisterInput is the registration form. WriterType "writer" asks for a
// writer account with a free trial; anything else registers a reader.
type RegisterInput struct {
	Name       string `json:"name" label:"Name" validate:"required,min=2,max=50"`
	Email      string `json:"email" label:"Email" validate:"required,email"`
	Password   string `json:"password" label:"Password" validate:"required"`
	WriterType string `json:"writerType"`
}

// Register creates an account and signs it in.
//
// ROLE SELECTION:
//   - the configured admin email → admin, subscription active
//   - writerType "writer"        → free_writer, 14-day trial
//   - everyone else              → reader
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	verr := validate.Struct(in)
	var weak []string
	if in.Password != "" {
		weak = auth.CheckStrength(in.Password)
	}
	if verr != nil || len(weak) > 0 {
		return nil, invalid(verr, weak...)
	}

	hash, err := s.passwords.Hash(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	now := s.now()
	user := &model.User{
		Email:              in.Email,
		Name:               in.Name,
		PasswordHash:       hash,
		Role:               model.RoleReader,
		SubscriptionStatus: model.SubscriptionNone,
		EmailVerified:      true,
	}
	message := msgWelcomeReader
	switch {
	case s.cfg.AdminEmail != "" && strings.EqualFold(in.Email, s.cfg.AdminEmail):
		user.Role = model.RoleAdmin
		user.SubscriptionStatus = model.SubscriptionActive
		message = msgWelcomeAdmin
	case in.WriterType == "writer":
		end := now.Add(TrialPeriod)
		user.Role = model.RoleFreeWriter
		user.SubscriptionStatus = model.SubscriptionTrial
		user.SubscriptionEnd = &end
		message = msgWelcomeWriter
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.ConflictMsg(msgEmailTaken)
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("role", string(user.Role)),
	)

	data := mail.WelcomeData{Name: user.Name, SiteURL: s.cfg.SiteURL}
	if user.SubscriptionEnd != nil {
		data.TrialEnd = user.SubscriptionEnd.Format("January 2, 2006")
	}
	msg, merr := mail.Welcome(user.Email, message, data)
	notify(ctx, s.mailer, s.logger, msg, merr)

	return &AuthResult{User: user, Token: token, Message: message}, nil
}

type LoginInput struct {
	Email    string `json:"email" label:"Email" validate:"required,email"`
	Password string `json:"password" label:"Password" validate:"required"`
}

// Login checks the credentials and issues a token.
//
// An unknown email and a wrong password produce the same 401, so the
// endpoint does not reveal which addresses have accounts.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", in.Email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("password verification failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.Unauthorized(msgBadCredentials)
	}

	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{
		User:    user,
		Token:   token,
		Message: fmt.Sprintf("Welcome back, %s!", user.Name),
	}, nil
}

// Me returns the account behind a validated token.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Invalid token")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	return user, nil
}

// ProfileInput is a partial profile update. Absent (nil) fields are left
// alone; present fields are trimmed and an empty value clears the field.
type ProfileInput struct {
	Name     *string `json:"name"`
	Bio      *string `json:"bio"`
	Website  *string `json:"website"`
	Twitter  *string `json:"twitter"`
	LinkedIn *string `json:"linkedin"`
	GitHub   *string `json:"github"`
}

// UpdateProfile applies in to the caller's profile. A name shorter than two
// characters is ignored rather than rejected, because the name can never be
// cleared.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}

	upd := model.ProfileUpdate{
		Bio:      trim(in.Bio),
		Website:  trim(in.Website),
		Twitter:  trim(in.Twitter),
		LinkedIn: trim(in.LinkedIn),
		GitHub:   trim(in.GitHub),
	}
	if name := trim(in.Name); name != nil && len([]rune(*name)) >= 2 {
		upd.Name = name
	}

	user, err := s.users.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return nil, fmt.Errorf("service/auth: updating profile %s: %w", userID, err)
	}
	return user, nil
}

// EnsureAdmin makes email an admin account with an active subscription.
// An existing account is promoted in place; otherwise one is created with
// the given name and password. Used by the create-admin command.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.users.SetRole(ctx, existing.ID, model.RoleAdmin); err != nil {
			return nil, fmt.Errorf("service/auth: promoting %s: %w", email, err)
		}
		if err := s.users.SetSubscription(ctx, existing.ID, model.SubscriptionActive, nil); err != nil {
			return nil, fmt.Errorf("service/auth: activating %s: %w", email, err)
		}
		s.logger.Info("existing user promoted to admin", slog.String("userID", existing.ID))
		return s.users.GetByID(ctx, existing.ID)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	in := RegisterInput{Name: strings.TrimSpace(name), Email: email, Password: password}
	verr := validate.Struct(in)
	var weak []string
	if password != "" {
		weak = auth.CheckStrength(password)
	}
	if verr != nil || len(weak) > 0 {
		return nil, invalid(verr, weak...)
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Email:              email,
		Name:               in.Name,
		PasswordHash:       hash,
		Role:               model.RoleAdmin,
		SubscriptionStatus: model.SubscriptionActive,
		EmailVerified:      true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating admin: %w", err)
	}
	s.logger.Info("admin account created", slog.String("userID", user.ID))
	return user, nil
}
