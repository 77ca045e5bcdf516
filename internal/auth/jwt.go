// Package auth issues and checks bearer tokens and password hashes.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. Client POSTs email + password to /api/auth/login
//  2. Server verifies the bcrypt hash and issues a signed JWT
//  3. Client sends "Authorization: Bearer <jwt>" on every protected call
//  4. Middleware validates the JWT and puts the Claims in the request context
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"userId":"...","email":"...","name":"...","role":"...","sub":"...","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The server can verify the signature without any DB lookup, just the secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/inmyopinion/internal/model"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 7 * 24 * time.Hour

	issuer = "inmyopinion"
)

// ErrInvalidToken is the only error Validate returns to callers.
// Expired, tampered, wrong-issuer and malformed tokens all look the same
// from the outside; the underlying reason is attached for logging only.
var ErrInvalidToken = errors.New("invalid token")

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
// A zero ttl means DefaultTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Claims is the JWT payload. The identity fields are duplicated in
// custom claims because clients decode them directly; Subject carries the
// same user ID for anything that only understands registered claims.
type Claims struct {
	UserID string     `json:"userId"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Generate signs a token for user that expires after the configured TTL.
func (s *TokenService) Generate(user *model.User) (string, error) {
	return s.GenerateWithDuration(user, s.ttl)
}

// GenerateWithDuration creates a token with a custom expiry duration.
// Used in tests to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(user *model.User, d time.Duration) (string, error) {
	now := s.now()

	c := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a JWT string and returns its claims.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired, and carries an expiry at all
//   - Issuer matches (prevents tokens minted for other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// Every failure wraps ErrInvalidToken.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	c := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if c.UserID == "" || c.UserID != c.Subject {
		return nil, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	return c, nil
}
