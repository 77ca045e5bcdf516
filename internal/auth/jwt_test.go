package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sakif/inmyopinion/internal/model"
)

// newTestTokenService creates a TokenService for testing.
// It uses a fixed, known secret so tests are deterministic.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", 0)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func testUser(id string) *model.User {
	return &model.User{ID: id, Email: id + "@example.com", Name: "Test " + id, Role: model.RoleFreeWriter}
}

// =========================================================================
// TOKEN SERVICE CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", 0); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_DefaultTTL(t *testing.T) {
	ts, err := NewTokenService("this-is-16-chars", 0)
	if err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
	if ts.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", ts.ttl, DefaultTTL)
	}
}

// =========================================================================
// GENERATE / VALIDATE TESTS
// =========================================================================

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate(testUser("user-123"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Generate() token doesn't look like a JWT: %q", token)
	}
}

func TestValidate_RoundTripCarriesIdentity(t *testing.T) {
	ts := newTestTokenService(t)
	user := testUser("user-abc")
	user.Role = model.RoleAdmin

	token, err := ts.Generate(user)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != user.ID || claims.Subject != user.ID {
		t.Errorf("UserID/Subject = %q/%q, want %q", claims.UserID, claims.Subject, user.ID)
	}
	if claims.Email != user.Email || claims.Name != user.Name {
		t.Errorf("Email/Name = %q/%q", claims.Email, claims.Name)
	}
	if claims.Role != model.RoleAdmin {
		t.Errorf("Role = %q, want admin", claims.Role)
	}
}

func TestValidate_ExpiresAfterSevenDays(t *testing.T) {
	ts := newTestTokenService(t)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return issued }

	token, err := ts.Generate(testUser("u1"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	ts.now = func() time.Time { return issued.Add(DefaultTTL - time.Minute) }
	if _, err := ts.Validate(token); err != nil {
		t.Fatalf("token should still be valid just before expiry: %v", err)
	}

	ts.now = func() time.Time { return issued.Add(DefaultTTL + time.Minute) }
	if _, err := ts.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate() after expiry error = %v, want ErrInvalidToken", err)
	}
}

// Every way a token can be bad must surface as the same ErrInvalidToken.
func TestValidate_FailuresAreUniform(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", 0)

	good, _ := ts.Generate(testUser("u1"))
	expired, _ := ts.GenerateWithDuration(testUser("u1"), -time.Second)
	foreign, _ := other.Generate(testUser("u1"))

	cases := map[string]string{
		"expired":      expired,
		"tampered":     good[:len(good)-3] + "xxx",
		"wrong secret": foreign,
		"empty":        "",
		"garbage":      "not.a.jwt.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ts.Validate(token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Validate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
