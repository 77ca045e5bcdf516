// PASSWORD STORAGE:
// Accounts store only a bcrypt hash. bcrypt salts every hash and embeds the
// salt and the work factor in its output, so a single TEXT column is enough:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// The same rules are enforced for self-registration and for the
// create-admin command; see CheckStrength.

package auth

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is used when BCRYPT_COST is unset or out of range. Around
// 250ms per hash on current hardware.
const defaultCost = 12

// maxPasswordBytes is bcrypt's input limit. Longer input would be silently
// truncated, so it is rejected instead.
const maxPasswordBytes = 72

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

var (
	// ErrPasswordMismatch is returned by Verify when the password is wrong.
	ErrPasswordMismatch = errors.New("auth: invalid password")

	// ErrPasswordTooLong is returned by Hash for input over 72 bytes.
	ErrPasswordTooLong = fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
)

// PasswordService hashes and verifies account passwords.
//
// The cost lives on the struct so tests can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost lets configuration (BCRYPT_COST) pick the work
// factor. Values outside bcrypt's range fall back to the default.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultCost
	}
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest uses bcrypt's minimum cost. Tests only.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{cost: bcrypt.MinCost}
}

// CheckStrength returns a human-readable message for every rule the password
// breaks, or nil when it is acceptable: at least 8 characters with an
// uppercase letter, a lowercase letter and a digit.
func CheckStrength(plaintext string) []string {
	var problems []string
	if utf8.RuneCountInString(plaintext) < MinPasswordLength {
		problems = append(problems, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	var upper, lower, digit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		problems = append(problems, "Password must contain at least one uppercase letter, one lowercase letter, and one number")
	}
	return problems
}

// Hash returns the bcrypt hash to store in users.password_hash.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify compares plaintext with a stored hash in constant time.
// A wrong password is ErrPasswordMismatch; any other error means the stored
// hash itself is unusable.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	}
	return fmt.Errorf("auth: comparing password hash: %w", err)
}
