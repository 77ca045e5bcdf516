package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordService_HashAndVerify(t *testing.T) {
	ps := NewPasswordServiceForTest()

	cases := []struct {
		name     string
		password string
	}{
		{"registration form", "Sup3rSecret"},
		{"special characters", "p@$$W0rd!#%"},
		{"unicode", "Пароль-密码-9"},
		{"exactly 72 bytes", strings.Repeat("a", 72)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := ps.Hash(tc.password)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(hash, "$2"), "not a bcrypt hash: %q", hash)

			cost, err := bcrypt.Cost([]byte(hash))
			require.NoError(t, err)
			assert.Equal(t, bcrypt.MinCost, cost)

			assert.NoError(t, ps.Verify(hash, tc.password))
			wrong := "Z" + tc.password[1:]
			assert.ErrorIs(t, ps.Verify(hash, wrong), ErrPasswordMismatch)
		})
	}
}

func TestPasswordService_SaltIsRandom(t *testing.T) {
	ps := NewPasswordServiceForTest()

	first, err := ps.Hash("Sup3rSecret")
	require.NoError(t, err)
	second, err := ps.Hash("Sup3rSecret")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPasswordService_Rejects(t *testing.T) {
	ps := NewPasswordServiceForTest()

	_, err := ps.Hash(strings.Repeat("a", 73))
	assert.Error(t, err, "bcrypt would silently truncate past 72 bytes")

	hash, err := ps.Hash("Sup3rSecret")
	require.NoError(t, err)
	assert.Error(t, ps.Verify(hash, ""))

	err = ps.Verify("not-a-valid-bcrypt-hash", "Sup3rSecret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordMismatch, "a corrupt stored hash is not a wrong password")
}

func TestNewPasswordServiceWithCost_OutOfRangeFallsBack(t *testing.T) {
	for _, cost := range []int{0, 3, 32} {
		assert.Equal(t, defaultCost, NewPasswordServiceWithCost(cost).cost, "cost %d", cost)
	}
	assert.Equal(t, bcrypt.MinCost, NewPasswordServiceWithCost(bcrypt.MinCost).cost)
	assert.Equal(t, defaultCost, NewPasswordService().cost)
}

func TestCheckStrength(t *testing.T) {
	tests := []struct {
		name         string
		password     string
		wantProblems int
	}{
		{"strong", "Sup3rSecret", 0},
		{"too short", "Ab1", 1},
		{"no uppercase", "lowercase1", 1},
		{"no digit", "NoDigitsHere", 1},
		{"short and weak", "abc", 2},
		{"unicode letters count", "Ünïcödé9x", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, CheckStrength(tt.password), tt.wantProblems)
		})
	}
}
