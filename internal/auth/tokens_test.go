package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueThenValidate(t *testing.T) {
	t.Parallel()

	m := NewTokenManager([]byte("k"), "tandem", time.Hour)
	token, exp, err := m.Issue("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	userID, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestTokenManager_Issue_RejectsEmptyUser(t *testing.T) {
	t.Parallel()

	_, _, err := NewTokenManager([]byte("k"), "tandem", time.Hour).Issue("")
	assert.Error(t, err)
}

func TestTokenManager_Validate_RejectsWrongSecret(t *testing.T) {
	t.Parallel()

	token, _, err := NewTokenManager([]byte("a"), "tandem", time.Hour).Issue("user-1")
	require.NoError(t, err)

	_, err = NewTokenManager([]byte("b"), "tandem", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Validate_RejectsOtherIssuer(t *testing.T) {
	t.Parallel()

	token, _, err := NewTokenManager([]byte("k"), "someone-else", time.Hour).Issue("user-1")
	require.NoError(t, err)

	_, err = NewTokenManager([]byte("k"), "tandem", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Validate_RejectsExpired(t *testing.T) {
	t.Parallel()

	m := NewTokenManager([]byte("k"), "tandem", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := m.Issue("user-1")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Validate_RejectsOtherAlgorithm(t *testing.T) {
	t.Parallel()

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "tandem",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = NewTokenManager([]byte("k"), "tandem", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Validate_RejectsMissingSubject(t *testing.T) {
	t.Parallel()

	claims := jwt.RegisteredClaims{
		Issuer:    "tandem",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = NewTokenManager([]byte("k"), "tandem", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Validate_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewTokenManager([]byte("k"), "tandem", time.Hour).Validate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
