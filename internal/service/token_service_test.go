package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamepulse/internal/model"
)

func newTestTokens() *TokenService {
	return NewTokenService("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
}

func TestTokenServiceRoundTrip(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens()
	user := model.User{ID: "u1", Username: "Coach1"}

	pair, err := tokens.IssuePair(user)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	access, err := tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", access.Subject)
	assert.Equal(t, "Coach1", access.Username)
	assert.Equal(t, "access", access.Type)
	assert.NotEmpty(t, access.TokenID)

	refresh, err := tokens.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refresh.Type)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), refresh.Expires, time.Minute)
}

func TestTokenServiceSecretsAreSeparate(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens()
	pair, err := tokens.IssuePair(model.User{ID: "u1", Username: "coach"})
	require.NoError(t, err)

	_, err = tokens.VerifyRefresh(pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	_, err = tokens.VerifyAccess(pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenInvalid)
}

func TestTokenServiceExpiry(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens()
	issuedAt := time.Now().Add(-time.Hour)
	tokens.now = func() time.Time { return issuedAt }

	pair, err := tokens.IssuePair(model.User{ID: "u1", Username: "coach"})
	require.NoError(t, err)

	tokens.now = time.Now

	_, err = tokens.VerifyAccess(pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)

	// Refresh is still within its 24h window.
	_, err = tokens.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)

	tokens.now = func() time.Time { return issuedAt.Add(25 * time.Hour) }
	_, err = tokens.VerifyRefresh(pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)

	claims, err := tokens.ParseRefreshIgnoringExpiry(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
}

func TestTokenServiceRejectsTampering(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens()
	pair, err := tokens.IssuePair(model.User{ID: "u1", Username: "coach"})
	require.NoError(t, err)

	_, err = tokens.VerifyAccess(pair.AccessToken + "x")
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	_, err = tokens.VerifyAccess("")
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	_, err = tokens.ParseRefreshIgnoringExpiry("not-a-jwt")
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "typ": "access"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.VerifyAccess(unsigned)
	require.ErrorIs(t, err, model.ErrTokenInvalid)
}

func TestTokenServiceLegacyRefreshClaims(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens()
	legacy := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": "coach",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := legacy.SignedString([]byte("refresh-secret"))
	require.NoError(t, err)

	claims, err := tokens.VerifyRefresh(signed)
	require.NoError(t, err)
	assert.Empty(t, claims.Subject)
	assert.Equal(t, "coach", claims.Username)

	numeric := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 42,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err = numeric.SignedString([]byte("refresh-secret"))
	require.NoError(t, err)

	claims, err = tokens.VerifyRefresh(signed)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
}
