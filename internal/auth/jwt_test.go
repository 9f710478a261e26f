package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret-32-chars-long!!!!!"
	testRefreshSecret = "refresh-secret-32-chars-long!!!!"
)

func newTestJWTManager(accessExpiry, refreshExpiry time.Duration) *JWTManager {
	return NewJWTManager(testAccessSecret, testRefreshSecret, accessExpiry, refreshExpiry)
}

func TestJWTManager_RoundTrip(t *testing.T) {
	mgr := newTestJWTManager(15*time.Minute, 7*24*time.Hour)
	userID := uuid.NewString()

	pair, tokenID, err := mgr.GenerateTokenPair(userID, "ame@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	access, err := mgr.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, access.UserID)
	assert.Equal(t, "ame@example.com", access.Email)
	assert.Equal(t, issuer, access.Issuer)
	assert.Equal(t, userID, access.Subject)
	assert.NotEqual(t, tokenID, access.ID)

	refresh, err := mgr.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, userID, refresh.UserID)
	assert.Equal(t, tokenID, refresh.TokenID)
}

func TestJWTManager_Rejects(t *testing.T) {
	mgr := newTestJWTManager(15*time.Minute, time.Hour)
	pair, _, err := mgr.GenerateTokenPair(uuid.NewString(), "ame@example.com")
	require.NoError(t, err)

	sign := func(claims jwt.Claims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audienceAccess},
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "invalid-token"},
		{"refresh token used as access", pair.RefreshToken},
		{"wrong issuer", sign(AccessClaims{UserID: "u", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: valid.ExpiresAt, Issuer: "someone-else",
		}}, testAccessSecret)},
		{"no subject", sign(AccessClaims{RegisteredClaims: valid}, testAccessSecret)},
		{"uid differs from subject", func() string {
			claims := valid
			claims.Subject = "someone"
			return sign(AccessClaims{UserID: "u", RegisteredClaims: claims}, testAccessSecret)
		}()},
		{"refresh audience", func() string {
			claims := valid
			claims.Subject = "u"
			claims.Audience = jwt.ClaimStrings{audienceRefresh}
			return sign(AccessClaims{UserID: "u", RegisteredClaims: claims}, testAccessSecret)
		}()},
		{"no expiry", sign(AccessClaims{UserID: "u", RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer, Subject: "u", Audience: jwt.ClaimStrings{audienceAccess},
		}}, testAccessSecret)},
		{"unsigned", func() string {
			s, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{UserID: "u", RegisteredClaims: valid}).
				SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)
			return s
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ValidateAccessToken(tt.token)
			assert.Error(t, err)
		})
	}

	t.Run("control", func(t *testing.T) {
		claims := valid
		claims.Subject = "u"
		_, err := mgr.ValidateAccessToken(sign(AccessClaims{UserID: "u", RegisteredClaims: claims}, testAccessSecret))
		assert.NoError(t, err)
	})
}

func TestJWTManager_AccessTokenRejectedAsRefresh(t *testing.T) {
	// Same secret on both sides: only the audience tells them apart.
	mgr := NewJWTManager(testAccessSecret, testAccessSecret, time.Minute, time.Hour)
	pair, _, err := mgr.GenerateTokenPair(uuid.NewString(), "ame@example.com")
	require.NoError(t, err)

	_, err = mgr.ValidateRefreshToken(pair.AccessToken)
	assert.Error(t, err)
	_, err = mgr.ValidateAccessToken(pair.RefreshToken)
	assert.Error(t, err)
}

func TestJWTManager_Expired(t *testing.T) {
	mgr := newTestJWTManager(-time.Second, -time.Second)
	pair, _, err := mgr.GenerateTokenPair(uuid.NewString(), "ame@example.com")
	require.NoError(t, err)

	_, err = mgr.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = mgr.ValidateRefreshToken(pair.RefreshToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
