package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, clock func() time.Time) *JWTService {
	t.Helper()

	svc, err := NewJWTService(JWTConfig{
		Secret:         "test-secret",
		Issuer:         "fleetdesk-test",
		AccessTokenTTL: 15 * time.Minute,
		Clock:          clock,
	})
	require.NoError(t, err)
	return svc
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc := newTestService(t, nil)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: 42})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, "42", claims.Subject)
	require.Equal(t, "fleetdesk-test", claims.Issuer)
}

func TestGenerateAccessTokenRequiresUserID(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.GenerateAccessToken(AccessTokenInput{})
	require.Error(t, err)
}

func TestValidateAccessTokenExpired(t *testing.T) {
	current := time.Now()
	svc := newTestService(t, func() time.Time { return current })

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: 7})
	require.NoError(t, err)

	current = current.Add(16 * time.Minute)
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsWrongIssuer(t *testing.T) {
	other, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)

	token, err := other.GenerateAccessToken(AccessTokenInput{UserID: 7})
	require.NoError(t, err)

	svc := newTestService(t, nil)
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsWrongSecret(t *testing.T) {
	other, err := NewJWTService(JWTConfig{Secret: "another-secret", Issuer: "fleetdesk-test"})
	require.NoError(t, err)

	token, err := other.GenerateAccessToken(AccessTokenInput{UserID: 7})
	require.NoError(t, err)

	svc := newTestService(t, nil)
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsUnsignedToken(t *testing.T) {
	svc := newTestService(t, nil)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fleetdesk-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsMissingUserID(t *testing.T) {
	svc := newTestService(t, nil)

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fleetdesk-test",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(signed)
	require.Error(t, err)
}
