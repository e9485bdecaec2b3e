package infra

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	token, err := SignToken("secret", "mech-1", RoleMechanic, time.Hour)
	require.NoError(t, err)

	id, err := NewJWTVerifier("secret").VerifyIDToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "mech-1", id.UID)
	assert.Equal(t, RoleMechanic, id.Role)
}

func TestJWTVerifierWrongSecret(t *testing.T) {
	token, err := SignToken("secret", "drv-1", RoleDriver, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier("other").VerifyIDToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifierExpired(t *testing.T) {
	token, err := SignToken("secret", "drv-1", RoleDriver, -time.Minute)
	require.NoError(t, err)

	_, err = NewJWTVerifier("secret").VerifyIDToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifierRejectsNoneAlg(t *testing.T) {
	claims := Claims{ID: "drv-1", Role: RoleDriver}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTVerifier("secret").VerifyIDToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := NewLogger("loud", "text")
	assert.Equal(t, "info", logger.GetLevel().String())
}
