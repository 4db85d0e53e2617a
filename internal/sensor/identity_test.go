package sensor

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestIdentityFromToken(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"email": "ada@example.com", "sub": "42"})

	id, err := IdentityFromToken("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id)
}

func TestIdentityFromToken_SubjectFallback(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "user-42"})

	id, err := IdentityFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)
}

func TestIdentityFromToken_Errors(t *testing.T) {
	_, err := IdentityFromToken("")
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = IdentityFromToken("garbage")
	assert.Error(t, err)

	_, err = IdentityFromToken(signedToken(t, jwt.MapClaims{"role": "admin"}))
	assert.ErrorIs(t, err, ErrNoIdentity)
}
