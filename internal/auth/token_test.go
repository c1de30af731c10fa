package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(42, "tester", "secret")
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "tester", claims.Nickname)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(42, "tester", "secret")
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := ValidateToken("not.a.token", "secret")
	assert.Error(t, err)
}

func TestValidateTokenRejectsZeroUser(t *testing.T) {
	token, err := GenerateToken(0, "nobody", "secret")
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	assert.Error(t, err)
}
