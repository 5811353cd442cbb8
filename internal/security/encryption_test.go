package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	c, err := NewTokenCipher("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := c.Seal("ya29.a0AfH6SMB")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ya29")

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.a0AfH6SMB", opened)
}

func TestTokenCipherNonceIsFresh(t *testing.T) {
	c, err := NewTokenCipher("correct horse battery staple")
	require.NoError(t, err)

	a, err := c.Seal("refresh-token")
	require.NoError(t, err)
	b, err := c.Seal("refresh-token")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestTokenCipherSameSecretSameKey(t *testing.T) {
	first, err := NewTokenCipher("correct horse battery staple")
	require.NoError(t, err)
	second, err := NewTokenCipher("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := first.Seal("token")
	require.NoError(t, err)

	opened, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "token", opened)
}

func TestTokenCipherFailures(t *testing.T) {
	_, err := NewTokenCipher("short")
	assert.ErrorIs(t, err, ErrShortSecret)

	c, err := NewTokenCipher("correct horse battery staple")
	require.NoError(t, err)
	other, err := NewTokenCipher("a different secret value")
	require.NoError(t, err)

	sealed, err := c.Seal("token")
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := other.Open(sealed)
		assert.Error(t, err)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := c.Open("%%%")
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := c.Open("AQID")
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestTokenCipherEmpty(t *testing.T) {
	c, err := NewTokenCipher("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := c.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}
