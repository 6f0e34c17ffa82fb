package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, VerifyPassword("correct horse", hash))
	assert.False(t, VerifyPassword("battery staple", hash))
	assert.False(t, VerifyPassword("correct horse", "not-a-hash"))
}

func TestGenerateRandomBytes(t *testing.T) {
	a, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerateRandomString(t *testing.T) {
	s, err := GenerateRandomString(16)
	require.NoError(t, err)
	assert.NotEmpty(t, s)
}
