package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenMinterDeterministic(t *testing.T) {
	minter := NewTokenMinter([]byte("server-secret"))

	a, err := minter.Mint("app-1")
	require.NoError(t, err)
	b, err := minter.Mint("app-1")
	require.NoError(t, err)
	assert.Equal(t, a, b, "same secret and app ID must derive the same token")
	assert.NotEmpty(t, a)
}

func TestTokenMinterDistinctInputs(t *testing.T) {
	minter := NewTokenMinter([]byte("server-secret"))
	other := NewTokenMinter([]byte("other-secret"))

	a, err := minter.Mint("app-1")
	require.NoError(t, err)
	b, err := minter.Mint("app-2")
	require.NoError(t, err)
	c, err := other.Mint("app-1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "different app IDs must derive different tokens")
	assert.NotEqual(t, a, c, "different secrets must derive different tokens")
}

func TestTokenMinterVerify(t *testing.T) {
	minter := NewTokenMinter([]byte("server-secret"))

	token, err := minter.Mint("app-1")
	require.NoError(t, err)

	assert.True(t, minter.Verify("app-1", token))
	assert.False(t, minter.Verify("app-2", token))
	assert.False(t, minter.Verify("app-1", token+"x"))
	assert.False(t, minter.Verify("app-1", ""))
}
