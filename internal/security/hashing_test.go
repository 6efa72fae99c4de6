package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash([]byte("front-desk-42"))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.NoError(t, h.Compare(hash, []byte("front-desk-42")))
	assert.ErrorIs(t, h.Compare(hash, []byte("wrong")), ErrBadCredentials)
}

func TestHasher_EmptyOrMalformedHash(t *testing.T) {
	h := NewHasher(4)
	assert.ErrorIs(t, h.Compare("", []byte("x")), ErrBadCredentials)

	err := h.Compare("not-a-bcrypt-hash", []byte("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadCredentials)
}

func TestHasher_Cost(t *testing.T) {
	assert.Equal(t, 12, NewHasher(12).Cost)
	assert.Equal(t, 10, NewHasher(0).Cost)
	assert.Equal(t, 4, NewHasher(2).Cost)
	assert.Equal(t, 31, NewHasher(40).Cost)
}
