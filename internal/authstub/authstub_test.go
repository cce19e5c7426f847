package authstub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasher_VerifyAcceptsCorrectPassword(t *testing.T) {
	h := Hasher{}
	salt, err := h.GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, saltLength)

	hash := h.Hash("correct horse battery staple", salt)
	require.Len(t, hash, keyLength)
	require.True(t, h.Verify("correct horse battery staple", salt, hash))
}

func TestHasher_VerifyRejectsWrongPassword(t *testing.T) {
	h := Hasher{}
	salt, err := h.GenerateSalt()
	require.NoError(t, err)

	hash := h.Hash("correct horse battery staple", salt)
	require.False(t, h.Verify("wrong password", salt, hash))
}

func TestHasher_SaltsProduceDifferentHashes(t *testing.T) {
	h := Hasher{}
	salt1, _ := h.GenerateSalt()
	salt2, _ := h.GenerateSalt()
	require.NotEqual(t, salt1, salt2)

	require.NotEqual(t, h.Hash("same-password", salt1), h.Hash("same-password", salt2))
}
