package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1, err := deriveKey("passphrase", salt)
	require.NoError(t, err)

	k2, err := deriveKey("passphrase", salt)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, scryptKeyLen)
}

func TestDeriveKey_SaltChangesKey(t *testing.T) {
	k1, err := deriveKey("passphrase", []byte("0123456789abcdef"))
	require.NoError(t, err)

	k2, err := deriveKey("passphrase", []byte("fedcba9876543210"))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestSealedBox_Roundtrip(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)

	box, err := newSealedBox("passphrase", salt)
	require.NoError(t, err)

	plaintext := []byte(`{"access_token":"t1","refresh_token":"r1"}`)

	sealed, err := box.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealedBox_RandomNonces(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)

	box, err := newSealedBox("passphrase", salt)
	require.NoError(t, err)

	s1, err := box.Seal([]byte("same plaintext"))
	require.NoError(t, err)

	s2, err := box.Seal([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2, "sealing twice should produce distinct ciphertexts")
}

func TestSealedBox_OpenRejectsTampering(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)

	box, err := newSealedBox("passphrase", salt)
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("plaintext"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff

	_, err = box.Open(sealed)
	assert.Error(t, err)
}

func TestSealedBox_OpenRejectsTruncatedInput(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)

	box, err := newSealedBox("passphrase", salt)
	require.NoError(t, err)

	_, err = box.Open([]byte("short"))
	assert.Error(t, err)
}

func TestNewSalt_Unique(t *testing.T) {
	s1, err := newSalt()
	require.NoError(t, err)
	assert.Len(t, s1, saltLen)

	s2, err := newSalt()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}
