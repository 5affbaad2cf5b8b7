package crypt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "bundle.tar.gz")
	require.NoError(t, os.WriteFile(plain, []byte("plaintext bundle"), 0600))

	enc, err := NewEncryptor("correct horse", 10)
	require.NoError(t, err)

	sealed := plain + Extension
	require.NoError(t, enc.EncryptFile(plain, sealed))
	assert.True(t, IsEncryptedFile(sealed))
	assert.False(t, IsEncryptedFile(plain))

	out := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, enc.DecryptFile(sealed, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "plaintext bundle", string(data))
}

func TestDecryptWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0600))

	enc, err := NewEncryptor("right", 10)
	require.NoError(t, err)
	require.NoError(t, enc.EncryptFile(plain, plain+Extension))

	other, err := NewEncryptor("wrong", 10)
	require.NoError(t, err)
	out := filepath.Join(dir, "b")
	err = other.DecryptFile(plain+Extension, out)
	require.ErrorIs(t, err, ErrWrongKey)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewEncryptorRequiresPassphrase(t *testing.T) {
	_, err := NewEncryptor("", 0)
	require.ErrorIs(t, err, ErrNoPassphrase)
}
