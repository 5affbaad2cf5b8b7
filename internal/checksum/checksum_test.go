package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAndSidecars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))

	sums, err := Compute(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sums.Strong)
	assert.Len(t, sums.Fast, 16)

	written, err := WriteSidecars(path, sums)
	require.NoError(t, err)
	assert.Len(t, written, 2)

	raw, err := os.ReadFile(path + SHA256Ext)
	require.NoError(t, err)
	assert.Equal(t, sums.Strong+"  bundle.tar.gz\n", string(raw))

	got, err := ReadSidecar(path + XXH64Ext)
	require.NoError(t, err)
	assert.Equal(t, sums.Fast, got)
}

func TestSingleByteFlipChangesBothDigests(t *testing.T) {
	data := []byte(strings.Repeat("vault", 2000))
	before, err := ComputeReader(strings.NewReader(string(data)))
	require.NoError(t, err)

	for _, i := range []int{0, len(data) / 2, len(data) - 1} {
		flipped := append([]byte(nil), data...)
		flipped[i] ^= 0x01
		after, err := ComputeReader(strings.NewReader(string(flipped)))
		require.NoError(t, err)
		assert.NotEqual(t, before.Strong, after.Strong)
		assert.NotEqual(t, before.Fast, after.Fast)
	}
}

func TestReadSidecarMissing(t *testing.T) {
	_, err := ReadSidecar(filepath.Join(t.TempDir(), "nope.sha256"))
	require.ErrorIs(t, err, ErrSidecarMissing)
}
