package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbridge.com/app/internal/config"
)

func TestCleanKey(t *testing.T) {
	k, err := cleanKey("/2026/03/receipt.txt")
	require.NoError(t, err)
	assert.Equal(t, "2026/03/receipt.txt", k)

	k, err = cleanKey(`2026\03\receipt.txt`)
	require.NoError(t, err)
	assert.Equal(t, "2026/03/receipt.txt", k)

	for _, bad := range []string{"", "/", "../etc/passwd", "a/../../b"} {
		_, err := cleanKey(bad)
		assert.ErrorIs(t, err, ErrBadKey, bad)
	}
}

func TestLocalPutOverwritesAndDeletes(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "/receipts/")
	ctx := context.Background()

	res, err := l.Put(ctx, strings.NewReader("first"), PutInput{Key: "2026/03/p1.txt", ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "2026/03/p1.txt", res.Key)
	assert.Equal(t, "/receipts/2026/03/p1.txt", res.URL)

	_, err = l.Put(ctx, strings.NewReader("second"), PutInput{Key: "2026/03/p1.txt"})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "2026", "03", "p1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))

	require.NoError(t, l.Delete(ctx, res.Key))
	require.NoError(t, l.Delete(ctx, res.Key))
	_, err = os.Stat(filepath.Join(dir, "2026", "03", "p1.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewSelectsDriver(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(context.Background(), config.StorageConfig{Driver: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	_, err = New(context.Background(), config.StorageConfig{Driver: "gcs"})
	assert.Error(t, err)
}
