package blob

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Smallest valid PNG signature plus IHDR start; enough for sniffing.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)

func TestUploadWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, "http://cdn.local/photos/")
	require.NoError(t, err)
	s.newName = func() string { return "fixed" }

	url, err := s.Upload(context.Background(), pngBytes)
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.local/photos/fixed.png", url)

	got, err := os.ReadFile(filepath.Join(dir, "fixed.png"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUploadRejects(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "http://cdn.local")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Upload(ctx, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Upload(ctx, []byte("just some text"))
	assert.ErrorIs(t, err, ErrUnsupported)

	s.maxSize = 4
	_, err = s.Upload(ctx, pngBytes)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUploadNamesAreUnique(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "http://cdn.local")
	require.NoError(t, err)

	a, err := s.Upload(context.Background(), pngBytes)
	require.NoError(t, err)
	b, err := s.Upload(context.Background(), pngBytes)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".png"))
}

func TestDeleteRemovesBlob(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, "http://cdn.local/photos")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := s.Upload(ctx, pngBytes)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, url))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Already gone.
	assert.NoError(t, s.Delete(ctx, url))

	for _, foreign := range []string{
		"http://elsewhere/x.png",
		"http://cdn.local/photos/",
		"http://cdn.local/photos/../secret",
		"http://cdn.local/photos/.upload-1",
	} {
		assert.ErrorIs(t, s.Delete(ctx, foreign), ErrForeignURL, foreign)
	}
}

func TestDecodePhoto(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(pngBytes)

	got, err := DecodePhoto(raw)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)

	got, err = DecodePhoto("data:image/png;base64," + raw)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)

	_, err = DecodePhoto("!!!")
	assert.ErrorIs(t, err, ErrBadEncoding)
}
