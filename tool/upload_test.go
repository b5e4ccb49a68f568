package tool

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberedNames(t *testing.T) {
	assert.Equal(t, "report-2.pdf", NumberedName("report.pdf", 2))
	assert.Equal(t, ".env-3", NumberedName(".env", 3))

	taken := map[string]struct{}{}
	assert.Equal(t, "a.txt", NextAvailableName(taken, "a.txt"))
	assert.Equal(t, "a-2.txt", NextAvailableName(taken, "a.txt"))
	assert.Equal(t, "a-3.txt", NextAvailableName(taken, "a.txt"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.bin"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "x-2.bin"), NextAvailablePath(dir, "x.bin"))
	assert.Equal(t, filepath.Join(dir, "y.bin"), NextAvailablePath(dir, "y.bin"))
}

func TestCopyWithContext(t *testing.T) {
	src := strings.Repeat("z", 3<<20)
	var dst bytes.Buffer
	n, err := CopyWithContext(context.Background(), &dst, strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)
	assert.Equal(t, src, dst.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = CopyWithContext(ctx, &dst, strings.NewReader(src))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokensAreUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for range 100 {
		tok, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, tok, TokenBytes*2)
		_, dup := seen[tok]
		assert.False(t, dup)
		seen[tok] = struct{}{}
	}
	assert.Len(t, GenerateShortID(), 8)
}

func TestContentHelpers(t *testing.T) {
	assert.Equal(t, `attachment; filename="my%20file.txt"`, ContentDisposition("attachment", "my file.txt"))

	dir := t.TempDir()
	png := filepath.Join(dir, "noext")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n0000"), 0o644))
	assert.Equal(t, "image/png", DetectContentType(png))
	assert.Equal(t, DefaultContentType, DetectContentType(filepath.Join(dir, "missing")))
}
