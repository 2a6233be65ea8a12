package indexing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadSource(t *testing.T) {
	root := t.TempDir()

	content, err := readSource(writeFile(t, root, "a.go", "package a\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(content))

	_, err = readSource(writeFile(t, root, "big.go", "package big // padding\n"), 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = readSource(writeFile(t, root, "nul.go", "package a\x00\n"), 0)
	assert.ErrorIs(t, err, ErrBinary)

	_, err = readSource(writeFile(t, root, "img.go", "\x89PNG\r\n"), 0)
	assert.ErrorIs(t, err, ErrBinary)

	_, err = readSource(filepath.Join(root, "missing.go"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = readSource(root, 0)
	assert.Error(t, err)
}

func TestLooksBinary(t *testing.T) {
	assert.False(t, looksBinary(nil))
	assert.False(t, looksBinary([]byte("func main() {\n\tprintln(\"héllo\")\r\n}\n")))
	assert.True(t, looksBinary([]byte{0x1F, 0x8B, 0x08}))
	assert.True(t, looksBinary([]byte("\x01\x02\x03\x04ab")))
}

func TestContentStampFollowsContent(t *testing.T) {
	assert.Equal(t, contentStamp([]byte("package a")), contentStamp([]byte("package a")))
	assert.NotEqual(t, contentStamp([]byte("package a")), contentStamp([]byte("package b")))
}

func TestFileTarget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/a.go", "package pkg\n")

	target := NewFileTarget(root, "pkg/a.go", 0)
	assert.Equal(t, filepath.Join(root, "pkg", "a.go"), target.Path())
	assert.False(t, target.Skipped())

	content, err := target.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(content))
	assert.Equal(t, contentStamp(content), target.ModStamp())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = target.Content(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileTargetSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.go", "package big\n")
	writeFile(t, root, "bin.go", "\x00\x01")

	assert.True(t, NewFileTarget(root, "big.go", 4).Skipped())
	assert.True(t, NewFileTarget(root, "bin.go", 0).Skipped())
	assert.False(t, NewFileTarget(root, "missing.go", 0).Skipped(), "a missing file is an error, not a skip")
}

func TestLineColumn(t *testing.T) {
	content := []byte("ab\ncd\n\nef")
	tests := []struct {
		offset, line, col int
	}{
		{0, 1, 1},
		{1, 1, 2},
		{3, 2, 1},
		{7, 4, 1},
		{9, 4, 3},
	}
	for _, tt := range tests {
		line, col := lineColumn(content, tt.offset)
		assert.Equal(t, tt.line, line, "offset %d", tt.offset)
		assert.Equal(t, tt.col, col, "offset %d", tt.offset)
	}
}
