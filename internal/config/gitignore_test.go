package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitignoreParser_Patterns(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		path     string
		isDir    bool
		expected bool
	}{
		{"simple file match", "README.md", "README.md", false, true},
		{"simple file in subdir", "README.md", "docs/README.md", false, true},
		{"simple file no match", "README.md", "main.js", false, false},
		{"directory pattern matches directory", "node_modules/", "node_modules", true, true},
		{"directory pattern matches files inside", "node_modules/", "web/node_modules/react/index.js", false, true},
		{"directory pattern skips files of that name", "build/", "build", false, false},
		{"anchored pattern", "/build", "build", true, true},
		{"anchored pattern not nested", "/build", "src/build", true, false},
		{"extension wildcard", "*.log", "logs/today.log", false, true},
		{"path with slash is anchored", "docs/*.md", "docs/a.md", false, true},
		{"path with slash not nested", "docs/*.md", "x/docs/a.md", false, false},
		{"double star", "**/gen/*.go", "a/b/gen/x.go", false, true},
		{"question mark", "file?.txt", "file1.txt", false, true},
		{"character class", "file[0-9].txt", "filex.txt", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gp := NewGitignoreParser()
			gp.AddPattern(tt.pattern)
			assert.Equal(t, tt.expected, gp.ShouldIgnore(tt.path, tt.isDir))
		})
	}
}

func TestGitignoreParser_NegationPriority(t *testing.T) {
	gp := NewGitignoreParser()
	gp.AddPattern("*.log")
	gp.AddPattern("!keep.log")
	assert.True(t, gp.ShouldIgnore("a.log", false))
	assert.False(t, gp.ShouldIgnore("keep.log", false))

	gp.AddPattern("keep.log")
	assert.True(t, gp.ShouldIgnore("keep.log", false), "the last matching rule wins")
}

func TestGitignoreParser_SkipsCommentsAndBlanks(t *testing.T) {
	gp := NewGitignoreParser()
	gp.AddPattern("# comment")
	gp.AddPattern("   ")
	gp.AddPattern("/")
	assert.Equal(t, 0, gp.Len())
}

func TestGitignoreParser_LoadFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("# generated\n*.tmp\n/dist/\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", ".gitignore"), []byte("fixtures/\n"), 0644))

	gp := NewGitignoreParser()
	require.NoError(t, gp.LoadGitignore(root))
	require.NoError(t, gp.LoadGitignoreAt(root, "pkg"))
	require.NoError(t, gp.LoadGitignoreAt(root, "missing"))

	assert.Equal(t, 3, gp.Len())
	assert.True(t, gp.ShouldIgnore("a/b.tmp", false))
	assert.True(t, gp.ShouldIgnore("dist/app.js", false))
	assert.False(t, gp.ShouldIgnore("src/dist/app.js", false))
	assert.True(t, gp.ShouldIgnore("pkg/x/fixtures/data.go", false))
	assert.False(t, gp.ShouldIgnore("fixtures/data.go", false), "nested rules stay in their directory")
}
