package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
}

// withHome points the user's home directory at a fresh folder for the test.
func withHome(t *testing.T) string {
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestMergeConfigs_ExclusionsMerge(t *testing.T) {
	base := &Config{Exclude: []string{"**/node_modules/**", "**/vendor/**"}}
	project := &Config{Exclude: []string{"**/dist/**", "**/vendor/**"}}

	merged := mergeConfigs(base, project)
	assert.Equal(t, []string{"**/node_modules/**", "**/vendor/**", "**/dist/**"}, merged.Exclude)
}

func TestMergeConfigs_InclusionsAndLanguages(t *testing.T) {
	base := &Config{Include: []string{"**/*.go"}, Languages: []string{"go"}}

	merged := mergeConfigs(base, &Config{})
	assert.Equal(t, []string{"**/*.go"}, merged.Include)
	assert.Equal(t, []string{"go"}, merged.Languages)

	merged = mergeConfigs(base, &Config{Include: []string{"**/*.py"}, Languages: []string{"python"}})
	assert.Equal(t, []string{"**/*.py"}, merged.Include)
	assert.Equal(t, []string{"python"}, merged.Languages)
}

func TestMergeConfigs_ProjectSettingsTakePrecedence(t *testing.T) {
	base := Default("/base")
	base.Index.MaxFileSize = 1
	base.Search.MaxResults = 5
	project := Default("/project")
	project.Search.MaxResults = 7

	merged := mergeConfigs(base, project)
	assert.Equal(t, "/project", merged.Project.Root)
	assert.Equal(t, project.Index.MaxFileSize, merged.Index.MaxFileSize)
	assert.Equal(t, 7, merged.Search.MaxResults)
}

func TestLoadWithRoot_MergesGlobalAndProjectConfigs(t *testing.T) {
	home := withHome(t)
	project := t.TempDir()

	writeConfig(t, home, `
exclude {
    "**/real_projects/**"
}
include "**/*.go"
index {
    max_file_size "5MB"
}
`)
	writeConfig(t, project, `
project {
    root "."
    name "test-project"
}
exclude "**/dist/**"
index {
    max_file_size "10MB"
}
`)

	cfg, err := LoadWithRoot(project)
	require.NoError(t, err)
	assert.Contains(t, cfg.Exclude, "**/real_projects/**")
	assert.Contains(t, cfg.Exclude, "**/dist/**")
	assert.Equal(t, []string{"**/*.go"}, cfg.Include)
	assert.Equal(t, int64(10*1024*1024), cfg.Index.MaxFileSize)
	assert.Equal(t, "test-project", cfg.Project.Name)

	abs, err := filepath.Abs(project)
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.Project.Root)
}

func TestLoadWithRoot_GlobalConfigOnly(t *testing.T) {
	home := withHome(t)
	project := t.TempDir()
	writeConfig(t, home, `search { max_results 3; }`)

	cfg, err := LoadWithRoot(project)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.MaxResults)
	abs, _ := filepath.Abs(project)
	assert.Equal(t, abs, cfg.Project.Root, "the root is the project, not the home directory")
}

func TestLoadWithRoot_DefaultConfigFallback(t *testing.T) {
	withHome(t)
	project := t.TempDir()

	cfg, err := LoadWithRoot(project)
	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.Index.Storage)
	assert.Equal(t, ".xref", cfg.Index.Dir)
	assert.Equal(t, filepath.Join(cfg.Project.Root, ".xref"), cfg.IndexDir())
	assert.Equal(t, 2*time.Second, cfg.BatchDeadline())
	assert.Equal(t, 300*time.Millisecond, cfg.WatchDebounce())
	assert.Contains(t, cfg.Exclude, "**/node_modules/**")
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadWithRoot_InvalidProjectConfig(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	writeConfig(t, project, `index {`)

	_, err := LoadWithRoot(project)
	assert.Error(t, err)
}

func TestLoadWithRoot_DetectsBuildArtifacts(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "tsconfig.json"),
		[]byte(`{"compilerOptions": {"outDir": "./lib"}}`), 0644))

	cfg, err := LoadWithRoot(project)
	require.NoError(t, err)
	assert.Contains(t, cfg.Exclude, "**/lib/**")
}

func TestIndexDirAbsolute(t *testing.T) {
	cfg := Default("/project")
	cfg.Index.Dir = "/var/cache/xref"
	assert.Equal(t, "/var/cache/xref", cfg.IndexDir())
}
