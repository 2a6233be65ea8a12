package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/standardbeagle/xref/internal/errors"
)

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, ValidateConfig(Default("/project")))
}

func TestValidateSetsDefaults(t *testing.T) {
	cfg := Default("/project")
	cfg.Index.Storage = ""
	cfg.Search.OrPolicy = ""
	cfg.Search.MaxResults = 0

	require.NoError(t, ValidateConfig(cfg))
	assert.Equal(t, StorageSQLite, cfg.Index.Storage)
	assert.Equal(t, "first", cfg.Search.OrPolicy)
	assert.Equal(t, 100, cfg.Search.MaxResults)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty root", func(c *Config) { c.Project.Root = "" }, "project.root"},
		{"unknown storage", func(c *Config) { c.Index.Storage = "redis" }, "index.storage"},
		{"sqlite without dir", func(c *Config) { c.Index.Dir = "" }, "index.dir"},
		{"zero file size", func(c *Config) { c.Index.MaxFileSize = 0 }, "index.max_file_size"},
		{"huge file size", func(c *Config) { c.Index.MaxFileSize = MaxFileSizeLimit + 1 }, "index.max_file_size"},
		{"negative deadline", func(c *Config) { c.Index.BatchDeadlineMs = -1 }, "index.batch_deadline_ms"},
		{"negative debounce", func(c *Config) { c.Index.WatchDebounceMs = -1 }, "index.watch_debounce_ms"},
		{"unknown or policy", func(c *Config) { c.Search.OrPolicy = "sometimes" }, "search.or_policy"},
		{"negative max results", func(c *Config) { c.Search.MaxResults = -1 }, "search.max_results"},
		{"fuzzy threshold above one", func(c *Config) { c.Search.FuzzyThreshold = 1.5 }, "search.fuzzy_threshold"},
		{"bad include glob", func(c *Config) { c.Include = []string{"src/[a"} }, "include"},
		{"bad exclude glob", func(c *Config) { c.Exclude = []string{"{a,b"} }, "exclude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/project")
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)

			var ce *xerrors.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default("/project")
	cfg.Index.Storage = "redis"
	cfg.Search.MaxResults = -1

	err := ValidateConfig(cfg)
	var multi *xerrors.MultiError
	require.True(t, errors.As(err, &multi))
	assert.Len(t, multi.Errors, 2)
}
