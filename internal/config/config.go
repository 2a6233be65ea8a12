package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/standardbeagle/xref/internal/types"
)

// FileName is the project configuration file looked up in the project root and
// in the user's home directory.
const FileName = ".xref.kdl"

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

type Config struct {
	Version   int
	Project   Project
	Index     Index
	Languages []string // empty selects every supported language
	Search    Search
	Include   []string
	Exclude   []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	Dir              string // durable folder, relative to the project root unless absolute
	Storage          string // "sqlite" or "memory"
	MaxFileSize      int64
	RespectGitignore bool
	FollowSymlinks   bool
	BatchDeadlineMs  int // 0 drains the whole queue in one batch
	WatchMode        bool
	WatchDebounceMs  int
}

type Search struct {
	OrPolicy       string // "first" or "best"
	MaxResults     int
	FuzzyThreshold float64
	CaseSensitive  bool
}

// IndexDir returns the absolute durable folder.
func (c *Config) IndexDir() string {
	if filepath.IsAbs(c.Index.Dir) {
		return c.Index.Dir
	}
	return filepath.Join(c.Project.Root, c.Index.Dir)
}

func (c *Config) BatchDeadline() time.Duration {
	return time.Duration(c.Index.BatchDeadlineMs) * time.Millisecond
}

func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Index.WatchDebounceMs) * time.Millisecond
}

// Default returns the configuration used when no file exists.
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{Root: root, Name: filepath.Base(root)},
		Index: Index{
			Dir:              ".xref",
			Storage:          StorageSQLite,
			MaxFileSize:      types.DefaultMaxFileSize,
			RespectGitignore: true,
			BatchDeadlineMs:  2000,
			WatchMode:        true,
			WatchDebounceMs:  300,
		},
		Search: Search{
			OrPolicy:       "first",
			MaxResults:     100,
			FuzzyThreshold: 0.8,
		},
		Include: []string{},
		Exclude: DefaultExclusions(),
	}
}

// Load loads the configuration for the current directory.
func Load() (*Config, error) {
	return LoadWithRoot("")
}

// LoadWithRoot loads ~/.xref.kdl, then the project's .xref.kdl over it, and
// falls back to defaults when neither exists. Build-artifact directories found
// in the project are added to the exclusions.
func LoadWithRoot(rootDir string) (*Config, error) {
	searchDir := rootDir
	if searchDir == "" {
		searchDir = "."
	}
	absDir, err := filepath.Abs(searchDir)
	if err != nil {
		absDir = searchDir
	}

	var baseConfig *Config
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != absDir {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	projectConfig, err := LoadKDL(absDir)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	switch {
	case baseConfig != nil && projectConfig != nil:
		cfg = mergeConfigs(baseConfig, projectConfig)
	case projectConfig != nil:
		cfg = projectConfig
	case baseConfig != nil:
		baseConfig.Project.Root = absDir
		baseConfig.Project.Name = filepath.Base(absDir)
		cfg = baseConfig
	default:
		cfg = Default(absDir)
	}

	cfg.EnrichExclusionsWithBuildArtifacts()
	return cfg, nil
}

// mergeConfigs lays project over base. Exclusions of both are kept; the base
// inclusions apply only when the project names none.
func mergeConfigs(base, project *Config) *Config {
	merged := *project
	merged.Exclude = DeduplicatePatterns(append(append([]string(nil), base.Exclude...), project.Exclude...))
	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = append([]string(nil), base.Include...)
	}
	if len(project.Languages) == 0 && len(base.Languages) > 0 {
		merged.Languages = append([]string(nil), base.Languages...)
	}
	return &merged
}

// EnrichExclusionsWithBuildArtifacts adds the output directories declared by the
// project's build files to the exclusions.
func (c *Config) EnrichExclusionsWithBuildArtifacts() {
	if c.Project.Root == "" {
		return
	}
	detected := NewBuildArtifactDetector(c.Project.Root).DetectOutputDirectories()
	if len(detected) > 0 {
		c.Exclude = DeduplicatePatterns(append(c.Exclude, detected...))
	}
}

// DefaultExclusions returns the directories and files never worth indexing.
func DefaultExclusions() []string {
	return []string{
		"**/.git/**",
		"**/.*/**",

		// dependencies
		"**/node_modules/**",
		"**/vendor/**",
		"**/bower_components/**",
		"**/venv/**",
		"**/site-packages/**",
		"**/__pycache__/**",

		// build output
		"**/dist/**",
		"**/build/**",
		"**/out/**",
		"**/target/**",
		"**/bin/**",
		"**/obj/**",
		"**/*.min.js",
		"**/*.bundle.js",
		"**/*.chunk.js",

		// generated
		"**/*.pb.go",
		"**/*_generated.go",
		"**/*.g.cs",
	}
}
