package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/pattern"
)

// MaxFileSizeLimit is the largest accepted index.max_file_size.
const MaxFileSizeLimit = 100 * 1024 * 1024

// Validator validates configuration and fills in values left empty.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults returns every problem found, as a MultiError of
// ConfigErrors, or nil.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	v.setDefaults(cfg)

	var errs []error
	errs = append(errs, v.validateProject(&cfg.Project)...)
	errs = append(errs, v.validateIndex(&cfg.Index)...)
	errs = append(errs, v.validateSearch(&cfg.Search)...)
	errs = append(errs, v.validateGlobs("include", cfg.Include)...)
	errs = append(errs, v.validateGlobs("exclude", cfg.Exclude)...)
	return xerrors.NewMultiError(errs).ErrorOrNil()
}

func (v *Validator) validateProject(project *Project) []error {
	if project.Root == "" {
		return []error{xerrors.NewConfigError("project.root", "", errors.New("project root cannot be empty"))}
	}
	return nil
}

func (v *Validator) validateIndex(index *Index) []error {
	var errs []error
	switch index.Storage {
	case StorageSQLite, StorageMemory:
	default:
		errs = append(errs, xerrors.NewConfigError("index.storage", index.Storage,
			fmt.Errorf("must be %q or %q", StorageSQLite, StorageMemory)))
	}
	if index.Storage == StorageSQLite && index.Dir == "" {
		errs = append(errs, xerrors.NewConfigError("index.dir", "", errors.New("sqlite storage needs an index directory")))
	}
	if index.MaxFileSize <= 0 || index.MaxFileSize > MaxFileSizeLimit {
		errs = append(errs, xerrors.NewConfigError("index.max_file_size", strconv.FormatInt(index.MaxFileSize, 10),
			fmt.Errorf("must be between 1 and %d bytes", MaxFileSizeLimit)))
	}
	if index.BatchDeadlineMs < 0 {
		errs = append(errs, xerrors.NewConfigError("index.batch_deadline_ms", strconv.Itoa(index.BatchDeadlineMs),
			errors.New("cannot be negative")))
	}
	if index.WatchDebounceMs < 0 {
		errs = append(errs, xerrors.NewConfigError("index.watch_debounce_ms", strconv.Itoa(index.WatchDebounceMs),
			errors.New("cannot be negative")))
	}
	return errs
}

func (v *Validator) validateSearch(search *Search) []error {
	var errs []error
	if _, ok := pattern.ParseOrPolicy(search.OrPolicy); !ok {
		errs = append(errs, xerrors.NewConfigError("search.or_policy", search.OrPolicy, errors.New(`must be "first" or "best"`)))
	}
	if search.MaxResults < 0 {
		errs = append(errs, xerrors.NewConfigError("search.max_results", strconv.Itoa(search.MaxResults),
			errors.New("cannot be negative")))
	}
	if search.FuzzyThreshold < 0 || search.FuzzyThreshold > 1 {
		errs = append(errs, xerrors.NewConfigError("search.fuzzy_threshold",
			strconv.FormatFloat(search.FuzzyThreshold, 'g', -1, 64), errors.New("must be between 0 and 1")))
	}
	return errs
}

func (v *Validator) validateGlobs(field string, globs []string) []error {
	var errs []error
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			errs = append(errs, xerrors.NewConfigError(field, g, doublestar.ErrBadPattern))
		}
	}
	return errs
}

func (v *Validator) setDefaults(cfg *Config) {
	if cfg.Index.Storage == "" {
		cfg.Index.Storage = StorageSQLite
	}
	if cfg.Search.OrPolicy == "" {
		cfg.Search.OrPolicy = "first"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 100
	}
}

// SearchOptions returns the pattern options the search section describes.
func (c *Config) SearchOptions() pattern.Options {
	policy, _ := pattern.ParseOrPolicy(c.Search.OrPolicy)
	return pattern.Options{
		CaseSensitive:  c.Search.CaseSensitive,
		OrPolicy:       policy,
		FuzzyThreshold: c.Search.FuzzyThreshold,
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	return NewValidator().ValidateAndSetDefaults(cfg)
}
