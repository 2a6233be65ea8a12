package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/standardbeagle/xref/internal/types"
)

// Error types for the xref index
type ErrorType string

const (
	// Indexing errors
	ErrorTypeIndexing ErrorType = "indexing"
	ErrorTypeParse    ErrorType = "parse"
	ErrorTypeRemove   ErrorType = "remove"
	ErrorTypePanic    ErrorType = "panic"

	// Storage errors
	ErrorTypeStorage ErrorType = "storage"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// ConfigurationError reports malformed processor or layer wiring. It is fatal:
// a configuration that fails to build must never be used partially.
type ConfigurationError struct {
	Processor  string
	Detail     string
	Underlying error
}

// NewConfigurationError creates a new configuration wiring error
func NewConfigurationError(processor, detail string) *ConfigurationError {
	return &ConfigurationError{Processor: processor, Detail: detail}
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Processor == "" {
		return fmt.Sprintf("invalid index configuration: %s", e.Detail)
	}
	return fmt.Sprintf("invalid index configuration: processor %q: %s", e.Processor, e.Detail)
}

// Unwrap returns the underlying error
func (e *ConfigurationError) Unwrap() error {
	return e.Underlying
}

// IndexRequiresFullRebuild reports that the persisted index cannot be trusted.
// Callers discard the persisted index and rebuild from scratch.
type IndexRequiresFullRebuild struct {
	Folder string
	Reason string
}

// NewIndexRequiresFullRebuild creates a new rebuild signal for folder
func NewIndexRequiresFullRebuild(folder, reason string) *IndexRequiresFullRebuild {
	return &IndexRequiresFullRebuild{Folder: folder, Reason: reason}
}

// Error implements the error interface
func (e *IndexRequiresFullRebuild) Error() string {
	return fmt.Sprintf("index in %s requires full rebuild: %s", e.Folder, e.Reason)
}

// IndexTemporarilyNonOperational reports a transient I/O failure in the durable folder.
// The caller may retry or continue without persistence for this session.
type IndexTemporarilyNonOperational struct {
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewIndexTemporarilyNonOperational creates a new transient index error
func NewIndexTemporarilyNonOperational(op string, err error) *IndexTemporarilyNonOperational {
	return &IndexTemporarilyNonOperational{Operation: op, Underlying: err, Timestamp: time.Now()}
}

// Error implements the error interface
func (e *IndexTemporarilyNonOperational) Error() string {
	return fmt.Sprintf("index temporarily non-operational during %s: %v", e.Operation, e.Underlying)
}

// Unwrap returns the underlying error
func (e *IndexTemporarilyNonOperational) Unwrap() error {
	return e.Underlying
}

// IndexingError represents a failure while indexing or removing one target
type IndexingError struct {
	Type       ErrorType
	Resource   types.Resource
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewIndexingError creates a new indexing error with context
func NewIndexingError(op string, err error) *IndexingError {
	return &IndexingError{
		Type:       ErrorTypeIndexing,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithResource adds resource information to the error
func (e *IndexingError) WithResource(r types.Resource) *IndexingError {
	e.Resource = r
	return e
}

// WithType overrides the error type
func (e *IndexingError) WithType(t ErrorType) *IndexingError {
	e.Type = t
	return e
}

// Error implements the error interface
func (e *IndexingError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.Resource, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *IndexingError) Unwrap() error {
	return e.Underlying
}

// StorageError is the carrier storage backends wrap their failures in
type StorageError struct {
	Operation  string
	Underlying error
}

// NewStorageError wraps err; a nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Operation: op, Underlying: err}
}

// Error implements the error interface
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Underlying)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Underlying
}

// UnwrapStorage strips any StorageError carriers from err and returns the failure
// they transport. Errors without a carrier are returned unchanged.
func UnwrapStorage(err error) error {
	for {
		var se *StorageError
		if !stderrors.As(err, &se) || se.Underlying == nil {
			return err
		}
		err = se.Underlying
	}
}

// ConfigError represents a configuration file error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// ErrorOrNil returns nil when no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsRebuildRequired reports whether err carries an IndexRequiresFullRebuild
func IsRebuildRequired(err error) bool {
	var target *IndexRequiresFullRebuild
	return stderrors.As(err, &target)
}

// IsConfiguration reports whether err carries a ConfigurationError
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return stderrors.As(err, &target)
}

// IsTemporarilyNonOperational reports whether err carries an IndexTemporarilyNonOperational
func IsTemporarilyNonOperational(err error) bool {
	var target *IndexTemporarilyNonOperational
	return stderrors.As(err, &target)
}
