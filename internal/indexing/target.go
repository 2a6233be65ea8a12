package indexing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/xref/internal/types"
)

var (
	// ErrTooLarge is returned for files above index.max_file_size.
	ErrTooLarge = errors.New("file exceeds the size limit")
	// ErrBinary is returned for files that look like binary data.
	ErrBinary = errors.New("binary file")
)

// binarySniffBytes is how much of a file is checked for NUL bytes.
const binarySniffBytes = 8000

// readSource reads a source file, refusing oversized and binary files.
func readSource(path string, maxSize int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, info.Size(), maxSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if looksBinary(content) {
		return nil, ErrBinary
	}
	return content, nil
}

// binaryMagic are prefixes of common binary formats.
var binaryMagic = [][]byte{
	{0x89, 0x50, 0x4E, 0x47}, // PNG
	{0xFF, 0xD8, 0xFF},       // JPEG
	{0x25, 0x50, 0x44, 0x46}, // PDF
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O, Java class
	{0x50, 0x4B, 0x03, 0x04}, // zip
	{0x1F, 0x8B},             // gzip
}

// looksBinary checks the head of a file: known magic numbers, any NUL byte,
// or more than 30% control characters other than whitespace.
func looksBinary(content []byte) bool {
	sample := content
	if len(sample) > binarySniffBytes {
		sample = sample[:binarySniffBytes]
	}
	for _, magic := range binaryMagic {
		if bytes.HasPrefix(sample, magic) {
			return true
		}
	}
	control := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' && b != '\f' {
			control++
		}
	}
	return control > len(sample)*30/100
}

// contentStamp is the ModStamp stored for a file: a hash of its content, so
// touching a file without changing it does not trigger a reindex.
func contentStamp(content []byte) int64 {
	return int64(xxhash.Sum64(content))
}

// FileTarget is a resource read from disk on first use.
type FileTarget struct {
	root     string
	resource types.Resource
	maxSize  int64

	once    sync.Once
	content []byte
	stamp   int64
	err     error
}

func NewFileTarget(root string, r types.Resource, maxSize int64) *FileTarget {
	return &FileTarget{root: root, resource: r, maxSize: maxSize}
}

func (t *FileTarget) Resource() types.Resource { return t.resource }

// Path returns the absolute path of the file.
func (t *FileTarget) Path() string {
	return filepath.Join(t.root, filepath.FromSlash(string(t.resource)))
}

func (t *FileTarget) load() {
	t.once.Do(func() {
		t.content, t.err = readSource(t.Path(), t.maxSize)
		if t.err == nil {
			t.stamp = contentStamp(t.content)
		}
	})
}

func (t *FileTarget) Content(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.load()
	return t.content, t.err
}

func (t *FileTarget) ModStamp() int64 {
	t.load()
	return t.stamp
}

// Skipped reports whether the file exists but is not indexed as source: it
// is too large or binary. Its facts are removed like those of a deleted file.
func (t *FileTarget) Skipped() bool {
	t.load()
	return errors.Is(t.err, ErrTooLarge) || errors.Is(t.err, ErrBinary)
}
