package index

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/xref/internal/types"
)

// ProcessorID identifies a processor registration.
type ProcessorID string

// ProcessorInfo is the static description of a processor. Version and Extensions
// are part of the configuration fingerprint.
type ProcessorInfo struct {
	ID         ProcessorID
	Version    int
	Extensions []string // lower-case, with the leading dot
	Uses       []ProcessorID
}

// Factory creates a processor. It is called at most once per configuration instance.
type Factory func() Processor

// Registration binds a processor description to the layers it writes and the
// factory that creates it.
type Registration struct {
	Info        ProcessorInfo
	Contributes []types.LayerID
	Factory     Factory
}

// InitContext is handed to Processor.Initialize.
type InitContext struct {
	// Uses holds the realized processors named by ProcessorInfo.Uses.
	Uses map[ProcessorID]Processor
	// Layers holds the layers the processor contributes to.
	Layers []*Layer
}

// Target is one resource handed to the processors.
type Target interface {
	Resource() types.Resource
	Content(ctx context.Context) ([]byte, error)
	// ModStamp is stored in the resource's FileInfo and compared on resync.
	ModStamp() int64
}

// Processor extracts facts from a target into the layers it contributes to.
type Processor interface {
	Initialize(ic InitContext) error
	// Process writes the facts for target through u. It must not retain u.
	Process(ctx context.Context, target Target, u *Updater) error
	// TransactionEnded is called once per transaction before it commits.
	TransactionEnded() error
	// TakeParseTime returns the parse time accumulated since the last call and resets it.
	TakeParseTime() time.Duration
}

// ParseClock accumulates parse time for TakeParseTime. The zero value is ready to use.
type ParseClock struct {
	nanos atomic.Int64
}

// Since adds the time elapsed since start.
func (c *ParseClock) Since(start time.Time) {
	c.nanos.Add(int64(time.Since(start)))
}

// Take returns the accumulated time and resets it.
func (c *ParseClock) Take() time.Duration {
	return time.Duration(c.nanos.Swap(0))
}

// memoryTarget is a Target over a byte slice.
type memoryTarget struct {
	resource types.Resource
	content  []byte
	stamp    int64
}

// NewMemoryTarget returns a Target serving content for r.
func NewMemoryTarget(r types.Resource, content []byte, stamp int64) Target {
	return &memoryTarget{resource: r, content: content, stamp: stamp}
}

func (t *memoryTarget) Resource() types.Resource { return t.resource }
func (t *memoryTarget) ModStamp() int64          { return t.stamp }

func (t *memoryTarget) Content(ctx context.Context) ([]byte, error) {
	return t.content, nil
}
