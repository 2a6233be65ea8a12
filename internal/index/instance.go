package index

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/standardbeagle/xref/internal/debug"
	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/types"
)

// Realized is a created and initialized processor together with its registration.
type Realized struct {
	Info      ProcessorInfo
	Processor Processor
	layers    map[types.LayerID]bool
}

// Contributes reports whether the processor may write into layer.
func (r *Realized) Contributes(layer types.LayerID) bool {
	return r.layers[layer]
}

// Instance is a configuration bound to live layers and lazily realized
// processors. It is safe for concurrent use.
type Instance struct {
	config    *Configuration
	layers    map[types.LayerID]*Layer
	layerList []*Layer

	mu       sync.Mutex
	byExt    map[string][]*Realized
	realized map[ProcessorID]*Realized
	order    []*Realized // realization order
}

// Configuration returns the configuration the instance was created from.
func (i *Instance) Configuration() *Configuration {
	return i.config
}

// Layers returns every layer, sorted by id.
func (i *Instance) Layers() []*Layer {
	return append([]*Layer(nil), i.layerList...)
}

// Layer returns the layer with id, or nil.
func (i *Instance) Layer(id types.LayerID) *Layer {
	return i.layers[id]
}

// FindProcessors returns the processors registered for the resource's extension,
// in registration order, realizing them on first use. The result for an
// extension is cached.
func (i *Instance) FindProcessors(r types.Resource) ([]*Realized, error) {
	ext := r.Ext()
	i.mu.Lock()
	defer i.mu.Unlock()
	if procs, ok := i.byExt[ext]; ok {
		return procs, nil
	}

	var procs []*Realized
	for idx := range i.config.registrations {
		reg := &i.config.registrations[idx]
		if !hasExtension(reg.Info.Extensions, ext) {
			continue
		}
		p, err := i.realizeLocked(reg)
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	i.byExt[ext] = procs
	return procs, nil
}

// IsIndexedResource reports whether FindProcessors yields a processor for r.
// A resource whose processors fail to initialize is not indexed.
func (i *Instance) IsIndexedResource(r types.Resource) bool {
	procs, err := i.FindProcessors(r)
	return err == nil && len(procs) > 0
}

// Realized returns the processors realized so far, sorted by id.
func (i *Instance) Realized() []*Realized {
	i.mu.Lock()
	out := append([]*Realized(nil), i.order...)
	i.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Info.ID < out[b].Info.ID })
	return out
}

// GatherTimeSpentParsing sums and resets the parse time of every realized processor.
func (i *Instance) GatherTimeSpentParsing() time.Duration {
	var total time.Duration
	for _, p := range i.Realized() {
		total += p.Processor.TakeParseTime()
	}
	return total
}

// Close releases the realized processors that hold resources, in reverse
// realization order. The instance must not be used afterwards.
func (i *Instance) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx := len(i.order) - 1; idx >= 0; idx-- {
		if c, ok := i.order[idx].Processor.(io.Closer); ok {
			if err := c.Close(); err != nil {
				debug.LogIndexing("closing processor %s: %v\n", i.order[idx].Info.ID, err)
			}
		}
	}
	i.order = nil
	i.realized = make(map[ProcessorID]*Realized)
	i.byExt = make(map[string][]*Realized)
}

// realizeLocked creates and initializes reg's processor after the processors it uses.
func (i *Instance) realizeLocked(reg *Registration) (*Realized, error) {
	if p, ok := i.realized[reg.Info.ID]; ok {
		return p, nil
	}

	uses := make(map[ProcessorID]Processor, len(reg.Info.Uses))
	for _, id := range reg.Info.Uses {
		used, ok := i.config.registration(id)
		if !ok {
			// Build rejects unknown uses, reaching this is a programming error.
			panic(fmt.Sprintf("index: processor %q uses unregistered processor %q", reg.Info.ID, id))
		}
		p, err := i.realizeLocked(used)
		if err != nil {
			return nil, err
		}
		uses[id] = p.Processor
	}

	ic := InitContext{Uses: uses}
	contributes := make(map[types.LayerID]bool, len(reg.Contributes))
	for _, id := range reg.Contributes {
		contributes[id] = true
		ic.Layers = append(ic.Layers, i.layers[id])
	}

	proc := reg.Factory()
	if err := proc.Initialize(ic); err != nil {
		return nil, &xerrors.ConfigurationError{
			Processor:  string(reg.Info.ID),
			Detail:     fmt.Sprintf("initialization failed: %v", err),
			Underlying: err,
		}
	}
	p := &Realized{Info: reg.Info, Processor: proc, layers: contributes}
	i.realized[reg.Info.ID] = p
	i.order = append(i.order, p)
	debug.LogIndexing("realized processor %s v%d\n", reg.Info.ID, reg.Info.Version)
	return p, nil
}

func hasExtension(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
