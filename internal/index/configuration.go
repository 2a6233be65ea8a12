package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/types"
)

// Configuration is the immutable, validated set of processor registrations and
// layers. Its description is the fingerprint persisted next to the index.
type Configuration struct {
	registrations []Registration
	layers        []LayerDescriptor
	byID          map[ProcessorID]int
	description   string
}

// Build validates registrations and layers and returns the configuration.
// Registrations are sorted by id, layers by id, so the input order never
// changes the result.
func Build(registrations []Registration, layers []LayerDescriptor) (*Configuration, error) {
	c := &Configuration{
		registrations: make([]Registration, len(registrations)),
		layers:        append([]LayerDescriptor(nil), layers...),
		byID:          make(map[ProcessorID]int, len(registrations)),
	}
	for i, reg := range registrations {
		reg.Info.Extensions = normalizeExtensions(reg.Info.Extensions)
		reg.Info.Uses = append([]ProcessorID(nil), reg.Info.Uses...)
		reg.Contributes = append([]types.LayerID(nil), reg.Contributes...)
		c.registrations[i] = reg
	}
	sort.SliceStable(c.registrations, func(i, j int) bool {
		return c.registrations[i].Info.ID < c.registrations[j].Info.ID
	})
	sort.SliceStable(c.layers, func(i, j int) bool { return c.layers[i].ID < c.layers[j].ID })

	layerIDs := make(map[types.LayerID]bool, len(c.layers))
	for _, l := range c.layers {
		if l.ID == "" {
			return nil, xerrors.NewConfigurationError("", "layer with empty id")
		}
		if layerIDs[l.ID] {
			return nil, xerrors.NewConfigurationError("", fmt.Sprintf("duplicate layer %q", l.ID))
		}
		layerIDs[l.ID] = true
	}

	for i, reg := range c.registrations {
		id := reg.Info.ID
		if id == "" {
			return nil, xerrors.NewConfigurationError("", "processor with empty id")
		}
		if _, dup := c.byID[id]; dup {
			return nil, xerrors.NewConfigurationError(string(id), "duplicate processor id")
		}
		c.byID[id] = i
	}

	for _, reg := range c.registrations {
		id := string(reg.Info.ID)
		if reg.Factory == nil {
			return nil, xerrors.NewConfigurationError(id, "no factory")
		}
		if len(reg.Info.Extensions) == 0 {
			return nil, xerrors.NewConfigurationError(id, "no file extensions")
		}
		for _, use := range reg.Info.Uses {
			if use == reg.Info.ID {
				return nil, xerrors.NewConfigurationError(id, "uses itself")
			}
			if _, ok := c.byID[use]; !ok {
				return nil, xerrors.NewConfigurationError(id, fmt.Sprintf("uses unknown processor %q", use))
			}
		}
		for _, l := range reg.Contributes {
			if !layerIDs[l] {
				return nil, xerrors.NewConfigurationError(id, fmt.Sprintf("contributes to unknown layer %q", l))
			}
		}
	}
	if err := c.checkCycles(); err != nil {
		return nil, err
	}

	c.description = c.describe()
	return c, nil
}

// checkCycles rejects use chains that lead back to their start. Realization
// follows uses recursively and would never terminate on a cycle.
func (c *Configuration) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(c.registrations))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visiting:
			return xerrors.NewConfigurationError(string(c.registrations[i].Info.ID), "use cycle")
		case done:
			return nil
		}
		state[i] = visiting
		for _, use := range c.registrations[i].Info.Uses {
			if err := visit(c.byID[use]); err != nil {
				return err
			}
		}
		state[i] = done
		return nil
	}
	for i := range c.registrations {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

func normalizeExtensions(exts []string) []string {
	seen := make(map[string]bool, len(exts))
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// describe lists "id version .ext ..." per processor, then one layer id per line.
func (c *Configuration) describe() string {
	var b strings.Builder
	for _, reg := range c.registrations {
		b.WriteString(string(reg.Info.ID))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(reg.Info.Version))
		for _, ext := range reg.Info.Extensions {
			b.WriteByte(' ')
			b.WriteString(ext)
		}
		b.WriteByte('\n')
	}
	for _, l := range c.layers {
		b.WriteString(string(l.ID))
		b.WriteByte('\n')
	}
	return b.String()
}

// Describe returns the configuration fingerprint.
func (c *Configuration) Describe() string {
	return c.description
}

// Registrations returns the registrations in id order.
func (c *Configuration) Registrations() []Registration {
	return append([]Registration(nil), c.registrations...)
}

// Layers returns the layer descriptors in id order.
func (c *Configuration) Layers() []LayerDescriptor {
	return append([]LayerDescriptor(nil), c.layers...)
}

// Extensions returns every extension some processor declares, sorted.
func (c *Configuration) Extensions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, reg := range c.registrations {
		for _, ext := range reg.Info.Extensions {
			if !seen[ext] {
				seen[ext] = true
				out = append(out, ext)
			}
		}
	}
	sort.Strings(out)
	return out
}

// registration returns the registration with id.
func (c *Configuration) registration(id ProcessorID) (*Registration, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.registrations[i], true
}

// Instantiate creates a configuration instance with fresh layers.
func (c *Configuration) Instantiate() *Instance {
	inst := &Instance{
		config:   c,
		layers:   make(map[types.LayerID]*Layer, len(c.layers)),
		byExt:    make(map[string][]*Realized),
		realized: make(map[ProcessorID]*Realized),
	}
	for _, d := range c.layers {
		l := d.Instantiate()
		inst.layers[d.ID] = l
		inst.layerList = append(inst.layerList, l)
	}
	for _, reg := range c.registrations {
		for _, id := range reg.Contributes {
			l := inst.layers[id]
			if n := len(l.contributors); n > 0 && l.contributors[n-1] == reg.Info.ID {
				continue
			}
			l.contributors = append(l.contributors, reg.Info.ID)
		}
	}
	return inst
}
