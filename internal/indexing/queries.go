package indexing

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/pattern"
	"github.com/standardbeagle/xref/internal/types"
	"github.com/standardbeagle/xref/internal/version"
)

// Match is one declared name found by FindDeclarations.
type Match struct {
	Name         string
	Quality      pattern.Quality
	Declarations []types.Location
}

// FindDeclarations returns the declared names matched by p, best quality
// first and then by name. limit <= 0 returns every match.
func (i *Indexer) FindDeclarations(ctx context.Context, p pattern.Pattern, limit int) ([]Match, error) {
	start := time.Now()
	names, err := i.store.Names(ctx, index.LayerDeclarations)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, name := range names {
		if q := p.Match(name); q.Matched() {
			matches = append(matches, Match{Name: name, Quality: q})
		}
	}
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Quality != matches[b].Quality {
			return matches[a].Quality > matches[b].Quality
		}
		return matches[a].Name < matches[b].Name
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	for n := range matches {
		decls, err := i.declarations(ctx, matches[n].Name)
		if err != nil {
			return nil, err
		}
		matches[n].Declarations = decls
	}
	debug.LogQuery("find %s: %d of %d names in %v\n", p, len(matches), len(names), time.Since(start))
	return matches, nil
}

// declarations returns the declaration sites of a simple name.
func (i *Indexer) declarations(ctx context.Context, simple string) ([]types.Location, error) {
	info, err := i.store.ReadLocationInfo(ctx, index.LayerDeclarations, types.NameLocation(simple))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	return types.SortLocations(append([]types.Location(nil), info.Sources...)), nil
}

// Declarations returns the declaration sites of name. A dotted name only
// matches declarations with that qualified name.
func (i *Indexer) Declarations(ctx context.Context, name string) ([]types.Location, error) {
	simple := types.Element{Name: name}.SimpleName()
	decls, err := i.declarations(ctx, simple)
	if err != nil || simple == name {
		return decls, err
	}
	out := decls[:0]
	for _, d := range decls {
		if d.Name == name || strings.HasSuffix(d.Name, "."+name) {
			out = append(out, d)
		}
	}
	return out, nil
}

// FindReferences returns the uses resolved to any declaration of name.
func (i *Indexer) FindReferences(ctx context.Context, name string) ([]types.Location, error) {
	decls, err := i.Declarations(ctx, name)
	if err != nil {
		return nil, err
	}
	refs := types.NewLocationSet()
	for _, d := range decls {
		info, err := i.store.ReadLocationInfo(ctx, index.LayerReferences, d)
		if err != nil {
			return nil, err
		}
		for _, src := range info.LocationsAffectedByRemovalOfSelf() {
			refs.Add(src)
		}
	}
	return refs.Sorted(), nil
}

// Unresolved returns the uses of name that no declaration matched when they
// were indexed.
func (i *Indexer) Unresolved(ctx context.Context, name string) ([]types.Location, error) {
	info, err := i.store.ReadLocationInfo(ctx, index.LayerUnresolved, types.NameLocation(name))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	return types.SortLocations(append([]types.Location(nil), info.Sources...)), nil
}

// FileSummary returns what the index holds for a resource, or nil when it
// is not indexed.
func (i *Indexer) FileSummary(ctx context.Context, r types.Resource) (*types.FileInfo, error) {
	return i.store.ReadFileInfo(ctx, r)
}

// Status is a snapshot of the indexer.
type Status struct {
	State       State                     `json:"state"`
	Root        string                    `json:"root"`
	Storage     string                    `json:"storage"`
	Files       int                       `json:"files"`
	Queued      int                       `json:"queued"`
	Errors      map[types.Resource]string `json:"errors,omitempty"`
	Persisted   bool                      `json:"persisted"`
	Fingerprint string                    `json:"fingerprint"`
	ParseTime   time.Duration             `json:"parse_time_ns"`
	LastBatch   BatchReport               `json:"last_batch"`
}

// Status reports the state of the indexer and the size of the index.
func (i *Indexer) Status(ctx context.Context) (Status, error) {
	resources, err := i.store.Resources(ctx)
	if err != nil {
		return Status{}, err
	}

	i.mu.Lock()
	st := Status{
		State:     i.state,
		Root:      i.cfg.Project.Root,
		Storage:   i.cfg.Index.Storage,
		Files:     len(resources),
		Queued:    i.queue.Len(),
		Persisted: i.durable && !i.pendingVersion && i.persistErr == nil,
		ParseTime: i.parseTime,
		LastBatch: i.lastBatch,
	}
	if len(i.errs) > 0 {
		st.Errors = make(map[types.Resource]string, len(i.errs))
		for r, err := range i.errs {
			st.Errors[r] = err.Error()
		}
	}
	i.mu.Unlock()

	st.Fingerprint = i.Fingerprint()
	return st, nil
}

// Fingerprint identifies the binary and the processor configuration the
// index is built with.
func (i *Indexer) Fingerprint() string {
	return fmt.Sprintf("%s-%016x", version.BuildID(), xxhash.Sum64String(i.configuration.Describe()))
}

// Position is a location resolved to a 1-based line and column.
type Position struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`
}

// Positions resolves byte offsets against the current file contents. Each
// file is read once. A file that cannot be read keeps line and column 0.
func (i *Indexer) Positions(locs []types.Location) []Position {
	contents := make(map[types.Resource][]byte)
	out := make([]Position, 0, len(locs))
	for _, l := range locs {
		content, ok := contents[l.Resource]
		if !ok {
			content, _ = readSource(NewFileTarget(i.scanner.Root(), l.Resource, 0).Path(), 0)
			contents[l.Resource] = content
		}
		pos := Position{File: string(l.Resource), Name: l.Name, Kind: l.Kind}
		if content != nil && l.Offset <= len(content) {
			pos.Line, pos.Column = lineColumn(content, l.Offset)
		}
		out = append(out, pos)
	}
	return out
}

func lineColumn(content []byte, offset int) (int, int) {
	head := content[:offset]
	line := bytes.Count(head, []byte{'\n'}) + 1
	col := offset - bytes.LastIndexByte(head, '\n')
	return line, col
}
