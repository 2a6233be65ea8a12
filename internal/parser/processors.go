package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/types"
)

// unitCacheSize bounds the parsed units kept between the declarations and the
// references pass of a transaction.
const unitCacheSize = 64

// KindImport is the Kind of import site locations.
const KindImport = "import"

// KindReference is the Kind of use site locations.
const KindReference = "ref"

// DeclarationsID returns the declarations processor id of a language.
func DeclarationsID(lang string) index.ProcessorID {
	return index.ProcessorID(lang + ".declarations")
}

// ReferencesID returns the references processor id of a language.
func ReferencesID(lang string) index.ProcessorID {
	return index.ProcessorID(lang + ".references")
}

// Registrations returns the processor registrations for the named languages,
// or for every language when none are named.
func Registrations(names ...string) ([]index.Registration, error) {
	langs := Languages()
	if len(names) > 0 {
		langs = langs[:0:0]
		seen := make(map[string]bool)
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			l, err := LookupLanguage(name)
			if err != nil {
				return nil, err
			}
			langs = append(langs, l)
		}
	}

	var regs []index.Registration
	for _, l := range langs {
		l := l
		regs = append(regs, index.Registration{
			Info: index.ProcessorInfo{
				ID:         DeclarationsID(l.Name),
				Version:    l.Version,
				Extensions: l.Extensions,
			},
			Contributes: []types.LayerID{index.LayerDeclarations, index.LayerContains, index.LayerImports},
			Factory:     func() index.Processor { return NewDeclarationsProcessor(l) },
		})
		if l.References == "" {
			continue
		}
		regs = append(regs, index.Registration{
			Info: index.ProcessorInfo{
				ID:         ReferencesID(l.Name),
				Version:    l.Version,
				Extensions: l.Extensions,
				Uses:       []index.ProcessorID{DeclarationsID(l.Name)},
			},
			Contributes: []types.LayerID{index.LayerReferences, index.LayerUnresolved},
			Factory:     func() index.Processor { return &ReferencesProcessor{lang: l.Name} },
		})
	}
	return regs, nil
}

// DeclarationsProcessor parses files of one language and records their
// declarations, containment and imports. It caches the parsed unit for the
// references processor of the same language.
type DeclarationsProcessor struct {
	lang Language

	mu       sync.Mutex
	parser   *tree_sitter.Parser
	decls    *tree_sitter.Query
	refs     *tree_sitter.Query
	units    *lru.Cache[uint64, *unit]
	clock    index.ParseClock
	parseErr int
}

// NewDeclarationsProcessor returns an uninitialized processor for lang.
func NewDeclarationsProcessor(lang Language) *DeclarationsProcessor {
	return &DeclarationsProcessor{lang: lang}
}

func (p *DeclarationsProcessor) Initialize(ic index.InitContext) error {
	language := tree_sitter.NewLanguage(p.lang.Grammar())
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(language); err != nil {
		parser.Close()
		return fmt.Errorf("%s grammar: %w", p.lang.Name, err)
	}

	// The binding can return a typed nil error, so the query itself is checked.
	decls, _ := tree_sitter.NewQuery(language, p.lang.Declarations)
	if decls == nil {
		parser.Close()
		return fmt.Errorf("%s declaration query does not compile", p.lang.Name)
	}
	var refs *tree_sitter.Query
	if p.lang.References != "" {
		refs, _ = tree_sitter.NewQuery(language, p.lang.References)
		if refs == nil {
			parser.Close()
			decls.Close()
			return fmt.Errorf("%s reference query does not compile", p.lang.Name)
		}
	}

	units, err := lru.New[uint64, *unit](unitCacheSize)
	if err != nil {
		parser.Close()
		return err
	}
	p.parser, p.decls, p.refs, p.units = parser, decls, refs, units
	return nil
}

func unitKey(r types.Resource, content []byte) uint64 {
	d := xxhash.New()
	d.WriteString(string(r))
	d.Write([]byte{0})
	d.Write(content)
	return d.Sum64()
}

// parse returns the unit for target, parsing at most once per content.
func (p *DeclarationsProcessor) parse(ctx context.Context, target index.Target) (*unit, error) {
	content, err := target.Content(ctx)
	if err != nil {
		return nil, err
	}
	key := unitKey(target.Resource(), content)

	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.units.Get(key); ok {
		return u, nil
	}

	start := time.Now()
	// tree-sitter may write into the buffer it parses
	buf := make([]byte, len(content))
	copy(buf, content)
	tree := p.parser.Parse(buf, nil)
	if tree == nil {
		p.parseErr++
		return nil, fmt.Errorf("%s parser returned no tree", p.lang.Name)
	}
	defer tree.Close()

	u := &unit{}
	u.decls, u.imports = extractDeclarations(p.decls, tree, buf)
	if p.refs != nil {
		u.refs = extractReferences(p.refs, tree, buf, u.decls)
	}
	p.clock.Since(start)
	p.units.Add(key, u)
	debug.LogIndexing("%s: parsed %s: %d declarations, %d references\n",
		p.lang.Name, target.Resource(), len(u.decls), len(u.refs))
	return u, nil
}

func (p *DeclarationsProcessor) Process(ctx context.Context, target index.Target, u *index.Updater) error {
	unit, err := p.parse(ctx, target)
	if err != nil {
		return err
	}
	r := target.Resource()
	locs := make([]types.Location, len(unit.decls))
	for i, d := range unit.decls {
		locs[i] = types.Location{
			Element: types.Element{Resource: r, Name: d.qualified},
			Kind:    d.kind,
			Offset:  d.nameStart,
			Length:  d.nameEnd - d.nameStart,
		}
	}

	reindex := make(map[types.Resource]bool)
	for i, d := range unit.decls {
		if containerOnly[d.kind] {
			continue
		}
		if err := u.Relate(ctx, index.LayerDeclarations, locs[i], types.NameLocation(d.name)); err != nil {
			return err
		}
		if d.parent >= 0 && !containerOnly[unit.decls[d.parent].kind] {
			if err := u.Relate(ctx, index.LayerContains, locs[d.parent], locs[i]); err != nil {
				return err
			}
		}
		// uses elsewhere that could not be resolved before may resolve now
		info, err := u.ReadLocationInfo(ctx, index.LayerUnresolved, types.NameLocation(d.name))
		if err != nil {
			return err
		}
		for _, src := range info.LocationsAffectedByRemovalOfSelf() {
			reindex[src.Resource] = true
		}
	}
	for rs := range reindex {
		u.RequestReindex(rs)
	}

	for _, imp := range unit.imports {
		src := types.Location{
			Element: types.Element{Resource: r, Name: imp.text},
			Kind:    KindImport,
			Offset:  imp.start,
			Length:  imp.end - imp.start,
		}
		if err := u.Relate(ctx, index.LayerImports, src, types.NameLocation(imp.text)); err != nil {
			return err
		}
	}
	return nil
}

// TransactionEnded drops the parsed units; the next transaction sees new content.
func (p *DeclarationsProcessor) TransactionEnded() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.units != nil {
		p.units.Purge()
	}
	if p.parseErr > 0 {
		n := p.parseErr
		p.parseErr = 0
		return fmt.Errorf("%s: %d files produced no syntax tree", p.lang.Name, n)
	}
	return nil
}

func (p *DeclarationsProcessor) TakeParseTime() time.Duration {
	return p.clock.Take()
}

// Close releases the parser and queries.
func (p *DeclarationsProcessor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
	if p.decls != nil {
		p.decls.Close()
		p.decls = nil
	}
	if p.refs != nil {
		p.refs.Close()
		p.refs = nil
	}
	return nil
}

// ReferencesProcessor resolves use sites against the declarations layer. Uses
// without a declaration go to the unresolved layer, keyed by name, so that a
// later declaration can ask for them to be indexed again.
type ReferencesProcessor struct {
	lang  string
	decls *DeclarationsProcessor
}

func (p *ReferencesProcessor) Initialize(ic index.InitContext) error {
	decls, ok := ic.Uses[DeclarationsID(p.lang)].(*DeclarationsProcessor)
	if !ok {
		return errors.New("references processor needs the declarations processor of its language")
	}
	p.decls = decls
	return nil
}

func (p *ReferencesProcessor) Process(ctx context.Context, target index.Target, u *index.Updater) error {
	unit, err := p.decls.parse(ctx, target)
	if err != nil {
		return err
	}
	r := target.Resource()
	for _, ref := range unit.refs {
		src := types.Location{
			Element: types.Element{Resource: r, Name: ref.text},
			Kind:    KindReference,
			Offset:  ref.start,
			Length:  ref.end - ref.start,
		}
		decls, err := u.Declarations(ctx, ref.text)
		if err != nil {
			return err
		}
		if len(decls) == 0 {
			if err := u.Relate(ctx, index.LayerUnresolved, src, types.NameLocation(ref.text)); err != nil {
				return err
			}
			continue
		}
		for _, d := range preferLocal(decls, r) {
			if err := u.Relate(ctx, index.LayerReferences, src, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// preferLocal keeps only the declarations in r when there are any.
func preferLocal(decls []types.Location, r types.Resource) []types.Location {
	var local []types.Location
	for _, d := range decls {
		if d.Resource == r {
			local = append(local, d)
		}
	}
	if len(local) > 0 {
		return local
	}
	return decls
}

func (p *ReferencesProcessor) TransactionEnded() error      { return nil }
func (p *ReferencesProcessor) TakeParseTime() time.Duration { return 0 }
