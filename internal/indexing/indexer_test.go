package indexing_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/xref/internal/config"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/indexing"
	"github.com/standardbeagle/xref/internal/parser"
	"github.com/standardbeagle/xref/internal/pattern"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/storage/memstore"
	"github.com/standardbeagle/xref/internal/storage/sqlstore"
	"github.com/standardbeagle/xref/internal/types"
)

const serverGo = `package app

type Server struct {
	addr string
}

func (s *Server) Start() {
	helper()
	missing()
}
`

const helperGo = `package app

func helper() {}
`

type project struct {
	t    *testing.T
	root string
}

func newProject(t *testing.T, files map[string]string) *project {
	p := &project{t: t, root: t.TempDir()}
	for rel, content := range files {
		p.write(rel, content)
	}
	return p
}

func (p *project) write(rel, content string) {
	p.t.Helper()
	path := filepath.Join(p.root, filepath.FromSlash(rel))
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0644))
}

func (p *project) remove(rel string) {
	p.t.Helper()
	require.NoError(p.t, os.Remove(filepath.Join(p.root, filepath.FromSlash(rel))))
}

type setup struct {
	storage string
	langs   []string
	extra   []index.Registration
	opts    []indexing.Option
}

func (p *project) indexer(s setup) *indexing.Indexer {
	p.t.Helper()
	cfg := config.Default(p.root)
	cfg.Index.WatchMode = false
	cfg.Index.Storage = config.StorageMemory
	if s.storage != "" {
		cfg.Index.Storage = s.storage
	}
	if len(s.langs) == 0 {
		s.langs = []string{"go", "python"}
	}
	regs, err := parser.Registrations(s.langs...)
	require.NoError(p.t, err)
	configuration, err := index.Build(append(regs, s.extra...), index.StandardLayers())
	require.NoError(p.t, err)

	var store storage.Store
	if cfg.Index.Storage == config.StorageSQLite {
		store, err = sqlstore.Open(cfg.IndexDir())
		require.NoError(p.t, err)
	} else {
		store = memstore.New()
	}
	opts := append([]indexing.Option{indexing.WithBatchDeadline(0)}, s.opts...)
	ix := indexing.New(cfg, configuration, store, opts...)
	p.t.Cleanup(func() { ix.Stop() })
	return ix
}

// runAll drains the queue with direct batches.
func runAll(t *testing.T, ix *indexing.Indexer) {
	t.Helper()
	ctx := context.Background()
	for n := 0; n < 10; n++ {
		drained, err := ix.IndexPending(ctx, 0)
		require.NoError(t, err)
		if drained {
			return
		}
	}
	t.Fatal("queue did not drain")
}

// prepared schedules the initial rebuild or resync of ix and runs it.
func prepared(t *testing.T, ix *indexing.Indexer) *indexing.Indexer {
	t.Helper()
	require.NoError(t, ix.Prepare(context.Background()))
	runAll(t, ix)
	return ix
}

func resources(locs []types.Location) []types.Resource {
	var out []types.Resource
	for _, l := range locs {
		out = append(out, l.Resource)
	}
	return out
}

func TestIndexProject(t *testing.T) {
	p := newProject(t, map[string]string{
		"server.go":        serverGo,
		"helper.go":        helperGo,
		"tools/gen.py":     "def generate():\n    pass\n",
		"README.md":        "# app\n",
		"vendor/x/x.go":    "package x\n\nfunc Vendored() {}\n",
		"pkg/empty/doc.go": "package empty\n",
	})
	ix := prepared(t, p.indexer(setup{}))
	ctx := context.Background()

	matches, err := ix.FindDeclarations(ctx, pattern.ExactMatch("Server", true), 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Server", matches[0].Name)
	assert.Equal(t, pattern.Exact, matches[0].Quality)
	assert.Equal(t, []types.Resource{"server.go"}, resources(matches[0].Declarations))

	matches, err = ix.FindDeclarations(ctx, pattern.ExactMatch("Vendored", true), 0)
	require.NoError(t, err)
	assert.Empty(t, matches, "vendor is excluded")

	refs, err := ix.FindReferences(ctx, "helper")
	require.NoError(t, err)
	assert.Equal(t, []types.Resource{"server.go"}, resources(refs))

	unresolved, err := ix.Unresolved(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, []types.Resource{"server.go"}, resources(unresolved))

	fi, err := ix.FileSummary(ctx, "tools/gen.py")
	require.NoError(t, err)
	require.NotNil(t, fi)
	assert.NotEmpty(t, fi.SourceLocations)

	fi, err = ix.FileSummary(ctx, "README.md")
	require.NoError(t, err)
	assert.Nil(t, fi)

	st, err := ix.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Files)
	assert.Zero(t, st.Queued)
	assert.Empty(t, st.Errors)
	assert.False(t, st.Persisted, "memory storage is never persisted")
	assert.Equal(t, indexing.StateNotStarted, st.State)
	assert.NotEmpty(t, st.Fingerprint)
}

func TestFindDeclarationsRanksAndLimits(t *testing.T) {
	p := newProject(t, map[string]string{
		"a.go": "package a\n\nfunc ParseFile() {}\nfunc ParseFiles() {}\nfunc PrintFile() {}\nfunc Parse() {}\n",
	})
	ix := prepared(t, p.indexer(setup{}))
	ctx := context.Background()

	pat, err := pattern.Compile("Parse|camel:PF", pattern.Options{OrPolicy: pattern.OrBestMatch})
	require.NoError(t, err)
	matches, err := ix.FindDeclarations(ctx, pat, 0)
	require.NoError(t, err)

	var names []string
	for _, m := range matches {
		names = append(names, m.Name)
	}
	assert.Equal(t, "Parse", names[0], "exact match ranks first")
	assert.Subset(t, names, []string{"ParseFile", "PrintFile"})

	limited, err := ix.FindDeclarations(ctx, pat, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestEditAndDeleteFiles(t *testing.T) {
	p := newProject(t, map[string]string{"server.go": serverGo, "helper.go": helperGo})
	ix := prepared(t, p.indexer(setup{}))
	ctx := context.Background()

	p.write("helper.go", "package app\n\nfunc helper2() {}\n")
	ix.Enqueue("helper.go")
	runAll(t, ix)

	decls, err := ix.Declarations(ctx, "helper")
	require.NoError(t, err)
	assert.Empty(t, decls)
	unresolved, err := ix.Unresolved(ctx, "helper")
	require.NoError(t, err)
	assert.Equal(t, []types.Resource{"server.go"}, resources(unresolved), "the caller was reindexed")

	p.remove("helper.go")
	ix.Enqueue("helper.go")
	runAll(t, ix)

	fi, err := ix.FileSummary(ctx, "helper.go")
	require.NoError(t, err)
	assert.Nil(t, fi)
	matches, err := ix.FindDeclarations(ctx, pattern.PrefixMatch("helper", true), 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileTurnedBinaryIsRemoved(t *testing.T) {
	p := newProject(t, map[string]string{"helper.go": helperGo})
	ix := prepared(t, p.indexer(setup{}))

	p.write("helper.go", "\x00\x01\x02")
	r, ok := ix.Resource(filepath.Join(p.root, "helper.go"))
	require.True(t, ok)
	ix.Reindex(r)
	runAll(t, ix)

	fi, err := ix.FileSummary(context.Background(), "helper.go")
	require.NoError(t, err)
	assert.Nil(t, fi)
}

func TestDurableIndexResyncs(t *testing.T) {
	p := newProject(t, map[string]string{"server.go": serverGo, "helper.go": helperGo})

	var reports []indexing.BatchReport
	record := indexing.WithBatchCallback(func(r indexing.BatchReport) { reports = append(reports, r) })

	first := prepared(t, p.indexer(setup{storage: config.StorageSQLite, opts: []indexing.Option{record}}))
	require.NotEmpty(t, reports)
	assert.True(t, reports[0].Rebuild)
	st, err := first.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Persisted)
	require.NoError(t, first.Stop())
	assert.FileExists(t, filepath.Join(p.root, ".xref", index.VersionFileName))

	p.write("helper.go", helperGo+"\n// trailing comment\n")
	p.write("extra.go", "package app\n\nfunc Extra() {}\n")

	reports = nil
	second := prepared(t, p.indexer(setup{storage: config.StorageSQLite, opts: []indexing.Option{record}}))
	require.NotEmpty(t, reports)
	assert.False(t, reports[0].Rebuild)
	assert.True(t, reports[0].Resync)
	assert.Equal(t, 2, reports[0].Indexed, "only the changed and the new file")

	matches, err := second.FindDeclarations(context.Background(), pattern.ExactMatch("Server", true), 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1, "facts survive the restart")
	matches, err = second.FindDeclarations(context.Background(), pattern.ExactMatch("Extra", true), 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestConfigurationChangeForcesRebuild(t *testing.T) {
	p := newProject(t, map[string]string{"server.go": serverGo})

	var reports []indexing.BatchReport
	record := indexing.WithBatchCallback(func(r indexing.BatchReport) { reports = append(reports, r) })

	first := prepared(t, p.indexer(setup{storage: config.StorageSQLite, langs: []string{"go"}}))
	require.NoError(t, first.Stop())

	prepared(t, p.indexer(setup{storage: config.StorageSQLite, langs: []string{"go", "python"}, opts: []indexing.Option{record}}))
	require.NotEmpty(t, reports)
	assert.True(t, reports[0].Rebuild)
}

// failing always fails on .fail files.
type failing struct{ calls *int }

func (f *failing) Initialize(index.InitContext) error { return nil }

func (f *failing) Process(context.Context, index.Target, *index.Updater) error {
	*f.calls++
	return errors.New("cannot process")
}

func (f *failing) TransactionEnded() error { return nil }
func (f *failing) TakeParseTime() time.Duration { return 0 }

func TestFailingTargetIsRetriedOnce(t *testing.T) {
	p := newProject(t, map[string]string{"bad.fail": "x", "helper.go": helperGo})
	calls := 0
	reg := index.Registration{
		Info:        index.ProcessorInfo{ID: "fail", Version: 1, Extensions: []string{".fail"}},
		Contributes: []types.LayerID{index.LayerDeclarations},
		Factory:     func() index.Processor { return &failing{calls: &calls} },
	}
	ix := p.indexer(setup{extra: []index.Registration{reg}})
	require.NoError(t, ix.Prepare(context.Background()))

	drained, err := ix.IndexPending(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, drained, "the failed target is queued again")

	drained, err = ix.IndexPending(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, drained)
	assert.Equal(t, 2, calls)

	errs := ix.FilesWithErrors()
	require.Contains(t, errs, types.Resource("bad.fail"))
	assert.ErrorContains(t, errs["bad.fail"], "cannot process")

	fi, err := ix.FileSummary(context.Background(), "helper.go")
	require.NoError(t, err)
	assert.NotNil(t, fi, "other targets of the batch are committed")
}

func TestStartWatchesFiles(t *testing.T) {
	p := newProject(t, map[string]string{"server.go": serverGo})
	ix := p.indexer(setup{opts: []indexing.Option{indexing.WithWatch(true)}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, ix.Start(ctx))
	require.Error(t, ix.Start(ctx), "second start")
	require.NoError(t, ix.WaitIdle(ctx))

	p.write("pkg/late.go", "package pkg\n\nfunc Late() {}\n")
	require.Eventually(t, func() bool {
		matches, err := ix.FindDeclarations(ctx, pattern.ExactMatch("Late", true), 0)
		return err == nil && len(matches) == 1
	}, 5*time.Second, 20*time.Millisecond)

	p.remove("server.go")
	require.Eventually(t, func() bool {
		fi, err := ix.FileSummary(ctx, "server.go")
		return err == nil && fi == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, ix.Stop())
	require.NoError(t, ix.Stop())
	_, err := ix.IndexPending(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, ix.WaitIdle(ctx), storage.ErrClosed)
}

func TestReindexWakesWorker(t *testing.T) {
	p := newProject(t, map[string]string{"helper.go": helperGo})
	var mu sync.Mutex
	batches := 0
	ix := p.indexer(setup{opts: []indexing.Option{indexing.WithBatchCallback(func(indexing.BatchReport) {
		mu.Lock()
		batches++
		mu.Unlock()
	})}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, ix.Start(ctx))
	require.NoError(t, ix.WaitIdle(ctx))

	p.write("helper.go", "package app\n\nfunc renamed() {}\n")
	ix.Reindex("helper.go")
	require.Eventually(t, func() bool {
		decls, err := ix.Declarations(ctx, "renamed")
		return err == nil && len(decls) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.GreaterOrEqual(t, batches, 2)
	mu.Unlock()
}
