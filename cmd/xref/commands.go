package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/xref/internal/config"
	"github.com/standardbeagle/xref/internal/debug"
	xerrors "github.com/standardbeagle/xref/internal/errors"
	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/indexing"
	"github.com/standardbeagle/xref/internal/mcp"
	"github.com/standardbeagle/xref/internal/parser"
	"github.com/standardbeagle/xref/internal/pattern"
	"github.com/standardbeagle/xref/internal/storage"
	"github.com/standardbeagle/xref/internal/storage/memstore"
	"github.com/standardbeagle/xref/internal/storage/sqlstore"
)

// buildConfiguration wires the processors of the configured languages.
func buildConfiguration(cfg *config.Config) (*index.Configuration, error) {
	regs, err := parser.Registrations(cfg.Languages...)
	if err != nil {
		return nil, err
	}
	return index.Build(regs, index.StandardLayers())
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Index.Storage == config.StorageMemory {
		return memstore.New(), nil
	}
	return sqlstore.Open(cfg.IndexDir())
}

// openIndexer loads the configuration and creates an indexer over it. The
// caller stops the indexer.
func openIndexer(c *cli.Context, opts ...indexing.Option) (*indexing.Indexer, *config.Config, error) {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, nil, err
	}
	configuration, err := buildConfiguration(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index at %s: %w", cfg.IndexDir(), err)
	}
	return indexing.New(cfg, configuration, store, opts...), cfg, nil
}

// drain runs batches until the queue is empty.
func drain(ctx context.Context, ix *indexing.Indexer, deadline time.Duration) error {
	for {
		drained, err := ix.IndexPending(ctx, deadline)
		if err != nil {
			return err
		}
		if drained {
			return nil
		}
	}
}

// syncIndex prepares ix and brings it up to date.
func syncIndex(ctx context.Context, ix *indexing.Indexer, cfg *config.Config) error {
	if err := ix.Prepare(ctx); err != nil {
		return err
	}
	return drain(ctx, ix, cfg.BatchDeadline())
}

func progressReporter() indexing.Option {
	return indexing.WithBatchCallback(func(r indexing.BatchReport) {
		debug.LogIndexing("batch: %d indexed, %d removed, %d failed in %v\n", r.Indexed, r.Removed, r.Failed, r.Duration)
	})
}

func indexCommand(c *cli.Context) error {
	ix, cfg, err := openIndexer(c, progressReporter())
	if err != nil {
		return err
	}
	defer ix.Stop()

	start := time.Now()
	if err := syncIndex(c.Context, ix, cfg); err != nil {
		return err
	}
	return printIndexSummary(c, ix, time.Since(start))
}

func rebuildCommand(c *cli.Context) error {
	ix, cfg, err := openIndexer(c, progressReporter())
	if err != nil {
		return err
	}
	defer ix.Stop()

	start := time.Now()
	ix.RequestRebuild()
	if err := drain(c.Context, ix, cfg.BatchDeadline()); err != nil {
		return err
	}
	return printIndexSummary(c, ix, time.Since(start))
}

func watchCommand(c *cli.Context) error {
	out := c.App.Writer
	ix, cfg, err := openIndexer(c, indexing.WithWatch(true), indexing.WithBatchCallback(func(r indexing.BatchReport) {
		switch {
		case r.Rebuild:
			fmt.Fprintf(out, "Rebuilt index: %d files in %v\n", r.Indexed, r.Duration.Round(time.Millisecond))
		case r.Indexed+r.Removed > 0:
			fmt.Fprintf(out, "Updated %d, removed %d files in %v\n", r.Indexed, r.Removed, r.Duration.Round(time.Millisecond))
		}
	}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ix.Start(ctx); err != nil {
		ix.Stop()
		return err
	}
	fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", cfg.Project.Root)
	<-ctx.Done()
	return ix.Stop()
}

func findCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: xref find <pattern>", 2)
	}
	ix, cfg, err := openIndexer(c)
	if err != nil {
		return err
	}
	defer ix.Stop()

	opts := cfg.SearchOptions()
	if c.IsSet("case-sensitive") {
		opts.CaseSensitive = c.Bool("case-sensitive")
	}
	p, err := compileQuery(c.String("mode"), c.Args().First(), opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid pattern: %v", err), 2)
	}
	limit := cfg.Search.MaxResults
	if c.IsSet("max") {
		limit = c.Int("max")
	}

	if err := syncIndex(c.Context, ix, cfg); err != nil {
		return err
	}
	matches, err := ix.FindDeclarations(c.Context, p, limit)
	if err != nil {
		return err
	}
	return printMatches(c, ix, p, matches)
}

// compileQuery builds the pattern for a --mode. auto hands the query to the
// full query syntax.
func compileQuery(mode, query string, opts pattern.Options) (pattern.Pattern, error) {
	switch mode {
	case "", "auto":
		return pattern.Compile(query, opts)
	case "exact":
		return pattern.ExactMatch(query, opts.CaseSensitive), nil
	case "prefix":
		return pattern.PrefixMatch(query, opts.CaseSensitive), nil
	case "wildcard":
		return pattern.WildcardMatch(query, opts.CaseSensitive), nil
	case "regex", "re":
		return pattern.RegexMatch(query, opts.CaseSensitive)
	case "camel":
		return pattern.CamelCaseMatch(query, opts.SamePartCount, opts.CaseSensitive), nil
	case "fuzzy":
		return pattern.FuzzyMatch(query, opts.FuzzyThreshold, opts.CaseSensitive), nil
	case "words":
		return pattern.WordsMatch(query), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func refsCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: xref refs <name>", 2)
	}
	name := c.Args().First()
	ix, cfg, err := openIndexer(c)
	if err != nil {
		return err
	}
	defer ix.Stop()

	if err := syncIndex(c.Context, ix, cfg); err != nil {
		return err
	}
	report, err := collectReferences(c.Context, ix, name)
	if err != nil {
		return err
	}
	return printReferences(c, report)
}

func statusCommand(c *cli.Context) error {
	ix, cfg, err := openIndexer(c)
	if err != nil {
		return err
	}
	defer ix.Stop()

	st, err := ix.Status(c.Context)
	if err != nil {
		return err
	}
	report := statusReport{Status: st, IndexDir: cfg.IndexDir(), UpToDate: true}
	if cfg.Index.Storage != config.StorageMemory {
		configuration, err := buildConfiguration(cfg)
		if err != nil {
			return err
		}
		if err := index.CheckVersion(cfg.IndexDir(), configuration); err != nil {
			report.UpToDate = false
			report.Reason = err.Error()
			if !xerrors.IsRebuildRequired(err) {
				return err
			}
		}
	}
	return printStatus(c, report)
}

func mcpCommand(c *cli.Context) error {
	debug.SetMCPMode(true)
	logger := mcp.NewDiagnosticLogger()
	defer logger.Close()
	// stdout carries the protocol
	log.SetOutput(logger.Writer())

	ix, cfg, err := openIndexer(c)
	if err != nil {
		logger.Errorf("failed to open index: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ix.Start(ctx); err != nil {
		ix.Stop()
		return err
	}

	server, err := mcp.NewServer(ix, cfg, logger)
	if err != nil {
		ix.Stop()
		return err
	}
	serveErr := server.Start(ctx)
	if stopErr := ix.Stop(); stopErr != nil {
		logger.Errorf("failed to stop indexer: %v", stopErr)
	}
	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}
