package indexing

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/xref/internal/config"
	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/types"
)

// Scanner decides which files of the project are indexed and walks them.
type Scanner struct {
	root      string
	indexDir  string // relative to root, "" when outside the project
	cfg       *config.Config
	isIndexed func(types.Resource) bool
	gitignore *config.GitignoreParser
}

// NewScanner returns a scanner over cfg's project. isIndexed reports whether a
// processor handles the resource; nil accepts every file.
func NewScanner(cfg *config.Config, isIndexed func(types.Resource) bool) *Scanner {
	s := &Scanner{root: cfg.Project.Root, cfg: cfg, isIndexed: isIndexed}
	if rel, err := filepath.Rel(s.root, cfg.IndexDir()); err == nil && !strings.HasPrefix(rel, "..") {
		s.indexDir = filepath.ToSlash(rel)
	}
	if cfg.Index.RespectGitignore {
		s.gitignore = config.NewGitignoreParser()
		if err := s.gitignore.LoadGitignore(s.root); err != nil {
			log.Printf("Warning: failed to read .gitignore: %v", err)
		}
	}
	return s
}

// Root returns the absolute project root.
func (s *Scanner) Root() string { return s.root }

// Resource maps an absolute path to its resource.
func (s *Scanner) Resource(path string) (types.Resource, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return types.Resource(filepath.ToSlash(rel)), true
}

// ShouldProcess reports whether the project-relative path takes part in
// indexing. Directories only go through the exclusion checks.
func (s *Scanner) ShouldProcess(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return isDir
	}
	if s.indexDir != "" && (rel == s.indexDir || strings.HasPrefix(rel, s.indexDir+"/")) {
		return false
	}
	if s.excluded(rel, isDir) {
		return false
	}
	if s.gitignore != nil && s.gitignore.ShouldIgnore(rel, isDir) {
		return false
	}
	if isDir {
		return true
	}
	if len(s.cfg.Include) > 0 && !matchesAny(s.cfg.Include, rel) {
		return false
	}
	return s.isIndexed == nil || s.isIndexed(types.Resource(rel))
}

// excluded checks the exclusion globs. A directory is also tested with a
// trailing child so that "**/vendor/**" prunes vendor itself.
func (s *Scanner) excluded(rel string, isDir bool) bool {
	if matchesAny(s.cfg.Exclude, rel) {
		return true
	}
	return isDir && matchesAny(s.cfg.Exclude, rel+"/x")
}

func matchesAny(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// Walk returns every indexed resource of the project, sorted. Nested
// .gitignore files are picked up on the way down.
func (s *Scanner) Walk(ctx context.Context) ([]types.Resource, error) {
	var out []types.Resource
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			debug.LogIndexing("scanner: skipping %s: %v\n", path, err)
			if d != nil && d.IsDir() && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == s.root {
			return nil
		}
		r, ok := s.Resource(path)
		if !ok {
			return nil
		}

		if d.IsDir() {
			if !s.ShouldProcess(string(r), true) {
				return filepath.SkipDir
			}
			if s.gitignore != nil {
				if err := s.gitignore.LoadGitignoreAt(s.root, string(r)); err != nil {
					debug.LogIndexing("scanner: %s/.gitignore: %v\n", r, err)
				}
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if !s.cfg.Index.FollowSymlinks {
				return nil
			}
			if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		if s.ShouldProcess(string(r), false) {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.SortResources(out), nil
}

// Stamps computes the content stamp of each resource that can be read as
// source. Unreadable, oversized and binary files are left out.
func (s *Scanner) Stamps(ctx context.Context, rs []types.Resource) (map[types.Resource]int64, error) {
	var mu sync.Mutex
	stamps := make(map[types.Resource]int64, len(rs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, r := range rs {
		r := r
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := readSource(filepath.Join(s.root, filepath.FromSlash(string(r))), s.cfg.Index.MaxFileSize)
			if err != nil {
				debug.LogIndexing("scanner: not stamping %s: %v\n", r, err)
				return nil
			}
			mu.Lock()
			stamps[r] = contentStamp(content)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stamps, nil
}

// Exists reports whether the resource is a file on disk.
func (s *Scanner) Exists(r types.Resource) bool {
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(string(r))))
	return err == nil && !info.IsDir()
}

// sortedKeys returns the resources of m, sorted.
func sortedKeys(m map[types.Resource]int64) []types.Resource {
	out := make([]types.Resource, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
