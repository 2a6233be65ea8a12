package config

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// GitignoreParser matches paths against .gitignore rules. Paths are slash
// separated and relative to the project root. The last matching rule wins.
type GitignoreParser struct {
	mu     sync.RWMutex
	rules  []gitignoreRule
	loaded map[string]bool // directories whose .gitignore was read
}

type gitignoreRule struct {
	glob      string // doublestar pattern relative to the project root
	negate    bool
	directory bool // trailing slash: matches directories only
}

func NewGitignoreParser() *GitignoreParser {
	return &GitignoreParser{loaded: make(map[string]bool)}
}

// LoadGitignore loads rootPath/.gitignore. A missing file is not an error.
func (gp *GitignoreParser) LoadGitignore(rootPath string) error {
	return gp.LoadGitignoreAt(rootPath, "")
}

// LoadGitignoreAt loads the .gitignore of the directory relDir below rootPath;
// its rules only apply inside relDir. Each directory is read once.
func (gp *GitignoreParser) LoadGitignoreAt(rootPath, relDir string) error {
	gp.mu.Lock()
	done := gp.loaded[relDir]
	gp.loaded[relDir] = true
	gp.mu.Unlock()
	if done {
		return nil
	}
	file, err := os.Open(filepath.Join(rootPath, filepath.FromSlash(relDir), ".gitignore"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	return gp.addFrom(relDir, file)
}

func (gp *GitignoreParser) addFrom(base string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		gp.addRule(base, scanner.Text())
	}
	return scanner.Err()
}

// AddPattern adds one root-level rule.
func (gp *GitignoreParser) AddPattern(line string) {
	gp.addRule("", line)
}

func (gp *GitignoreParser) addRule(base, line string) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	var rule gitignoreRule
	if strings.HasPrefix(line, "!") {
		rule.negate = true
		line = line[1:]
	}
	line = strings.TrimPrefix(line, `\`)
	if strings.HasSuffix(line, "/") {
		rule.directory = true
		line = strings.TrimRight(line, "/")
	}
	// a slash anywhere but the end anchors the rule to its directory
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return
	}
	if !anchored && !strings.HasPrefix(line, "**/") {
		line = "**/" + line
	}
	if base = strings.Trim(base, "/"); base != "" {
		line = base + "/" + line
	}
	if !doublestar.ValidatePattern(line) {
		return
	}
	rule.glob = line

	gp.mu.Lock()
	gp.rules = append(gp.rules, rule)
	gp.mu.Unlock()
}

// ShouldIgnore reports whether path, or a directory containing it, is ignored.
func (gp *GitignoreParser) ShouldIgnore(p string, isDir bool) bool {
	p = strings.Trim(filepath.ToSlash(p), "/")
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	ignored := false
	for _, rule := range gp.rules {
		if rule.matches(p, isDir) {
			ignored = !rule.negate
		}
	}
	return ignored
}

func (r *gitignoreRule) matches(p string, isDir bool) bool {
	if (!r.directory || isDir) && doublestar.MatchUnvalidated(r.glob, p) {
		return true
	}
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if doublestar.MatchUnvalidated(r.glob, dir) {
			return true
		}
	}
	return false
}

// Len returns the number of rules loaded.
func (gp *GitignoreParser) Len() int {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return len(gp.rules)
}
