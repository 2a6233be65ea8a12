package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL loads dir/.xref.kdl. It returns nil without error when the file does
// not exist. A relative project root resolves against dir.
func LoadKDL(dir string) (*Config, error) {
	cfg, err := loadKDLFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return cfg, err
}

// LoadFile loads an explicit configuration file. A relative project root
// resolves against the file's directory. No global file is merged.
func LoadFile(path string) (*Config, error) {
	cfg, err := loadKDLFile(path)
	if err != nil {
		return nil, err
	}
	cfg.EnrichExclusionsWithBuildArtifacts()
	return cfg, nil
}

// loadKDLFile returns the unwrapped os error when path cannot be read.
func loadKDLFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg, err := parseKDL(string(content), dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(dir, cfg.Project.Root))
	}
	return cfg, nil
}

// parseKDL applies content over the defaults for root.
func parseKDL(content, root string) (*Config, error) {
	cfg := Default(root)

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				parseProjectNode(cfg, cn)
			}
		case "index":
			for _, cn := range n.Children {
				parseIndexNode(cfg, cn)
			}
		case "search":
			for _, cn := range n.Children {
				parseSearchNode(cfg, cn)
			}
		case "languages":
			cfg.Languages = stringArgs(n)
		case "include":
			cfg.Include = append(cfg.Include, stringArgs(n)...)
		case "exclude":
			// an exclude node replaces the defaults
			cfg.Exclude = stringArgs(n)
		default:
			log.Printf("WARNING: unknown node '%s' in %s", nodeName(n), FileName)
		}
	}
	return cfg, nil
}

func parseProjectNode(cfg *Config, n *document.Node) {
	switch nodeName(n) {
	case "root":
		setString(n, &cfg.Project.Root)
	case "name":
		setString(n, &cfg.Project.Name)
	}
}

func parseIndexNode(cfg *Config, n *document.Node) {
	switch nodeName(n) {
	case "dir":
		setString(n, &cfg.Index.Dir)
	case "storage":
		setString(n, &cfg.Index.Storage)
	case "max_file_size":
		if v, ok := numberArg(n); ok {
			cfg.Index.MaxFileSize = int64(v)
		} else if s, ok := stringArg(n); ok {
			if size, err := parseSize(s); err == nil {
				cfg.Index.MaxFileSize = size
			} else {
				log.Printf("WARNING: invalid max_file_size %q in %s", s, FileName)
			}
		}
	case "respect_gitignore":
		setBool(n, &cfg.Index.RespectGitignore)
	case "follow_symlinks":
		setBool(n, &cfg.Index.FollowSymlinks)
	case "batch_deadline_ms":
		setInt(n, &cfg.Index.BatchDeadlineMs)
	case "watch", "watch_mode":
		setBool(n, &cfg.Index.WatchMode)
	case "watch_debounce_ms":
		setInt(n, &cfg.Index.WatchDebounceMs)
	}
}

func parseSearchNode(cfg *Config, n *document.Node) {
	switch nodeName(n) {
	case "or_policy":
		setString(n, &cfg.Search.OrPolicy)
	case "max_results":
		setInt(n, &cfg.Search.MaxResults)
	case "fuzzy_threshold":
		if v, ok := numberArg(n); ok {
			cfg.Search.FuzzyThreshold = v
		} else {
			log.Printf("WARNING: fuzzy_threshold in %s must be a number", FileName)
		}
	case "case_sensitive":
		setBool(n, &cfg.Search.CaseSensitive)
	}
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstArg(n *document.Node) interface{} {
	if len(n.Arguments) == 0 {
		return nil
	}
	return n.Arguments[0].Value
}

func stringArg(n *document.Node) (string, bool) {
	s, ok := firstArg(n).(string)
	return s, ok
}

// numberArg accepts both integer and float literals.
func numberArg(n *document.Node) (float64, bool) {
	switch v := firstArg(n).(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func setString(n *document.Node, dst *string) {
	if s, ok := stringArg(n); ok {
		*dst = s
	}
}

func setInt(n *document.Node, dst *int) {
	if v, ok := numberArg(n); ok {
		*dst = int(v)
	}
}

func setBool(n *document.Node, dst *bool) {
	if b, ok := firstArg(n).(bool); ok {
		*dst = b
	}
}

// stringArgs accepts both `exclude "a" "b"` and the block form
// `exclude { "a"; "b" }`, where each string is a child node name.
func stringArgs(n *document.Node) []string {
	var out []string
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, child := range n.Children {
		if s, ok := stringArg(child); ok {
			out = append(out, s)
		} else if child.Name != nil {
			if s, ok := child.Name.Value.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseSize reads sizes like "10MB" or "512KB". A bare number is bytes.
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	factor := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, factor = strings.TrimSuffix(s, u.suffix), u.factor
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return n * factor, nil
}
