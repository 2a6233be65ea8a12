package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// BuildArtifactDetector finds build output directories declared by a
// project's package.json, tsconfig.json, Cargo.toml and pyproject.toml.
type BuildArtifactDetector struct {
	projectRoot string
}

func NewBuildArtifactDetector(projectRoot string) *BuildArtifactDetector {
	return &BuildArtifactDetector{projectRoot: projectRoot}
}

// DetectOutputDirectories returns exclusion globs such as "**/lib/**", sorted.
func (bad *BuildArtifactDetector) DetectOutputDirectories() []string {
	var dirs []string
	dirs = append(dirs, bad.detectJavaScriptOutputs()...)
	dirs = append(dirs, bad.detectRustOutputs()...)
	dirs = append(dirs, bad.detectPythonOutputs()...)

	var patterns []string
	for _, d := range dirs {
		d = strings.Trim(filepath.ToSlash(filepath.Clean(d)), "/")
		if d == "" || d == "." || strings.HasPrefix(d, "..") {
			continue
		}
		patterns = append(patterns, "**/"+d+"/**")
	}
	patterns = DeduplicatePatterns(patterns)
	sort.Strings(patterns)
	return patterns
}

func (bad *BuildArtifactDetector) detectJavaScriptOutputs() []string {
	var dirs []string

	var pkg struct {
		Scripts map[string]string `json:"scripts"`
		Build   struct {
			OutDir string `json:"outDir"`
		} `json:"build"`
	}
	if bad.readJSON("package.json", &pkg) {
		for _, script := range pkg.Scripts {
			parts := strings.Fields(script)
			for i, part := range parts {
				if (part == "--outDir" || part == "-outDir") && i+1 < len(parts) {
					dirs = append(dirs, strings.Trim(parts[i+1], "\"'"))
				}
			}
		}
		if pkg.Build.OutDir != "" {
			dirs = append(dirs, pkg.Build.OutDir)
		}
	}

	var tsconfig struct {
		CompilerOptions struct {
			OutDir string `json:"outDir"`
		} `json:"compilerOptions"`
	}
	if bad.readJSON("tsconfig.json", &tsconfig) && tsconfig.CompilerOptions.OutDir != "" {
		dirs = append(dirs, tsconfig.CompilerOptions.OutDir)
	}
	return dirs
}

func (bad *BuildArtifactDetector) detectRustOutputs() []string {
	var cargo struct {
		Build struct {
			TargetDir string `toml:"target-dir"`
		} `toml:"build"`
		Profile map[string]struct {
			TargetDir string `toml:"target-dir"`
		} `toml:"profile"`
	}
	if !bad.readTOML("Cargo.toml", &cargo) {
		return nil
	}
	var dirs []string
	if cargo.Build.TargetDir != "" {
		dirs = append(dirs, cargo.Build.TargetDir)
	}
	for _, p := range cargo.Profile {
		if p.TargetDir != "" {
			dirs = append(dirs, p.TargetDir)
		}
	}
	return dirs
}

func (bad *BuildArtifactDetector) detectPythonOutputs() []string {
	var pyproject struct {
		Tool struct {
			Poetry struct {
				Build struct {
					TargetDir string `toml:"target-dir"`
				} `toml:"build"`
			} `toml:"poetry"`
			Hatch struct {
				Build struct {
					Directory string `toml:"directory"`
				} `toml:"build"`
			} `toml:"hatch"`
		} `toml:"tool"`
	}
	if !bad.readTOML("pyproject.toml", &pyproject) {
		return nil
	}
	var dirs []string
	if d := pyproject.Tool.Poetry.Build.TargetDir; d != "" {
		dirs = append(dirs, d)
	}
	if d := pyproject.Tool.Hatch.Build.Directory; d != "" {
		dirs = append(dirs, d)
	}
	return dirs
}

func (bad *BuildArtifactDetector) readJSON(name string, v interface{}) bool {
	data, err := os.ReadFile(filepath.Join(bad.projectRoot, name))
	return err == nil && json.Unmarshal(data, v) == nil
}

func (bad *BuildArtifactDetector) readTOML(name string, v interface{}) bool {
	data, err := os.ReadFile(filepath.Join(bad.projectRoot, name))
	return err == nil && toml.Unmarshal(data, v) == nil
}

// DeduplicatePatterns removes duplicates, keeping the first occurrence.
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if !seen[pattern] {
			seen[pattern] = true
			result = append(result, pattern)
		}
	}
	return result
}
