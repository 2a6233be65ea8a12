// Package version identifies the xref binary.
package version

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Version is the release of xref.
const Version = "0.3.0"

// Commit and Date are stamped by the release build:
// go build -ldflags "-X github.com/standardbeagle/xref/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Commit = "unknown"
	Date   = "development"
)

// Info is the version string printed by --version.
func Info() string {
	if Commit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s, %s)", Version, shortCommit(Commit), Date)
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

var buildID = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version + "-" + shortCommit(Commit)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(describeBuild(info)))
})

// BuildID fingerprints the running binary so a status report can be traced
// back to the build that produced it.
func BuildID() string {
	return buildID()
}

func describeBuild(info *debug.BuildInfo) string {
	parts := []string{info.GoVersion, info.Main.Path, info.Main.Version}
	var vcs []string
	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			vcs = append(vcs, s.Key+"="+s.Value)
		}
	}
	sort.Strings(vcs)
	return strings.Join(append(parts, vcs...), "\n")
}
