// Package version provides build-time version information for esplay.
//
// The variables are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/esplay/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/esplay/internal/version.Commit=$(git rev-parse HEAD)"
//
// Builds without ldflags fall back to the VCS stamp recorded by the Go toolchain.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version. Snapshots look like "1.2.3-SNAPSHOT.abc1234".
	Version = "dev"
	// Commit is the full git commit SHA.
	Commit = "unknown"
	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
	// Branch is the git branch the build was made from.
	Branch = ""
	// TreeState is "clean" or "dirty".
	TreeState = ""
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "esplay"

func init() {
	if Commit != "unknown" {
		return
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = s.Value
		case "vcs.time":
			Date = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				TreeState = "dirty"
			} else {
				TreeState = "clean"
			}
		}
	}
}

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Branch    string `json:"branch,omitempty"`
	TreeState string `json:"tree_state,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Branch:    Branch,
		TreeState: TreeState,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// shortCommit is the first eight characters of the commit, with a "*" when
// the tree was dirty. It is empty when no commit is known.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	c := Commit[:8]
	if TreeState == "dirty" {
		c += "*"
	}
	return c
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s", ApplicationName, info.Version)
	if c := shortCommit(); c != "" {
		fmt.Fprintf(&b, " (commit: %s", c)
		if info.Branch != "" {
			fmt.Fprintf(&b, ", branch: %s", info.Branch)
		}
		fmt.Fprintf(&b, ", built: %s)", info.Date)
	}
	fmt.Fprintf(&b, " %s %s", info.GoVersion, info.Platform)
	return b.String()
}

// Short returns the version for cobra's --version output, which prefixes the
// application name itself.
func Short() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s (%s)", Version, c)
	}
	return Version
}

// JSON returns the version information as indented JSON.
func JSON() string {
	out, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

// ServerHeader is the value of the HTTP Server header.
func ServerHeader() string {
	return ApplicationName + "/" + Version
}

// IsSnapshot reports whether this is a development or snapshot build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}
