// Package version exposes build metadata for the asicscan binary.
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Version and Commit are stamped by release builds:
//
//	go build -ldflags="-X github.com/hashplane/asicscan/internal/version.Version=v1.2.3 \
//	                   -X github.com/hashplane/asicscan/internal/version.Commit=abc123"
//
// Unstamped builds fall back to the VCS metadata the Go toolchain embeds,
// then to a dev placeholder.
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = "dev-" + time.Now().Format("20060102-150405")
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fromBuildInfo fills Version and Commit from the vcs.* settings embedded
// when building inside a repository.
func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	var revision, modified, commitTime string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			commitTime = s.Value
		}
	}

	if Commit == "" && revision != "" {
		Commit = revision
		if len(Commit) > 7 {
			Commit = Commit[:7]
		}
		if modified == "true" {
			Commit += "-dirty"
		}
	}

	// Tags are not part of build info, so an unstamped Version becomes a
	// dev string keyed to the commit date.
	if Version == "" && commitTime != "" {
		if t, err := time.Parse(time.RFC3339, commitTime); err == nil {
			Version = "dev-" + t.Format("20060102")
		}
	}
}

// Full returns the version together with the commit hash
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
