package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/xiaoji/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/xiaoji/internal/version.Commit=abc123
//	  -X github.com/soyeahso/xiaoji/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build describes the running binary. It is reported by /api/health and
// `xiaoji version --json`.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build description. When Commit was not injected it is
// read from the VCS stamp embedded by the Go toolchain, if present.
func Get() Build {
	commit := Commit
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	return Build{
		Version:   Version,
		Commit:    short(commit),
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders b on one line.
func (b Build) String() string {
	return fmt.Sprintf("xiaoji %s (commit: %s, built: %s, %s, %s)",
		b.Version, b.Commit, b.Date, b.Platform, b.GoVersion)
}

// Info describes the running binary on one line.
func Info() string { return Get().String() }

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
