// Package version carries build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/veil/internal/version.Version=0.3.0
//	  -X github.com/soyeahso/veil/internal/version.Commit=abc123
//	  -X github.com/soyeahso/veil/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("veil %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on outbound provider requests.
func UserAgent() string {
	return "veil/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
