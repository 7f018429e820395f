// Package version reports the crewkit release.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var release string

// Commit is stamped at build time:
//
//	go build -ldflags "-X github.com/ShayCichocki/crewkit/internal/version.Commit=$(git rev-parse --short HEAD)"
var Commit string

// Get returns the release, followed by the commit when one was stamped.
func Get() string {
	v := strings.TrimSpace(release)
	if Commit != "" {
		v += " (" + Commit + ")"
	}
	return v
}
