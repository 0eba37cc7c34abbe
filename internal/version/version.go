// Package version carries build metadata set with -ldflags, e.g.
//
//	-X github.com/banshee-data/crashrisk/internal/version.Version=v1.0.0
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the git commit SHA.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String is the one-line form recorded with every run.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
