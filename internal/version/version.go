// Package version holds build metadata, set with -ldflags at release time:
//
//	go build -ldflags "-X github.com/banshee-data/mr72-bridge/internal/version.Version=v1.2.0"
package version

import "fmt"

var (
	// Version is the release tag of the bridge.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the build metadata as "dev (unknown) built unknown".
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, GitSHA, BuildTime)
}
