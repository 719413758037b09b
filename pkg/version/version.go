// Package version carries build metadata injected at link time.
package version

// Populated via -ldflags at build time; defaults identify a dev build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
