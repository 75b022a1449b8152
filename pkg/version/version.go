// Package version carries build metadata injected at link time.
package version

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)
