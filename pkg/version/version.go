// Package version holds build information set through -ldflags.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
