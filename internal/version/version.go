// Package version carries build metadata injected via ldflags.
package version

var (
	// Version is the daemon version, populated by the build system.
	Version = "v1.0.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
