// Package version provides build-time version information.
package version

var (
	// Version is the semantic version, set via ldflags.
	Version = "dev"
	// Commit is the short git commit hash, set via ldflags.
	Commit = "unknown"
	// GitTime is the commit timestamp in ISO 8601 UTC format, set via ldflags.
	GitTime = "unknown"
)

// Info returns the build metadata as a flat map, as served by /api/version.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_time": GitTime,
	}
}

// UserAgent is sent with every outgoing HTTP request.
func UserAgent() string {
	return "yachtsync/" + Version
}
