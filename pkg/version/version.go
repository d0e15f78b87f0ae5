package version

import (
	"fmt"
	"runtime"
)

// Service is the name the alerting service reports in health output, mDNS
// records and outbound User-Agent headers.
const Service = "pma-alerting-go"

// Build information set via ldflags:
//
//	-X github.com/frostdev-ops/pma-alerting-go/pkg/version.Version=1.2.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains all build-related information
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// GetVersion returns the release version, or dev-<short commit> for
// development builds.
func GetVersion() string {
	if !IsDevBuild() {
		return Version
	}
	switch {
	case len(GitCommit) >= 8 && GitCommit != "unknown":
		return "dev-" + GitCommit[:8]
	case GitCommit != "" && GitCommit != "unknown":
		return "dev-" + GitCommit
	}
	return "dev-unknown"
}

// GetFullVersion returns a detailed version string
func GetFullVersion() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)",
		Service, GetVersion(), GitCommit, BuildDate, GoVersion)
}

// UserAgent is sent on outbound notification and actuator requests.
func UserAgent() string {
	return Service + "/" + GetVersion()
}

// GetBuildInfo returns all build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Service:   Service,
		Version:   GetVersion(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
}

// IsDevBuild returns true if this is a development build
func IsDevBuild() bool {
	return Version == "dev"
}
