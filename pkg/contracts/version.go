package contracts

import (
	"fmt"
	"runtime"
)

// Version is the release of the worker and of the operation contract
const Version = "1.0.0"

// Set at build time with -ldflags "-X sheetledger/pkg/contracts.GitCommit=..."
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo contains detailed version information
type VersionInfo struct {
	Version      string `json:"version"`
	BuildTime    string `json:"build_time"`
	GitCommit    string `json:"git_commit"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
}

// GetVersionInfo returns detailed version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:      Version,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
}

// GetFullVersionString returns a one-line description of the build
func GetFullVersionString() string {
	info := GetVersionInfo()
	return fmt.Sprintf("%s (built: %s, commit: %s, go: %s, os: %s/%s)",
		info.Version, info.BuildTime, info.GitCommit, info.GoVersion, info.OS, info.Architecture)
}
