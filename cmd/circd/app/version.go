package app

import "github.com/circlib/circulation-server/internal/api"

// Build metadata, overridden at link time via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func buildInfo() api.BuildInfo {
	return api.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}
}
