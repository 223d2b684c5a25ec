// Package version reports the negosync build version.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Overridden by ldflags at build time:
//
//	-X github.com/memohai/negosync/internal/version.Version=v0.3.0
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the structured build description.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

var readVCS sync.Once

// Get returns build info, falling back to VCS stamps when ldflags were not set.
func Get() Info {
	readVCS.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	})
	return Info{
		Version:   Version,
		Commit:    CommitHash,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// ShortCommit returns the first 7 characters of the commit hash.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

// String formats the version with the short commit, e.g. "v0.3.0 (1a2b3c4)".
func (i Info) String() string {
	if short := i.ShortCommit(); short != "" {
		return i.Version + " (" + short + ")"
	}
	return i.Version
}

// GetInfo returns the formatted version string.
func GetInfo() string {
	return Get().String()
}
