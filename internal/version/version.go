// Package version provides build information for the helpdesk binary.
//
//nolint:revive
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "dev"
	// CommitHash is overridden by ldflags at build time, else read from the VCS stamp.
	CommitHash = ""
	// BuildTime is overridden by ldflags at build time, else read from the VCS stamp.
	BuildTime = ""

	stampOnce sync.Once
)

func readStamp() {
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
			BuildTime = setting.Value
		}
	}
}

// GetInfo returns the version with a short commit hash, e.g. "v1.2.0 (3f2a9c1)".
func GetInfo() string {
	stampOnce.Do(readStamp)
	if CommitHash == "" {
		return Version
	}
	short := CommitHash
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}

// Details returns the multi-line form printed by the version command.
func Details() string {
	info := GetInfo()
	if BuildTime != "" {
		info += "\nbuilt " + BuildTime
	}
	return info
}
