package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Commit is set at build time via -ldflags. When unset, the VCS revision
// recorded by the go tool is used.
var Commit = "unknown"

// Date is set at build time via -ldflags.
var Date = "unknown"

func commit() string {
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 12 {
				return s.Value[:12]
			}
		}
	}
	return "unknown"
}

// Short returns a compact build identifier for UI/logging.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if c := commit(); c != "unknown" {
		return c
	}
	return "dev"
}

// Long returns version, commit and build date on one line.
func Long() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, commit(), Date)
}
