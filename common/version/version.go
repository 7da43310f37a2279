// Package version holds build metadata stamped in with
// -ldflags "-X github.com/yumisugoi/yumi/common/version.Version=...".
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info formats the build metadata for `yumi version`. Without ldflags the
// commit falls back to the VCS revision recorded by the go tool.
func Info() string {
	commit := GitCommit
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 7 {
					commit = s.Value[:7]
				}
			}
		}
	}
	return fmt.Sprintf("yumi %s (%s) built at %s", Version, commit, BuildTime)
}
