package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Build information. Populated at build time via -ldflags; a plain
// `go install` build falls back to the VCS stamp in the embedded
// build info.
var (
	Version   = "1.0.0-beta.1"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build date of aussie-gate.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aussie-gate %s (commit %s, built %s)\n", Version, resolveCommit(), BuildDate)
		fmt.Printf("  %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// resolveCommit prefers the ldflags value and falls back to the
// vcs.revision build setting, shortened to 12 characters.
func resolveCommit() string {
	if Commit != "none" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return Commit
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
