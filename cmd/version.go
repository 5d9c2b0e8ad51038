package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set via -ldflags at build time.
var version = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		v, goVersion, rev := buildVersion()
		fmt.Printf("studyloop %s\n", v)
		if rev != "" {
			fmt.Printf("commit    %s\n", rev)
		}
		if goVersion != "" {
			fmt.Printf("go        %s\n", goVersion)
		}
	},
}

// buildVersion prefers the ldflags version and falls back to the module
// version recorded by `go install`.
func buildVersion() (v, goVersion, rev string) {
	v = version
	info, ok := debug.ReadBuildInfo()
	if !ok {
		if v == "" {
			v = "(devel)"
		}
		return v, "", ""
	}
	if v == "" {
		v = info.Main.Version
	}
	if v == "" {
		v = "(devel)"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			rev = s.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
		}
	}
	return v, info.GoVersion, rev
}
