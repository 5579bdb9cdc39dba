// Package landingcli wires the landing daemon's collaborators together
// behind a small cobra CLI, in the same rootCmd/init()/AddCommand shape
// used throughout this codebase's command-line tools.
package landingcli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "landingd",
	Short: "landingd — the code-landing orchestrator daemon",
	Long: `landingd claims submitted revision stacks, applies them to a Mercurial
working copy, runs the configured autoformatter, and pushes upstream.

Repository configuration is read from repositories.yaml (or
~/.landingd/config.yaml); runtime collaborators (Postgres, Redis, the
review service, tree status, Bugzilla) are configured through flags or
their LANDINGD_* environment variable equivalents.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}
