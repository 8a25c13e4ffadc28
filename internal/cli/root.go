// Package cli implements the Cascade command-line interface using Cobra.
// Commands open the local database directly; `serve` exposes the same
// engine over HTTP.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Cascade: goals down to today's tasks, with streaks and levels",
	Long: `Cascade turns completed tasks, daily reflections and reviews into
points, streaks, levels, badges and challenges.

Data lives in $CASCADE_HOME (default ~/.cascade).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON instead of tables")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
