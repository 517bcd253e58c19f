package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clanwatch",
		Short: "Watch World of Tanks clans for members leaving",
		Long: `clanwatch polls the Wargaming clans API for a roster of clans,
resolves clan names to ids, and posts a notification whenever a member
leaves a tracked clan or a tracked clan disbands.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"clanwatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	root.AddCommand(newRunCmd(), newMergeCmd(), newDiscoverCmd())
	return root
}
