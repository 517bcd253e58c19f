package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/Sternrassler/clanwatch/pkg/logging"
	"github.com/Sternrassler/clanwatch/pkg/registry"
	"github.com/Sternrassler/clanwatch/pkg/storage"
	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	var (
		inputs   []string
		output   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge several CSV rosters into one",
		Long: `Merge reads every input roster in order and writes the union to the
output file. A clan that appears in more than one input keeps the row
from the last input it appears in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			cfg := logging.DefaultConfig()
			cfg.Level = level
			logging.Setup(cfg)

			n, err := mergeRosters(cmd.Context(), inputs, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d clans into %s\n", n, output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&inputs, "input-files", "i", nil, "rosters to merge (repeatable)")
	flags.StringVarP(&output, "output-file", "o", "", "roster file to write")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("input-files")
	_ = cmd.MarkFlagRequired("output-file")
	return cmd
}

// mergeRosters loads inputs in order, collapses duplicate clans and saves the
// result to output. It returns the number of clans written.
func mergeRosters(ctx context.Context, inputs []string, output string) (int, error) {
	logger := logging.NewLogger("merge")

	var all []clan.Snapshot
	for _, path := range inputs {
		snapshots, err := storage.NewCSVStore(path, logger).Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", path, err)
		}
		all = append(all, snapshots...)
	}

	merged := registry.New(all, logger).SnapshotAll()
	if err := storage.NewCSVStore(output, logger).Save(ctx, merged); err != nil {
		if errors.Is(err, storage.ErrEmptyRoster) {
			return 0, fmt.Errorf("no clans found in %d input files: %w", len(inputs), err)
		}
		return 0, fmt.Errorf("save %s: %w", output, err)
	}
	return len(merged), nil
}
