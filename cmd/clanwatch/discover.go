package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/clanwatch/pkg/catalog"
	"github.com/Sternrassler/clanwatch/pkg/client"
	"github.com/Sternrassler/clanwatch/pkg/config"
	"github.com/Sternrassler/clanwatch/pkg/logging"
	"github.com/Sternrassler/clanwatch/pkg/ratelimit"
	"github.com/Sternrassler/clanwatch/pkg/storage"
	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	var (
		cfgFile string
		output  string
		search  string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Write a roster of every clan, or of clans matching a search",
		Long: `Discover pages through the clan catalogue, fetches the details of
every clan it lists and writes them to a CSV roster. With --search only
clans whose name contains the search string are listed.

The written file can be used as the data file of the run command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			n, err := discover(ctx, cfg, search, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d clans to %s\n", n, output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file")
	flags.StringVarP(&output, "output-file", "o", "", "roster file to write")
	flags.StringVar(&search, "search", "", "only list clans whose name contains this string")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("application-id", "", "Wargaming application id")
	_ = cmd.MarkFlagRequired("output-file")
	return cmd
}

// discover lists the catalogue narrowed by search and saves it to output. It
// returns the number of clans written.
func discover(ctx context.Context, cfg *config.Config, search, output string) (int, error) {
	logger := logging.Setup(cfg.Logging())

	limiter, err := ratelimit.New("api", cfg.API.RateLimit, cfg.API.RateWindow)
	if err != nil {
		return 0, err
	}
	logLimiter(logger, limiter)

	pc := cfg.Pipeline()
	pool, err := client.NewPool(pc.FetchWorkers, pc.Client, limiter, logging.NewLogger("fetcher"))
	if err != nil {
		return 0, err
	}
	cat, err := catalog.New(cfg.Catalog(search), pool, logging.NewLogger("catalog"))
	if err != nil {
		return 0, err
	}

	snapshots, err := cat.Discover(ctx)
	if err != nil {
		return 0, fmt.Errorf("discover clans: %w", err)
	}

	store := storage.NewCSVStore(output, logging.NewLogger("storage"))
	if err := store.Save(ctx, snapshots); err != nil {
		if errors.Is(err, storage.ErrEmptyRoster) {
			return 0, fmt.Errorf("no clans found for search %q: %w", search, err)
		}
		return 0, fmt.Errorf("save %s: %w", output, err)
	}
	return len(snapshots), nil
}
