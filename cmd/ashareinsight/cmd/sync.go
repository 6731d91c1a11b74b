package cmd

import (
	"github.com/spf13/cobra"
)

// newSyncMarketDataCmd implements `sync-market-data [--init]`: a manual,
// one-shot run of the same job the scheduler triggers daily, useful for
// the first deployment or a missed run.
func newSyncMarketDataCmd() *cobra.Command {
	var initMode bool

	cmd := &cobra.Command{
		Use:   "sync-market-data",
		Short: "Run the market-data sync once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, initMode)
		},
	}
	cmd.Flags().BoolVar(&initMode, "init", false, "store the first snapshot for a fresh deployment")
	return cmd
}

func runSync(cmd *cobra.Command, initMode bool) error {
	ctx := cmd.Context()
	_, container, err := buildContainer(ctx)
	if err != nil {
		return err
	}
	defer container.Close()

	if initMode {
		if err := container.MarketSyncJob.Backfill(ctx); err != nil {
			return err
		}
		log.Info().Msg("market-data init complete")
		return nil
	}

	if err := container.MarketSyncJob.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("market-data sync complete")
	return nil
}
