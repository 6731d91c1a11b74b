// Package cmd provides the ashareinsight CLI commands.
package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ashareinsight/ashareinsight/internal/config"
	"github.com/ashareinsight/ashareinsight/internal/di"
	"github.com/ashareinsight/ashareinsight/pkg/logger"
)

var log zerolog.Logger

// NewRootCmd builds the ashareinsight command tree: serve plus the four
// offline operations archive, fuse, vectorize, and sync-market-data.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ashareinsight",
		Short: "Concept-based retrieval of similar A-share listed companies",
		Long: `ashareinsight archives LLM-extracted filings, fuses their business
concepts into each company's master record, vectorizes them, keeps market
data in sync, and serves the similar-companies search API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newFuseCmd())
	cmd.AddCommand(newVectorizeCmd())
	cmd.AddCommand(newSyncMarketDataCmd())
	return cmd
}

// Execute runs the root command. Returned errors are mapped to exit codes
// by main().
func Execute() error {
	return NewRootCmd().Execute()
}

// buildContainer loads config and wires the DI container, the composition
// root every subcommand shares with the HTTP server.
func buildContainer(ctx context.Context) (*config.Config, *di.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	container, err := di.Build(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, container, nil
}
