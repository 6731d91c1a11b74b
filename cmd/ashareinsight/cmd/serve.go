package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashareinsight/ashareinsight/internal/di"
	"github.com/ashareinsight/ashareinsight/internal/server"
)

// newServeCmd implements `serve`: starts the HTTP API and the market-data
// sync scheduler, then blocks until a shutdown signal arrives.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP search API and the market-data scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, container, err := buildContainer(ctx)
	if err != nil {
		return err
	}
	defer container.Close()

	srv := server.New(server.Config{
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Log:       log,
		Retrieval: container.Retrieval,
		Metrics:   container.Metrics,
	})

	container.Scheduler.Start()
	defer container.Scheduler.Stop()

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go observeCacheStats(statsCtx, container)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// observeCacheStats mirrors the retrieval result cache's counters onto the
// Prometheus registry every 30 seconds.
func observeCacheStats(ctx context.Context, container *di.Container) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	prev := container.ResultCache.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := container.ResultCache.Stats()
			container.Metrics.ObserveCacheStats(prev, cur)
			prev = cur
		}
	}
}
