package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/marketstore"
	"github.com/ashareinsight/ashareinsight/internal/scheduler/base"
	"github.com/ashareinsight/ashareinsight/internal/utils"
)

// Provider fetches one market-data snapshot per call, covering whatever
// companies it has data for.
type Provider interface {
	FetchDailySnapshot(ctx context.Context) ([]domain.MarketDataDaily, error)
}

// MarketSyncJob runs the market-data ingestion side of the sync: it is
// called at most once per trading day, non-trading days are skipped, and
// the underlying upsert is idempotent so a retried or duplicate run is
// harmless.
type MarketSyncJob struct {
	base.JobBase

	provider      Provider
	store         *marketstore.Store
	retentionDays int
	log           zerolog.Logger
}

func NewMarketSyncJob(provider Provider, store *marketstore.Store, retentionDays int, log zerolog.Logger) *MarketSyncJob {
	return &MarketSyncJob{
		provider:      provider,
		store:         store,
		retentionDays: retentionDays,
		log:           log.With().Str("component", "market_sync_job").Logger(),
	}
}

func (j *MarketSyncJob) Name() string { return "sync-market-data" }

// Run skips weekends (a cheap trading-day proxy; public holidays still reach
// the provider and are absorbed by the idempotent upsert) and otherwise
// fetches one snapshot and upserts it, then prunes rows past retention.
func (j *MarketSyncJob) Run(ctx context.Context) error {
	defer utils.OperationTimer("market_sync_job", j.log)()

	now := time.Now().UTC()
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		j.log.Debug().Msg("non-trading day, skipping market-data sync")
		j.RecordRun(now, nil)
		return nil
	}

	rows, err := j.provider.FetchDailySnapshot(ctx)
	if err != nil {
		j.RecordRun(now, err)
		return domain.NewExternalServiceError(domain.ExternalServiceMarketData, "fetch_daily_snapshot", err)
	}
	if len(rows) == 0 {
		j.log.Warn().Msg("market-data provider returned no rows")
		j.RecordRun(now, nil)
		return nil
	}

	if err := j.store.SaveDailySnapshot(ctx, rows); err != nil {
		j.RecordRun(now, err)
		return err
	}
	j.log.Info().Int("companies", len(rows)).Msg("market-data sync complete")

	if j.retentionDays > 0 {
		if pruned, err := j.store.Prune(ctx, j.retentionDays); err != nil {
			j.log.Warn().Err(err).Msg("market-data retention prune failed")
		} else if pruned > 0 {
			j.log.Info().Int64("rows_pruned", pruned).Msg("market-data retention prune complete")
		}
	}

	j.RecordRun(now, nil)
	return nil
}

// Backfill is the CLI's sync-market-data --init mode: it runs one sync
// immediately so a fresh deployment has today's snapshot; the retention
// window is left as configured and the rolling history accrues from here. The provider
// only serves the current trading day, so prior days cannot be fetched
// retroactively; they fill in as the scheduled daily sync runs.
func (j *MarketSyncJob) Backfill(ctx context.Context) error {
	if err := j.Run(ctx); err != nil {
		return err
	}
	j.log.Info().Msg("initial market-data snapshot stored; history accrues with each daily sync")
	return nil
}
