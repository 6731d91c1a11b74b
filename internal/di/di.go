// Package di is the composition root: it wires every repository, client and
// use-case together from a loaded Config in a single container, rather than
// pulling in a DI framework.
package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/archival"
	"github.com/ashareinsight/ashareinsight/internal/cache"
	"github.com/ashareinsight/ashareinsight/internal/config"
	"github.com/ashareinsight/ashareinsight/internal/embedclient"
	"github.com/ashareinsight/ashareinsight/internal/fusion"
	"github.com/ashareinsight/ashareinsight/internal/marketdataclient"
	"github.com/ashareinsight/ashareinsight/internal/marketfilter"
	"github.com/ashareinsight/ashareinsight/internal/marketstore"
	"github.com/ashareinsight/ashareinsight/internal/metrics"
	"github.com/ashareinsight/ashareinsight/internal/rerankclient"
	"github.com/ashareinsight/ashareinsight/internal/retrieval"
	"github.com/ashareinsight/ashareinsight/internal/scheduler"
	"github.com/ashareinsight/ashareinsight/internal/store"
	"github.com/ashareinsight/ashareinsight/internal/store/schema"
	"github.com/ashareinsight/ashareinsight/internal/vector"
	"github.com/ashareinsight/ashareinsight/internal/vectorization"
)

// Container holds every long-lived dependency, built once at process start
// and shared across the HTTP server, scheduler and CLI commands.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	ConceptDB *store.DB
	MarketDB  *store.DB

	Companies *store.CompanyRepository
	Documents *store.DocumentRepository
	Concepts  *store.ConceptRepository
	Market    *marketstore.Store

	Embedder   *embedclient.Client
	Reranker   *rerankclient.Client
	MarketData *marketdataclient.Client

	Fusion        *fusion.Service
	Archival      *archival.Service
	Vectorization *vectorization.Service
	MarketFilter  *marketfilter.Service
	Retrieval     *retrieval.Service
	ResultCache   *cache.Cache

	Metrics       *metrics.Registry
	Scheduler     *scheduler.Scheduler
	MarketSyncJob *scheduler.MarketSyncJob
}

// Build opens both SQLite databases, loads the vector index from disk and
// wires every service. Callers own the returned Container's lifetime and
// must call Close when done.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	conceptDB, err := store.Open(store.Config{
		Path:    filepath.Join(cfg.DataDir, "concepts.db"),
		Name:    "concepts",
		Profile: store.ProfileStandard,
	})
	if err != nil {
		return nil, fmt.Errorf("open concept store: %w", err)
	}
	if err := conceptDB.Migrate(ctx, schema.ConceptSchemaSQL); err != nil {
		return nil, fmt.Errorf("migrate concept store: %w", err)
	}

	marketDB, err := store.Open(store.Config{
		Path:    filepath.Join(cfg.DataDir, "market_data.db"),
		Name:    "market_data",
		Profile: store.ProfileAppendOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open market-data store: %w", err)
	}
	if err := marketDB.Migrate(ctx, schema.MarketDataSchemaSQL); err != nil {
		return nil, fmt.Errorf("migrate market-data store: %w", err)
	}

	index := vector.New(cfg.HNSWM, cfg.HNSWEfConstruct)

	companies := store.NewCompanyRepository(conceptDB)
	documents := store.NewDocumentRepository(conceptDB)
	concepts := store.NewConceptRepository(conceptDB, index)
	if err := concepts.LoadIndexFromStore(ctx); err != nil {
		return nil, fmt.Errorf("load vector index: %w", err)
	}

	marketStore := marketstore.New(marketDB.Conn())

	reg := metrics.New()

	embedder := embedclient.New(embedclient.Config{
		BaseURL:          cfg.EmbeddingServiceURL,
		BatchSize:        cfg.EmbeddingBatchSize,
		Timeout:          cfg.EmbeddingTimeout,
		Concurrency:      cfg.RecallConcurrency,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		OnTrip:           func(name string) { reg.BreakerTrips.WithLabelValues(name).Inc() },
	}, log)

	reranker := rerankclient.New(rerankclient.Config{
		BaseURL:          cfg.RerankServiceURL,
		Timeout:          cfg.RerankTimeout,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		OnTrip:           func(name string) { reg.BreakerTrips.WithLabelValues(name).Inc() },
	}, log)

	marketData := marketdataclient.New(marketdataclient.Config{
		BaseURL:          cfg.MarketDataServiceURL,
		Timeout:          cfg.MarketDataTimeout,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		OnTrip:           func(name string) { reg.BreakerTrips.WithLabelValues(name).Inc() },
	}, log)

	fusionSvc := fusion.New(concepts, fusion.Config{
		BatchSize:          cfg.FusionBatchSize,
		MaxRetries:         cfg.FusionMaxRetries,
		MaxSourceSentences: cfg.FusionMaxSourceSentences,
		OnOutcome:          func(outcome string) { reg.FusionOutcomes.WithLabelValues(outcome).Inc() },
	}, log)

	archivalSvc := archival.New(conceptDB, documents, fusionSvc, log)

	vectorizationSvc := vectorization.New(concepts, embedder, vectorization.Config{
		TextMaxChars:   cfg.VectorizeTextMaxChars,
		CheckpointFile: cfg.VectorizeCheckpointFile,
		BatchSize:      cfg.EmbeddingBatchSize,
		EmbeddingDim:   cfg.EmbeddingDim,
		OnResult:       func(result string) { reg.VectorizeBatch.WithLabelValues(result).Inc() },
	}, log)

	filterSvc := marketfilter.New(marketfilter.Config{
		RelevanceMappingOn: cfg.RelevanceMappingOn,
	}, marketStore, log)

	resultCache := cache.New(cfg.CacheCapacity, cfg.CacheTTL)

	retrievalSvc := retrieval.New(companies, concepts, reranker, filterSvc, resultCache, retrieval.Config{
		RecallLimit:           cfg.RecallLimit,
		RecallConcurrency:     cfg.RecallConcurrency,
		ScoreWeightRerank:     cfg.ScoreWeightRerank,
		ScoreWeightImportance: cfg.ScoreWeightImportance,
		MaxConceptsPerCompany: cfg.MaxConceptsPerCompany,
		JustificationEvidence: cfg.JustificationEvidence,
		AggregationMode:       cfg.AggregationMode,
		DefaultTopK:           cfg.DefaultTopK,
		MaxTopK:               cfg.MaxTopK,
		DefaultThreshold:      cfg.DefaultSimilarityThreshold,
	}, log)

	sched := scheduler.New(log)
	syncJob := scheduler.NewMarketSyncJob(marketData, marketStore, cfg.MarketDataRetentionDays, log)
	if err := sched.Register(cfg.MarketSyncCron, syncJob); err != nil {
		return nil, fmt.Errorf("register market-data sync job: %w", err)
	}

	return &Container{
		Config:        cfg,
		Log:           log,
		ConceptDB:     conceptDB,
		MarketDB:      marketDB,
		Companies:     companies,
		Documents:     documents,
		Concepts:      concepts,
		Market:        marketStore,
		Embedder:      embedder,
		Reranker:      reranker,
		MarketData:    marketData,
		Fusion:        fusionSvc,
		Archival:      archivalSvc,
		Vectorization: vectorizationSvc,
		MarketFilter:  filterSvc,
		Retrieval:     retrievalSvc,
		ResultCache:   resultCache,
		Metrics:       reg,
		Scheduler:     sched,
		MarketSyncJob: syncJob,
	}, nil
}

// Close releases both database handles. Safe to call once, after the
// scheduler and server have stopped.
func (c *Container) Close() error {
	var firstErr error
	if err := c.ConceptDB.Close(); err != nil {
		firstErr = err
	}
	if err := c.MarketDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
