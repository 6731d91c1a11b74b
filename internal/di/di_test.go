package di

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:                    t.TempDir(),
		EmbeddingDim:               16,
		HNSWM:                      16,
		HNSWEfConstruct:            200,
		Port:                       8080,
		EmbeddingServiceURL:        "http://127.0.0.1:0",
		EmbeddingBatchSize:         64,
		EmbeddingTimeout:           time.Second,
		RerankServiceURL:           "http://127.0.0.1:0",
		RerankTimeout:              time.Second,
		MarketDataServiceURL:       "http://127.0.0.1:0",
		MarketDataTimeout:          time.Second,
		DBQueryTimeout:             time.Second,
		MarketSyncCron:             "0 18 * * 1-5",
		DefaultTopK:                20,
		MaxTopK:                    100,
		DefaultSimilarityThreshold: 0.7,
		RecallLimit:                50,
		RecallConcurrency:          4,
		ScoreWeightRerank:          0.7,
		ScoreWeightImportance:      0.3,
		MaxConceptsPerCompany:      5,
		JustificationEvidence:      3,
		AggregationMode:            "max",
		CacheCapacity:              128,
		CacheTTL:                   time.Minute,
		BreakerFailureThreshold:    5,
		BreakerCooldown:            time.Second,
		FusionBatchSize:            50,
		FusionMaxRetries:           3,
		FusionMaxSourceSentences:   20,
		VectorizeTextMaxChars:      8192,
		MarketDataRetentionDays:    400,
		LogLevel:                   "info",
	}
}

func TestBuild_WiresEveryCollaborator(t *testing.T) {
	cfg := testConfig(t)
	c, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()

	switch {
	case c.Companies == nil:
		t.Fatal("expected Companies repository to be wired")
	case c.Documents == nil:
		t.Fatal("expected Documents repository to be wired")
	case c.Concepts == nil:
		t.Fatal("expected Concepts repository to be wired")
	case c.Fusion == nil:
		t.Fatal("expected Fusion service to be wired")
	case c.Archival == nil:
		t.Fatal("expected Archival service to be wired")
	case c.Vectorization == nil:
		t.Fatal("expected Vectorization service to be wired")
	case c.MarketFilter == nil:
		t.Fatal("expected MarketFilter service to be wired")
	case c.Retrieval == nil:
		t.Fatal("expected Retrieval service to be wired")
	case c.Scheduler == nil:
		t.Fatal("expected Scheduler to be wired")
	case c.MarketSyncJob == nil:
		t.Fatal("expected MarketSyncJob to be wired")
	}
}

func TestBuild_CloseSucceeds(t *testing.T) {
	cfg := testConfig(t)
	c, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
