// Package config loads AShareInsight's runtime configuration from the
// environment: an optional .env file first, then plain environment
// variables, all under a single prefix so operators have one place to look.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/joho/godotenv"
)

const envPrefix = "ASI_"

// Config holds every runtime tunable for the service. Defaults match the
// documented production defaults; every field is overridable via ASI_* env
// vars.
type Config struct {
	// Storage
	DataDir         string // base directory for the concept and market-data SQLite files
	EmbeddingDim    int    // D, compile-time-configurable vector width (typical 2560)
	HNSWM           int    // ANN index M parameter
	HNSWEfConstruct int    // ANN index ef_construction parameter

	// HTTP server
	Port    int
	DevMode bool

	// External collaborators
	EmbeddingServiceURL  string
	EmbeddingBatchSize   int
	EmbeddingTimeout     time.Duration
	RerankServiceURL     string
	RerankTimeout        time.Duration
	MarketDataServiceURL string
	MarketDataTimeout    time.Duration
	DBQueryTimeout       time.Duration

	// Scheduler: the cron-triggered offline market-data sync
	MarketSyncCron string

	// Retrieval pipeline
	DefaultTopK                int
	MaxTopK                    int
	DefaultSimilarityThreshold float64
	RecallLimit                int // L_recall, default 50
	RecallConcurrency          int // concurrency cap on parallel per-concept recall
	ScoreWeightRerank          float64
	ScoreWeightImportance      float64
	MaxConceptsPerCompany      int // top-N matched concepts kept per company
	JustificationEvidence      int // K, max source sentences attached
	AggregationMode            string

	// Market filter
	MaxMarketCapCNY    float64
	MaxAvgVolume5dCNY  float64
	RelevanceMappingOn bool

	// Cache
	CacheCapacity int
	CacheTTL      time.Duration

	// Circuit breaker
	BreakerFailureThreshold uint32
	BreakerCooldown         time.Duration

	// Fusion
	FusionBatchSize          int
	FusionMaxRetries         int
	FusionMaxSourceSentences int

	// Vectorization
	VectorizeTextMaxChars   int
	VectorizeCheckpointFile string

	// Market data retention
	MarketDataRetentionDays int

	LogLevel string
}

// Load reads configuration from environment variables, loading an optional
// .env file first (teacher's godotenv.Load() pattern — its absence is not an
// error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, domain.NewFatalConfigError("DATA_DIR", err.Error())
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, domain.NewFatalConfigError("DATA_DIR", err.Error())
	}

	cfg := &Config{
		DataDir:         absDataDir,
		EmbeddingDim:    getEnvAsInt("EMBEDDING_DIM", 2560),
		HNSWM:           getEnvAsInt("HNSW_M", 16),
		HNSWEfConstruct: getEnvAsInt("HNSW_EF_CONSTRUCTION", 200),

		Port:    getEnvAsInt("PORT", 8080),
		DevMode: getEnvAsBool("DEV_MODE", false),

		EmbeddingServiceURL:  getEnv("EMBEDDING_SERVICE_URL", "http://localhost:9001"),
		EmbeddingBatchSize:   getEnvAsInt("EMBEDDING_BATCH_SIZE", 64),
		EmbeddingTimeout:     getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		RerankServiceURL:     getEnv("RERANK_SERVICE_URL", "http://localhost:9002"),
		RerankTimeout:        getEnvAsDuration("RERANK_TIMEOUT", 5*time.Second),
		MarketDataServiceURL: getEnv("MARKET_DATA_SERVICE_URL", "http://localhost:9003"),
		MarketDataTimeout:    getEnvAsDuration("MARKET_DATA_TIMEOUT", 60*time.Second),
		DBQueryTimeout:       getEnvAsDuration("DB_QUERY_TIMEOUT", 30*time.Second),

		MarketSyncCron: getEnv("MARKET_SYNC_CRON", "0 18 * * 1-5"),

		DefaultTopK:                getEnvAsInt("DEFAULT_TOP_K", 20),
		MaxTopK:                    getEnvAsInt("MAX_TOP_K", 100),
		DefaultSimilarityThreshold: getEnvAsFloat("DEFAULT_SIMILARITY_THRESHOLD", 0.7),
		RecallLimit:                getEnvAsInt("RECALL_LIMIT", 50),
		RecallConcurrency:          getEnvAsInt("RECALL_CONCURRENCY", 20),
		ScoreWeightRerank:          getEnvAsFloat("SCORE_WEIGHT_RERANK", 0.7),
		ScoreWeightImportance:      getEnvAsFloat("SCORE_WEIGHT_IMPORTANCE", 0.3),
		MaxConceptsPerCompany:      getEnvAsInt("MAX_CONCEPTS_PER_COMPANY", 5),
		JustificationEvidence:      getEnvAsInt("JUSTIFICATION_EVIDENCE_K", 3),
		AggregationMode:            getEnv("AGGREGATION_MODE", "max"),

		MaxMarketCapCNY:    getEnvAsFloat("MAX_MARKET_CAP_CNY", 85e8),
		MaxAvgVolume5dCNY:  getEnvAsFloat("MAX_AVG_VOLUME_5D_CNY", 2e8),
		RelevanceMappingOn: getEnvAsBool("RELEVANCE_MAPPING_ENABLED", false),

		CacheCapacity: getEnvAsInt("CACHE_CAPACITY", 1024),
		CacheTTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),

		BreakerFailureThreshold: uint32(getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5)),
		BreakerCooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 60*time.Second),

		FusionBatchSize:          getEnvAsInt("FUSION_BATCH_SIZE", 50),
		FusionMaxRetries:         getEnvAsInt("FUSION_MAX_RETRIES", 3),
		FusionMaxSourceSentences: getEnvAsInt("FUSION_MAX_SOURCE_SENTENCES", 20),

		VectorizeTextMaxChars:   getEnvAsInt("VECTORIZE_TEXT_MAX_CHARS", 8192),
		VectorizeCheckpointFile: getEnv("VECTORIZE_CHECKPOINT_FILE", filepath.Join(absDataDir, "vectorize.checkpoint")),

		MarketDataRetentionDays: getEnvAsInt("MARKET_DATA_RETENTION_DAYS", 400),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces that the aggregation score weights sum to 1.0, plus
// basic sanity on the rest of the tunables.
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return domain.NewFatalConfigError("EMBEDDING_DIM", "must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return domain.NewFatalConfigError("PORT", "must be a valid TCP port")
	}
	if diff := c.ScoreWeightRerank + c.ScoreWeightImportance - 1; diff > 0.02 || diff < -0.02 {
		return domain.NewFatalConfigError("SCORE_WEIGHT_RERANK/SCORE_WEIGHT_IMPORTANCE",
			fmt.Sprintf("must sum to 1 within 0.02, got %f", c.ScoreWeightRerank+c.ScoreWeightImportance))
	}
	if c.AggregationMode != "max" && c.AggregationMode != "mean" {
		return domain.NewFatalConfigError("AGGREGATION_MODE", "must be 'max' or 'mean'")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
