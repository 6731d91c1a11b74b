package config

import (
	"os"
	"testing"

	"github.com/ashareinsight/ashareinsight/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if len(e) > len(envPrefix) && e[:len(envPrefix)] == envPrefix {
			key := e[:indexOf(e, '=')]
			os.Unsetenv(key)
			t.Cleanup(func() { os.Unsetenv(key) })
		}
	}
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASI_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.EmbeddingDim != 2560 {
		t.Fatalf("expected default embedding dim 2560, got %d", cfg.EmbeddingDim)
	}
	if cfg.AggregationMode != "max" {
		t.Fatalf("expected default aggregation mode max, got %q", cfg.AggregationMode)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASI_DATA_DIR", t.TempDir())
	t.Setenv("ASI_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected overridden port 9999, got %d", cfg.Port)
	}
}

func TestValidate_RejectsInvalidPort(t *testing.T) {
	cfg := &Config{EmbeddingDim: 2560, Port: 0, ScoreWeightRerank: 0.7, ScoreWeightImportance: 0.3, AggregationMode: "max"}
	err := cfg.Validate()
	var cfgErr *domain.FatalConfigError
	if !domain.As(err, &cfgErr) {
		t.Fatalf("expected a FatalConfigError for an invalid port, got %v", err)
	}
}

func TestValidate_RejectsScoreWeightsNotSummingToOne(t *testing.T) {
	cfg := &Config{EmbeddingDim: 2560, Port: 8080, ScoreWeightRerank: 0.5, ScoreWeightImportance: 0.2, AggregationMode: "max"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation to reject weights that don't sum to 1")
	}
}

func TestValidate_RejectsUnknownAggregationMode(t *testing.T) {
	cfg := &Config{EmbeddingDim: 2560, Port: 8080, ScoreWeightRerank: 0.7, ScoreWeightImportance: 0.3, AggregationMode: "sum"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation to reject an unrecognized aggregation mode")
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{EmbeddingDim: 2560, Port: 8080, ScoreWeightRerank: 0.7, ScoreWeightImportance: 0.3, AggregationMode: "mean"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a well-formed config to validate, got %v", err)
	}
}
