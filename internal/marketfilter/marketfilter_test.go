package marketfilter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/marketstore"
	"github.com/ashareinsight/ashareinsight/internal/testsupport"
)

func seedMarketData(t *testing.T, store *marketstore.Store, code string, cap, turnover float64) {
	t.Helper()
	err := store.SaveDailySnapshot(context.Background(), []domain.MarketDataDaily{
		{CompanyCode: code, TradingDate: time.Now().UTC(), TotalMarketCap: cap, CirculatingCap: cap, TurnoverAmountCNY: turnover},
	})
	if err != nil {
		t.Fatalf("seed market data: %v", err)
	}
}

func float64Ptr(v float64) *float64 { return &v }

func TestApply_NilFilters_PassesThrough(t *testing.T) {
	svc := New(Config{}, marketstore.New(testsupport.NewMarketDB(t).Conn()), zerolog.Nop())
	companies := []domain.AggregatedCompany{{CompanyCode: "300257", RelevanceScore: 0.9}}

	result, err := svc.Apply(context.Background(), companies, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Applied {
		t.Fatal("a nil filters request must not be marked Applied")
	}
	if len(result.Companies) != 1 {
		t.Fatalf("expected passthrough of 1 company, got %d", len(result.Companies))
	}
}

func TestApply_ExcludesOverThreshold(t *testing.T) {
	db := testsupport.NewMarketDB(t)
	store := marketstore.New(db.Conn())
	seedMarketData(t, store, "AAA", 100e8, 1e8)
	seedMarketData(t, store, "BBB", 10e8, 1e8)

	svc := New(Config{}, store, zerolog.Nop())
	companies := []domain.AggregatedCompany{
		{CompanyCode: "AAA", RelevanceScore: 0.9},
		{CompanyCode: "BBB", RelevanceScore: 0.8},
	}

	result, err := svc.Apply(context.Background(), companies, &Filters{MaxMarketCapCNY: float64Ptr(50e8)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected Applied=true once market data was found")
	}
	if result.ExcludedCount != 1 {
		t.Fatalf("expected 1 exclusion, got %d", result.ExcludedCount)
	}
	if len(result.Companies) != 1 || result.Companies[0].CompanyCode != "BBB" {
		t.Fatalf("expected only BBB to survive, got %+v", result.Companies)
	}
}

func TestApply_ConservativeExclusionForMissingData(t *testing.T) {
	db := testsupport.NewMarketDB(t)
	store := marketstore.New(db.Conn())
	seedMarketData(t, store, "AAA", 10e8, 1e8)

	svc := New(Config{}, store, zerolog.Nop())
	companies := []domain.AggregatedCompany{
		{CompanyCode: "AAA", RelevanceScore: 0.9},
		{CompanyCode: "ZZZ", RelevanceScore: 0.8}, // no market data row
	}

	result, err := svc.Apply(context.Background(), companies, &Filters{MaxMarketCapCNY: float64Ptr(50e8)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ExcludedCount != 1 {
		t.Fatalf("expected the data-less company to be conservatively excluded, got excluded=%d", result.ExcludedCount)
	}
	for _, c := range result.Companies {
		if c.CompanyCode == "ZZZ" {
			t.Fatal("ZZZ has no market data and a threshold is active; it must be excluded")
		}
	}
}

func TestApply_NoMarketDataAtAll_DegradesGracefully(t *testing.T) {
	db := testsupport.NewMarketDB(t)
	store := marketstore.New(db.Conn())

	svc := New(Config{}, store, zerolog.Nop())
	companies := []domain.AggregatedCompany{{CompanyCode: "AAA", RelevanceScore: 0.9}}

	result, err := svc.Apply(context.Background(), companies, &Filters{MaxMarketCapCNY: float64Ptr(50e8)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Applied {
		t.Fatal("with no market data available at all the filter must degrade, not apply")
	}
	if len(result.Companies) != 1 {
		t.Fatalf("expected the original company list unchanged, got %d", len(result.Companies))
	}
}

func TestApply_EmptyFiltersObject_NeverPanics(t *testing.T) {
	db := testsupport.NewMarketDB(t)
	store := marketstore.New(db.Conn())
	seedMarketData(t, store, "AAA", 10e8, 1e8)

	svc := New(Config{}, store, zerolog.Nop())
	companies := []domain.AggregatedCompany{
		{CompanyCode: "AAA", RelevanceScore: 0.9},
		{CompanyCode: "ZZZ", RelevanceScore: 0.5}, // no market data, no threshold set
	}

	result, err := svc.Apply(context.Background(), companies, &Filters{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.Companies) != 2 {
		t.Fatalf("no threshold was specified so nothing should be excluded, got %d", len(result.Companies))
	}
}

func TestApply_LScoreTiersAndOrdering(t *testing.T) {
	db := testsupport.NewMarketDB(t)
	store := marketstore.New(db.Conn())
	// 688448: cap 50e8 -> tier score 2, volume 1.2e8 -> tier score 1.
	seedMarketData(t, store, "688448", 50e8, 1.2e8)
	// 300157: cap 35e8 -> tier score 3, volume 0.4e8 -> tier score 3.
	seedMarketData(t, store, "300157", 35e8, 0.4e8)
	// 002598: over the cap threshold, excluded before scoring.
	seedMarketData(t, store, "002598", 120e8, 1e8)

	svc := New(Config{}, store, zerolog.Nop())
	companies := []domain.AggregatedCompany{
		{CompanyCode: "688448", RelevanceScore: 0.9},
		{CompanyCode: "002598", RelevanceScore: 0.85},
		{CompanyCode: "300157", RelevanceScore: 0.5},
	}

	result, err := svc.Apply(context.Background(), companies, &Filters{MaxMarketCapCNY: float64Ptr(85e8)})
	require.NoError(t, err)
	require.True(t, result.Applied)
	assert.Equal(t, 1, result.ExcludedCount)

	require.Len(t, result.Companies, 2)
	// L(300157) = 0.5 * (3+3) = 3.0 beats L(688448) = 0.9 * (2+1) = 2.7.
	assert.Equal(t, "300157", result.Companies[0].CompanyCode)
	assert.Equal(t, "688448", result.Companies[1].CompanyCode)

	first := result.Companies[0].MarketScore
	require.NotNil(t, first)
	assert.Equal(t, 3, first.CapTierScore)
	assert.Equal(t, 3, first.VolumeTierScore)
	assert.InDelta(t, 3.0, first.L, 1e-9)

	second := result.Companies[1].MarketScore
	require.NotNil(t, second)
	assert.Equal(t, 2, second.CapTierScore)
	assert.Equal(t, 1, second.VolumeTierScore)
	assert.InDelta(t, 2.7, second.L, 1e-9)
}

func TestMatchTier_FallsBackAboveHighestBand(t *testing.T) {
	tiers := DefaultMarketCapTiers()
	if got := matchTier(tiers, 1000e8); got != 1 {
		t.Fatalf("expected the top band's score for an out-of-range value, got %d", got)
	}
}

func TestDefaultRelevanceTiers_CoversFullRange(t *testing.T) {
	tiers := DefaultRelevanceTiers()
	for _, v := range []float64{0, 0.3, 0.5, 0.79, 0.8, 1.0} {
		if got := matchTier(tiers, v); got == 0 {
			t.Fatalf("matchTier(%v) returned 0; every value in [0,1] must map to a configured tier score", v)
		}
	}
}
