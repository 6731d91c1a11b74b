// Package marketfilter implements the market filter service: tiered
// L = X·(S+V) scoring and threshold-based exclusion, with conservative
// exclusion of companies missing market data once the filter is active.
package marketfilter

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/marketstore"
)

// Tier is one band of a piecewise scoring table: [Min, Max) -> Score.
type Tier struct {
	Min   float64
	Max   float64
	Score int
}

// Config holds the tier tables and absolute thresholds, all operator-tunable.
type Config struct {
	MarketCapTiers     []Tier
	VolumeTiers        []Tier
	RelevanceTiers     []Tier // only consulted when RelevanceMappingOn
	RelevanceMappingOn bool
}

// DefaultMarketCapTiers is the default market-cap tier table.
func DefaultMarketCapTiers() []Tier {
	return []Tier{
		{Min: 0, Max: 40e8, Score: 3},
		{Min: 40e8, Max: 60e8, Score: 2},
		{Min: 60e8, Max: 85e8, Score: 1},
	}
}

// DefaultRelevanceTiers discretizes the continuous [0,1] relevance score
// into the same 3/2/1 scale as the market-cap and volume tables. The exact
// bands are left to the operator; this is the fallback used when
// relevance_mapping_enabled is on but no custom table was supplied.
func DefaultRelevanceTiers() []Tier {
	return []Tier{
		{Min: 0, Max: 0.5, Score: 1},
		{Min: 0.5, Max: 0.8, Score: 2},
		{Min: 0.8, Max: 1.01, Score: 3},
	}
}

// DefaultVolumeTiers is the default 5-day-volume tier table.
func DefaultVolumeTiers() []Tier {
	return []Tier{
		{Min: 0, Max: 0.5e8, Score: 3},
		{Min: 0.5e8, Max: 1e8, Score: 2},
		{Min: 1e8, Max: 2e8, Score: 1},
	}
}

func New(cfg Config, market *marketstore.Store, log zerolog.Logger) *Service {
	if len(cfg.MarketCapTiers) == 0 {
		cfg.MarketCapTiers = DefaultMarketCapTiers()
	}
	if len(cfg.VolumeTiers) == 0 {
		cfg.VolumeTiers = DefaultVolumeTiers()
	}
	if cfg.RelevanceMappingOn && len(cfg.RelevanceTiers) == 0 {
		cfg.RelevanceTiers = DefaultRelevanceTiers()
	}
	return &Service{cfg: cfg, market: market, log: log.With().Str("component", "marketfilter").Logger()}
}

// Filters is the optional request-level market filter the caller asked for.
type Filters struct {
	MaxMarketCapCNY   *float64
	MaxAvgVolume5dCNY *float64
}

func (f *Filters) specified() bool {
	return f != nil && (f.MaxMarketCapCNY != nil || f.MaxAvgVolume5dCNY != nil)
}

// Result is what the market filter reports back to the retrieval orchestrator.
type Result struct {
	Applied          bool
	EffectiveFilters map[string]float64
	ExcludedCount    int
	Companies        []domain.AggregatedCompany
}

// Service scores and filters an aggregated company list using live
// market-data snapshots.
type Service struct {
	cfg    Config
	market *marketstore.Store
	log    zerolog.Logger
}

// Apply scores and filters companies by market cap and volume. A nil
// filters request is a no-op that passes companies through unchanged. If
// filters are requested but the market-data store has nothing for any of
// the candidates, the filter degrades: it is recorded as "requested but
// not applied" and the original ordering is preserved.
func (s *Service) Apply(ctx context.Context, companies []domain.AggregatedCompany, filters *Filters) (Result, error) {
	if filters == nil {
		return Result{Applied: false, Companies: companies}, nil
	}

	codes := make([]string, len(companies))
	for i, c := range companies {
		codes[i] = c.CompanyCode
	}
	current, err := s.market.GetCurrent(ctx, codes)
	if err != nil {
		return Result{}, err
	}
	if len(current) == 0 {
		s.log.Warn().Msg("market filter requested but no market data is available; proceeding unfiltered")
		return Result{Applied: false, Companies: companies}, nil
	}

	effective := make(map[string]float64, 2)
	if filters.MaxMarketCapCNY != nil {
		effective["max_market_cap_cny"] = *filters.MaxMarketCapCNY
	}
	if filters.MaxAvgVolume5dCNY != nil {
		effective["min_5day_avg_volume"] = *filters.MaxAvgVolume5dCNY
	}
	thresholdSpecified := filters.specified()

	filtered := make([]domain.AggregatedCompany, 0, len(companies))
	excluded := 0
	for _, c := range companies {
		data, ok := current[c.CompanyCode]
		if !ok {
			// Conservative exclusion once the filter is active.
			if thresholdSpecified {
				excluded++
				continue
			}
			filtered = append(filtered, c)
			continue
		}
		if filters.MaxMarketCapCNY != nil && data.CurrentMarketCap > *filters.MaxMarketCapCNY {
			excluded++
			continue
		}
		if filters.MaxAvgVolume5dCNY != nil && data.Avg5DayVolume > *filters.MaxAvgVolume5dCNY {
			excluded++
			continue
		}

		capScore := matchTier(s.cfg.MarketCapTiers, data.CurrentMarketCap)
		volScore := matchTier(s.cfg.VolumeTiers, data.Avg5DayVolume)
		relevance := c.RelevanceScore
		if s.cfg.RelevanceMappingOn {
			relevance = float64(matchTier(s.cfg.RelevanceTiers, c.RelevanceScore))
		}
		l := relevance * float64(capScore+volScore)

		c.MarketScore = &domain.MarketScore{
			CapTierScore:    capScore,
			VolumeTierScore: volScore,
			Relevance:       relevance,
			L:               l,
		}
		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		li, lj := scoreOf(filtered[i]), scoreOf(filtered[j])
		if li != lj {
			return li > lj
		}
		return filtered[i].CompanyCode < filtered[j].CompanyCode
	})

	return Result{Applied: true, EffectiveFilters: effective, ExcludedCount: excluded, Companies: filtered}, nil
}

// scoreOf reads a company's L score, falling back to its raw relevance for
// the rare company admitted without market data (no threshold was active,
// so it was never given a MarketScore).
func scoreOf(c domain.AggregatedCompany) float64 {
	if c.MarketScore != nil {
		return c.MarketScore.L
	}
	return c.RelevanceScore
}

// matchTier returns the score of the band containing v, falling back to the
// highest-Min band for values above every configured range.
func matchTier(tiers []Tier, v float64) int {
	if len(tiers) == 0 {
		return 0
	}
	for _, t := range tiers {
		if v >= t.Min && v < t.Max {
			return t.Score
		}
	}
	best := tiers[0]
	for _, t := range tiers[1:] {
		if t.Min > best.Min {
			best = t
		}
	}
	return best.Score
}
