// Package retrieval implements the retrieval use case: the online
// orchestrator that turns a query company into a ranked, optionally
// reranked and market-filtered list of similar companies.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/cache"
	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/marketfilter"
	"github.com/ashareinsight/ashareinsight/internal/rerankclient"
	"github.com/ashareinsight/ashareinsight/internal/store"
	"github.com/ashareinsight/ashareinsight/internal/utils"
)

// Reranker is the subset of rerankclient.Client retrieval depends on,
// narrowed so tests can substitute a fake.
type Reranker interface {
	Healthy() bool
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]rerankclient.Result, error)
}

// Config tunes one retrieval service instance.
type Config struct {
	RecallLimit           int // L_recall, default 50
	RecallConcurrency     int // default 20
	ScoreWeightRerank     float64
	ScoreWeightImportance float64
	MaxConceptsPerCompany int
	JustificationEvidence int // K
	AggregationMode       string // "max" or "mean"
	DefaultTopK           int
	MaxTopK               int
	DefaultThreshold      float64
}

// Request is one similar-companies search.
type Request struct {
	QueryIdentifier      string
	TopK                 int
	SimilarityThreshold  float64
	Filters              *marketfilter.Filters
	IncludeJustification bool
}

// QueryCompany is the minimal company identity echoed back in the response.
type QueryCompany struct {
	Name string
	Code string
}

// Metadata reports what the pipeline actually did, for observability and so
// degraded behaviors (an unapplied filter, a cache hit) stay visible to
// callers rather than being silently absorbed.
type Metadata struct {
	TotalResultsBeforeLimit int
	FiltersApplied          map[string]float64
	FilterRequestedButNotApplied bool
	ExcludedByMarketFilter  int
	CacheHit                bool
	Notes                   []string
	// Justified reports whether the caller asked for justification, so the
	// HTTP layer can gate the justification field on the request rather than
	// on whether matched-concept evidence happens to be non-empty.
	Justified               bool
}

// Response is the full result of one retrieval.
type Response struct {
	QueryCompany QueryCompany
	Results      []domain.AggregatedCompany
	Metadata     Metadata
}

// Service wires the concept store, rerank client, market filter and cache
// behind the retrieval orchestration pipeline.
type Service struct {
	companies *store.CompanyRepository
	concepts  *store.ConceptRepository
	rerank    Reranker
	filter    *marketfilter.Service
	cache     *cache.Cache
	cfg       Config
	log       zerolog.Logger
}

func New(companies *store.CompanyRepository, concepts *store.ConceptRepository, rerank Reranker, filter *marketfilter.Service, c *cache.Cache, cfg Config, log zerolog.Logger) *Service {
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = 50
	}
	if cfg.RecallConcurrency <= 0 {
		cfg.RecallConcurrency = 20
	}
	if cfg.MaxConceptsPerCompany <= 0 {
		cfg.MaxConceptsPerCompany = 5
	}
	if cfg.JustificationEvidence <= 0 {
		cfg.JustificationEvidence = 3
	}
	if cfg.AggregationMode == "" {
		cfg.AggregationMode = "max"
	}
	return &Service{
		companies: companies,
		concepts:  concepts,
		rerank:    rerank,
		filter:    filter,
		cache:     c,
		cfg:       cfg,
		log:       log.With().Str("component", "retrieval").Logger(),
	}
}

// Search runs the full retrieval pipeline.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	timer := utils.NewTimer("retrieval.Search", s.log)
	defer timer.Stop()

	if req.TopK <= 0 {
		req.TopK = s.cfg.DefaultTopK
	}
	if s.cfg.MaxTopK > 0 && req.TopK > s.cfg.MaxTopK {
		req.TopK = s.cfg.MaxTopK
	}
	if req.SimilarityThreshold <= 0 {
		req.SimilarityThreshold = s.cfg.DefaultThreshold
	}

	// 1. Resolve query company.
	company, err := s.companies.GetCompany(ctx, req.QueryIdentifier)
	if err != nil {
		return Response{}, err
	}
	queryCompany := QueryCompany{Name: company.FullName, Code: company.CompanyCode}

	// 3. Cache probe.
	key := cacheKey(req)
	if s.cache != nil {
		if raw, ok := s.cache.Get(key); ok {
			var cached Response
			if err := json.Unmarshal(raw, &cached); err == nil {
				cached.Metadata.CacheHit = true
				return cached, nil
			}
		}
	}

	// 2. Fetch source concepts.
	sourceConcepts, err := s.concepts.ListActiveConcepts(ctx, company.CompanyCode)
	if err != nil {
		return Response{}, err
	}
	if len(sourceConcepts) == 0 {
		return Response{
			QueryCompany: queryCompany,
			Results:      []domain.AggregatedCompany{},
			Metadata:     Metadata{Notes: []string{"query company has no active concepts"}},
		}, nil
	}

	// 4-5. Parallel recall + dedup.
	docs, err := s.recallAndDedup(ctx, sourceConcepts, req.SimilarityThreshold)
	if err != nil {
		return Response{}, err
	}

	// 6. Drop self-matches.
	docs = dropSelfMatches(docs, company.CompanyCode)

	// search_similar returns bare similarity hits; recover description and
	// source_sentences for rerank input and eventual justification.
	s.hydrateDocuments(ctx, docs)

	// 7. Rerank (optional, graceful degradation).
	if s.rerank != nil && s.rerank.Healthy() && len(docs) > 0 {
		queryText := mostImportantText(sourceConcepts)
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.ConceptName + ": " + strings.Join(d.SourceSentences, " ")
		}
		results, err := s.rerank.Rerank(ctx, queryText, texts, len(docs))
		if err != nil {
			s.log.Warn().Err(err).Msg("rerank degraded; falling back to similarity·importance ranking")
		} else if len(results) == len(docs) {
			for _, r := range results {
				if r.Index < 0 || r.Index >= len(docs) {
					continue
				}
				score := r.Score
				docs[r.Index].RerankScore = &score
			}
		} else {
			s.log.Warn().Int("got", len(results)).Int("want", len(docs)).Msg("rerank returned wrong-length output; degrading")
		}
	}

	// 8. Final per-concept score.
	for i := range docs {
		if docs[i].RerankScore != nil {
			docs[i].FinalScore = s.cfg.ScoreWeightRerank*(*docs[i].RerankScore) + s.cfg.ScoreWeightImportance*docs[i].ImportanceScore
		} else {
			docs[i].FinalScore = docs[i].ImportanceScore
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].FinalScore != docs[j].FinalScore {
			return docs[i].FinalScore > docs[j].FinalScore
		}
		return docs[i].ConceptID < docs[j].ConceptID
	})

	// 9. Aggregate by company.
	companies := s.aggregate(docs)
	s.resolveCompanyNames(ctx, companies)

	// 10. Market filter.
	meta := Metadata{FiltersApplied: map[string]float64{}}
	filterResult, err := s.filter.Apply(ctx, companies, req.Filters)
	if err != nil {
		return Response{}, err
	}
	companies = filterResult.Companies
	if req.Filters != nil {
		if filterResult.Applied {
			meta.FiltersApplied = filterResult.EffectiveFilters
			meta.ExcludedByMarketFilter = filterResult.ExcludedCount
		} else {
			meta.FilterRequestedButNotApplied = true
			meta.Notes = append(meta.Notes, "market filter requested but not applied: no market data available")
		}
	}

	// 11. Pagination.
	meta.TotalResultsBeforeLimit = len(companies)
	if req.TopK < len(companies) {
		companies = companies[:req.TopK]
	}

	// 12. Justification.
	meta.Justified = req.IncludeJustification
	if req.IncludeJustification {
		for i := range companies {
			companies[i] = s.justify(companies[i])
		}
	}

	resp := Response{QueryCompany: queryCompany, Results: companies, Metadata: meta}

	// 13. Cache write.
	if s.cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			s.cache.Set(key, raw)
		}
	}

	return resp, nil
}

func (s *Service) recallAndDedup(ctx context.Context, sourceConcepts []domain.BusinessConcept, threshold float64) ([]domain.Document, error) {
	queries := make([][]float32, len(sourceConcepts))
	for i, c := range sourceConcepts {
		queries[i] = c.Embedding // nil entries (unvectorized concepts) are skipped by the batch search
	}

	batches, err := s.concepts.BatchSearchSimilar(ctx, queries, s.cfg.RecallLimit, threshold, s.cfg.RecallConcurrency)
	if err != nil {
		return nil, domain.NewRepositoryError("recall", err)
	}

	best := make(map[string]domain.Document)
	for i, hits := range batches {
		for _, h := range hits {
			d, ok := best[h.ConceptID]
			if !ok || h.SimilarityScore > d.SimilarityScore {
				best[h.ConceptID] = domain.Document{
					ConceptID:       h.ConceptID,
					CompanyCode:     h.CompanyCode,
					ConceptName:     h.ConceptName,
					ConceptCategory: h.ConceptCategory,
					ImportanceScore: h.ImportanceScore,
					SimilarityScore: h.SimilarityScore,
					SourceConceptID: sourceConcepts[i].ConceptID,
				}
			}
		}
	}

	out := make([]domain.Document, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SimilarityScore > out[j].SimilarityScore })
	return out, nil
}

func (s *Service) hydrateDocuments(ctx context.Context, docs []domain.Document) {
	for i := range docs {
		c, err := s.concepts.GetConceptByID(ctx, docs[i].ConceptID)
		if err != nil || c == nil {
			continue
		}
		docs[i].SourceSentences = c.Details.SourceSentences
	}
}

func dropSelfMatches(docs []domain.Document, queryCompanyCode string) []domain.Document {
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if d.CompanyCode == queryCompanyCode {
			continue
		}
		out = append(out, d)
	}
	return out
}

func mostImportantText(concepts []domain.BusinessConcept) string {
	if len(concepts) == 0 {
		return ""
	}
	best := concepts[0]
	for _, c := range concepts[1:] {
		if c.ImportanceScore > best.ImportanceScore {
			best = c
		}
	}
	return best.ConceptName + ": " + best.Details.Description
}

func (s *Service) aggregate(docs []domain.Document) []domain.AggregatedCompany {
	grouped := make(map[string][]domain.Document)
	order := make([]string, 0)
	for _, d := range docs {
		if _, ok := grouped[d.CompanyCode]; !ok {
			order = append(order, d.CompanyCode)
		}
		grouped[d.CompanyCode] = append(grouped[d.CompanyCode], d)
	}

	out := make([]domain.AggregatedCompany, 0, len(order))
	for _, code := range order {
		companyDocs := grouped[code]
		sort.SliceStable(companyDocs, func(i, j int) bool { return companyDocs[i].FinalScore > companyDocs[j].FinalScore })

		relevance := companyDocs[0].FinalScore
		if s.cfg.AggregationMode == "mean" {
			sum := 0.0
			for _, d := range companyDocs {
				sum += d.FinalScore
			}
			relevance = sum / float64(len(companyDocs))
		}

		top := companyDocs
		if len(top) > s.cfg.MaxConceptsPerCompany {
			top = top[:s.cfg.MaxConceptsPerCompany]
		}

		out = append(out, domain.AggregatedCompany{
			CompanyCode:     code,
			RelevanceScore:  relevance,
			MatchedConcepts: top,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].CompanyCode < out[j].CompanyCode
	})
	return out
}

// resolveCompanyNames fills in the human-readable name the HTTP layer must
// echo for every result; candidate companies are known to Concept Store
// only by code until now.
func (s *Service) resolveCompanyNames(ctx context.Context, companies []domain.AggregatedCompany) {
	names := make(map[string]string, len(companies))
	for i := range companies {
		code := companies[i].CompanyCode
		name, ok := names[code]
		if !ok {
			if c, err := s.companies.GetCompany(ctx, code); err == nil {
				name = c.FullName
			}
			names[code] = name
		}
		companies[i].CompanyName = name
		for j := range companies[i].MatchedConcepts {
			companies[i].MatchedConcepts[j].CompanyName = name
		}
	}
}

// justify caps each matched concept's own evidence at JustificationEvidence
// sentences, so a company's justification pools distinct evidence per
// concept instead of every concept repeating the same pooled slice.
func (s *Service) justify(c domain.AggregatedCompany) domain.AggregatedCompany {
	for i := range c.MatchedConcepts {
		sentences := c.MatchedConcepts[i].SourceSentences
		if len(sentences) > s.cfg.JustificationEvidence {
			sentences = sentences[:s.cfg.JustificationEvidence]
		}
		c.MatchedConcepts[i].SourceSentences = sentences
	}
	return c
}

func cacheKey(req Request) string {
	sig := struct {
		Identifier string
		TopK       int
		Threshold  float64
		MaxCap     *float64
		MaxVolume  *float64
		Justify    bool
	}{Identifier: strings.ToLower(strings.TrimSpace(req.QueryIdentifier)), TopK: req.TopK, Threshold: req.SimilarityThreshold, Justify: req.IncludeJustification}
	if req.Filters != nil {
		sig.MaxCap = req.Filters.MaxMarketCapCNY
		sig.MaxVolume = req.Filters.MaxAvgVolume5dCNY
	}
	raw, _ := json.Marshal(sig)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("retrieval:%s", hex.EncodeToString(sum[:]))
}
