package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/marketfilter"
	"github.com/ashareinsight/ashareinsight/internal/retrieval"
)

// searchRequest mirrors the JSON body of the similar-companies search request.
type searchRequest struct {
	QueryIdentifier      string        `json:"query_identifier" validate:"required"`
	TopK                 int           `json:"top_k" validate:"omitempty,min=1,max=100"`
	SimilarityThreshold  float64       `json:"similarity_threshold" validate:"omitempty,min=0,max=1"`
	MarketFilters        *marketFilter `json:"market_filters"`
	IncludeJustification bool          `json:"-"`
}

type marketFilter struct {
	MaxMarketCapCNY   *float64 `json:"max_market_cap_cny" validate:"omitempty,gt=0"`
	MinAvgVolume5Day  *float64 `json:"min_5day_avg_volume" validate:"omitempty,gt=0"`
}

type queryCompanyDTO struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type matchedConceptDTO struct {
	Name            string  `json:"name"`
	SimilarityScore float64 `json:"similarity_score"`
}

type justificationDTO struct {
	Summary            string   `json:"summary"`
	SupportingEvidence []string `json:"supporting_evidence"`
}

type resultDTO struct {
	CompanyName      string              `json:"company_name"`
	CompanyCode      string              `json:"company_code"`
	RelevanceScore   float64             `json:"relevance_score"`
	MatchedConcepts  []matchedConceptDTO `json:"matched_concepts"`
	Justification    *justificationDTO   `json:"justification,omitempty"`
}

type metadataDTO struct {
	TotalResultsBeforeLimit int                `json:"total_results_before_limit"`
	FiltersApplied          map[string]float64 `json:"filters_applied"`
}

type searchResponseDTO struct {
	QueryCompany queryCompanyDTO `json:"query_company"`
	Metadata     metadataDTO     `json:"metadata"`
	Results      []resultDTO     `json:"results"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleSearchSimilarCompanies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, requestID, http.StatusUnprocessableEntity, "invalid_request_body", err.Error())
		return
	}
	body.IncludeJustification = r.URL.Query().Get("include_justification") == "true"

	if err := s.validate.Struct(body); err != nil {
		s.writeError(w, requestID, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	var filters *marketfilter.Filters
	if body.MarketFilters != nil {
		filters = &marketfilter.Filters{
			MaxMarketCapCNY:   body.MarketFilters.MaxMarketCapCNY,
			MaxAvgVolume5dCNY: body.MarketFilters.MinAvgVolume5Day,
		}
	}

	resp, err := s.retrieval.Search(ctx, retrieval.Request{
		QueryIdentifier:      body.QueryIdentifier,
		TopK:                 body.TopK,
		SimilarityThreshold:  body.SimilarityThreshold,
		Filters:              filters,
		IncludeJustification: body.IncludeJustification,
	})
	if err != nil {
		s.writeDomainError(w, requestID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toSearchResponseDTO(resp))
}

func toSearchResponseDTO(resp retrieval.Response) searchResponseDTO {
	results := make([]resultDTO, len(resp.Results))
	for i, c := range resp.Results {
		results[i] = resultDTO{
			CompanyName:    c.CompanyName,
			CompanyCode:    c.CompanyCode,
			RelevanceScore: c.RelevanceScore,
		}
		concepts := make([]matchedConceptDTO, len(c.MatchedConcepts))
		for j, m := range c.MatchedConcepts {
			concepts[j] = matchedConceptDTO{Name: m.ConceptName, SimilarityScore: m.SimilarityScore}
		}
		results[i].MatchedConcepts = concepts
		if resp.Metadata.Justified {
			var evidence []string
			for _, m := range c.MatchedConcepts {
				evidence = append(evidence, m.SourceSentences...)
			}
			results[i].Justification = &justificationDTO{
				Summary:            c.CompanyName + " shares business concepts with the query company.",
				SupportingEvidence: evidence,
			}
		}
	}
	filtersApplied := resp.Metadata.FiltersApplied
	if filtersApplied == nil {
		filtersApplied = map[string]float64{}
	}
	return searchResponseDTO{
		QueryCompany: queryCompanyDTO{Name: resp.QueryCompany.Name, Code: resp.QueryCompany.Code},
		Metadata: metadataDTO{
			TotalResultsBeforeLimit: resp.Metadata.TotalResultsBeforeLimit,
			FiltersApplied:          filtersApplied,
		},
		Results: results,
	}
}

// writeDomainError maps the domain error taxonomy onto HTTP status codes,
// defaulting unknown errors to 500.
func (s *Server) writeDomainError(w http.ResponseWriter, requestID string, err error) {
	var notFound *domain.CompanyNotFoundError
	var validationErr *domain.ValidationError
	var circuitErr *domain.CircuitOpenError

	switch {
	case domain.As(err, &notFound):
		s.writeError(w, requestID, http.StatusNotFound, "company_not_found", notFound.Error())
	case domain.As(err, &validationErr):
		s.writeError(w, requestID, http.StatusUnprocessableEntity, "validation_failed", validationErr.Error())
	case domain.As(err, &circuitErr):
		s.writeError(w, requestID, http.StatusInternalServerError, "dependency_unavailable", circuitErr.Error())
	default:
		s.log.Error().Err(err).Str("request_id", requestID).Msg("unhandled internal error")
		s.writeError(w, requestID, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	s.writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, RequestID: requestID}})
}
