// Package extraction decodes the LLM extractor's structured output (the
// extractor itself runs upstream as a separate process; this package only
// consumes its output) into the domain types Archival and Fusion operate
// on. The raw bytes it parses are exactly what SourceDocument.RawLLMOutput
// stores, so the same decoder serves both a fresh `archive` run and a
// `fuse` replay from an already-archived document.
package extraction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ashareinsight/ashareinsight/internal/domain"
)

// Document is one completed extraction: the company it concerns, the
// filing metadata, and every business concept the extractor found.
type Document struct {
	CompanyCode     string    `json:"company_code"`
	CompanyName     string    `json:"company_name"`
	CompanyShort    string    `json:"company_short_name"`
	Exchange        string    `json:"exchange"`
	DocType         string    `json:"doc_type"` // annual_report | research_report
	PublicationDate time.Time `json:"publication_date"`
	Title           string    `json:"title"`
	FilePath        string    `json:"file_path"`
	FileHash        string    `json:"file_hash"`
	ModelID         string    `json:"extraction_model_id"`
	PromptVersion   string    `json:"prompt_version"`
	TokenCount      int       `json:"token_count"`
	WallClockMillis int64     `json:"wall_clock_millis"`
	Concepts        []Concept `json:"concepts"`
}

// Concept mirrors the extractor's per-concept output shape.
type Concept struct {
	Name             string             `json:"concept_name"`
	Category         string             `json:"concept_category"`
	ImportanceScore  float64            `json:"importance_score"`
	DevelopmentStage string             `json:"development_stage"`
	Description      string             `json:"description"`
	SourceSentences  []string           `json:"source_sentences"`
	Metrics          map[string]float64 `json:"metrics"`
	Customers        []string           `json:"customers"`
	Partners         []string           `json:"partners"`
	Subsidiaries     []string           `json:"subsidiaries"`
}

// Parse decodes one extractor output file into a Document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, domain.NewValidationError("extraction_output", err.Error())
	}
	return doc, nil
}

// ToDomain converts a parsed Document into the archival.Request inputs:
// the company row, the source document row (RawLLMOutput set to raw so
// fuse can later replay it), and the business concepts ready for Fusion.
func (d Document) ToDomain(raw []byte) (domain.Company, domain.SourceDocument, []domain.BusinessConcept) {
	company := domain.Company{
		CompanyCode: d.CompanyCode,
		FullName:    d.CompanyName,
		ShortName:   d.CompanyShort,
		Exchange:    d.Exchange,
	}

	sourceDoc := domain.SourceDocument{
		DocID:             uuid.NewString(),
		CompanyCode:       d.CompanyCode,
		DocType:           domain.DocType(d.DocType),
		PublicationDate:   d.PublicationDate,
		Title:             d.Title,
		FilePath:          d.FilePath,
		FileHash:          d.FileHash,
		RawLLMOutput:      raw,
		ExtractionModelID: d.ModelID,
		PromptVersion:     d.PromptVersion,
		TokenCount:        d.TokenCount,
		WallClockMillis:   d.WallClockMillis,
	}

	concepts := make([]domain.BusinessConcept, len(d.Concepts))
	for i, c := range d.Concepts {
		concepts[i] = domain.BusinessConcept{
			ConceptName:      c.Name,
			ConceptCategory:  domain.ConceptCategory(c.Category),
			ImportanceScore:  c.ImportanceScore,
			DevelopmentStage: c.DevelopmentStage,
			Details: domain.ConceptDetails{
				Description:     c.Description,
				SourceSentences: c.SourceSentences,
				Metrics:         domain.ConceptMetrics(c.Metrics),
				Relations: domain.ConceptRelations{
					Customers:    c.Customers,
					Partners:     c.Partners,
					Subsidiaries: c.Subsidiaries,
				},
			},
		}
	}
	return company, sourceDoc, concepts
}
