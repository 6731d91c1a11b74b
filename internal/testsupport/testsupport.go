// Package testsupport provides in-memory SQLite fixtures and small domain
// builders shared by every package's tests, a dedicated test-fixture
// package rather than per-package boilerplate.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/rerankclient"
	"github.com/ashareinsight/ashareinsight/internal/store"
	"github.com/ashareinsight/ashareinsight/internal/store/schema"
)

// NewConceptDB opens an in-memory Concept Store database migrated with the
// production schema. MaxOpenConns is pinned to 1: modernc.org/sqlite gives
// each new connection to ":memory:" its own anonymous database, so a pool
// larger than one connection would silently lose writes to sibling
// connections.
func NewConceptDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(store.Config{Path: ":memory:", Name: "concept_test", Profile: store.ProfileStandard})
	if err != nil {
		t.Fatalf("open concept test db: %v", err)
	}
	db.Conn().SetMaxOpenConns(1)
	if err := db.Migrate(context.Background(), schema.ConceptSchemaSQL); err != nil {
		t.Fatalf("migrate concept test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewMarketDB opens an in-memory Market-Data Store database.
func NewMarketDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(store.Config{Path: ":memory:", Name: "market_test", Profile: store.ProfileAppendOnly})
	if err != nil {
		t.Fatalf("open market test db: %v", err)
	}
	db.Conn().SetMaxOpenConns(1)
	if err := db.Migrate(context.Background(), schema.MarketDataSchemaSQL); err != nil {
		t.Fatalf("migrate market test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Company returns a fixture company, overridable via opts.
func Company(code string, opts ...func(*domain.Company)) domain.Company {
	c := domain.Company{
		CompanyCode: code,
		FullName:    "Test Company " + code,
		ShortName:   "TC" + code,
		Exchange:    "SZSE",
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Concept returns a fixture business concept with sane defaults. Embedding
// is left nil (scheduled for vectorization) unless an option sets it.
func Concept(companyCode, name string, opts ...func(*domain.BusinessConcept)) domain.BusinessConcept {
	c := domain.BusinessConcept{
		ConceptID:       uuid.NewString(),
		CompanyCode:     companyCode,
		ConceptName:     name,
		ConceptCategory: domain.ConceptCategoryCore,
		ImportanceScore: 0.8,
		Details: domain.ConceptDetails{
			Description:     "a fixture business concept for " + name,
			SourceSentences: []string{name + " is a core business of the company."},
		},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithEmbedding sets a deterministic fixture embedding of dim D with every
// component equal to seed (not L2-normalized).
func WithEmbedding(dim int, seed float32) func(*domain.BusinessConcept) {
	return func(c *domain.BusinessConcept) {
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = seed
		}
		c.Embedding = vec
	}
}

// Document returns a fixture source document.
func Document(companyCode string, opts ...func(*domain.SourceDocument)) domain.SourceDocument {
	d := domain.SourceDocument{
		DocID:           uuid.NewString(),
		CompanyCode:     companyCode,
		DocType:         domain.DocTypeAnnualReport,
		PublicationDate: time.Now().UTC(),
		Title:           "Fixture Annual Report",
		FilePath:        "/fixtures/" + companyCode + ".pdf",
		FileHash:        uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// StubEmbedder is a deterministic Embedder test double: every text maps to
// a fixed-dimension vector derived from its length, so repeated calls with
// the same input are reproducible without a real embedding service.
type StubEmbedder struct {
	Dim int
	Err error
}

func (s *StubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, s.Dim)
		for j := range vec {
			vec[j] = float32(len(t)%7) / 7.0
		}
		out[i] = vec
	}
	return out, nil
}

// StubReranker is a no-op Reranker test double reporting itself unhealthy,
// so callers exercise the graceful-degradation path by default.
type StubReranker struct {
	HealthyFn func() bool
	RerankFn  func(ctx context.Context, query string, documents []string, topK int) ([]rerankclient.Result, error)
}

func (s *StubReranker) Healthy() bool {
	if s.HealthyFn != nil {
		return s.HealthyFn()
	}
	return false
}

func (s *StubReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]rerankclient.Result, error) {
	if s.RerankFn != nil {
		return s.RerankFn(ctx, query, documents, topK)
	}
	return nil, nil
}
