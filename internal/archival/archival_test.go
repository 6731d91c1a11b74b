package archival

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/fusion"
	"github.com/ashareinsight/ashareinsight/internal/store"
	"github.com/ashareinsight/ashareinsight/internal/testsupport"
	"github.com/ashareinsight/ashareinsight/internal/vector"
)

func newService(t *testing.T) (*Service, *store.DocumentRepository) {
	t.Helper()
	db := testsupport.NewConceptDB(t)
	docs := store.NewDocumentRepository(db)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))
	fusionSvc := fusion.New(concepts, fusion.Config{}, zerolog.Nop())
	return New(db, docs, fusionSvc, zerolog.Nop()), docs
}

func TestArchive_NewCompanyNewConcepts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	req := Request{
		Company:  testsupport.Company("300257"),
		Document: testsupport.Document("300257", func(d *domain.SourceDocument) { d.FileHash = "hash-1" }),
		Concepts: []domain.BusinessConcept{
			testsupport.Concept("300257", "螺杆空气压缩机", func(c *domain.BusinessConcept) { c.ImportanceScore = 0.95 }),
			testsupport.Concept("300257", "磁悬浮鼓风机", func(c *domain.BusinessConcept) { c.ImportanceScore = 0.6 }),
		},
	}

	result, err := svc.Archive(ctx, req)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if result.AlreadyExisted {
		t.Fatal("first archive of a new file_hash must not report already_existed")
	}
	if result.Skipped {
		t.Fatal("an annual report must never be skipped")
	}
	if len(result.FusionOutcomes) != 2 {
		t.Fatalf("expected 2 fusion outcomes, got %d", len(result.FusionOutcomes))
	}
	for _, o := range result.FusionOutcomes {
		if o.Err != nil {
			t.Fatalf("unexpected fusion error: %v", o.Err)
		}
		if !o.Inserted {
			t.Fatalf("concept %q should have been inserted as a new master concept", o.ConceptName)
		}
	}
}

func TestArchive_IdempotentReArchive(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	req := Request{
		Company:  testsupport.Company("300257"),
		Document: testsupport.Document("300257", func(d *domain.SourceDocument) { d.FileHash = "hash-1" }),
		Concepts: []domain.BusinessConcept{testsupport.Concept("300257", "螺杆空气压缩机")},
	}

	first, err := svc.Archive(ctx, req)
	if err != nil {
		t.Fatalf("first archive: %v", err)
	}

	req.Document.DocID = "a-different-doc-id" // the CLI mints a fresh DocID per run; dedup is on file_hash
	second, err := svc.Archive(ctx, req)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}

	if !second.AlreadyExisted {
		t.Fatal("re-archiving the same (company, file_hash) must report already_existed=true")
	}
	if second.DocID != first.DocID {
		t.Fatalf("expected the original doc_id %q to be returned, got %q", first.DocID, second.DocID)
	}
}

func TestArchive_ResearchReportForUnknownCompanyIsSkipped(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	req := Request{
		Company: testsupport.Company("999999"),
		Document: testsupport.Document("999999", func(d *domain.SourceDocument) {
			d.DocType = domain.DocTypeResearchReport
			d.FileHash = "hash-rr"
		}),
		Concepts: []domain.BusinessConcept{testsupport.Concept("999999", "some concept")},
	}

	result, err := svc.Archive(ctx, req)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !result.Skipped {
		t.Fatal("a research report for an unknown company must be skipped, not archived")
	}
}
