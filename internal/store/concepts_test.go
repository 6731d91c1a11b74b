package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/testsupport"
	"github.com/ashareinsight/ashareinsight/internal/vector"
)

func newConceptRepo(t *testing.T) *ConceptRepository {
	t.Helper()
	db := testsupport.NewConceptDB(t)
	return NewConceptRepository(db, vector.New(16, 200))
}

func insertConcept(t *testing.T, repo *ConceptRepository, c domain.BusinessConcept) domain.BusinessConcept {
	t.Helper()
	err := repo.RunInTx(context.Background(), func(tx *sql.Tx) error {
		return repo.InsertConcept(context.Background(), tx, &c)
	})
	if err != nil {
		t.Fatalf("insert concept: %v", err)
	}
	return c
}

func TestConceptRepository_InsertThenFindActiveConcept(t *testing.T) {
	repo := newConceptRepo(t)
	c := insertConcept(t, repo, testsupport.Concept("300257", "concept a"))

	found, err := repo.FindActiveConcept(context.Background(), "300257", "concept a")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ConceptID != c.ConceptID {
		t.Fatalf("expected to find the inserted concept, got %+v", found)
	}
	if found.Version != 1 {
		t.Fatalf("expected a freshly inserted concept to be version 1, got %d", found.Version)
	}
}

func TestConceptRepository_FindActiveConcept_NotFound(t *testing.T) {
	repo := newConceptRepo(t)
	found, err := repo.FindActiveConcept(context.Background(), "300257", "does not exist")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != nil {
		t.Fatalf("expected nil for a concept that was never inserted, got %+v", found)
	}
}

func TestConceptRepository_UpdateConcept_OptimisticLockSucceeds(t *testing.T) {
	repo := newConceptRepo(t)
	c := insertConcept(t, repo, testsupport.Concept("300257", "concept a"))

	c.ImportanceScore = 0.99
	err := repo.RunInTx(context.Background(), func(tx *sql.Tx) error {
		return repo.UpdateConcept(context.Background(), tx, &c, 1, false)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	found, err := repo.FindActiveConcept(context.Background(), "300257", "concept a")
	if err != nil || found == nil {
		t.Fatalf("find after update: %v", err)
	}
	if found.ImportanceScore != 0.99 {
		t.Fatalf("expected updated importance score, got %v", found.ImportanceScore)
	}
	if found.Version != 2 {
		t.Fatalf("expected version to advance to 2, got %d", found.Version)
	}
}

func TestConceptRepository_UpdateConcept_StaleVersionFails(t *testing.T) {
	repo := newConceptRepo(t)
	c := insertConcept(t, repo, testsupport.Concept("300257", "concept a"))

	err := repo.RunInTx(context.Background(), func(tx *sql.Tx) error {
		return repo.UpdateConcept(context.Background(), tx, &c, 999, false)
	})
	var lockErr *domain.OptimisticLockError
	if !domain.As(err, &lockErr) {
		t.Fatalf("expected an OptimisticLockError for a stale expected version, got %v", err)
	}
}

func TestConceptRepository_UpdateConcept_ResetEmbeddingClearsVector(t *testing.T) {
	repo := newConceptRepo(t)
	c := insertConcept(t, repo, testsupport.Concept("300257", "concept a", testsupport.WithEmbedding(16, 0.5)))
	repo.UpsertIndex(c.ConceptID, c.Embedding)

	err := repo.RunInTx(context.Background(), func(tx *sql.Tx) error {
		return repo.UpdateConcept(context.Background(), tx, &c, 1, true)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	needing, err := repo.ListNeedingVectorization(context.Background(), "300257")
	if err != nil {
		t.Fatalf("list needing vectorization: %v", err)
	}
	if len(needing) != 1 {
		t.Fatalf("expected the concept to need re-vectorization after a reset, got %d", len(needing))
	}
}

func TestConceptRepository_UpdateEmbedding_AndSearchSimilar(t *testing.T) {
	repo := newConceptRepo(t)
	query := insertConcept(t, repo, testsupport.Concept("300257", "query concept"))
	candidate := insertConcept(t, repo, testsupport.Concept("300258", "similar concept"))

	vec := make([]float32, 16)
	for i := range vec {
		vec[i] = 0.5
	}
	if err := repo.UpdateEmbedding(context.Background(), query.ConceptID, vec); err != nil {
		t.Fatalf("update embedding query: %v", err)
	}
	if err := repo.UpdateEmbedding(context.Background(), candidate.ConceptID, vec); err != nil {
		t.Fatalf("update embedding candidate: %v", err)
	}
	repo.UpsertIndex(query.ConceptID, vec)
	repo.UpsertIndex(candidate.ConceptID, vec)

	hits, err := repo.SearchSimilar(context.Background(), vec, 10, 0.0)
	if err != nil {
		t.Fatalf("search_similar: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.ConceptID == candidate.ConceptID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the candidate concept to appear in search_similar results")
	}
	if len(hits) < 2 {
		t.Fatalf("expected both embedded concepts to be recallable, got %d hits", len(hits))
	}
}

func TestConceptRepository_BatchSearchSimilar_PreservesInputOrderAndSkipsNil(t *testing.T) {
	repo := newConceptRepo(t)
	c := insertConcept(t, repo, testsupport.Concept("300258", "similar concept"))

	vec := make([]float32, 16)
	for i := range vec {
		vec[i] = 0.5
	}
	if err := repo.UpdateEmbedding(context.Background(), c.ConceptID, vec); err != nil {
		t.Fatalf("update embedding: %v", err)
	}

	batches, err := repo.BatchSearchSimilar(context.Background(), [][]float32{nil, vec}, 10, 0.0, 4)
	if err != nil {
		t.Fatalf("batch_search_similar: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected one hit list per query, got %d", len(batches))
	}
	if batches[0] != nil {
		t.Fatal("a nil query vector must yield no hits")
	}
	if len(batches[1]) != 1 || batches[1][0].ConceptID != c.ConceptID {
		t.Fatalf("expected the embedded concept in the second batch, got %+v", batches[1])
	}
}

func TestConceptRepository_ListActiveConcepts(t *testing.T) {
	repo := newConceptRepo(t)
	insertConcept(t, repo, testsupport.Concept("300257", "a"))
	insertConcept(t, repo, testsupport.Concept("300257", "b"))
	insertConcept(t, repo, testsupport.Concept("300258", "c"))

	active, err := repo.ListActiveConcepts(context.Background(), "300257")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active concepts for 300257, got %d", len(active))
	}
}
