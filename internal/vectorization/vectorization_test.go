package vectorization

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/store"
	"github.com/ashareinsight/ashareinsight/internal/testsupport"
	"github.com/ashareinsight/ashareinsight/internal/vector"
)

func seedConcepts(t *testing.T, concepts *store.ConceptRepository, names ...string) {
	t.Helper()
	for _, name := range names {
		c := testsupport.Concept("300257", name)
		err := concepts.RunInTx(context.Background(), func(tx *sql.Tx) error {
			return concepts.InsertConcept(context.Background(), tx, &c)
		})
		if err != nil {
			t.Fatalf("seed concept %q: %v", name, err)
		}
	}
}

func TestRun_EmbedsConceptsNeedingVectorization(t *testing.T) {
	db := testsupport.NewConceptDB(t)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))
	seedConcepts(t, concepts, "concept a", "concept b")

	svc := New(concepts, &testsupport.StubEmbedder{Dim: 16}, Config{}, zerolog.Nop())
	summary, err := svc.Run(context.Background(), "300257")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 2 || summary.Succeeded != 2 || summary.Discarded != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	active, err := concepts.ListActiveConcepts(context.Background(), "300257")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	for _, c := range active {
		if c.Embedding == nil {
			t.Fatalf("concept %q should have an embedding after Run", c.ConceptName)
		}
	}
}

func TestRun_DiscardsEmptyVectors(t *testing.T) {
	db := testsupport.NewConceptDB(t)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))
	seedConcepts(t, concepts, "concept a")

	svc := New(concepts, &testsupport.StubEmbedder{Dim: 0}, Config{}, zerolog.Nop())
	summary, err := svc.Run(context.Background(), "300257")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Discarded != 1 {
		t.Fatalf("expected 1 discarded concept for a zero-length embedding, got %d", summary.Discarded)
	}
}

func TestRun_DiscardsWrongDimensionVectors(t *testing.T) {
	db := testsupport.NewConceptDB(t)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))
	seedConcepts(t, concepts, "concept a")

	svc := New(concepts, &testsupport.StubEmbedder{Dim: 8}, Config{EmbeddingDim: 16}, zerolog.Nop())
	summary, err := svc.Run(context.Background(), "300257")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Discarded != 1 || summary.Succeeded != 0 {
		t.Fatalf("expected the wrong-width vector to be discarded, got %+v", summary)
	}

	needing, err := concepts.ListNeedingVectorization(context.Background(), "300257")
	if err != nil {
		t.Fatalf("list needing vectorization: %v", err)
	}
	if len(needing) != 1 {
		t.Fatalf("a discarded concept must remain scheduled for vectorization, got %d", len(needing))
	}
}

func TestRun_EmbeddingErrorLeavesConceptsScheduled(t *testing.T) {
	db := testsupport.NewConceptDB(t)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))
	seedConcepts(t, concepts, "concept a")

	svc := New(concepts, &testsupport.StubEmbedder{Err: errors.New("embedding service unavailable")}, Config{}, zerolog.Nop())
	summary, err := svc.Run(context.Background(), "300257")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Succeeded != 0 {
		t.Fatalf("expected no successes when the embedder errors, got %+v", summary)
	}

	needing, err := concepts.ListNeedingVectorization(context.Background(), "300257")
	if err != nil {
		t.Fatalf("list needing vectorization: %v", err)
	}
	if len(needing) != 1 {
		t.Fatalf("expected the concept to remain scheduled after a failed batch, got %d", len(needing))
	}
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	db := testsupport.NewConceptDB(t)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))
	seedConcepts(t, concepts, "concept a", "concept b")

	active, err := concepts.ListActiveConcepts(context.Background(), "300257")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	checkpoint := filepath.Join(t.TempDir(), "checkpoint")
	if err := os.WriteFile(checkpoint, []byte(active[0].ConceptID), 0o644); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	svc := New(concepts, &testsupport.StubEmbedder{Dim: 16}, Config{CheckpointFile: checkpoint, BatchSize: 1}, zerolog.Nop())
	summary, err := svc.Run(context.Background(), "300257")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("expected only the concept after the checkpoint to be processed, got %+v", summary)
	}
	if _, err := os.Stat(checkpoint); !os.IsNotExist(err) {
		t.Fatal("a completed run must retire its checkpoint file")
	}
}

func TestRebuild_ReVectorizesAlreadyEmbeddedConcepts(t *testing.T) {
	db := testsupport.NewConceptDB(t)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))
	seedConcepts(t, concepts, "concept a")

	svc := New(concepts, &testsupport.StubEmbedder{Dim: 16}, Config{}, zerolog.Nop())
	if _, err := svc.Run(context.Background(), "300257"); err != nil {
		t.Fatalf("initial run: %v", err)
	}

	needing, err := concepts.ListNeedingVectorization(context.Background(), "300257")
	if err != nil {
		t.Fatalf("list needing vectorization: %v", err)
	}
	if len(needing) != 0 {
		t.Fatal("after Run, no concept should still need vectorization")
	}

	summary, err := svc.Rebuild(context.Background(), "300257")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("rebuild must re-process already-embedded concepts, got %+v", summary)
	}
}

func TestRun_NoConceptsNeedingWork_ReturnsEmptySummary(t *testing.T) {
	db := testsupport.NewConceptDB(t)
	concepts := store.NewConceptRepository(db, vector.New(16, 200))

	svc := New(concepts, &testsupport.StubEmbedder{Dim: 16}, Config{}, zerolog.Nop())
	summary, err := svc.Run(context.Background(), "300257")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary != (Summary{}) {
		t.Fatalf("expected a zero-value summary, got %+v", summary)
	}
}
