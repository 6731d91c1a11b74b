// Package vectorization turns concepts needing an embedding into text,
// calls the embedding client in batches, and writes vectors back without
// disturbing optimistic-lock versions.
package vectorization

import (
	"bufio"
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/store"
)

// Config tunes one vectorization run.
type Config struct {
	TextMaxChars   int
	CheckpointFile string
	BatchSize      int // mirrors the embedding client's batch size
	EmbeddingDim   int // D; a returned vector of any other length is discarded

	// OnResult, when set, is called once per processed concept with
	// "embedded" or "discarded", feeding the vectorization counters.
	OnResult func(result string)
}

// Embedder is the subset of embedclient.Client vectorization depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Service drives full-rebuild and incremental vectorization runs.
type Service struct {
	concepts *store.ConceptRepository
	embed    Embedder
	cfg      Config
	log      zerolog.Logger
}

func New(concepts *store.ConceptRepository, embed Embedder, cfg Config, log zerolog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Service{concepts: concepts, embed: embed, cfg: cfg, log: log.With().Str("component", "vectorization").Logger()}
}

// Summary reports how a run went.
type Summary struct {
	Processed int
	Succeeded int
	Discarded int // dimension mismatches
}

// Run processes every concept needing vectorization for companyCode (empty
// means all companies), resuming from the last checkpointed concept id if
// one exists. Both full-rebuild and incremental modes call this; the
// distinction is which concepts ListNeedingVectorization returns (callers
// pass a pre-filtered or full-rebuild query upstream — see Rebuild below).
func (s *Service) Run(ctx context.Context, companyCode string) (Summary, error) {
	concepts, err := s.concepts.ListNeedingVectorization(ctx, companyCode)
	if err != nil {
		return Summary{}, err
	}
	return s.process(ctx, concepts)
}

// Rebuild forces re-vectorization of every active concept for companyCode
// (or all companies), ignoring the embedding-is-NULL filter.
func (s *Service) Rebuild(ctx context.Context, companyCode string) (Summary, error) {
	concepts, err := s.concepts.ListActiveConcepts(ctx, companyCode)
	if err != nil {
		return Summary{}, err
	}
	return s.process(ctx, concepts)
}

func (s *Service) process(ctx context.Context, concepts []domain.BusinessConcept) (Summary, error) {
	resumeFrom := s.readCheckpoint()
	if resumeFrom != "" {
		concepts = skipUntilAfter(concepts, resumeFrom)
	}

	summary := Summary{}
	discard := func(n int) {
		summary.Discarded += n
		if s.cfg.OnResult != nil {
			for i := 0; i < n; i++ {
				s.cfg.OnResult("discarded")
			}
		}
	}
	for _, batch := range chunkConcepts(concepts, s.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.EmbeddingText(s.cfg.TextMaxChars)
		}

		vectors, err := s.embed.Embed(ctx, texts)
		if err != nil {
			s.log.Error().Err(err).Int("batch_size", len(batch)).Msg("embedding batch failed; concepts remain scheduled")
			continue
		}

		updates := make(map[string][]float32, len(batch))
		for i, c := range batch {
			summary.Processed++
			if i >= len(vectors) || len(vectors[i]) == 0 {
				discard(1)
				continue
			}
			if s.cfg.EmbeddingDim > 0 && len(vectors[i]) != s.cfg.EmbeddingDim {
				s.log.Warn().Str("concept_id", c.ConceptID).Int("expected_dim", s.cfg.EmbeddingDim).
					Int("got_dim", len(vectors[i])).Msg("embedding dimension mismatch; discarding")
				discard(1)
				continue
			}
			updates[c.ConceptID] = vectors[i]
		}

		if len(updates) > 0 {
			if err := s.concepts.BatchUpdateEmbeddings(ctx, updates); err != nil {
				s.log.Error().Err(err).Msg("batch_update_embeddings failed")
				continue
			}
			for id, emb := range updates {
				s.concepts.UpsertIndex(id, emb)
			}
			summary.Succeeded += len(updates)
			if s.cfg.OnResult != nil {
				for range updates {
					s.cfg.OnResult("embedded")
				}
			}
		}

		s.writeCheckpoint(batch[len(batch)-1].ConceptID)
	}
	// A finished run retires its checkpoint; leaving it behind would make the
	// next rebuild skip every concept up to the stale id.
	s.clearCheckpoint()
	return summary, nil
}

func (s *Service) readCheckpoint() string {
	if s.cfg.CheckpointFile == "" {
		return ""
	}
	f, err := os.Open(s.cfg.CheckpointFile)
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return scanner.Text()
	}
	return ""
}

func (s *Service) writeCheckpoint(conceptID string) {
	if s.cfg.CheckpointFile == "" {
		return
	}
	if err := os.WriteFile(s.cfg.CheckpointFile, []byte(conceptID), 0o644); err != nil {
		s.log.Warn().Err(err).Msg("failed to write vectorization checkpoint")
	}
}

func (s *Service) clearCheckpoint() {
	if s.cfg.CheckpointFile == "" {
		return
	}
	if err := os.Remove(s.cfg.CheckpointFile); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Msg("failed to clear vectorization checkpoint")
	}
}

func skipUntilAfter(concepts []domain.BusinessConcept, lastID string) []domain.BusinessConcept {
	for i, c := range concepts {
		if c.ConceptID == lastID {
			return concepts[i+1:]
		}
	}
	return concepts
}

func chunkConcepts(concepts []domain.BusinessConcept, size int) [][]domain.BusinessConcept {
	if size <= 0 {
		size = len(concepts)
	}
	var out [][]domain.BusinessConcept
	for i := 0; i < len(concepts); i += size {
		end := i + size
		if end > len(concepts) {
			end = len(concepts)
		}
		out = append(out, concepts[i:end])
	}
	return out
}
