package vector

import (
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"gonum.org/v1/gonum/floats"
)

// Hit is one approximate-nearest-neighbor candidate: a concept id together
// with its similarity to the query vector (1 - cosine_distance).
type Hit struct {
	Key        string
	Similarity float64
}

// Index is the ANN structure over BusinessConcept embeddings: logically
// part of the concept store, cosine distance, configurable HNSW
// parameters. It is kept in-process and rebuilt from the concept store at
// startup, then maintained incrementally as vectorization writes new
// embeddings.
//
// HNSW is treated as an implementation detail rather than a guaranteed exact
// search, so Index additionally keeps the decoded vectors in memory and
// re-scores the graph's candidates exactly before applying the
// threshold/limit cut. Only the candidates the graph returns (an over-fetch
// of the limit) are re-scored, so a vector the graph search misses is not
// recovered.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[string]
	vecs   map[string][]float32
}

// New builds an empty index with the given HNSW construction parameters.
func New(m, efConstruction int) *Index {
	g := hnsw.NewGraph[string]()
	g.M = m
	g.Distance = hnsw.CosineDistance
	g.Ml = 1 / math.Log(float64(m))
	_ = efConstruction // coder/hnsw derives ef from M at construction time; kept for a configurable-parameter signature
	return &Index{
		graph: g,
		vecs:  make(map[string][]float32),
	}
}

// Upsert adds or replaces a concept's vector in the index. Safe for
// concurrent use.
func (idx *Index) Upsert(key string, vec []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.vecs[key]; exists {
		idx.graph.Delete(key)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	idx.vecs[key] = cp
	idx.graph.Add(hnsw.MakeNode(key, hnsw.Vector(cp)))
}

// Delete removes a concept from the index (used when a concept is
// soft-deleted or its embedding is invalidated).
func (idx *Index) Delete(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vecs, key)
	idx.graph.Delete(key)
}

// Len reports how many vectors the index currently holds.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vecs)
}

// Search returns up to `limit` hits with similarity_score >= threshold,
// ordered by descending similarity (ascending cosine distance).
func (idx *Index) Search(query []float32, limit int, threshold float64) []Hit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vecs) == 0 {
		return nil
	}

	// Over-fetch from the ANN graph to absorb its approximation error, then
	// re-score exactly so threshold/limit are honored precisely.
	candidateCount := limit * 4
	if candidateCount < limit+16 {
		candidateCount = limit + 16
	}
	if candidateCount > len(idx.vecs) {
		candidateCount = len(idx.vecs)
	}

	nodes := idx.graph.Search(hnsw.Vector(query), candidateCount)

	hits := make([]Hit, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		sim := cosineSimilarity(query, idx.vecs[n.Key])
		if sim >= threshold {
			hits = append(hits, Hit{Key: n.Key, Similarity: sim})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Key < hits[j].Key
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	da := make([]float64, len(a))
	db := make([]float64, len(b))
	for i := range a {
		da[i] = float64(a[i])
		db[i] = float64(b[i])
	}
	na := floats.Norm(da, 2)
	nb := floats.Norm(db, 2)
	if na == 0 || nb == 0 {
		return -1
	}
	return floats.Dot(da, db) / (na * nb)
}
