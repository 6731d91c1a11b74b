package vector

import (
	"math"
	"testing"
)

func TestEncodeDecodeHalf_RoundTripsWithinHalfPrecision(t *testing.T) {
	vec := []float32{0.1, -0.5, 1.0, 0.0, 3.14159}
	got := RoundTripHalf(vec)
	if len(got) != len(vec) {
		t.Fatalf("expected %d elements, got %d", len(vec), len(got))
	}
	for i, v := range vec {
		if math.Abs(float64(got[i]-v)) > 0.01 {
			t.Fatalf("element %d: want ~%v, got %v", i, v, got[i])
		}
	}
}

func TestIndex_SearchExcludesBelowThreshold(t *testing.T) {
	idx := New(16, 200)
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0} // orthogonal: similarity 0
	idx.Upsert("a", a)
	idx.Upsert("b", b)

	hits := idx.Search(a, 10, 0.5)
	for _, h := range hits {
		if h.Key == "b" {
			t.Fatal("an orthogonal vector must be excluded by a 0.5 similarity threshold")
		}
	}
}

func TestIndex_SearchReturnsSelfWithSimilarityOne(t *testing.T) {
	idx := New(16, 200)
	vec := []float32{0.3, 0.4, 0.5, 0.1}
	idx.Upsert("self", vec)

	hits := idx.Search(vec, 10, 0.0)
	if len(hits) == 0 || hits[0].Key != "self" {
		t.Fatalf("expected the identical vector to rank first, got %+v", hits)
	}
	if hits[0].Similarity < 0.999 {
		t.Fatalf("expected similarity ~1.0 for an identical vector, got %v", hits[0].Similarity)
	}
}

func TestIndex_SearchRespectsLimit(t *testing.T) {
	idx := New(16, 200)
	base := []float32{1, 0, 0, 0}
	for i := 0; i < 10; i++ {
		idx.Upsert(string(rune('a'+i)), base)
	}

	hits := idx.Search(base, 3, 0.0)
	if len(hits) != 3 {
		t.Fatalf("expected exactly 3 hits given limit=3, got %d", len(hits))
	}
}

func TestIndex_DeleteRemovesFromFutureSearches(t *testing.T) {
	idx := New(16, 200)
	vec := []float32{1, 0, 0, 0}
	idx.Upsert("a", vec)
	idx.Delete("a")

	if idx.Len() != 0 {
		t.Fatalf("expected an empty index after delete, got len %d", idx.Len())
	}
	hits := idx.Search(vec, 10, 0.0)
	if len(hits) != 0 {
		t.Fatalf("expected no hits after delete, got %+v", hits)
	}
}

func TestIndex_EmptyIndex_SearchReturnsNil(t *testing.T) {
	idx := New(16, 200)
	hits := idx.Search([]float32{1, 0}, 10, 0.0)
	if hits != nil {
		t.Fatalf("expected nil hits for an empty index, got %+v", hits)
	}
}
