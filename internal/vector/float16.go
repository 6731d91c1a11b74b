// Package vector provides the half-precision embedding codec and the
// in-process ANN index used by the concept store.
package vector

import "github.com/x448/float16"

// EncodeHalf converts a full-precision embedding to the half-precision
// ("halfvec") wire/storage format used for the embedding column.
func EncodeHalf(vec []float32) []uint16 {
	out := make([]uint16, len(vec))
	for i, f := range vec {
		out[i] = uint16(float16.Fromfloat32(f))
	}
	return out
}

// DecodeHalf expands a stored half-precision vector back to float32 for
// arithmetic (cosine distance, weighted scoring).
func DecodeHalf(raw []uint16) []float32 {
	out := make([]float32, len(raw))
	for i, h := range raw {
		out[i] = float16.Float16(h).Float32()
	}
	return out
}

// RoundTripHalf truncates a float32 vector to half precision and back, the
// same lossy conversion the store applies on write — used by tests that
// assert "embedding equals the written vector (within half-precision)".
func RoundTripHalf(vec []float32) []float32 {
	return DecodeHalf(EncodeHalf(vec))
}
