// Package reid provides appearance-embedding extraction and similarity
// metrics for cross-camera re-identification.
package reid

import "github.com/chewxy/math32"

// FeatureVector is a fixed-length appearance descriptor. A nil or empty
// vector marks a rejected extraction. Vectors are immutable once produced.
type FeatureVector []float32

// Clone returns an independent copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	if len(v) == 0 {
		return nil
	}
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// Norm returns the L2 norm of the vector.
func (v FeatureVector) Norm() float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return math32.Sqrt(sum)
}

// normalizeL2 scales the slice to unit L2 norm in place. Zero vectors are
// left untouched.
func normalizeL2(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math32.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
