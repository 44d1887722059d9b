package reid

import "github.com/chewxy/math32"

// Cosine returns the cosine similarity of two feature vectors in [-1, 1].
// It returns 0 when the dimensions differ, either vector is empty, or
// either vector has zero norm.
func Cosine(a, b FeatureVector) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}

	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math32.Sqrt(na) * math32.Sqrt(nb))
}

// Euclidean returns the L2 distance between two feature vectors. A
// dimension mismatch yields +Inf so mismatched vectors never rank as
// close candidates.
func Euclidean(a, b FeatureVector) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return math32.Inf(1)
	}

	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math32.Sqrt(sum)
}
