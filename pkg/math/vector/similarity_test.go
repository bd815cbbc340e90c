package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-6)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-6)
}

func TestCosineSimilarityOpposite(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{-1, 0, 0}
	assert.InDelta(t, -1.0, CosineSimilarity(a, b), 1e-6)
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := []float32{0.3, 0.7, 0.2}
	b := []float32{0.9, 0.1, 0.5}
	assert.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-6)
}

func TestCosineSimilarityDegenerate(t *testing.T) {
	a := []float32{1, 2, 3}

	// Mismatched lengths and empty inputs return 0, not an error.
	assert.Equal(t, float32(0), CosineSimilarity(a, []float32{1, 2}))
	assert.Equal(t, float32(0), CosineSimilarity(nil, nil))
	assert.Equal(t, float32(0), CosineSimilarity(a, []float32{0, 0, 0}))
}

func TestEuclideanDistance(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{3, 4, 0}
	assert.InDelta(t, 5.0, EuclideanDistance(a, b), 1e-6)
}

func TestEuclideanDistanceMismatch(t *testing.T) {
	d := EuclideanDistance([]float32{1}, []float32{1, 2})
	assert.True(t, math.IsInf(float64(d), 1))
}

func TestDotProduct(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, 32.0, DotProduct(a, b), 1e-6)
}

func TestSimilarityMetrics(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}

	assert.InDelta(t, 1.0, Similarity(a, b, Cosine), 1e-6)
	// Identical vectors: distance 0, similarity 1/(1+0) = 1.
	assert.InDelta(t, 1.0, Similarity(a, b, Euclidean), 1e-6)
	assert.InDelta(t, 1.0, Similarity(a, b, Dot), 1e-6)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0}
	NormalizeInPlace(v)
	assert.Equal(t, []float32{0, 0}, v)
}

func TestWeightedAverage(t *testing.T) {
	result := WeightedAverage([]Weighted{
		{Vector: []float32{1, 0}, Weight: 1},
		{Vector: []float32{0, 1}, Weight: 1},
	})
	require.Len(t, result, 2)
	assert.InDelta(t, 0.5, result[0], 1e-6)
	assert.InDelta(t, 0.5, result[1], 1e-6)
}

func TestWeightedAverageZeroWeight(t *testing.T) {
	result := WeightedAverage([]Weighted{
		{Vector: []float32{1, 1}, Weight: 0},
	})
	assert.Equal(t, []float32{0, 0}, result)
}

func TestWeightedAverageSkipsMismatched(t *testing.T) {
	result := WeightedAverage([]Weighted{
		{Vector: []float32{1, 0}, Weight: 1},
		{Vector: []float32{9, 9, 9}, Weight: 100},
	})
	assert.InDelta(t, 1.0, result[0], 1e-6)
	assert.InDelta(t, 0.0, result[1], 1e-6)
}

func TestExpandQueryNoContext(t *testing.T) {
	q := []float32{0.1, 0.2}
	out := ExpandQuery(q, nil, 0.3)
	assert.Equal(t, q, out)
}

func TestExpandQueryBlendsAndNormalizes(t *testing.T) {
	q := []float32{1, 0}
	ctx := [][]float32{{0, 1}}

	out := ExpandQuery(q, ctx, 0.5)
	require.Len(t, out, 2)

	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	assert.InDelta(t, out[0], out[1], 1e-6)
}

func TestBatchSimilarity(t *testing.T) {
	q := []float32{1, 0}
	scores := BatchSimilarity(q, [][]float32{{1, 0}, {0, 1}}, Cosine)
	require.Len(t, scores, 2)
	assert.InDelta(t, 1.0, scores[0], 1e-6)
	assert.InDelta(t, 0.0, scores[1], 1e-6)
}
