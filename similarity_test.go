package dpgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityAccumulator_NormalizedProperties(t *testing.T) {
	acc := newSimilarityAccumulator(4)
	acc.add([]int{0, 0, 1, 1})
	acc.add([]int{0, 0, 0, 1})
	acc.add([]int{2, 0, 2, 1})
	acc.add([]int{0, 0, 1, 1})

	s := acc.normalized()
	for i := range s {
		assert.Equal(t, 1.0, s[i][i], "unit diagonal")
		for j := range s[i] {
			assert.Equal(t, s[i][j], s[j][i], "symmetric")
			assert.GreaterOrEqual(t, s[i][j], 0.0)
			assert.LessOrEqual(t, s[i][j], 1.0)
		}
	}

	// Genes 0 and 1 co-clustered in 3 of 4 sweeps; 0 and 3 never.
	assert.InDelta(t, 0.75, s[0][1], 1e-12)
	assert.InDelta(t, 0.0, s[0][3], 1e-12)
	// Genes 2 and 3 co-clustered once.
	assert.InDelta(t, 0.25, s[2][3], 1e-12)
}

func TestSimilarityAccumulator_NoSweeps(t *testing.T) {
	s := newSimilarityAccumulator(3).normalized()
	for i := range s {
		for j := range s[i] {
			if i == j {
				assert.Equal(t, 1.0, s[i][j])
			} else {
				assert.Equal(t, 0.0, s[i][j])
			}
		}
	}
}

func TestSquaredDistance(t *testing.T) {
	a := [][]float64{{1, 0}, {0, 1}}
	b := [][]float64{{1, 0.5}, {0.5, 1}}
	assert.InDelta(t, 0.5, squaredDistance(a, b), 1e-12)
	assert.Zero(t, squaredDistance(a, a))
}

func TestPairwiseIndicator_MatchesUpperTriangleOrder(t *testing.T) {
	assignments := []int{0, 1, 0}
	ind := pairwiseIndicator(assignments)
	// Pairs in order: (0,1), (0,2), (1,2).
	assert.Equal(t, []float64{0, 1, 0}, ind)

	s := [][]float64{
		{1, 0.2, 0.9},
		{0.2, 1, 0.1},
		{0.9, 0.1, 1},
	}
	assert.Equal(t, []float64{0.2, 0.9, 0.1}, upperTriangle(s))
}
