package dpgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// groupsOf normalizes a label vector into sets for comparison.
func groupsOf(labels []int) map[int][]int {
	out := make(map[int][]int)
	for i, l := range labels {
		out[l] = append(out[l], i)
	}
	return out
}

func TestCutDendrogram_TwoObviousGroups(t *testing.T) {
	// Points 0,1 close together; 2,3 close together; groups far apart.
	d := [][]float64{
		{0, 0.1, 0.9, 0.8},
		{0.1, 0, 0.85, 0.9},
		{0.9, 0.85, 0, 0.1},
		{0.8, 0.9, 0.1, 0},
	}

	for _, method := range []linkageMethod{averageLinkage, completeLinkage} {
		labels := relabel(cutDendrogram(d, method, 2))
		assert.Equal(t, labels[0], labels[1])
		assert.Equal(t, labels[2], labels[3])
		assert.NotEqual(t, labels[0], labels[2])
	}
}

func TestCutDendrogram_DegenerateCuts(t *testing.T) {
	d := [][]float64{
		{0, 0.5, 0.5},
		{0.5, 0, 0.5},
		{0.5, 0.5, 0},
	}

	// k >= n leaves every point alone.
	assert.Equal(t, []int{0, 1, 2}, cutDendrogram(d, averageLinkage, 3))
	assert.Equal(t, []int{0, 1, 2}, cutDendrogram(d, averageLinkage, 5))

	// k = 1 merges everything.
	labels := cutDendrogram(d, completeLinkage, 1)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[1], labels[2])
}

func TestCutDendrogram_AverageVsCompleteDiffer(t *testing.T) {
	// A chain where point 2 sits between two pairs: complete linkage keeps
	// the chained group apart earlier than average linkage does.
	d := [][]float64{
		{0, 0.1, 0.4, 1.0, 1.0},
		{0.1, 0, 0.4, 1.0, 1.0},
		{0.4, 0.4, 0, 0.5, 0.5},
		{1.0, 1.0, 0.5, 0, 0.1},
		{1.0, 1.0, 0.5, 0.1, 0},
	}

	avg := relabel(cutDendrogram(d, averageLinkage, 2))
	comp := relabel(cutDendrogram(d, completeLinkage, 2))

	// Both must produce exactly two groups covering all points.
	assert.Len(t, groupsOf(avg), 2)
	assert.Len(t, groupsOf(comp), 2)
	// The tight pairs never split.
	assert.Equal(t, avg[0], avg[1])
	assert.Equal(t, avg[3], avg[4])
	assert.Equal(t, comp[0], comp[1])
	assert.Equal(t, comp[3], comp[4])
}

func TestCutDendrogram_Deterministic(t *testing.T) {
	// Symmetric ties: repeated runs must break them identically.
	d := [][]float64{
		{0, 0.3, 0.3, 0.3},
		{0.3, 0, 0.3, 0.3},
		{0.3, 0.3, 0, 0.3},
		{0.3, 0.3, 0.3, 0},
	}
	first := cutDendrogram(d, averageLinkage, 2)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, cutDendrogram(d, averageLinkage, 2))
	}
}
