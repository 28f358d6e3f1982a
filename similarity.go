package dpgp

// similarityAccumulator counts pairwise co-cluster occurrences across
// retained sweeps. Counts are stored in a flat row-major buffer; only the
// upper triangle is written and both halves are mirrored on read-out.
type similarityAccumulator struct {
	n      int
	counts []float64
	sweeps int
}

func newSimilarityAccumulator(n int) *similarityAccumulator {
	return &similarityAccumulator{n: n, counts: make([]float64, n*n)}
}

// add records the co-membership indicator matrix of one full sweep. It must
// only be called after the sweep's reassignment phase has completed.
func (s *similarityAccumulator) add(assignments []int) {
	for i := 0; i < s.n; i++ {
		for j := i + 1; j < s.n; j++ {
			if assignments[i] == assignments[j] {
				s.counts[i*s.n+j]++
			}
		}
	}
	s.sweeps++
}

// normalized returns the similarity matrix S: symmetric, unit diagonal,
// entries in [0, 1]. With no retained sweeps the off-diagonal is zero.
func (s *similarityAccumulator) normalized() [][]float64 {
	out := make([][]float64, s.n)
	for i := range out {
		out[i] = make([]float64, s.n)
		out[i][i] = 1
	}
	if s.sweeps == 0 {
		return out
	}
	inv := 1 / float64(s.sweeps)
	for i := 0; i < s.n; i++ {
		for j := i + 1; j < s.n; j++ {
			v := s.counts[i*s.n+j] * inv
			out[i][j] = v
			out[j][i] = v
		}
	}
	return out
}

// squaredDistance returns the squared Frobenius distance between two
// similarity snapshots of equal dimension.
func squaredDistance(a, b [][]float64) float64 {
	total := 0.0
	for i := range a {
		for j := range a[i] {
			d := a[i][j] - b[i][j]
			total += d * d
		}
	}
	return total
}

// pairwiseIndicator returns the flat upper-triangle co-membership indicator
// of a clustering: entry (i, j), i < j, is 1 when genes i and j share a
// cluster.
func pairwiseIndicator(assignments []int) []float64 {
	n := len(assignments)
	out := make([]float64, n*(n-1)/2)
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if assignments[i] == assignments[j] {
				out[k] = 1
			}
			k++
		}
	}
	return out
}

// upperTriangle flattens the strict upper triangle of a symmetric matrix in
// the same order as pairwiseIndicator.
func upperTriangle(s [][]float64) []float64 {
	n := len(s)
	out := make([]float64, n*(n-1)/2)
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out[k] = s[i][j]
			k++
		}
	}
	return out
}
