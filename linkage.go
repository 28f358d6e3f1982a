package dpgp

import "math"

// linkageMethod selects how inter-cluster dissimilarity is updated during
// agglomeration.
type linkageMethod int

const (
	averageLinkage linkageMethod = iota
	completeLinkage
)

// cutDendrogram performs agglomerative hierarchical clustering on a dense
// dissimilarity matrix and stops once k groups remain, returning one group
// id per point. Merges pick the closest active pair, breaking ties toward
// the smallest indices so the result is deterministic. Average linkage uses
// the size-weighted Lance-Williams update; complete linkage takes the
// maximum.
func cutDendrogram(dissim [][]float64, method linkageMethod, k int) []int {
	n := len(dissim)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	if k >= n || n <= 1 {
		return labels
	}

	// Working copy: d[i][j] is the dissimilarity between active groups i
	// and j; merged groups keep the lower index and deactivate the higher.
	d := make([][]float64, n)
	for i := range d {
		d[i] = append([]float64(nil), dissim[i]...)
	}
	active := make([]bool, n)
	size := make([]int, n)
	for i := range active {
		active[i] = true
		size[i] = 1
	}

	for groups := n; groups > k; groups-- {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if d[i][j] < best {
					best = d[i][j]
					bi, bj = i, j
				}
			}
		}

		for o := 0; o < n; o++ {
			if !active[o] || o == bi || o == bj {
				continue
			}
			var merged float64
			switch method {
			case completeLinkage:
				merged = math.Max(d[bi][o], d[bj][o])
			default:
				ni, nj := float64(size[bi]), float64(size[bj])
				merged = (ni*d[bi][o] + nj*d[bj][o]) / (ni + nj)
			}
			d[bi][o] = merged
			d[o][bi] = merged
		}
		size[bi] += size[bj]
		active[bj] = false
		for i := range labels {
			if labels[i] == bj {
				labels[i] = bi
			}
		}
	}

	return labels
}
