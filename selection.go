package dpgp

import (
	"fmt"
	"math"
	"sort"
)

// selectOptimal dispatches the configured criterion over the retained
// archive and similarity matrix, returning one dense-relabeled assignment
// vector. The criterion was validated at configuration time; dispatch here
// is a single switch, not repeated string comparisons per candidate.
func selectOptimal(cfg Config, sim [][]float64, sampled [][]int, logLikelihoods []float64) ([]int, error) {
	switch cfg.Criterion {
	case CriterionHClustAvg, CriterionHClustComp:
		method := averageLinkage
		if cfg.Criterion == CriterionHClustComp {
			method = completeLinkage
		}
		k := cfg.HClustClusters
		if k == 0 {
			k = medianClusterCount(sampled)
		}
		return hClustSelect(sim, method, k), nil
	}

	if len(sampled) == 0 {
		return nil, fmt.Errorf("dpgp: criterion %q needs a non-empty sample archive", string(cfg.Criterion))
	}
	switch cfg.Criterion {
	case CriterionMAP:
		return relabel(sampled[bestByLogLikelihood(logLikelihoods)]), nil
	case CriterionLeastSquares:
		return relabel(sampled[bestBySquaredDeviation(sampled, sim)]), nil
	case CriterionMPEAR:
		return relabel(sampled[bestByMPEAR(sampled, sim)]), nil
	}
	return nil, fmt.Errorf("dpgp: unknown criterion %q", string(cfg.Criterion))
}

// bestByLogLikelihood returns the archive index with the maximum recorded
// log-likelihood; ties resolve to the earliest index.
func bestByLogLikelihood(logLikelihoods []float64) int {
	best := 0
	for i, ll := range logLikelihoods {
		if ll > logLikelihoods[best] {
			best = i
		}
	}
	return best
}

// bestBySquaredDeviation returns the archive index whose co-membership
// indicator minimizes the summed squared deviation from S (Dahl's method).
func bestBySquaredDeviation(sampled [][]int, sim [][]float64) int {
	s := upperTriangle(sim)
	best, bestScore := 0, math.Inf(1)
	for i, clustering := range sampled {
		ind := pairwiseIndicator(clustering)
		score := 0.0
		for k := range ind {
			d := ind[k] - s[k]
			score += d * d
		}
		if score < bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// bestByMPEAR returns the archive index maximizing the Fritsch-Ickstadt
// approximation of the posterior expected adjusted Rand index,
//
//	PEAR ≈ (Σ I·S − ΣI·ΣS/B) / (½(ΣI + ΣS) − ΣI·ΣS/B),
//
// with sums over distinct pairs and B the number of pairs.
func bestByMPEAR(sampled [][]int, sim [][]float64) int {
	s := upperTriangle(sim)
	pairs := float64(len(s))
	sumS := 0.0
	for _, v := range s {
		sumS += v
	}

	best, bestScore := 0, math.Inf(-1)
	for i, clustering := range sampled {
		ind := pairwiseIndicator(clustering)
		sumI, sumIS := 0.0, 0.0
		for k := range ind {
			sumI += ind[k]
			sumIS += ind[k] * s[k]
		}
		expected := sumI * sumS / pairs
		denom := 0.5*(sumI+sumS) - expected
		if denom == 0 {
			continue
		}
		score := (sumIS - expected) / denom
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// hClustSelect clusters genes by agglomerative linkage over the
// dissimilarity 1−S, cut to k groups. The cut policy when k is not
// configured explicitly is the median active-cluster count across the
// retained archive (the similarity matrix and linkage alone do not
// determine a cluster count).
func hClustSelect(sim [][]float64, method linkageMethod, k int) []int {
	n := len(sim)
	dissim := make([][]float64, n)
	for i := range dissim {
		dissim[i] = make([]float64, n)
		for j := range dissim[i] {
			dissim[i][j] = 1 - sim[i][j]
		}
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return relabel(cutDendrogram(dissim, method, k))
}

// medianClusterCount returns the median number of distinct clusters across
// the archived samples, or 1 for an empty archive.
func medianClusterCount(sampled [][]int) int {
	if len(sampled) == 0 {
		return 1
	}
	counts := make([]int, len(sampled))
	for i, clustering := range sampled {
		seen := make(map[int]bool)
		for _, c := range clustering {
			seen[c] = true
		}
		counts[i] = len(seen)
	}
	sort.Ints(counts)
	return counts[len(counts)/2]
}

// relabel maps arbitrary cluster ids onto dense ids in first-appearance
// order, so the selected clustering is stable regardless of which arena ids
// the chain happened to use.
func relabel(assignments []int) []int {
	next := 0
	mapping := make(map[int]int)
	out := make([]int, len(assignments))
	for i, c := range assignments {
		id, ok := mapping[c]
		if !ok {
			id = next
			mapping[c] = id
			next++
		}
		out[i] = id
	}
	return out
}

// refitClusters rebuilds and optimizes one cluster per selected label. The
// membership mapping is rebuilt from scratch rather than reusing chain
// state: the selected partition may never have occurred during sampling.
func refitClusters(design *TimeSeriesDesign, labels []int, cfg Config, birth int) map[int]*Cluster {
	byLabel := make(map[int][]int)
	order := []int{}
	for g, l := range labels {
		if _, ok := byLabel[l]; !ok {
			order = append(order, l)
		}
		byLabel[l] = append(byLabel[l], g)
	}

	p := design.Priors
	out := make(map[int]*Cluster, len(byLabel))
	clusters := make([]*Cluster, 0, len(byLabel))
	for _, l := range order {
		c := newCluster(design, byLabel[l],
			math.Exp(p.LengthScaleMu), math.Exp(p.SignalVarMu), 0, birth)
		c.NoiseVar = c.meanNoiseVar()
		out[l] = c
		clusters = append(clusters, c)
	}
	optimizeClustersParallel(clusters, cfg.MaxOptIterations, cfg.Optimizer, cfg.Workers)
	return out
}
