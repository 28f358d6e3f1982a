package dpgp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const log2Pi = 1.8378770664093453

// Cluster is one mixture component: a Gaussian Process over the shared time
// axis fit to its member genes' expression rows. The covariance is the
// squared-exponential kernel plus independent noise,
//
//	k(t, t') = σf² · exp(−(t−t')² / 2ℓ²) + σn² · [t = t'].
//
// Membership is mutated by the sampler; hyperparameters are mutated only by
// the cluster's own optimization step. Clusters never share mutable state.
type Cluster struct {
	// Members are the gene indices currently assigned to this cluster.
	Members []int

	// LengthScale, SignalVar and NoiseVar are the current kernel
	// hyperparameters (ℓ, σf², σn²).
	LengthScale float64
	SignalVar   float64
	NoiseVar    float64

	// LogLikelihood is the cached marginal log-likelihood of the members
	// under the current hyperparameters.
	LogLikelihood float64

	// BirthIteration is the sweep at which this cluster was materialized.
	BirthIteration int

	design *TimeSeriesDesign
}

// newCluster builds a cluster over the given members with explicit
// hyperparameters. The cached likelihood starts unset; callers refresh it
// once membership is final for the sweep.
func newCluster(design *TimeSeriesDesign, members []int, lengthScale, signalVar, noiseVar float64, birth int) *Cluster {
	return &Cluster{
		Members:        append([]int(nil), members...),
		LengthScale:    lengthScale,
		SignalVar:      signalVar,
		NoiseVar:       noiseVar,
		LogLikelihood:  math.Inf(-1),
		BirthIteration: birth,
		design:         design,
	}
}

// Size returns the number of member genes.
func (c *Cluster) Size() int { return len(c.Members) }

// addMember appends gene g to the membership.
func (c *Cluster) addMember(g int) {
	c.Members = append(c.Members, g)
}

// removeMember deletes gene g from the membership, preserving order.
func (c *Cluster) removeMember(g int) {
	for i, m := range c.Members {
		if m == g {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
			return
		}
	}
}

// meanNoiseVar returns the mean of the members' per-gene noise variance
// estimates, used to initialize a materialized cluster's noise variance.
func (c *Cluster) meanNoiseVar() float64 {
	if len(c.Members) == 0 {
		return c.NoiseVar
	}
	sum := 0.0
	for _, g := range c.Members {
		sum += c.design.SigmaN[g]
	}
	v := sum / float64(len(c.Members))
	if v <= 0 {
		// Zero noise estimates would make the covariance singular; fall
		// back to the prior mean.
		p := c.design.Priors
		v = p.NoiseRate / math.Max(p.NoiseShape-1, 1e-3)
	}
	return v
}

// kernelMatrix builds the noise-free covariance σf²·exp(−d²/2ℓ²) over the
// design's time points.
func kernelMatrix(times []float64, lengthScale, signalVar float64) *mat.SymDense {
	n := len(times)
	k := mat.NewSymDense(n, nil)
	inv2l2 := 1 / (2 * lengthScale * lengthScale)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d := times[i] - times[j]
			k.SetSym(i, j, signalVar*math.Exp(-d*d*inv2l2))
		}
	}
	return k
}

// addDiagonal returns a copy of k with v added to every diagonal entry.
func addDiagonal(k *mat.SymDense, v float64) *mat.SymDense {
	n := k.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(k)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, out.At(i, i)+v)
	}
	return out
}

// factorize Cholesky-factorizes a covariance matrix, adding a growing
// diagonal jitter when the matrix is numerically non-positive-definite.
// It fails only after the jitter reaches a substantial fraction of the
// average diagonal.
func factorize(k *mat.SymDense) (*mat.Cholesky, error) {
	var ch mat.Cholesky
	if ch.Factorize(k) {
		return &ch, nil
	}
	n := k.SymmetricDim()
	avgDiag := 0.0
	for i := 0; i < n; i++ {
		avgDiag += k.At(i, i)
	}
	avgDiag = math.Max(avgDiag/float64(n), 1e-300)

	jitter := 1e-10 * avgDiag
	for attempt := 0; attempt < 8; attempt++ {
		if ch.Factorize(addDiagonal(k, jitter)) {
			return &ch, nil
		}
		jitter *= 10
	}
	return nil, fmt.Errorf("dpgp: covariance matrix is not positive definite after jitter")
}

// gaussianLogDensity evaluates log N(resid; 0, Σ) given the Cholesky
// factorization of Σ.
func gaussianLogDensity(ch *mat.Cholesky, resid *mat.VecDense) (float64, error) {
	n := resid.Len()
	var alpha mat.VecDense
	if err := ch.SolveVecTo(&alpha, resid); err != nil {
		return 0, err
	}
	quad := mat.Dot(resid, &alpha)
	return -0.5*quad - 0.5*ch.LogDet() - 0.5*float64(n)*log2Pi, nil
}

// evidence computes the marginal log-likelihood of the members' rows under
// hyperparameters (ℓ, σf², σn²): each row is an independent draw from
// N(0, K + σn²I) sharing the kernel.
func (c *Cluster) evidence(lengthScale, signalVar, noiseVar float64) (float64, error) {
	t := c.design.Times
	ky := addDiagonal(kernelMatrix(t, lengthScale, signalVar), noiseVar)
	ch, err := factorize(ky)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, g := range c.Members {
		y := mat.NewVecDense(len(t), append([]float64(nil), c.design.Expr[g]...))
		ll, err := gaussianLogDensity(ch, y)
		if err != nil {
			return 0, err
		}
		total += ll
	}
	return total, nil
}

// refreshLikelihood recomputes the cached marginal log-likelihood for the
// current membership and hyperparameters. A numerically failed refresh
// leaves the cache at -Inf so the sweep total stays finite-safe.
func (c *Cluster) refreshLikelihood() {
	ll, err := c.evidence(c.LengthScale, c.SignalVar, c.NoiseVar)
	if err != nil {
		c.LogLikelihood = math.Inf(-1)
		return
	}
	c.LogLikelihood = ll
}

// candidateLogLikelihood scores gene g's row under this cluster: the GP
// posterior predictive density given the current members' shared latent
// trajectory. With n members the member mean is an observation of the
// latent function with noise σn²/n, so
//
//	μ* = K (K + σn²/n I)⁻¹ ȳ
//	Σ* = K − K (K + σn²/n I)⁻¹ K + σn² I
//
// and the score is log N(y_g; μ*, Σ*). With no members this reduces to the
// GP prior evidence log N(y_g; 0, K + σn² I). Numerical failure yields -Inf
// so the candidate simply cannot win the draw.
func (c *Cluster) candidateLogLikelihood(g int) float64 {
	t := c.design.Times
	n := len(t)
	y := mat.NewVecDense(n, append([]float64(nil), c.design.Expr[g]...))

	k := kernelMatrix(t, c.LengthScale, c.SignalVar)

	if len(c.Members) == 0 {
		ch, err := factorize(addDiagonal(k, c.NoiseVar))
		if err != nil {
			return math.Inf(-1)
		}
		ll, err := gaussianLogDensity(ch, y)
		if err != nil {
			return math.Inf(-1)
		}
		return ll
	}

	m := float64(len(c.Members))
	mean := make([]float64, n)
	for _, mg := range c.Members {
		row := c.design.Expr[mg]
		for i := range mean {
			mean[i] += row[i]
		}
	}
	for i := range mean {
		mean[i] /= m
	}
	ybar := mat.NewVecDense(n, mean)

	a := addDiagonal(k, c.NoiseVar/m)
	chA, err := factorize(a)
	if err != nil {
		return math.Inf(-1)
	}

	// μ* = K A⁻¹ ȳ
	var w mat.VecDense
	if err := chA.SolveVecTo(&w, ybar); err != nil {
		return math.Inf(-1)
	}
	var mu mat.VecDense
	mu.MulVec(k, &w)

	// Σ* = K − K A⁻¹ K, symmetrized against round-off.
	var ainvK mat.Dense
	if err := chA.SolveTo(&ainvK, k); err != nil {
		return math.Inf(-1)
	}
	var kAinvK mat.Dense
	kAinvK.Mul(k, &ainvK)

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := k.At(i, j) - 0.5*(kAinvK.At(i, j)+kAinvK.At(j, i))
			if i == j {
				v += c.NoiseVar
			}
			cov.SetSym(i, j, v)
		}
	}

	chCov, err := factorize(cov)
	if err != nil {
		return math.Inf(-1)
	}
	var resid mat.VecDense
	resid.SubVec(y, &mu)
	ll, err := gaussianLogDensity(chCov, &resid)
	if err != nil {
		return math.Inf(-1)
	}
	return ll
}
