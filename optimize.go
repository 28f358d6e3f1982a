package dpgp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// Optimizer selects the method used to fit a cluster's hyperparameters.
type Optimizer string

const (
	// OptimizerLBFGSB is a limited-memory quasi-Newton method (default).
	OptimizerLBFGSB Optimizer = "lbfgsb"
	// OptimizerTNC is a full-memory Newton-type quasi-Newton method.
	OptimizerTNC Optimizer = "tnc"
	// OptimizerSimplex is the derivative-free Nelder-Mead simplex method.
	OptimizerSimplex Optimizer = "simplex"
	// OptimizerSCG is a nonlinear conjugate-gradient method.
	OptimizerSCG Optimizer = "scg"
)

// method maps the optimizer choice onto a gonum optimize.Method.
func (o Optimizer) method() (optimize.Method, error) {
	switch o {
	case OptimizerLBFGSB:
		return &optimize.LBFGS{}, nil
	case OptimizerTNC:
		return &optimize.BFGS{}, nil
	case OptimizerSimplex:
		return &optimize.NelderMead{}, nil
	case OptimizerSCG:
		return &optimize.CG{}, nil
	default:
		return nil, fmt.Errorf("dpgp: unknown optimizer %q", string(o))
	}
}

// logParamBound caps the optimization space: any log-hyperparameter outside
// ±logParamBound is rejected with an infinite objective, keeping the kernel
// arithmetic away from overflow.
const logParamBound = 20.0

// hyperObjective is the negative log posterior of one cluster's
// hyperparameters over x = (log ℓ, log σf², log σn²): the members' marginal
// log-likelihood plus the log-normal priors on ℓ and σf² and the
// inverse-gamma prior on σn², negated for minimization.
type hyperObjective struct {
	cluster *Cluster
	priors  HyperPriors
}

func outOfBounds(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.Abs(v) > logParamBound {
			return true
		}
	}
	return false
}

// logPriors evaluates the log prior density over the log-parameter vector.
// The log-normal priors on ℓ and σf² become normal densities over the log
// parameters; the inverse-gamma prior on σn² keeps its change-of-variables
// jacobian term.
func (o *hyperObjective) logPriors(x []float64) float64 {
	p := o.priors
	lp := distuv.Normal{Mu: p.LengthScaleMu, Sigma: p.LengthScaleSigma}.LogProb(x[0])
	lp += distuv.Normal{Mu: p.SignalVarMu, Sigma: p.SignalVarSigma}.LogProb(x[1])
	ig := distuv.InverseGamma{Alpha: p.NoiseShape, Beta: p.NoiseRate}
	lp += ig.LogProb(math.Exp(x[2])) + x[2]
	return lp
}

// value is the objective for optimize.Problem.Func.
func (o *hyperObjective) value(x []float64) float64 {
	if outOfBounds(x) {
		return math.Inf(1)
	}
	ll, err := o.cluster.evidence(math.Exp(x[0]), math.Exp(x[1]), math.Exp(x[2]))
	if err != nil {
		return math.Inf(1)
	}
	return -(ll + o.logPriors(x))
}

// gradient is the analytic gradient for optimize.Problem.Grad. For each
// log-parameter θ with kernel derivative ∂K,
//
//	∂LL/∂θ = ½ Σ_g α_gᵀ(∂K)α_g − (n/2)·tr(K⁻¹ ∂K),  α_g = K⁻¹y_g,
//
// with ∂K/∂logℓ = K∘d²/ℓ², ∂K/∂logσf² = K (noise-free part), and
// ∂K/∂logσn² = σn²I.
func (o *hyperObjective) gradient(grad, x []float64) {
	if outOfBounds(x) {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	c := o.cluster
	p := o.priors
	t := c.design.Times
	n := len(t)
	lengthScale := math.Exp(x[0])
	signalVar := math.Exp(x[1])
	noiseVar := math.Exp(x[2])

	k := kernelMatrix(t, lengthScale, signalVar)
	ch, err := factorize(addDiagonal(k, noiseVar))
	if err != nil {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	var kinv mat.SymDense
	if err := ch.InverseTo(&kinv); err != nil {
		for i := range grad {
			grad[i] = 0
		}
		return
	}

	// Kernel derivatives with respect to the log parameters.
	dkLen := mat.NewSymDense(n, nil)
	l2 := lengthScale * lengthScale
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d := t[i] - t[j]
			dkLen.SetSym(i, j, k.At(i, j)*d*d/l2)
		}
	}

	var dLen, dSig, dNoise float64
	for _, g := range c.Members {
		y := mat.NewVecDense(n, append([]float64(nil), c.design.Expr[g]...))
		var alpha mat.VecDense
		if err := ch.SolveVecTo(&alpha, y); err != nil {
			for i := range grad {
				grad[i] = 0
			}
			return
		}
		var tmp mat.VecDense
		tmp.MulVec(dkLen, &alpha)
		dLen += 0.5 * mat.Dot(&alpha, &tmp)
		tmp.MulVec(k, &alpha)
		dSig += 0.5 * mat.Dot(&alpha, &tmp)
		dNoise += 0.5 * noiseVar * mat.Dot(&alpha, &alpha)
	}

	m := float64(len(c.Members))
	trLen, trSig, trNoise := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		trNoise += kinv.At(i, i)
		for j := 0; j < n; j++ {
			trLen += kinv.At(i, j) * dkLen.At(j, i)
			trSig += kinv.At(i, j) * k.At(j, i)
		}
	}
	dLen -= 0.5 * m * trLen
	dSig -= 0.5 * m * trSig
	dNoise -= 0.5 * m * noiseVar * trNoise

	// Prior gradients over the log parameters.
	dLen += -(x[0] - p.LengthScaleMu) / (p.LengthScaleSigma * p.LengthScaleSigma)
	dSig += -(x[1] - p.SignalVarMu) / (p.SignalVarSigma * p.SignalVarSigma)
	dNoise += -p.NoiseShape + p.NoiseRate*math.Exp(-x[2])

	grad[0] = -dLen
	grad[1] = -dSig
	grad[2] = -dNoise
}

// OptimizeHyperparameters maximizes the cluster's marginal log-likelihood
// under the hyperparameter priors, capped at maxIters optimizer steps. On
// numerical failure or divergence the cluster keeps its last known-good
// hyperparameters; a single cluster's fit failure never aborts the chain.
// The cached LogLikelihood is refreshed either way.
func (c *Cluster) OptimizeHyperparameters(maxIters int, opt Optimizer) {
	defer c.refreshLikelihood()

	method, err := opt.method()
	if err != nil || len(c.Members) == 0 {
		return
	}

	obj := &hyperObjective{cluster: c, priors: c.design.Priors}
	x0 := []float64{
		math.Log(c.LengthScale),
		math.Log(c.SignalVar),
		math.Log(c.NoiseVar),
	}
	f0 := obj.value(x0)
	if math.IsInf(f0, 0) || math.IsNaN(f0) {
		return
	}

	problem := optimize.Problem{Func: obj.value, Grad: obj.gradient}
	settings := &optimize.Settings{MajorIterations: maxIters}

	result, err := optimize.Minimize(problem, x0, settings, method)
	if err != nil && result == nil {
		return
	}

	// A few iterations bring most of the improvement; the optimizer does
	// not need to formally converge. Accept the new point only when it is
	// finite and no worse than where we started.
	if outOfBounds(result.X) || math.IsNaN(result.F) || result.F > f0 {
		return
	}
	c.LengthScale = math.Exp(result.X[0])
	c.SignalVar = math.Exp(result.X[1])
	c.NoiseVar = math.Exp(result.X[2])
}
