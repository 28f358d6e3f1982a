package dpgp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// HyperPriors holds the prior distributions over the GP hyperparameters.
// Length-scale and signal variance carry log-normal priors (parameterized
// by the mean and standard deviation of the log, Bishop 2006 convention);
// the cluster noise variance carries an inverse-gamma prior, either supplied
// directly or estimated from replicates with EstimateNoisePriors.
type HyperPriors struct {
	// LengthScaleMu and LengthScaleSigma parameterize the log-normal prior
	// on the kernel length-scale.
	LengthScaleMu    float64
	LengthScaleSigma float64

	// SignalVarMu and SignalVarSigma parameterize the log-normal prior on
	// the kernel signal variance.
	SignalVarMu    float64
	SignalVarSigma float64

	// NoiseShape and NoiseRate parameterize the inverse-gamma prior on the
	// cluster noise variance.
	NoiseShape float64
	NoiseRate  float64
}

// DefaultHyperPriors returns the standard weakly-informative priors:
// LogNormal(0, 1) for length-scale and signal variance, InverseGamma(12, 2)
// for noise variance. They are sensible once the time axis is scaled so the
// mean sampling interval is one unit (see NewTimeSeriesDesign).
func DefaultHyperPriors() HyperPriors {
	return HyperPriors{
		LengthScaleSigma: 1,
		SignalVarSigma:   1,
		NoiseShape:       12,
		NoiseRate:        2,
	}
}

// TimeSeriesDesign is the immutable input to a clustering run: the shared
// time axis, the expression matrix, per-gene noise variance estimates, and
// the hyperparameter priors. Build it once with NewTimeSeriesDesign and pass
// it to Run; it is never mutated by the sampler.
type TimeSeriesDesign struct {
	// Times is the time vector, scaled so the mean interval between
	// consecutive points is one unit.
	Times []float64

	// Expr is the expression matrix, one row per gene, one column per time
	// point. Rows are mean-centered unless DesignOptions.NoMeanCenter.
	Expr [][]float64

	// SigmaN is the per-gene noise variance estimate, used to initialize
	// each cluster's noise variance.
	SigmaN []float64

	// Names are optional gene names, parallel to Expr rows. May be nil.
	Names []string

	// Priors are the hyperparameter priors shared by all clusters.
	Priors HyperPriors
}

// DesignOptions adjusts how NewTimeSeriesDesign transforms its inputs.
type DesignOptions struct {
	// NoMeanCenter leaves the expression rows untransformed instead of
	// subtracting each gene's mean.
	NoMeanCenter bool

	// Names attaches gene names to the design. If non-nil, must have one
	// entry per expression row.
	Names []string
}

// NewTimeSeriesDesign validates and normalizes the run inputs. The time
// vector must be strictly increasing with at least two points; it is
// rescaled so the mean interval is one unit (keeping relative spacing, so
// true irregular sampling times are respected). Expression rows are
// mean-centered unless opted out. sigmaN may be nil, in which case each
// gene's noise variance is initialized from the prior mean.
func NewTimeSeriesDesign(expr [][]float64, times []float64, sigmaN []float64, priors HyperPriors, opts DesignOptions) (*TimeSeriesDesign, error) {
	if len(expr) == 0 {
		return nil, fmt.Errorf("dpgp: expression matrix has no rows")
	}
	if len(times) < 2 {
		return nil, fmt.Errorf("dpgp: need at least 2 time points, got %d", len(times))
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return nil, fmt.Errorf("dpgp: time vector must be strictly increasing, violated at index %d", i)
		}
	}
	for g, row := range expr {
		if len(row) != len(times) {
			return nil, fmt.Errorf("dpgp: gene %d has %d observations, want %d", g, len(row), len(times))
		}
	}
	if sigmaN != nil && len(sigmaN) != len(expr) {
		return nil, fmt.Errorf("dpgp: sigmaN length %d does not match %d genes", len(sigmaN), len(expr))
	}
	if opts.Names != nil && len(opts.Names) != len(expr) {
		return nil, fmt.Errorf("dpgp: names length %d does not match %d genes", len(opts.Names), len(expr))
	}
	if priors.LengthScaleSigma <= 0 || priors.SignalVarSigma <= 0 {
		return nil, fmt.Errorf("dpgp: log-normal prior sigmas must be > 0")
	}
	if priors.NoiseShape <= 0 || priors.NoiseRate <= 0 {
		return nil, fmt.Errorf("dpgp: inverse-gamma noise prior shape and rate must be > 0")
	}

	// Scale time so the mean interval is one unit. Initial length-scale and
	// signal-variance priors assume this scale.
	meanStep := (times[len(times)-1] - times[0]) / float64(len(times)-1)
	t := make([]float64, len(times))
	for i, v := range times {
		t[i] = v / meanStep
	}

	rows := make([][]float64, len(expr))
	for g, row := range expr {
		r := make([]float64, len(row))
		copy(r, row)
		if !opts.NoMeanCenter {
			m := stat.Mean(r, nil)
			for i := range r {
				r[i] -= m
			}
		}
		rows[g] = r
	}

	sn := make([]float64, len(expr))
	if sigmaN != nil {
		copy(sn, sigmaN)
	} else {
		// Prior mean of InverseGamma(shape, rate) for shape > 1.
		v := priors.NoiseRate / math.Max(priors.NoiseShape-1, 1e-3)
		for i := range sn {
			sn[i] = v
		}
	}

	var names []string
	if opts.Names != nil {
		names = append([]string(nil), opts.Names...)
	}

	return &TimeSeriesDesign{
		Times:  t,
		Expr:   rows,
		SigmaN: sn,
		Names:  names,
		Priors: priors,
	}, nil
}

// genes returns the number of genes in the design.
func (d *TimeSeriesDesign) genes() int { return len(d.Expr) }

// NoisePriorEstimator derives an inverse-gamma prior (shape, rate) on the
// cluster noise variance, plus per-gene noise variance estimates, from
// replicate expression matrices. Replicates are aligned gene-by-gene and
// column-by-column.
type NoisePriorEstimator func(replicates [][][]float64) (shape, rate float64, sigmaN []float64, err error)

// EstimateNoisePriors is the default NoisePriorEstimator. Each gene's noise
// variance is the mean, over time points, of the sample variance across
// replicates. The inverse-gamma prior is moment-matched to the spread of
// those per-gene variances: with mean m and variance v of the estimates,
// shape = m²/v + 2 and rate = m·(shape − 1), so the prior mean equals m.
func EstimateNoisePriors(replicates [][][]float64) (float64, float64, []float64, error) {
	if len(replicates) < 2 {
		return 0, 0, nil, fmt.Errorf("dpgp: need at least 2 replicates to estimate noise priors, got %d", len(replicates))
	}
	nGenes := len(replicates[0])
	for r, m := range replicates {
		if len(m) != nGenes {
			return 0, 0, nil, fmt.Errorf("dpgp: replicate %d has %d genes, want %d", r, len(m), nGenes)
		}
	}
	if nGenes == 0 {
		return 0, 0, nil, fmt.Errorf("dpgp: replicates have no genes")
	}
	nTimes := len(replicates[0][0])

	sigmaN := make([]float64, nGenes)
	sample := make([]float64, len(replicates))
	for g := 0; g < nGenes; g++ {
		total := 0.0
		for j := 0; j < nTimes; j++ {
			for r := range replicates {
				if len(replicates[r][g]) != nTimes {
					return 0, 0, nil, fmt.Errorf("dpgp: replicate %d gene %d has %d observations, want %d", r, g, len(replicates[r][g]), nTimes)
				}
				sample[r] = replicates[r][g][j]
			}
			total += stat.Variance(sample, nil)
		}
		sigmaN[g] = total / float64(nTimes)
	}

	m := stat.Mean(sigmaN, nil)
	v := stat.Variance(sigmaN, nil)
	if m <= 0 || v <= 0 {
		// Degenerate replicates (e.g. identical copies): fall back to the
		// standard weakly-informative prior around the observed mean.
		def := DefaultHyperPriors()
		if m > 0 {
			return def.NoiseShape, m * (def.NoiseShape - 1), sigmaN, nil
		}
		return def.NoiseShape, def.NoiseRate, sigmaN, nil
	}
	shape := m*m/v + 2
	rate := m * (shape - 1)
	return shape, rate, sigmaN, nil
}
