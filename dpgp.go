package dpgp

import (
	"fmt"
	"math"
	"runtime"
)

// Criterion selects how a single optimal clustering is extracted from the
// posterior samples.
type Criterion string

const (
	// CriterionMAP picks the archived clustering with the maximum recorded
	// log-likelihood (earliest on ties).
	CriterionMAP Criterion = "MAP"
	// CriterionMPEAR maximizes the Fritsch-Ickstadt posterior expected
	// adjusted Rand index approximation against the similarity matrix.
	CriterionMPEAR Criterion = "MPEAR"
	// CriterionLeastSquares minimizes the squared deviation between a
	// clustering's co-membership indicator and the similarity matrix
	// (Dahl's method).
	CriterionLeastSquares Criterion = "least_squares"
	// CriterionHClustAvg cuts an average-linkage dendrogram over 1-S.
	CriterionHClustAvg Criterion = "h_clust_avg"
	// CriterionHClustComp cuts a complete-linkage dendrogram over 1-S.
	CriterionHClustComp Criterion = "h_clust_comp"
)

// Config controls a clustering run. Start with DefaultConfig and override
// the fields you need.
type Config struct {
	// Alpha is the Dirichlet process concentration parameter. Higher values
	// favor more clusters. Must be > 0. Default: 1.0.
	Alpha float64

	// EmptyClusters is the number of fresh candidate clusters (Neal's m)
	// kept available during every reassignment. Must be >= 1. Default: 4.
	EmptyClusters int

	// Thinning keeps every s-th post-burn-in sweep in the sample archive.
	// Must be >= 1. Default: 3.
	Thinning int

	// MaxIterations is the Gibbs sweep budget. Default: 1000.
	MaxIterations int

	// MaxOptIterations caps each cluster's hyperparameter optimization
	// steps per sweep. Default: 1000.
	MaxOptIterations int

	// Optimizer selects the hyperparameter optimization method.
	// Default: OptimizerLBFGSB.
	Optimizer Optimizer

	// Criterion selects the optimal-clustering extraction rule.
	// Default: CriterionMAP.
	Criterion Criterion

	// CheckConvergence enables early termination once the similarity matrix
	// and the smoothed log-likelihood both stabilize. When false the chain
	// always runs to MaxIterations.
	CheckConvergence bool

	// BurnInPhaseI ends the warm-up phase; from this sweep on clusters
	// optimize their hyperparameters. 0 derives floor(MaxIterations/5)*1.2.
	BurnInPhaseI int

	// BurnInPhaseII starts the sampling phase; from this sweep on samples
	// are retained. 0 derives 2*BurnInPhaseI.
	BurnInPhaseII int

	// SqDistEps is the convergence threshold on the squared Frobenius
	// distance between successive similarity snapshots. Default: 0.01.
	SqDistEps float64

	// PostEps is the convergence threshold on the relative change of the
	// smoothed log-likelihood. Default: 1e-5.
	PostEps float64

	// HClustClusters fixes the number of clusters cut from the dendrogram
	// for the hierarchical criteria. 0 derives the median cluster count
	// across the retained archive.
	HClustClusters int

	// Workers bounds the goroutines used for per-cluster hyperparameter
	// optimization. 0 means runtime.NumCPU().
	Workers int

	// Seed initializes the chain's random source; fixed seed and inputs
	// reproduce the chain exactly. Default: 1234.
	Seed uint64
}

// DefaultConfig returns a Config with the standard run parameters.
func DefaultConfig() Config {
	return Config{
		Alpha:            1.0,
		EmptyClusters:    4,
		Thinning:         3,
		MaxIterations:    1000,
		MaxOptIterations: 1000,
		Optimizer:        OptimizerLBFGSB,
		Criterion:        CriterionMAP,
		SqDistEps:        0.01,
		PostEps:          1e-5,
		Seed:             1234,
	}
}

// schedule holds the run-scoped derived parameters, constructed once before
// sampling starts and never recomputed.
type schedule struct {
	burnInPhaseI  int
	burnInPhaseII int
	sqDistEps     float64
	postEps       float64
}

// phase is the chain's position in the burn-in schedule.
type phase int

const (
	// warmingUp: trajectories cluster under initial hyperparameters.
	warmingUp phase = iota
	// optimizingHyperparameters: clusters fit their hyperparameters each
	// sweep, but samples are still discarded.
	optimizingHyperparameters
	// sampling: hyperparameters keep optimizing and samples are retained.
	sampling
)

// phaseAt returns the phase of the given sweep.
func (s schedule) phaseAt(iter int) phase {
	switch {
	case iter < s.burnInPhaseI:
		return warmingUp
	case iter < s.burnInPhaseII:
		return optimizingHyperparameters
	default:
		return sampling
	}
}

// applyDefaults fills zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Alpha == 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.EmptyClusters == 0 {
		cfg.EmptyClusters = def.EmptyClusters
	}
	if cfg.Thinning == 0 {
		cfg.Thinning = def.Thinning
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxOptIterations == 0 {
		cfg.MaxOptIterations = def.MaxOptIterations
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = def.Optimizer
	}
	if cfg.Criterion == "" {
		cfg.Criterion = def.Criterion
	}
	if cfg.SqDistEps == 0 {
		cfg.SqDistEps = def.SqDistEps
	}
	if cfg.PostEps == 0 {
		cfg.PostEps = def.PostEps
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
}

// deriveSchedule computes the burn-in phase boundaries. During phase I the
// trajectories cluster under their initial hyperparameters; during phase II
// clusters optimize their hyperparameters; after phase II samples are taken
// from the posterior.
func deriveSchedule(cfg *Config) schedule {
	s := schedule{
		burnInPhaseI:  cfg.BurnInPhaseI,
		burnInPhaseII: cfg.BurnInPhaseII,
		sqDistEps:     cfg.SqDistEps,
		postEps:       cfg.PostEps,
	}
	if s.burnInPhaseI == 0 {
		s.burnInPhaseI = int(math.Floor(float64(cfg.MaxIterations)/5) * 1.2)
	}
	if s.burnInPhaseII == 0 {
		s.burnInPhaseII = 2 * s.burnInPhaseI
	}
	return s
}

// validateConfig rejects invalid run parameters before any sampling starts.
func validateConfig(cfg *Config, sched schedule) error {
	if cfg.Alpha <= 0 {
		return fmt.Errorf("dpgp: Alpha must be > 0, got %f", cfg.Alpha)
	}
	if cfg.EmptyClusters < 1 {
		return fmt.Errorf("dpgp: EmptyClusters must be >= 1, got %d", cfg.EmptyClusters)
	}
	if cfg.Thinning < 1 {
		return fmt.Errorf("dpgp: Thinning must be >= 1, got %d", cfg.Thinning)
	}
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("dpgp: MaxIterations must be >= 1, got %d", cfg.MaxIterations)
	}
	if cfg.MaxOptIterations < 1 {
		return fmt.Errorf("dpgp: MaxOptIterations must be >= 1, got %d", cfg.MaxOptIterations)
	}
	if _, err := cfg.Optimizer.method(); err != nil {
		return err
	}
	switch cfg.Criterion {
	case CriterionMAP, CriterionMPEAR, CriterionLeastSquares, CriterionHClustAvg, CriterionHClustComp:
		// valid
	default:
		return fmt.Errorf("dpgp: unknown criterion %q", string(cfg.Criterion))
	}
	if sched.burnInPhaseI > sched.burnInPhaseII {
		return fmt.Errorf("dpgp: BurnInPhaseI (%d) exceeds BurnInPhaseII (%d)", sched.burnInPhaseI, sched.burnInPhaseII)
	}
	if sched.burnInPhaseII > cfg.MaxIterations {
		return fmt.Errorf("dpgp: BurnInPhaseII (%d) exceeds MaxIterations (%d)", sched.burnInPhaseII, cfg.MaxIterations)
	}
	if cfg.HClustClusters < 0 {
		return fmt.Errorf("dpgp: HClustClusters must be >= 0, got %d", cfg.HClustClusters)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("dpgp: Workers must be >= 0, got %d", cfg.Workers)
	}
	return nil
}

// Result contains the output of a clustering run.
type Result struct {
	// Similarity is the normalized posterior similarity matrix S:
	// symmetric, unit diagonal, S[i][j] is the fraction of retained sweeps
	// in which genes i and j shared a cluster.
	Similarity [][]float64

	// AllClusterings is the full per-sweep assignment history, including
	// burn-in, for diagnostic trajectories.
	AllClusterings [][]int

	// SampledClusterings is the thinned post-burn-in sample archive.
	SampledClusterings [][]int

	// LogLikelihoods holds the total log-likelihood of each archived sweep,
	// parallel to SampledClusterings.
	LogLikelihoods []float64

	// Iterations is the final sweep count reached, whether the chain ran to
	// its budget or converged early.
	Iterations int

	// OptimalLabels is the selected clustering: one dense cluster id per
	// gene, in first-appearance order.
	OptimalLabels []int

	// OptimalClusters holds the refit clusters of the selected partition,
	// keyed by the ids used in OptimalLabels.
	OptimalClusters map[int]*Cluster
}

// Run clusters the design's expression time-series with a Dirichlet process
// mixture of Gaussian Processes fit by Gibbs sampling (Neal's Algorithm 8),
// then extracts one optimal clustering under the configured criterion and
// refits the selected clusters for reporting.
func Run(design *TimeSeriesDesign, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	sched := deriveSchedule(&cfg)
	if err := validateConfig(&cfg, sched); err != nil {
		return nil, err
	}
	if design == nil || design.genes() == 0 {
		return nil, fmt.Errorf("dpgp: design has no genes")
	}

	if design.genes() == 1 {
		return singleGeneResult(design, cfg), nil
	}

	gs := newGibbsSampler(design, cfg, sched)
	gs.run()

	sim := gs.sim.normalized()
	labels, err := selectOptimal(cfg, sim, gs.sampled, gs.logLikelihoods)
	if err != nil {
		return nil, err
	}

	// Refit once more: hyperparameters are overwritten every sweep and the
	// chosen partition may never have literally occurred during sampling.
	optimal := refitClusters(design, labels, cfg, gs.iterations)

	return &Result{
		Similarity:         sim,
		AllClusterings:     gs.allClusterings,
		SampledClusterings: gs.sampled,
		LogLikelihoods:     gs.logLikelihoods,
		Iterations:         gs.iterations,
		OptimalLabels:      labels,
		OptimalClusters:    optimal,
	}, nil
}

// singleGeneResult short-circuits the trivial one-gene input: the chain has
// nothing to resample, so the run terminates immediately with one cluster.
func singleGeneResult(design *TimeSeriesDesign, cfg Config) *Result {
	labels := []int{0}
	optimal := refitClusters(design, labels, cfg, 0)
	return &Result{
		Similarity:         [][]float64{{1}},
		AllClusterings:     [][]int{{0}},
		SampledClusterings: [][]int{{0}},
		LogLikelihoods:     []float64{optimal[0].LogLikelihood},
		Iterations:         0,
		OptimalLabels:      labels,
		OptimalClusters:    optimal,
	}
}
