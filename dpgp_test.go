package dpgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig_RejectsBadParameters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative alpha", func(c *Config) { c.Alpha = -1 }},
		{"negative empty clusters", func(c *Config) { c.EmptyClusters = -2 }},
		{"negative thinning", func(c *Config) { c.Thinning = -1 }},
		{"negative iterations", func(c *Config) { c.MaxIterations = -5 }},
		{"negative opt iterations", func(c *Config) { c.MaxOptIterations = -1 }},
		{"unknown optimizer", func(c *Config) { c.Optimizer = "adam" }},
		{"unknown criterion", func(c *Config) { c.Criterion = "best" }},
		{"burn-in exceeds budget", func(c *Config) {
			c.MaxIterations = 40
			c.BurnInPhaseI = 10
			c.BurnInPhaseII = 50
		}},
		{"burn-in phases inverted", func(c *Config) {
			c.BurnInPhaseI = 30
			c.BurnInPhaseII = 20
		}},
		{"negative hclust clusters", func(c *Config) { c.HClustClusters = -1 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
	}

	d := testDesign(t, [][]float64{{0, 1, 2, 1, 0}, {1, 2, 3, 2, 1}})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := Run(d, cfg)
			assert.Error(t, err)
		})
	}
}

func TestDeriveSchedule_Defaults(t *testing.T) {
	cfg := DefaultConfig() // MaxIterations = 1000
	sched := deriveSchedule(&cfg)

	// floor(1000/5)*1.2 = 240, doubled for phase II.
	assert.Equal(t, 240, sched.burnInPhaseI)
	assert.Equal(t, 480, sched.burnInPhaseII)
	assert.Equal(t, 0.01, sched.sqDistEps)
	assert.Equal(t, 1e-5, sched.postEps)
}

func TestDeriveSchedule_ExplicitPhasesKept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BurnInPhaseI = 7
	cfg.BurnInPhaseII = 11
	sched := deriveSchedule(&cfg)
	assert.Equal(t, 7, sched.burnInPhaseI)
	assert.Equal(t, 11, sched.burnInPhaseII)
}

func TestRun_NilOrEmptyDesign(t *testing.T) {
	_, err := Run(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestEdgeCase_SingleGene(t *testing.T) {
	d := testDesign(t, [][]float64{{0.2, 0.5, 0.9, 0.6, 0.3}})
	cfg := DefaultConfig()
	cfg.MaxOptIterations = 50

	res, err := Run(d, cfg)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1}}, res.Similarity)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, []int{0}, res.OptimalLabels)
	require.Len(t, res.OptimalClusters, 1)
	assert.Equal(t, []int{0}, res.OptimalClusters[0].Members)
	require.Len(t, res.LogLikelihoods, 1)
}

// correlatedPairDesign is the canonical small scenario: two genes driven by
// the same smooth latent trajectory plus independent noise, one unrelated
// gene, over five equally spaced time points.
func correlatedPairDesign(t *testing.T) *TimeSeriesDesign {
	t.Helper()
	expr := [][]float64{
		{-1.00, -0.20, 0.90, 1.60, 2.00},
		{-0.95, -0.25, 0.85, 1.70, 1.95},
		{1.50, -1.40, 1.30, -1.60, 1.40},
	}
	times := []float64{0, 1, 2, 3, 4}
	sigmaN := []float64{0.05, 0.05, 0.05}
	d, err := NewTimeSeriesDesign(expr, times, sigmaN, DefaultHyperPriors(), DesignOptions{
		Names: []string{"geneA", "geneB", "geneC"},
	})
	require.NoError(t, err)
	return d
}

func TestRun_CorrelatedPairScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("full chain run")
	}
	d := correlatedPairDesign(t)

	cfg := DefaultConfig()
	cfg.Alpha = 1
	cfg.EmptyClusters = 4
	cfg.MaxIterations = 200
	cfg.MaxOptIterations = 100

	for _, criterion := range []Criterion{CriterionMAP, CriterionLeastSquares} {
		cfg.Criterion = criterion
		res, err := Run(d, cfg)
		require.NoError(t, err)

		s := res.Similarity
		assert.Greater(t, s[0][1], 0.8, "%s: correlated pair should co-cluster", criterion)
		assert.Less(t, s[0][2], 0.2, "%s: unrelated gene should stay apart", criterion)
		assert.Less(t, s[1][2], 0.2, "%s: unrelated gene should stay apart", criterion)

		labels := res.OptimalLabels
		assert.Equal(t, labels[0], labels[1], "%s: pair placed together", criterion)
		assert.NotEqual(t, labels[0], labels[2], "%s: unrelated gene separated", criterion)

		// The refit clusters carry the selected membership.
		pair := res.OptimalClusters[labels[0]]
		require.NotNil(t, pair)
		assert.ElementsMatch(t, []int{0, 1}, pair.Members)
	}
}

func TestRun_HClustCriteriaProduceValidPartition(t *testing.T) {
	if testing.Short() {
		t.Skip("full chain run")
	}
	d := correlatedPairDesign(t)

	cfg := DefaultConfig()
	cfg.MaxIterations = 120
	cfg.BurnInPhaseI = 20
	cfg.BurnInPhaseII = 40
	cfg.MaxOptIterations = 50

	for _, criterion := range []Criterion{CriterionHClustAvg, CriterionHClustComp} {
		cfg.Criterion = criterion
		res, err := Run(d, cfg)
		require.NoError(t, err)

		require.Len(t, res.OptimalLabels, d.genes())
		total := 0
		for id, c := range res.OptimalClusters {
			assert.Greater(t, c.Size(), 0, "%s: cluster %d non-empty", criterion, id)
			total += c.Size()
		}
		assert.Equal(t, d.genes(), total, "%s: clusters partition the genes", criterion)
	}
}
