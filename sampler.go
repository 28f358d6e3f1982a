package dpgp

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// poolSlot is one fresh candidate cluster in the empty-cluster arena. Slot
// ids are recycled when active clusters deactivate.
type poolSlot struct {
	id      int
	cluster *Cluster
}

// gibbsSampler owns the chain state: the assignment vector, the active
// clusters, the empty-cluster arena, the similarity accumulator and the
// sample archive. It is the only owner of this mutable state; the similarity
// accumulator is updated strictly after a sweep's reassignment phase.
type gibbsSampler struct {
	design *TimeSeriesDesign
	cfg    Config
	sched  schedule

	rng      *rand.Rand
	lnLength distuv.LogNormal
	lnSignal distuv.LogNormal
	igNoise  distuv.InverseGamma

	assignments []int
	clusters    map[int]*Cluster
	pool        []poolSlot
	nextID      int
	freeIDs     []int

	sim            *similarityAccumulator
	allClusterings [][]int
	sampled        [][]int
	logLikelihoods []float64
	iterations     int

	prevSnapshot [][]float64
	prevSmoothLL float64
	haveSmoothLL bool
}

// newGibbsSampler initializes the chain: all genes in one cluster with
// hyperparameters at the prior medians.
func newGibbsSampler(design *TimeSeriesDesign, cfg Config, sched schedule) *gibbsSampler {
	src := rand.NewPCG(cfg.Seed, cfg.Seed)
	rng := rand.New(src)
	p := design.Priors

	gs := &gibbsSampler{
		design:      design,
		cfg:         cfg,
		sched:       sched,
		rng:         rng,
		lnLength:    distuv.LogNormal{Mu: p.LengthScaleMu, Sigma: p.LengthScaleSigma, Src: src},
		lnSignal:    distuv.LogNormal{Mu: p.SignalVarMu, Sigma: p.SignalVarSigma, Src: src},
		igNoise:     distuv.InverseGamma{Alpha: p.NoiseShape, Beta: p.NoiseRate, Src: src},
		assignments: make([]int, design.genes()),
		clusters:    make(map[int]*Cluster),
		sim:         newSimilarityAccumulator(design.genes()),
	}

	members := make([]int, design.genes())
	for g := range members {
		members[g] = g
	}
	first := newCluster(design, members,
		math.Exp(p.LengthScaleMu), math.Exp(p.SignalVarMu), 0, 0)
	first.NoiseVar = first.meanNoiseVar()
	first.refreshLikelihood()
	gs.clusters[gs.allocID()] = first

	gs.topUpPool()
	return gs
}

// allocID hands out a cluster id, recycling ids of deactivated clusters.
func (gs *gibbsSampler) allocID() int {
	if n := len(gs.freeIDs); n > 0 {
		id := gs.freeIDs[n-1]
		gs.freeIDs = gs.freeIDs[:n-1]
		return id
	}
	id := gs.nextID
	gs.nextID++
	return id
}

// topUpPool keeps exactly m fresh candidate clusters available, each with
// hyperparameters drawn from the priors.
func (gs *gibbsSampler) topUpPool() {
	for len(gs.pool) < gs.cfg.EmptyClusters {
		c := newCluster(gs.design, nil,
			gs.lnLength.Rand(), gs.lnSignal.Rand(), gs.igNoise.Rand(), 0)
		gs.pool = append(gs.pool, poolSlot{id: gs.allocID(), cluster: c})
	}
}

// activeIDs returns the active cluster ids in ascending order. Candidate
// enumeration must not depend on map iteration order or the chain loses
// seed-reproducibility.
func (gs *gibbsSampler) activeIDs() []int {
	ids := make([]int, 0, len(gs.clusters))
	for id := range gs.clusters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// reassign draws a new cluster for gene g from the categorical distribution
// over active clusters (weight n_c·L(g|c)) and the m empty slots (weight
// (α/m)·L(g|prior)), per Neal's Algorithm 8. Weights are handled in log
// space to keep long time-series from underflowing.
func (gs *gibbsSampler) reassign(g, iter int) {
	cur := gs.clusters[gs.assignments[g]]
	cur.removeMember(g)
	if cur.Size() == 0 {
		delete(gs.clusters, gs.assignments[g])
		gs.freeIDs = append(gs.freeIDs, gs.assignments[g])
	}
	gs.topUpPool()

	ids := gs.activeIDs()
	nCand := len(ids) + len(gs.pool)
	logW := make([]float64, 0, nCand)
	for _, id := range ids {
		c := gs.clusters[id]
		logW = append(logW, math.Log(float64(c.Size()))+c.candidateLogLikelihood(g))
	}
	logNewMass := math.Log(gs.cfg.Alpha / float64(gs.cfg.EmptyClusters))
	for _, slot := range gs.pool {
		logW = append(logW, logNewMass+slot.cluster.candidateLogLikelihood(g))
	}

	norm := floats.LogSumExp(logW)
	u := gs.rng.Float64()
	choice := nCand - 1
	cum := 0.0
	for i, lw := range logW {
		cum += math.Exp(lw - norm)
		if cum > u {
			choice = i
			break
		}
	}

	if choice < len(ids) {
		id := ids[choice]
		gs.clusters[id].addMember(g)
		gs.assignments[g] = id
		return
	}

	// Materialize the chosen empty slot into an active cluster and
	// immediately replenish the pool.
	slotIdx := choice - len(ids)
	slot := gs.pool[slotIdx]
	gs.pool = append(gs.pool[:slotIdx], gs.pool[slotIdx+1:]...)
	slot.cluster.addMember(g)
	slot.cluster.BirthIteration = iter
	gs.clusters[slot.id] = slot.cluster
	gs.assignments[g] = slot.id
	gs.topUpPool()
}

// sweep runs one full Gibbs sweep: serial gene-by-gene reassignment (the
// weights seen by each gene depend on the previous gene's move), then the
// per-cluster hyperparameter step, then bookkeeping behind the barrier.
func (gs *gibbsSampler) sweep(iter int) {
	for g := 0; g < gs.design.genes(); g++ {
		gs.reassign(g, iter)
	}

	active := make([]*Cluster, 0, len(gs.clusters))
	for _, id := range gs.activeIDs() {
		active = append(active, gs.clusters[id])
	}
	if gs.sched.phaseAt(iter) == warmingUp {
		for _, c := range active {
			c.refreshLikelihood()
		}
	} else {
		optimizeClustersParallel(active, gs.cfg.MaxOptIterations, gs.cfg.Optimizer, gs.cfg.Workers)
	}

	gs.allClusterings = append(gs.allClusterings, slices.Clone(gs.assignments))

	if gs.sched.phaseAt(iter) == sampling && iter%gs.cfg.Thinning == 0 {
		total := 0.0
		for _, c := range active {
			total += c.LogLikelihood
		}
		gs.sampled = append(gs.sampled, slices.Clone(gs.assignments))
		gs.logLikelihoods = append(gs.logLikelihoods, total)
		gs.sim.add(gs.assignments)
	}
}

// converged evaluates the early-termination criteria on the retained state:
// the squared Frobenius distance between successive normalized similarity
// snapshots and the relative drift of the smoothed log-likelihood must both
// fall under their thresholds.
func (gs *gibbsSampler) converged() bool {
	if len(gs.sampled) < 2 {
		return false
	}
	snapshot := gs.sim.normalized()
	defer func() { gs.prevSnapshot = snapshot }()

	window := min(10, len(gs.logLikelihoods))
	smooth := stat.Mean(gs.logLikelihoods[len(gs.logLikelihoods)-window:], nil)
	prevSmooth, havePrev := gs.prevSmoothLL, gs.haveSmoothLL
	gs.prevSmoothLL, gs.haveSmoothLL = smooth, true

	if gs.prevSnapshot == nil || !havePrev {
		return false
	}
	if squaredDistance(snapshot, gs.prevSnapshot) >= gs.sched.sqDistEps {
		return false
	}
	denom := math.Max(math.Abs(prevSmooth), 1e-12)
	return math.Abs(smooth-prevSmooth)/denom < gs.sched.postEps
}

// run drives the chain to its iteration budget, or stops early once the
// convergence criteria hold (only checked when enabled). Both terminations
// are normal; the outward contract is identical.
func (gs *gibbsSampler) run() {
	for iter := 1; iter <= gs.cfg.MaxIterations; iter++ {
		gs.sweep(iter)
		gs.iterations = iter
		if gs.cfg.CheckConvergence &&
			gs.sched.phaseAt(iter) == sampling && iter%gs.cfg.Thinning == 0 &&
			gs.converged() {
			return
		}
	}
}
