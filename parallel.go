package dpgp

import "sync"

// optimizeClustersParallel runs the hyperparameter step for every active
// cluster using multiple goroutines. Each cluster reads and writes only its
// own members and hyperparameters, so the step is embarrassingly parallel;
// the WaitGroup is the barrier before the next sweep begins. Falls back to
// a sequential loop if numWorkers <= 1.
//
// The result is identical to the sequential loop: optimization draws no
// randomness, so scheduling order cannot change the chain.
func optimizeClustersParallel(clusters []*Cluster, maxIters int, opt Optimizer, numWorkers int) {
	if numWorkers <= 1 || len(clusters) <= 1 {
		for _, c := range clusters {
			c.OptimizeHyperparameters(maxIters, opt)
		}
		return
	}

	if numWorkers > len(clusters) {
		numWorkers = len(clusters)
	}

	work := make(chan *Cluster)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				c.OptimizeHyperparameters(maxIters, opt)
			}
		}()
	}
	for _, c := range clusters {
		work <- c
	}
	close(work)
	wg.Wait()
}
