package train

import (
	"context"
	"sync"

	"micrograd-explorer/autograd"
	"micrograd-explorer/nn"
)

// shard is the work and the outcome of one replica.
type shard struct {
	idx     []int
	replica *nn.MLP
	results []sampleResult
	err     error
}

// accumulateParallel splits idx across Config.Workers replicas, each on
// its own graph, and adds their gradients to the model's parameters in
// worker order once every replica is done. If any replica fails nothing is
// added.
func (t *Trainer) accumulateParallel(ctx context.Context, idx []int) ([]sampleResult, error) {
	workers := t.Config.Workers
	if workers > len(idx) {
		workers = len(idx)
	}
	shards := make([]shard, workers)
	per, extra := len(idx)/workers, len(idx)%workers
	start := 0
	for w := range shards {
		n := per
		if w < extra {
			n++
		}
		shards[w].idx = idx[start : start+n]
		shards[w].replica = t.Model.Replicate(autograd.NewGraph())
		start += n
	}

	var wg sync.WaitGroup
	for w := range shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			for _, i := range s.idx {
				if err := ctx.Err(); err != nil {
					s.err = err
					return
				}
				r, err := t.learn(s.replica, i)
				if err != nil {
					s.err = err
					return
				}
				s.results = append(s.results, r)
			}
		}(&shards[w])
	}
	wg.Wait()

	for _, s := range shards {
		if s.err != nil {
			return nil, s.err
		}
	}

	params := t.Model.Parameters()
	results := make([]sampleResult, 0, len(idx))
	for _, s := range shards {
		for j, p := range s.replica.Parameters() {
			params[j].AccumulateGrad(p.Grad())
		}
		results = append(results, s.results...)
	}
	return results, nil
}
