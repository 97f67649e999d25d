package jobs

import "sync"

// resultSet collects chunk partial results by index so aggregation order is
// deterministic regardless of completion order.
type resultSet struct {
	mu      sync.Mutex
	results []int64
	done    []bool
}

func newResultSet(n int) *resultSet {
	return &resultSet{
		results: make([]int64, n),
		done:    make([]bool, n),
	}
}

func (r *resultSet) set(index int, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[index] = value
	r.done[index] = true
}

// sum folds the partial results in index order. It must only be called
// after the completion barrier; complete reports whether every slot was
// filled, which guards against aggregating a partially failed run.
func (r *resultSet) sum() (total int64, complete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.results {
		if !r.done[i] {
			return 0, false
		}
		total += v
	}
	return total, true
}
