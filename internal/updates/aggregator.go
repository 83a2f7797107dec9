// Package updates holds the shared accumulator for outbound state-change
// batches. The world merges diffs into it as commands take effect; the
// broadcaster and the view API drain it with read-and-clear flushes.
package updates

import (
	"sync"

	"blockworld.ai/internal/protocol"
)

// Aggregator merges partial update batches into one outstanding batch.
// Merge and Flush are safe to call concurrently; a merge racing a flush
// lands in exactly one of the two batches.
type Aggregator struct {
	mu    sync.Mutex
	batch protocol.UpdateBatch
}

func NewAggregator() *Aggregator {
	return &Aggregator{batch: protocol.NewBatch()}
}

// Merge folds a partial batch in: per-key overwrite, Config ORed.
func (a *Aggregator) Merge(p protocol.UpdateBatch) {
	a.mu.Lock()
	a.batch.Merge(p)
	a.mu.Unlock()
}

// Flush returns the accumulated batch and resets the aggregator.
func (a *Aggregator) Flush() protocol.UpdateBatch {
	a.mu.Lock()
	out := a.batch
	a.batch = protocol.NewBatch()
	a.mu.Unlock()
	return out
}

// Clear drops any accumulated batch.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.batch = protocol.NewBatch()
	a.mu.Unlock()
}
