package updates

import (
	"fmt"
	"sync"
	"testing"

	"blockworld.ai/internal/protocol"
)

func objBatch(id string, x float64) protocol.UpdateBatch {
	return protocol.UpdateBatch{Objs: map[string]*protocol.ObjectState{id: {Type: "I", X: x}}}
}

func TestMergeLastWriteWinsAndFlushClears(t *testing.T) {
	a := NewAggregator()
	a.Merge(objBatch("1", 1))
	a.Merge(objBatch("1", 2))

	b := a.Flush()
	if len(b.Objs) != 1 || b.Objs["1"].X != 2 {
		t.Fatalf("flush: got %+v, want only obj 1 at x=2", b.Objs)
	}

	if again := a.Flush(); !again.IsEmpty() {
		t.Fatalf("second flush not empty: %+v", again)
	}
}

func TestConfigFlagORed(t *testing.T) {
	a := NewAggregator()
	a.Merge(protocol.UpdateBatch{Config: true})
	a.Merge(objBatch("1", 1))

	if b := a.Flush(); !b.Config {
		t.Fatalf("config flag lost across merges")
	}
	if b := a.Flush(); b.Config {
		t.Fatalf("config flag survived flush")
	}
}

func TestClearDropsPending(t *testing.T) {
	a := NewAggregator()
	a.Merge(objBatch("1", 1))
	a.Clear()
	if b := a.Flush(); !b.IsEmpty() {
		t.Fatalf("clear left pending updates: %+v", b)
	}
}

// Every merged key must end up in exactly one flushed batch, even when
// merges race flushes.
func TestConcurrentMergeFlushLosesNothing(t *testing.T) {
	a := NewAggregator()

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				a.Merge(objBatch(fmt.Sprintf("w%d-%d", w, i), float64(i)))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	seen := map[string]int{}
	collect := func(b protocol.UpdateBatch) {
		for id := range b.Objs {
			seen[id]++
		}
	}
	for flushing := true; flushing; {
		select {
		case <-done:
			collect(a.Flush())
			flushing = false
		default:
			collect(a.Flush())
		}
	}

	if len(seen) != writers*perWriter {
		t.Fatalf("flushed %d distinct keys, want %d", len(seen), writers*perWriter)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("key %s flushed %d times", id, n)
		}
	}
}
