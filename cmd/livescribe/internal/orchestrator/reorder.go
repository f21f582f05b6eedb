package orchestrator

import (
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
)

// reorderBuffer releases recognition results in chunk order. It is an
// index-addressed slot array: at most len(slots) chunks are outstanding at
// once, and chunk IDs are dispatched consecutively, so chunk id always maps
// to slot id%len(slots) without collision.
type reorderBuffer struct {
	slots []*recognizer.Result
	next  uint64
}

func newReorderBuffer(window int) *reorderBuffer {
	return &reorderBuffer{slots: make([]*recognizer.Result, window)}
}

// put stores res. Results for chunks already released, outside the window,
// or already stored are rejected.
func (b *reorderBuffer) put(res recognizer.Result) bool {
	if res.ChunkID < b.next || res.ChunkID >= b.next+uint64(len(b.slots)) {
		return false
	}
	i := res.ChunkID % uint64(len(b.slots))
	if b.slots[i] != nil {
		return false
	}
	r := res
	b.slots[i] = &r
	return true
}

// pop returns the next result in order if it has arrived.
func (b *reorderBuffer) pop() (recognizer.Result, bool) {
	i := b.next % uint64(len(b.slots))
	r := b.slots[i]
	if r == nil {
		return recognizer.Result{}, false
	}
	b.slots[i] = nil
	b.next++
	return *r, true
}

// pending returns how many results are held waiting for an earlier one.
func (b *reorderBuffer) pending() int {
	n := 0
	for _, r := range b.slots {
		if r != nil {
			n++
		}
	}
	return n
}
