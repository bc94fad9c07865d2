package indexsync

import (
	"sort"
	"sync"
)

// Tracker computes the committable cursor while notifications are applied out
// of order by concurrent workers. The cursor only advances over a contiguous
// run of acknowledged deliveries, so a crash replays everything after it.
type Tracker struct {
	mu        sync.Mutex
	committed int64
	// inflight holds delivered sequences in ascending order.
	inflight []int64
	acked    map[int64]struct{}
}

// NewTracker starts tracking after the committed sequence.
func NewTracker(committed int64) *Tracker {
	return &Tracker{committed: committed, acked: make(map[int64]struct{})}
}

// Deliver records that seq was handed to a worker. Sequences must be delivered
// in ascending order; anything at or below the cursor is ignored.
func (t *Tracker) Deliver(seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq <= t.committed {
		return
	}
	if n := len(t.inflight); n > 0 && seq <= t.inflight[n-1] {
		return
	}
	t.inflight = append(t.inflight, seq)
}

// Ack records that seq was applied or dead-lettered.
func (t *Tracker) Ack(seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.inflight), func(i int) bool { return t.inflight[i] >= seq })
	if i < len(t.inflight) && t.inflight[i] == seq {
		t.acked[seq] = struct{}{}
	}
}

// Advance moves the cursor over acknowledged deliveries and returns it.
func (t *Tracker) Advance() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, seq := range t.inflight {
		if _, ok := t.acked[seq]; !ok {
			break
		}
		delete(t.acked, seq)
		t.committed = seq
		n++
	}
	t.inflight = t.inflight[n:]
	return t.committed
}

// Pending returns the number of delivered but uncommitted notifications.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
