package indexsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_AdvancesOverContiguousAcks(t *testing.T) {
	tr := NewTracker(10)
	for _, seq := range []int64{11, 12, 15, 16} {
		tr.Deliver(seq)
	}

	tr.Ack(12)
	assert.Equal(t, int64(10), tr.Advance(), "gap at 11 holds the cursor")

	tr.Ack(11)
	assert.Equal(t, int64(12), tr.Advance())

	tr.Ack(16)
	assert.Equal(t, int64(12), tr.Advance())
	tr.Ack(15)
	assert.Equal(t, int64(16), tr.Advance())
	assert.Equal(t, 0, tr.Pending())
}

func TestTracker_IgnoresStaleAndUnknownSequences(t *testing.T) {
	tr := NewTracker(5)
	tr.Deliver(3)
	tr.Deliver(7)
	tr.Deliver(6)
	assert.Equal(t, 1, tr.Pending())

	tr.Ack(99)
	assert.Equal(t, int64(5), tr.Advance())
	tr.Ack(7)
	assert.Equal(t, int64(7), tr.Advance())
}
