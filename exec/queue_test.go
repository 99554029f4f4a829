package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueHeightNeverRegresses(t *testing.T) {
	q := NewQueue()
	q.SetHeight("roco", 50)
	q.SetHeight("roco", 40)
	assert.Equal(t, uint64(50), q.Height("roco"))

	q.SetHeight("roco", 60)
	assert.Equal(t, uint64(60), q.Height("roco"))
}

func TestQueueBucketExclusivity(t *testing.T) {
	q := NewQueue()
	id := mkHash(0xaa)

	q.AddToBidding("roco", id)
	assert.Equal(t, "isBidding", q.Contains("roco", id))

	q.MoveToExecuting("roco", id)
	assert.Equal(t, "isExecuting", q.Contains("roco", id))

	q.MoveToConfirming("roco", id, 42)
	assert.Equal(t, "isConfirming", q.Contains("roco", id))

	q.MoveToCompleted("roco", id)
	assert.Equal(t, "completed", q.Contains("roco", id))
}

func TestQueueConfirmableAtHeight(t *testing.T) {
	q := NewQueue()
	early, late := mkHash(1), mkHash(2)

	q.AddToBidding("roco", early)
	q.MoveToExecuting("roco", early)
	q.MoveToConfirming("roco", early, 10)

	q.AddToBidding("roco", late)
	q.MoveToExecuting("roco", late)
	q.MoveToConfirming("roco", late, 30)

	q.SetHeight("roco", 20)
	ids := q.ConfirmableAtHeight("roco")
	require.Len(t, ids, 1)
	assert.Equal(t, early, ids[0])

	q.SetHeight("roco", 30)
	assert.Len(t, q.ConfirmableAtHeight("roco"), 2)

	// completing drains the bucket; height alone re-derives nothing
	q.MoveToCompleted("roco", early)
	q.MoveToCompleted("roco", late)
	assert.Empty(t, q.ConfirmableAtHeight("roco"))
}

func TestQueueRevertPullsFromAnyLiveBucket(t *testing.T) {
	q := NewQueue()
	inBidding, confirming := mkHash(3), mkHash(4)

	q.AddToBidding("roco", inBidding)
	q.AddToBidding("roco", confirming)
	q.MoveToExecuting("roco", confirming)
	q.MoveToConfirming("roco", confirming, 5)

	q.MoveToReverted("roco", inBidding)
	q.MoveToReverted("roco", confirming)

	assert.Equal(t, "reverted", q.Contains("roco", inBidding))
	assert.Equal(t, "reverted", q.Contains("roco", confirming))
	assert.Empty(t, q.ConfirmableAtHeight("roco"))
}

func TestQueueDepths(t *testing.T) {
	q := NewQueue()
	a, b, c := mkHash(5), mkHash(6), mkHash(7)

	q.AddToBidding("roco", a)
	q.AddToBidding("roco", b)
	q.AddToBidding("roco", c)
	q.MoveToExecuting("roco", b)
	q.MoveToExecuting("roco", c)
	q.MoveToConfirming("roco", c, 9)

	depths := q.Depths("roco")
	assert.Equal(t, 1, depths["isBidding"])
	assert.Equal(t, 1, depths["isExecuting"])
	assert.Equal(t, 1, depths["isConfirming"])
}
