package exec

import (
	"github.com/xexd/xexd/types"
)

// vendorQueue is the bookkeeping for one target vendor. A side effect id
// lives in exactly one bucket at a time; moves always remove before adding.
type vendorQueue struct {
	// BlockHeight is the vendor light client's last finalized height as
	// tracked on the coordinator.
	BlockHeight uint64

	IsBidding   []types.Hash
	IsExecuting []types.Hash
	Completed   []types.Hash
	Dropped     []types.Hash
	Reverted    []types.Hash

	// IsConfirming buckets executed side effects by the target block their
	// execution was included at, awaiting a confirmation batch.
	IsConfirming map[uint64][]types.Hash
}

// Queue tracks side effect ids per target vendor. It is exclusively mutated
// by the manager's event loop and never handed out for external mutation.
type Queue struct {
	vendors map[string]*vendorQueue
}

func NewQueue() *Queue {
	return &Queue{vendors: make(map[string]*vendorQueue)}
}

// AddVendor registers a vendor bucket set if not already present.
func (q *Queue) AddVendor(vendor string) {
	if _, ok := q.vendors[vendor]; !ok {
		q.vendors[vendor] = &vendorQueue{IsConfirming: make(map[uint64][]types.Hash)}
	}
}

func (q *Queue) vendor(vendor string) *vendorQueue {
	q.AddVendor(vendor)
	return q.vendors[vendor]
}

// SetHeight records a light-client height; heights never move backwards.
func (q *Queue) SetHeight(vendor string, height uint64) {
	v := q.vendor(vendor)
	if height > v.BlockHeight {
		v.BlockHeight = height
	}
}

func (q *Queue) Height(vendor string) uint64 {
	return q.vendor(vendor).BlockHeight
}

// AddToBidding enters a newly admitted side effect.
func (q *Queue) AddToBidding(vendor string, id types.Hash) {
	v := q.vendor(vendor)
	v.IsBidding = append(v.IsBidding, id)
}

// MoveToExecuting transfers a side effect from bidding to executing.
func (q *Queue) MoveToExecuting(vendor string, id types.Hash) {
	v := q.vendor(vendor)
	v.IsBidding = removeID(v.IsBidding, id)
	v.IsExecuting = removeID(v.IsExecuting, id)
	v.IsExecuting = append(v.IsExecuting, id)
}

// MoveToConfirming transfers an executed side effect into the confirmation
// bucket of its inclusion height.
func (q *Queue) MoveToConfirming(vendor string, id types.Hash, blockNumber uint64) {
	v := q.vendor(vendor)
	v.IsExecuting = removeID(v.IsExecuting, id)
	v.IsConfirming[blockNumber] = append(removeID(v.IsConfirming[blockNumber], id), id)
}

// MoveToDropped transfers a side effect that found no execution to dropped.
func (q *Queue) MoveToDropped(vendor string, id types.Hash) {
	v := q.vendor(vendor)
	v.IsBidding = removeID(v.IsBidding, id)
	v.Dropped = append(v.Dropped, id)
}

// MoveToReverted pulls a side effect out of whichever live bucket holds it
// and records the revert.
func (q *Queue) MoveToReverted(vendor string, id types.Hash) {
	v := q.vendor(vendor)
	v.IsBidding = removeID(v.IsBidding, id)
	v.IsExecuting = removeID(v.IsExecuting, id)
	for height, ids := range v.IsConfirming {
		trimmed := removeID(ids, id)
		if len(trimmed) == 0 {
			delete(v.IsConfirming, height)
		} else {
			v.IsConfirming[height] = trimmed
		}
	}
	v.Reverted = append(v.Reverted, id)
}

// MoveToCompleted pulls a side effect out of whichever live bucket holds it
// and records the completion. Confirmation buckets are removed once empty.
// Lost-at-bidding side effects complete straight out of isBidding when the
// coordinator closes their transaction.
func (q *Queue) MoveToCompleted(vendor string, id types.Hash) {
	v := q.vendor(vendor)
	v.IsBidding = removeID(v.IsBidding, id)
	v.IsExecuting = removeID(v.IsExecuting, id)
	for height, ids := range v.IsConfirming {
		trimmed := removeID(ids, id)
		if len(trimmed) == 0 {
			delete(v.IsConfirming, height)
		} else {
			v.IsConfirming[height] = trimmed
		}
	}
	v.Completed = append(v.Completed, id)
}

// ConfirmableAtHeight returns the ids of every confirmation bucket whose
// inclusion height the vendor's light client has reached.
func (q *Queue) ConfirmableAtHeight(vendor string) []types.Hash {
	v := q.vendor(vendor)
	var ids []types.Hash
	for height, bucket := range v.IsConfirming {
		if height <= v.BlockHeight {
			ids = append(ids, bucket...)
		}
	}
	return ids
}

// Contains reports which bucket holds the id, for logs and tests.
func (q *Queue) Contains(vendor string, id types.Hash) string {
	v := q.vendor(vendor)
	switch {
	case containsID(v.IsBidding, id):
		return "isBidding"
	case containsID(v.IsExecuting, id):
		return "isExecuting"
	case containsID(v.Completed, id):
		return "completed"
	case containsID(v.Dropped, id):
		return "dropped"
	case containsID(v.Reverted, id):
		return "reverted"
	}
	for _, bucket := range v.IsConfirming {
		if containsID(bucket, id) {
			return "isConfirming"
		}
	}
	return ""
}

// Depths reports the number of ids in each live bucket, for the status
// endpoint.
func (q *Queue) Depths(vendor string) map[string]int {
	v := q.vendor(vendor)
	confirming := 0
	for _, bucket := range v.IsConfirming {
		confirming += len(bucket)
	}
	return map[string]int{
		"isBidding":    len(v.IsBidding),
		"isExecuting":  len(v.IsExecuting),
		"isConfirming": confirming,
	}
}

func removeID(ids []types.Hash, id types.Hash) []types.Hash {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func containsID(ids []types.Hash, id types.Hash) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
