package shard

import (
	"container/heap"

	"github.com/coraldb/coral/lib/core"
)

// --------------------------------------------------------------------------
// Waiter Heap
// --------------------------------------------------------------------------

// waiter is a parked lock acquisition. grant runs on the shard's stream once
// ownership of the key is transferred to the waiter's transaction.
type waiter struct {
	txid  core.TxID
	grant func()
	index int // position in the heap, maintained by the heap package
}

// waiterHeap orders parked acquisitions by transaction id, combining a binary
// min-heap with a map for O(1) lookup and O(log n) removal by id. Granting in
// ascending id order is the tie-break that guarantees forward progress under
// contention: the oldest admitted transaction always wins the key next.
//
// Not thread-safe; it is only touched from the owning shard's stream.
type waiterHeap struct {
	items []*waiter
	byTx  map[core.TxID]*waiter
}

func newWaiterHeap() *waiterHeap {
	return &waiterHeap{byTx: make(map[core.TxID]*waiter)}
}

func (wh *waiterHeap) Len() int { return len(wh.items) }

func (wh *waiterHeap) Less(i, j int) bool {
	return wh.items[i].txid < wh.items[j].txid
}

func (wh *waiterHeap) Swap(i, j int) {
	wh.items[i], wh.items[j] = wh.items[j], wh.items[i]
	wh.items[i].index = i
	wh.items[j].index = j
}

func (wh *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(wh.items)
	wh.items = append(wh.items, w)
	wh.byTx[w.txid] = w
}

func (wh *waiterHeap) Pop() interface{} {
	old := wh.items
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	wh.items = old[:n-1]
	delete(wh.byTx, w.txid)
	return w
}

// Add parks a waiter. One transaction never waits twice on the same key, so
// duplicate ids are a programming error and simply replace the grant.
func (wh *waiterHeap) Add(txid core.TxID, grant func()) {
	if w, exists := wh.byTx[txid]; exists {
		w.grant = grant
		return
	}
	heap.Push(wh, &waiter{txid: txid, grant: grant})
}

// Next removes and returns the waiter with the lowest transaction id.
func (wh *waiterHeap) Next() (*waiter, bool) {
	if len(wh.items) == 0 {
		return nil, false
	}
	return heap.Pop(wh).(*waiter), true
}

// Remove drops the waiter of the given transaction, if parked.
func (wh *waiterHeap) Remove(txid core.TxID) bool {
	w, exists := wh.byTx[txid]
	if !exists {
		return false
	}
	heap.Remove(wh, w.index)
	return true
}
