package shard

import "github.com/coraldb/coral/lib/core"

// --------------------------------------------------------------------------
// Lock Table
// --------------------------------------------------------------------------

// lockKey identifies a locked key; the same key name in different logical
// databases is a different lock.
type lockKey struct {
	db  core.DbIndex
	key string
}

// lockEntry tracks the current owner of a key and the parked acquisitions.
type lockEntry struct {
	owner   core.TxID
	waiters *waiterHeap
}

// lockTable is the per-shard key lock state. It is only ever touched from the
// owning shard's execution stream, so it needs no synchronization of its own.
type lockTable struct {
	locks map[lockKey]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[lockKey]*lockEntry)}
}

// tryAcquire grants txid ownership of the key if it is free or already owned
// by txid, and reports whether ownership is now held.
func (lt *lockTable) tryAcquire(db core.DbIndex, key string, txid core.TxID) bool {
	lk := lockKey{db, key}
	e, exists := lt.locks[lk]
	if !exists {
		lt.locks[lk] = &lockEntry{owner: txid, waiters: newWaiterHeap()}
		return true
	}
	if e.owner == txid {
		return true
	}
	return false
}

// wait parks an acquisition behind the current owner. grant runs on the
// shard's stream once ownership transfers to txid.
func (lt *lockTable) wait(db core.DbIndex, key string, txid core.TxID, grant func()) {
	lk := lockKey{db, key}
	e, exists := lt.locks[lk]
	if !exists {
		// the owner released between the failed tryAcquire and this call:
		// cannot happen on a single stream, so treat as immediate grant
		lt.locks[lk] = &lockEntry{owner: txid, waiters: newWaiterHeap()}
		grant()
		return
	}
	e.waiters.Add(txid, grant)
}

// cancelWait withdraws a parked acquisition. If the transaction was granted
// ownership in the meantime the lock is released instead, so the caller can
// always treat the acquisition as failed afterwards.
func (lt *lockTable) cancelWait(db core.DbIndex, key string, txid core.TxID) {
	lk := lockKey{db, key}
	e, exists := lt.locks[lk]
	if !exists {
		return
	}
	if e.waiters.Remove(txid) {
		return
	}
	if e.owner == txid {
		lt.releaseEntry(lk, e)
	}
}

// release gives up txid's ownership of the key and grants the next waiter,
// if any. Releasing a key txid does not own is a no-op.
func (lt *lockTable) release(db core.DbIndex, key string, txid core.TxID) {
	lk := lockKey{db, key}
	e, exists := lt.locks[lk]
	if !exists || e.owner != txid {
		return
	}
	lt.releaseEntry(lk, e)
}

// releaseEntry transfers ownership to the lowest-id waiter and runs its grant
// action, or removes the entry when nobody is waiting.
func (lt *lockTable) releaseEntry(lk lockKey, e *lockEntry) {
	w, ok := e.waiters.Next()
	if !ok {
		delete(lt.locks, lk)
		return
	}
	e.owner = w.txid
	w.grant()
}

// isLocked reports whether the key currently has an owner.
func (lt *lockTable) isLocked(db core.DbIndex, key string) bool {
	_, exists := lt.locks[lockKey{db, key}]
	return exists
}
