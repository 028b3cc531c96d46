package shard

import "github.com/coraldb/coral/lib/core"

// --------------------------------------------------------------------------
// Keyspace Partition
// --------------------------------------------------------------------------

// Entry is a stored value together with the logical clock of the transaction
// that last wrote it.
type Entry struct {
	Value []byte
	Clock core.TxClock
}

// Keyspace is the keyspace partition a shard owns, segmented by logical
// database index. It is mutated only by the shard's own execution stream;
// no other goroutine ever touches it directly.
type Keyspace struct {
	dbs map[core.DbIndex]map[string]Entry
}

func newKeyspace() *Keyspace {
	return &Keyspace{dbs: make(map[core.DbIndex]map[string]Entry)}
}

// Get returns a copy-safe view of the entry for key. The returned value must
// not be mutated by the caller; copy before leaving the shard stream.
func (ks *Keyspace) Get(db core.DbIndex, key string) (Entry, bool) {
	m, exists := ks.dbs[db]
	if !exists {
		return Entry{}, false
	}
	e, exists := m[key]
	return e, exists
}

// Set stores value under key, stamping it with the writing transaction's
// clock. The value is copied so callers cannot alias shard-owned memory.
func (ks *Keyspace) Set(db core.DbIndex, key string, value []byte, clock core.TxClock) {
	m, exists := ks.dbs[db]
	if !exists {
		m = make(map[string]Entry)
		ks.dbs[db] = m
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m[key] = Entry{Value: cp, Clock: clock}
}

// Delete removes key and reports whether it existed.
func (ks *Keyspace) Delete(db core.DbIndex, key string) bool {
	m, exists := ks.dbs[db]
	if !exists {
		return false
	}
	if _, exists = m[key]; !exists {
		return false
	}
	delete(m, key)
	return true
}

// Len returns the total number of entries across all databases.
func (ks *Keyspace) Len() int {
	n := 0
	for _, m := range ks.dbs {
		n += len(m)
	}
	return n
}

// Range calls fn for every entry until fn returns false.
func (ks *Keyspace) Range(fn func(db core.DbIndex, key string, e Entry) bool) {
	for db, m := range ks.dbs {
		for key, e := range m {
			if !fn(db, key, e) {
				return
			}
		}
	}
}
