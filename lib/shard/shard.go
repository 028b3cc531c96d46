package shard

import (
	"time"

	"github.com/coraldb/coral/lib/core"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("shard")

// --------------------------------------------------------------------------
// Shard
// --------------------------------------------------------------------------

// task is a unit of work executed on the shard's stream.
type task func(s *Shard)

// Shard is an independently scheduled execution unit owning a disjoint
// keyspace partition. All shard-owned state (keyspace, lock table) is
// mutated exclusively by the shard's own goroutine; callers interact with a
// shard only through Submit, Await, AwaitBrief and the lock protocol.
//
// A shard never blocks on another shard: waiting is always expressed on the
// submitting side, so one stalled transaction cannot wedge the stream.
type Shard struct {
	id    core.ShardID
	queue *submitQueue[task]
	clock core.ClockSource
	locks *lockTable
	data  *Keyspace
	done  chan struct{}
}

// New creates a shard and starts its execution stream.
func New(id core.ShardID) *Shard {
	s := &Shard{
		id:    id,
		queue: newSubmitQueue[task](),
		locks: newLockTable(),
		data:  newKeyspace(),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// run is the shard's execution stream. It processes submitted tasks one at a
// time until the queue is closed and drained.
func (s *Shard) run() {
	defer close(s.done)
	for fn := range s.queue.Recv() {
		fn(s)
	}
}

// ID returns the shard's identity, its index into the engine's shard table.
func (s *Shard) ID() core.ShardID {
	return s.id
}

// Keyspace exposes the shard's partition. It must only be touched from
// closures running on the shard's stream.
func (s *Shard) Keyspace() *Keyspace {
	return s.data
}

// Clock returns the shard's current logical clock value.
func (s *Shard) Clock() core.TxClock {
	return s.clock.Now()
}

// AdvanceClock moves the shard clock forward to at least c.
func (s *Shard) AdvanceClock(c core.TxClock) {
	s.clock.Advance(c)
}

// TickClock advances the shard clock by one and returns the new value. Used
// by single-shard transactions, which bypass cross-shard arming.
func (s *Shard) TickClock() core.TxClock {
	return s.clock.Tick()
}

// Stop closes the submission queue and waits for the stream to drain.
// Further submissions fail with ErrShuttingDown.
func (s *Shard) Stop() {
	s.queue.Close()
	<-s.done
}

// --------------------------------------------------------------------------
// Submission Primitives
// --------------------------------------------------------------------------

// Submit schedules fn on the shard's stream without waiting for it. It
// returns false once the shard is stopped.
func (s *Shard) Submit(fn func(s *Shard)) bool {
	return s.queue.Push(fn)
}

// Await schedules fn on the shard's stream and blocks the calling goroutine
// until it completed. The shard's own stream is never blocked by this.
func (s *Shard) Await(fn func(s *Shard)) error {
	doneCh := make(chan struct{})
	ok := s.Submit(func(s *Shard) {
		fn(s)
		close(doneCh)
	})
	if !ok {
		return core.ErrShuttingDown
	}
	<-doneCh
	return nil
}

// AwaitBrief schedules a lightweight read-only closure and awaits it. It is
// the diagnostics path: briefs bypass the lock protocol entirely, so fn must
// not mutate the keyspace and must not suspend.
func (s *Shard) AwaitBrief(fn func(s *Shard)) error {
	return s.Await(fn)
}

// Brief runs a read-only closure on the shard's stream and returns its value.
func Brief[T any](s *Shard, fn func(s *Shard) T) (T, error) {
	var out T
	err := s.AwaitBrief(func(s *Shard) {
		out = fn(s)
	})
	return out, err
}

// --------------------------------------------------------------------------
// Lock Protocol
// --------------------------------------------------------------------------

// AcquireKey acquires the key lock for txid, waiting up to timeout behind a
// conflicting owner. On timeout the acquisition is withdrawn and
// ErrContention returned; the caller may retry after backoff. Waiting happens
// entirely on the caller's side, the shard stream is never held up.
func (s *Shard) AcquireKey(db core.DbIndex, key string, txid core.TxID, timeout time.Duration) error {
	grantCh := make(chan struct{}, 1)

	ok := s.Submit(func(s *Shard) {
		if s.locks.tryAcquire(db, key, txid) {
			grantCh <- struct{}{}
			return
		}
		s.locks.wait(db, key, txid, func() {
			grantCh <- struct{}{}
		})
	})
	if !ok {
		return core.ErrShuttingDown
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-grantCh:
		return nil
	case <-timer.C:
		// withdraw; if the grant raced the timer the lock is released again,
		// so the acquisition uniformly counts as failed
		Logger.Debugf("tx %d: withdrawing lock wait for key on shard %d after %v", txid, s.id, timeout)
		s.Submit(func(s *Shard) {
			s.locks.cancelWait(db, key, txid)
		})
		return core.ErrContention
	}
}

// ReleaseKey gives up txid's ownership of the key, granting the next waiter.
func (s *Shard) ReleaseKey(db core.DbIndex, key string, txid core.TxID) {
	s.Submit(func(s *Shard) {
		s.locks.release(db, key, txid)
	})
}

// RunKeyed runs fn on the shard's stream under the key's lock and blocks the
// caller until it completed. This is the single-key fast path: the operation
// executes immediately when the key is free and otherwise queues behind the
// current owner in transaction-id order. The lock is released before RunKeyed
// returns.
func (s *Shard) RunKeyed(db core.DbIndex, key string, txid core.TxID, fn func(s *Shard)) error {
	doneCh := make(chan struct{}, 1)

	ok := s.Submit(func(s *Shard) {
		exec := func() {
			fn(s)
			s.locks.release(db, key, txid)
			doneCh <- struct{}{}
		}
		if s.locks.tryAcquire(db, key, txid) {
			exec()
			return
		}
		s.locks.wait(db, key, txid, exec)
	})
	if !ok {
		return core.ErrShuttingDown
	}
	<-doneCh
	return nil
}

// LockedKeys reports how many keys currently have an owner, for diagnostics.
func (s *Shard) LockedKeys() (int, error) {
	return Brief(s, func(s *Shard) int {
		return len(s.locks.locks)
	})
}
