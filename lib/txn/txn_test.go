package txn

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coraldb/coral/lib/core"
	"github.com/coraldb/coral/lib/shard"
)

// testIDs hands out unique transaction ids within a test.
var testIDs atomic.Uint64

func nextID() core.TxID {
	return core.TxID(testIDs.Add(1))
}

// singleKeyTxn builds a one-key transaction against s.
func singleKeyTxn(s *shard.Shard, key string, opts Options) *Txn {
	parts := []Participant{{
		Sid:   s.ID(),
		Shard: s,
		Args:  core.KeyLockArgs{DbIndex: 0, Args: []string{key}, KeyStep: 1},
	}}
	return New(nextID(), 0, core.NewContext(nil), opts, parts)
}

// pairTxn builds a two-key transaction with one key per shard, declared in
// the given order.
func pairTxn(s0, s1 *shard.Shard, k0, k1 string, opts Options) *Txn {
	parts := []Participant{
		{Sid: s0.ID(), Shard: s0, Args: core.KeyLockArgs{DbIndex: 0, Args: []string{k0}, KeyStep: 1}},
		{Sid: s1.ID(), Shard: s1, Args: core.KeyLockArgs{DbIndex: 0, Args: []string{k1}, KeyStep: 1}},
	}
	return New(nextID(), 0, core.NewContext(nil), opts, parts)
}

// incrBody parses the key's value as an integer, increments it and writes it
// back, stamped with the transaction clock.
func incrBody() ShardFunc {
	return func(t *Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		key := args.Args[0]
		n := 0
		if e, ok := s.Keyspace().Get(args.DbIndex, key); ok {
			n, _ = strconv.Atoi(string(e.Value))
		}
		n++
		s.Keyspace().Set(args.DbIndex, key, []byte(strconv.Itoa(n)), t.Clock())
		return n, nil
	}
}

func readInt(t *testing.T, s *shard.Shard, key string) int {
	t.Helper()
	n, err := shard.Brief(s, func(s *shard.Shard) int {
		e, ok := s.Keyspace().Get(0, key)
		if !ok {
			return 0
		}
		n, _ := strconv.Atoi(string(e.Value))
		return n
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// TestSingleKeyFastPath verifies a one-key transaction commits without the
// multi-lock protocol and still gets a clock
func TestSingleKeyFastPath(t *testing.T) {
	s := shard.New(0)
	defer s.Stop()

	tx := singleKeyTxn(s, "counter", DefaultOptions())
	results, err := tx.Execute(incrBody())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if tx.State() != StateCommitted {
		t.Errorf("expected COMMITTED, got %v", tx.State())
	}
	if tx.Clock() == 0 {
		t.Error("committed transaction should carry a non-zero clock")
	}
	if len(results) != 1 || results[0].Value.(int) != 1 {
		t.Errorf("unexpected results %v", results)
	}
	if got := readInt(t, s, "counter"); got != 1 {
		t.Errorf("expected counter 1, got %d", got)
	}

	// the fast path must still release its lock
	if n, _ := s.LockedKeys(); n != 0 {
		t.Errorf("expected no locked keys, got %d", n)
	}
}

// TestMultiShardCommit verifies a two-shard transaction runs the body on
// both shards under one clock
func TestMultiShardCommit(t *testing.T) {
	s0, s1 := shard.New(0), shard.New(1)
	defer s0.Stop()
	defer s1.Stop()

	tx := pairTxn(s0, s1, "a", "b", DefaultOptions())
	results, err := tx.Execute(incrBody())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if tx.State() != StateCommitted {
		t.Errorf("expected COMMITTED, got %v", tx.State())
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if readInt(t, s0, "a") != 1 || readInt(t, s1, "b") != 1 {
		t.Error("body did not run on both shards")
	}

	// both entries carry the transaction's clock
	for _, pair := range []struct {
		s   *shard.Shard
		key string
	}{{s0, "a"}, {s1, "b"}} {
		e, _ := shard.Brief(pair.s, func(s *shard.Shard) shard.Entry {
			e, _ := s.Keyspace().Get(0, pair.key)
			return e
		})
		if e.Clock != tx.Clock() {
			t.Errorf("key %s stamped %d, expected %d", pair.key, e.Clock, tx.Clock())
		}
	}

	if n, _ := s0.LockedKeys(); n != 0 {
		t.Errorf("shard 0 still holds %d locks", n)
	}
	if n, _ := s1.LockedKeys(); n != 0 {
		t.Errorf("shard 1 still holds %d locks", n)
	}
}

// TestArmingUsesMaxShardClock verifies the clock is the maximum participant
// clock plus one and is republished everywhere
func TestArmingUsesMaxShardClock(t *testing.T) {
	s0, s1 := shard.New(0), shard.New(1)
	defer s0.Stop()
	defer s1.Stop()

	s0.AdvanceClock(5)
	s1.AdvanceClock(9)

	tx := pairTxn(s0, s1, "a", "b", DefaultOptions())
	if _, err := tx.Execute(incrBody()); err != nil {
		t.Fatal(err)
	}

	if tx.Clock() != 10 {
		t.Errorf("expected clock 10, got %d", tx.Clock())
	}
	if s0.Clock() < 10 || s1.Clock() < 10 {
		t.Errorf("clock not republished: %d / %d", s0.Clock(), s1.Clock())
	}
}

// TestConflictingOrdersNoLostUpdate runs many transactions that declare the
// same two cross-shard keys in opposite orders; every increment must land
func TestConflictingOrdersNoLostUpdate(t *testing.T) {
	s0, s1 := shard.New(0), shard.New(1)
	defer s0.Stop()
	defer s1.Stop()

	const n = 100
	var wg sync.WaitGroup
	var failed atomic.Int64

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var tx *Txn
			if i%2 == 0 {
				tx = pairTxn(s0, s1, "a", "b", DefaultOptions())
			} else {
				tx = pairTxn(s1, s0, "b", "a", DefaultOptions())
			}
			if _, err := tx.Execute(incrBody()); err != nil {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if failed.Load() != 0 {
		t.Fatalf("%d transactions failed under contention", failed.Load())
	}
	if got := readInt(t, s0, "a"); got != n {
		t.Errorf("lost updates on a: %d of %d", got, n)
	}
	if got := readInt(t, s1, "b"); got != n {
		t.Errorf("lost updates on b: %d of %d", got, n)
	}
}

// TestBodyErrorAborts verifies a body error on one shard latches, aborts the
// transaction and surfaces as the single outcome
func TestBodyErrorAborts(t *testing.T) {
	s0, s1 := shard.New(0), shard.New(1)
	defer s0.Stop()
	defer s1.Stop()

	boom := errors.New("disk on fire")
	body := func(tx *Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		if s.ID() == 0 {
			return nil, boom
		}
		s.Keyspace().Set(args.DbIndex, args.Args[0], []byte("x"), tx.Clock())
		return "ok", nil
	}

	tx := pairTxn(s0, s1, "a", "b", DefaultOptions())
	_, err := tx.Execute(body)
	if err == nil {
		t.Fatal("expected an error outcome")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected the body error, got %v", err)
	}
	if tx.State() != StateAborted {
		t.Errorf("expected ABORTED, got %v", tx.State())
	}
	if !tx.Context().IsCancelled() {
		t.Error("the first error should have cancelled the context")
	}

	// locks are gone; a later transaction proceeds
	tx2 := pairTxn(s0, s1, "a", "b", DefaultOptions())
	if _, err := tx2.Execute(incrBody()); err != nil {
		t.Errorf("follow-up transaction failed: %v", err)
	}
}

// TestCancelledBeforeExecute verifies cancellation is observed before any
// lock is taken
func TestCancelledBeforeExecute(t *testing.T) {
	s0, s1 := shard.New(0), shard.New(1)
	defer s0.Stop()
	defer s1.Stop()

	t.Run("multi key", func(t *testing.T) {
		tx := pairTxn(s0, s1, "a", "b", DefaultOptions())
		tx.Context().Cancel()

		_, err := tx.Execute(incrBody())
		if !core.IsCancelled(err) {
			t.Fatalf("expected cancellation, got %v", err)
		}
		if tx.State() != StateAborted {
			t.Errorf("expected ABORTED, got %v", tx.State())
		}
		if n, _ := s0.LockedKeys(); n != 0 {
			t.Errorf("cancelled transaction left %d locks", n)
		}
		if readInt(t, s0, "a") != 0 {
			t.Error("cancelled transaction must not write")
		}
	})

	t.Run("single key", func(t *testing.T) {
		tx := singleKeyTxn(s0, "solo", DefaultOptions())
		tx.Context().Cancel()

		_, err := tx.Execute(incrBody())
		if !core.IsCancelled(err) {
			t.Fatalf("expected cancellation, got %v", err)
		}
		if readInt(t, s0, "solo") != 0 {
			t.Error("cancelled transaction must not write")
		}
	})
}

// TestContentionBudgetExhausted verifies a transaction gives up with the
// retryable contention error when a key never frees up
func TestContentionBudgetExhausted(t *testing.T) {
	s0, s1 := shard.New(0), shard.New(1)
	defer s0.Stop()
	defer s1.Stop()

	// an outside owner pins key a for the whole test
	blocker := nextID()
	if err := s0.AcquireKey(0, "a", blocker, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	opts := Options{
		LockTimeout:    5 * time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
	tx := pairTxn(s0, s1, "a", "b", opts)

	start := time.Now()
	_, err := tx.Execute(incrBody())
	if !core.IsContention(err) {
		t.Fatalf("expected contention, got %v", err)
	}
	if tx.State() != StateAborted {
		t.Errorf("expected ABORTED, got %v", tx.State())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry budget took %v, should be bounded", elapsed)
	}

	// all partial acquisitions were rolled back
	if n, _ := s1.LockedKeys(); n != 0 {
		t.Errorf("shard 1 still holds %d locks", n)
	}

	// once the blocker releases, the same keys are usable again
	s0.ReleaseKey(0, "a", blocker)
	tx2 := pairTxn(s0, s1, "a", "b", DefaultOptions())
	if _, err := tx2.Execute(incrBody()); err != nil {
		t.Errorf("follow-up transaction failed: %v", err)
	}
}

// TestStateNames pins the lifecycle display names
func TestStateNames(t *testing.T) {
	want := map[State]string{
		StateCreated:      "CREATED",
		StateLockAcquired: "LOCK_ACQUIRED",
		StateArmed:        "ARMED",
		StateExecuting:    "EXECUTING",
		StateCommitted:    "COMMITTED",
		StateAborted:      "ABORTED",
		State(42):         "UNKNOWN",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d.String() = %q, expected %q", s, s.String(), name)
		}
	}
}

// TestSameKeyTwiceIsReentrant verifies a transaction listing a key twice
// does not deadlock against itself
func TestSameKeyTwiceIsReentrant(t *testing.T) {
	s0 := shard.New(0)
	defer s0.Stop()

	parts := []Participant{{
		Sid:   s0.ID(),
		Shard: s0,
		Args:  core.KeyLockArgs{DbIndex: 0, Args: []string{"a", "a"}, KeyStep: 1},
	}}
	tx := New(nextID(), 0, core.NewContext(nil), DefaultOptions(), parts)

	done := make(chan error, 1)
	go func() {
		_, err := tx.Execute(func(tx *Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
			return fmt.Sprintf("%d keys", len(args.Args)), nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("re-entrant acquisition failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transaction deadlocked on its own key")
	}
	if n, _ := s0.LockedKeys(); n != 0 {
		t.Errorf("expected no locked keys, got %d", n)
	}
}
