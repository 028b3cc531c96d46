package engine

import (
	"bytes"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coraldb/coral/lib/core"
	"github.com/coraldb/coral/lib/shard"
	"github.com/coraldb/coral/lib/txn"
)

func testEngine(t *testing.T, shards int) *Engine {
	t.Helper()
	e := New(&Options{
		NumShards:     shards,
		Txn:           txn.DefaultOptions(),
		ShutdownGrace: time.Second,
	})
	e.Activate()
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func setBody(value string) txn.ShardFunc {
	return func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		for _, key := range args.Args {
			s.Keyspace().Set(args.DbIndex, key, []byte(value), t.Clock())
		}
		return nil, nil
	}
}

func getBody() txn.ShardFunc {
	return func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		e, ok := s.Keyspace().Get(args.DbIndex, args.Args[0])
		if !ok {
			return nil, nil
		}
		return string(e.Value), nil
	}
}

// TestEngineRunSingleKey verifies the one-call path for a single-key command
func TestEngineRunSingleKey(t *testing.T) {
	e := testEngine(t, 4)

	if _, err := e.Run(0, core.SingleKey(0), []string{"greeting"}, setBody("hello")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	results, err := e.Run(0, core.SingleKey(0), []string{"greeting"}, getBody())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(results) != 1 || results[0].Value.(string) != "hello" {
		t.Errorf("unexpected results %v", results)
	}
}

// TestEngineSingleKeyTouchesOneShard verifies a single-key command dispatches
// to exactly the owning shard
func TestEngineSingleKeyTouchesOneShard(t *testing.T) {
	e := testEngine(t, 8)

	key := "routed"
	owner := e.ShardForKey(0, key)
	if _, err := e.Run(0, core.SingleKey(0), []string{key}, setBody("x")); err != nil {
		t.Fatal(err)
	}

	for sid := 0; sid < e.NumShards(); sid++ {
		n, err := shard.Brief(e.Shard(core.ShardID(sid)), func(s *shard.Shard) int {
			return s.Keyspace().Len()
		})
		if err != nil {
			t.Fatal(err)
		}
		if core.ShardID(sid) == owner && n != 1 {
			t.Errorf("owning shard %d holds %d entries, expected 1", sid, n)
		}
		if core.ShardID(sid) != owner && n != 0 {
			t.Errorf("shard %d holds %d entries, expected 0", sid, n)
		}
	}
}

// TestEngineShardRoutingStable verifies the key-to-shard mapping never moves
func TestEngineShardRoutingStable(t *testing.T) {
	e := testEngine(t, 16)

	for _, key := range []string{"a", "b", "user:1", "user:2", "x:y:z"} {
		first := e.ShardForKey(0, key)
		for i := 0; i < 10; i++ {
			if got := e.ShardForKey(0, key); got != first {
				t.Fatalf("routing for %q moved from %d to %d", key, first, got)
			}
		}
		if first >= core.ShardID(e.NumShards()) {
			t.Fatalf("shard %d out of range", first)
		}
	}
}

// TestEngineMultiKey verifies a cross-shard mset-style command lands on
// every key
func TestEngineMultiKey(t *testing.T) {
	e := testEngine(t, 4)

	ki := core.KeyIndex{Start: 0, End: 4, Step: 1}
	args := []string{"k1", "k2", "k3", "k4"}
	if _, err := e.Run(0, ki, args, setBody("v")); err != nil {
		t.Fatal(err)
	}

	for _, key := range args {
		results, err := e.Run(0, core.SingleKey(0), []string{key}, getBody())
		if err != nil {
			t.Fatal(err)
		}
		if results[0].Value != "v" {
			t.Errorf("key %s not written", key)
		}
	}

	info := e.Info()
	if info.Keys != 4 {
		t.Errorf("expected 4 keys, got %d", info.Keys)
	}
}

// bumpKeysBody increments a counter under every key of the shard's lock set,
// bonus key included, and leaves non-key slots untouched.
func bumpKeysBody() txn.ShardFunc {
	return func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		args.EachKey(func(key string) {
			n := 0
			if e, ok := s.Keyspace().Get(args.DbIndex, key); ok {
				n, _ = strconv.Atoi(string(e.Value))
			}
			s.Keyspace().Set(args.DbIndex, key, []byte(strconv.Itoa(n+1)), t.Clock())
		})
		return nil, nil
	}
}

func readCounter(t *testing.T, e *Engine, key string) int {
	t.Helper()
	s := e.Shard(e.ShardForKey(0, key))
	n, err := shard.Brief(s, func(s *shard.Shard) int {
		entry, ok := s.Keyspace().Get(0, key)
		if !ok {
			return 0
		}
		n, _ := strconv.Atoi(string(entry.Value))
		return n
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// TestEngineStoreStyleLockSet verifies a store-style command (bonus
// destination key plus key/value interleaved sources) locks exactly the
// destination and source keys, never the value slots
func TestEngineStoreStyleLockSet(t *testing.T) {
	// STORE dest k1 v1 k2 v2
	ki := core.KeyIndex{Bonus: 1, Start: 2, End: 6, Step: 2}
	args := []string{"STORE", "dest", "k1", "v1", "k2", "v2"}
	blocker := core.TxID(1 << 40)

	t.Run("every key is in the lock set", func(t *testing.T) {
		e := New(&Options{
			NumShards: 4,
			Txn: txn.Options{
				LockTimeout:    5 * time.Millisecond,
				MaxAttempts:    2,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     2 * time.Millisecond,
			},
			ShutdownGrace: time.Second,
		})
		e.Activate()
		t.Cleanup(func() { _ = e.Close() })

		for _, key := range []string{"dest", "k1", "k2"} {
			s := e.Shard(e.ShardForKey(0, key))
			if err := s.AcquireKey(0, key, blocker, 50*time.Millisecond); err != nil {
				t.Fatal(err)
			}

			_, err := e.Run(0, ki, args, bumpKeysBody())
			if !core.IsContention(err) {
				t.Errorf("key %s held elsewhere, expected contention, got %v", key, err)
			}

			s.ReleaseKey(0, key, blocker)
		}
	})

	t.Run("value slots are not locked", func(t *testing.T) {
		e := testEngine(t, 4)

		for _, slot := range []string{"v1", "v2"} {
			s := e.Shard(e.ShardForKey(0, slot))
			if err := s.AcquireKey(0, slot, blocker, 50*time.Millisecond); err != nil {
				t.Fatal(err)
			}
		}

		if _, err := e.Run(0, ki, args, bumpKeysBody()); err != nil {
			t.Errorf("held value slots must not conflict, got %v", err)
		}

		for _, slot := range []string{"v1", "v2"} {
			e.Shard(e.ShardForKey(0, slot)).ReleaseKey(0, slot, blocker)
		}
	})

	t.Run("conflicting store commands serialize", func(t *testing.T) {
		e := testEngine(t, 4)

		const n = 50
		var wg sync.WaitGroup
		var failed atomic.Int64
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.Run(0, ki, args, bumpKeysBody()); err != nil {
					failed.Add(1)
				}
			}()
		}
		wg.Wait()

		if failed.Load() != 0 {
			t.Fatalf("%d store commands failed under contention", failed.Load())
		}
		for _, key := range []string{"dest", "k1", "k2"} {
			if got := readCounter(t, e, key); got != n {
				t.Errorf("lost updates on %s: %d of %d", key, got, n)
			}
		}
		for _, slot := range []string{"v1", "v2"} {
			if got := readCounter(t, e, slot); got != 0 {
				t.Errorf("value slot %s was written %d times", slot, got)
			}
		}
	})
}

// TestEngineAdmissionControl walks the lifecycle gate
func TestEngineAdmissionControl(t *testing.T) {
	t.Run("loading rejects transactions", func(t *testing.T) {
		e := New(&Options{NumShards: 2, Txn: txn.DefaultOptions(), ShutdownGrace: time.Second})
		defer e.Close()

		_, err := e.NewTransaction(0, core.SingleKey(0), []string{"k"}, nil)
		if !errors.Is(err, core.ErrStartupOnly) {
			t.Errorf("expected ErrStartupOnly, got %v", err)
		}
	})

	t.Run("shutdown rejects every transaction", func(t *testing.T) {
		e := New(&Options{NumShards: 2, Txn: txn.DefaultOptions(), ShutdownGrace: time.Second})
		e.Activate()
		_ = e.Close()

		var wg sync.WaitGroup
		rejected := make([]error, 16)
		for i := range rejected {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, rejected[i] = e.NewTransaction(0, core.SingleKey(0), []string{"k"}, nil)
			}(i)
		}
		wg.Wait()

		for i, err := range rejected {
			if !errors.Is(err, core.ErrShuttingDown) {
				t.Errorf("admission %d: expected ErrShuttingDown, got %v", i, err)
			}
		}
	})

	t.Run("bad descriptors are rejected", func(t *testing.T) {
		e := testEngine(t, 2)

		if _, err := e.NewTransaction(0, core.KeyIndex{Start: 0, End: 2, Step: 0}, []string{"a", "b"}, nil); !errors.Is(err, core.ErrBadKeyIndex) {
			t.Errorf("zero step: expected ErrBadKeyIndex, got %v", err)
		}
		if _, err := e.NewTransaction(0, core.KeyIndex{Start: 0, End: 5, Step: 1}, []string{"a", "b"}, nil); !errors.Is(err, core.ErrBadKeyIndex) {
			t.Errorf("span past args: expected ErrBadKeyIndex, got %v", err)
		}
		if _, err := e.NewTransaction(core.MaxDbIndex, core.SingleKey(0), []string{"a"}, nil); !errors.Is(err, core.ErrBadKeyIndex) {
			t.Errorf("db out of range: expected ErrBadKeyIndex, got %v", err)
		}
	})
}

// TestEngineLiveTransactions verifies admitted transactions are tracked
// until retirement
func TestEngineLiveTransactions(t *testing.T) {
	e := testEngine(t, 2)

	tx, err := e.NewTransaction(0, core.SingleKey(0), []string{"k"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.LiveTransactions() != 1 {
		t.Errorf("expected 1 live transaction, got %d", e.LiveTransactions())
	}

	if _, err := e.Execute(tx, setBody("v")); err != nil {
		t.Fatal(err)
	}
	if e.LiveTransactions() != 0 {
		t.Errorf("expected 0 live transactions, got %d", e.LiveTransactions())
	}
}

// TestEngineErrorHandler verifies a handler can absorb an error and keep the
// transaction alive
func TestEngineErrorHandler(t *testing.T) {
	e := testEngine(t, 2)

	softErr := errors.New("soft failure")
	handler := core.ErrHandlerFunc(func(err core.GenericError) bool {
		return !errors.Is(err, softErr)
	})

	tx, err := e.NewTransaction(0, core.SingleKey(0), []string{"k"}, handler)
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Execute(tx, func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		return nil, softErr
	})
	if err != nil {
		t.Errorf("absorbed error should not abort, got %v", err)
	}
	if tx.State() != txn.StateCommitted {
		t.Errorf("expected COMMITTED, got %v", tx.State())
	}
}

// TestEngineSnapshotRoundtrip saves a populated engine and restores it into
// a fresh one, possibly with a different shard count
func TestEngineSnapshotRoundtrip(t *testing.T) {
	src := testEngine(t, 4)

	keys := []string{"a", "b", "user:1", "user:2", "深い"}
	for _, key := range keys {
		if _, err := src.Run(0, core.SingleKey(0), []string{key}, setBody("val:"+key)); err != nil {
			t.Fatal(err)
		}
	}
	// a second database with the same key name
	if _, err := src.Run(3, core.SingleKey(0), []string{"a"}, setBody("other")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if src.State().State() != core.GlobalActive {
		t.Errorf("engine should return to ACTIVE after save, got %v", src.State().State())
	}

	// restore into a fresh engine with a different shard count
	dst := New(&Options{NumShards: 7, Txn: txn.DefaultOptions(), ShutdownGrace: time.Second})
	t.Cleanup(func() { _ = dst.Close() })
	if err := dst.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	dst.Activate()

	for _, key := range keys {
		results, err := dst.Run(0, core.SingleKey(0), []string{key}, getBody())
		if err != nil {
			t.Fatal(err)
		}
		if results[0].Value != "val:"+key {
			t.Errorf("key %s: got %v", key, results[0].Value)
		}
	}
	results, err := dst.Run(3, core.SingleKey(0), []string{"a"}, getBody())
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Value != "other" {
		t.Errorf("db 3 entry lost: got %v", results[0].Value)
	}
}

// TestEngineLoadRequiresStartup verifies Load is refused once active
func TestEngineLoadRequiresStartup(t *testing.T) {
	e := testEngine(t, 2)

	err := e.Load(bytes.NewReader(nil))
	if !errors.Is(err, core.ErrStartupOnly) {
		t.Errorf("expected ErrStartupOnly, got %v", err)
	}
}

// TestEngineLoadRejectsGarbage verifies the magic number check
func TestEngineLoadRejectsGarbage(t *testing.T) {
	e := New(&Options{NumShards: 2, Txn: txn.DefaultOptions(), ShutdownGrace: time.Second})
	defer e.Close()

	err := e.Load(bytes.NewReader([]byte("NOTASNAPSHOT....")))
	if err == nil {
		t.Error("garbage input should be rejected")
	}
}

// TestEngineInfo verifies the diagnostics sample
func TestEngineInfo(t *testing.T) {
	e := testEngine(t, 4)

	for _, key := range []string{"a", "b", "c"} {
		if _, err := e.Run(0, core.SingleKey(0), []string{key}, setBody("x")); err != nil {
			t.Fatal(err)
		}
	}

	info := e.Info()
	if info.State != core.GlobalActive {
		t.Errorf("expected ACTIVE, got %v", info.State)
	}
	if info.NumShards != 4 {
		t.Errorf("expected 4 shards, got %d", info.NumShards)
	}
	if info.Keys != 3 {
		t.Errorf("expected 3 keys, got %d", info.Keys)
	}
	if info.MaxClock == 0 {
		t.Error("expected a non-zero max clock after writes")
	}
}
