package txn

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coraldb/coral/lib/core"
	"github.com/coraldb/coral/lib/shard"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("txn")

// --------------------------------------------------------------------------
// Transaction State
// --------------------------------------------------------------------------

// State is a transaction's position in its lifecycle.
type State uint32

const (
	StateCreated State = iota
	StateLockAcquired
	StateArmed
	StateExecuting
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateLockAcquired:
		return "LOCK_ACQUIRED"
	case StateArmed:
		return "ARMED"
	case StateExecuting:
		return "EXECUTING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// --------------------------------------------------------------------------
// Participants and Results
// --------------------------------------------------------------------------

// Participant is one shard's share of a transaction: the shard and the lock
// request subset it must acquire and execute against. The same partitioning
// is used for lock acquisition and execution dispatch.
type Participant struct {
	Sid   core.ShardID
	Shard *shard.Shard
	Args  core.KeyLockArgs
}

// ShardFunc is the operation body run on each participating shard under its
// locks. It executes on the shard's stream and must poll the transaction's
// context at every iteration of unbounded loops.
type ShardFunc func(t *Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error)

// ShardResult is one shard's raw, uninterpreted result.
type ShardResult struct {
	Sid     core.ShardID
	Value   interface{}
	Err     error
	Skipped bool // cancellation was observed before this shard was dispatched
}

// Options bounds the lock acquisition protocol. The backoff constants are a
// deliberate choice (the contention policy is not externally mandated):
// bounded exponential backoff with randomized jitter, doubling from
// InitialBackoff up to MaxBackoff, at most MaxAttempts acquisition rounds.
type Options struct {
	LockTimeout    time.Duration
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultOptions returns the engine-wide defaults.
func DefaultOptions() Options {
	return Options{
		LockTimeout:    100 * time.Millisecond,
		MaxAttempts:    8,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     64 * time.Millisecond,
	}
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// lockStep is one entry of the transaction's global acquisition order.
type lockStep struct {
	key   string
	sid   core.ShardID
	shard *shard.Shard
}

// Txn coordinates a single command across its participating shards. It
// carries a globally unique, monotonically increasing id assigned at
// admission and a logical clock value chosen at arming.
type Txn struct {
	id    core.TxID
	db    core.DbIndex
	state atomic.Uint32
	clock core.TxClock

	parts []Participant // ascending shard id
	steps []lockStep    // global lock order: key lexicographic, shard id tie-break
	ctx   *core.Context
	opts  Options
}

// New builds a transaction over the given participants. The participant set
// is computed once and reused for both lock acquisition and execution
// dispatch, so the same partitioning holds for the transaction's whole life.
func New(id core.TxID, db core.DbIndex, ctx *core.Context, opts Options, parts []Participant) *Txn {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Sid < parts[j].Sid })

	t := &Txn{
		id:    id,
		db:    db,
		parts: parts,
		ctx:   ctx,
		opts:  opts,
	}

	// sort-then-acquire: never lock in submission order
	for _, p := range parts {
		p.Args.EachKey(func(key string) {
			t.steps = append(t.steps, lockStep{key: key, sid: p.Sid, shard: p.Shard})
		})
	}
	sort.Slice(t.steps, func(i, j int) bool {
		if t.steps[i].key != t.steps[j].key {
			return t.steps[i].key < t.steps[j].key
		}
		return t.steps[i].sid < t.steps[j].sid
	})

	return t
}

// ID returns the transaction's unique identifier.
func (t *Txn) ID() core.TxID {
	return t.id
}

// Clock returns the logical clock value chosen at arming, 0 before ARMED.
func (t *Txn) Clock() core.TxClock {
	return t.clock
}

// State returns the transaction's current lifecycle state.
func (t *Txn) State() State {
	return State(t.state.Load())
}

// Context returns the transaction's execution context.
func (t *Txn) Context() *core.Context {
	return t.ctx
}

// DbIndex returns the logical database the transaction operates on.
func (t *Txn) DbIndex() core.DbIndex {
	return t.db
}

func (t *Txn) setState(s State) {
	t.state.Store(uint32(s))
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

// Execute runs body on every participating shard under the transaction's
// locks and returns each shard's raw result. The caller receives exactly one
// terminal outcome: a nil error with the results, or one error from the
// taxonomy (contention, cancelled, shutting down, or the first latched
// operation error).
func (t *Txn) Execute(body ShardFunc) ([]ShardResult, error) {
	if len(t.parts) == 1 && len(t.steps) == 1 {
		return t.executeSingle(body)
	}

	if err := t.acquireLocks(); err != nil {
		t.setState(StateAborted)
		return nil, err
	}

	t.arm()

	results := t.dispatch(body)
	t.releaseLocks()

	return results, t.outcome(results)
}

// executeSingle is the single-key, single-shard fast path: no multi-lock
// protocol, the operation runs as soon as the owning shard admits it.
func (t *Txn) executeSingle(body ShardFunc) ([]ShardResult, error) {
	p := t.parts[0]
	step := t.steps[0]

	if t.ctx.IsCancelled() {
		t.setState(StateAborted)
		return nil, t.cancelErr()
	}

	results := make([]ShardResult, 1)
	err := p.Shard.RunKeyed(t.db, step.key, t.id, func(s *shard.Shard) {
		t.clock = s.TickClock()
		t.setState(StateExecuting)
		results[0] = t.runBody(body, s, p)
	})
	if err != nil {
		t.setState(StateAborted)
		return nil, core.NewGenericErrorf(err, "single-key dispatch")
	}

	return results, t.outcome(results)
}

// acquireLocks walks the global lock order and acquires every key, releasing
// everything and retrying with exponential backoff when a step times out on
// contention. Cancellation is polled between steps.
func (t *Txn) acquireLocks() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.opts.InitialBackoff
	bo.MaxInterval = t.opts.MaxBackoff
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	for attempt := uint64(1); ; attempt++ {
		err := t.tryAcquireAll()
		if err == nil {
			t.setState(StateLockAcquired)
			return nil
		}
		if !errors.Is(err, core.ErrContention) {
			return err
		}
		if attempt >= t.opts.MaxAttempts {
			Logger.Warningf("tx %d: lock set not acquired after %d attempts", t.id, attempt)
			return core.NewGenericErrorf(core.ErrContention,
				fmt.Sprintf("tx %d gave up after %d attempts", t.id, attempt))
		}
		time.Sleep(bo.NextBackOff())
	}
}

// tryAcquireAll is one acquisition round. On any failure the locks taken so
// far are released so a conflicting transaction can make progress.
func (t *Txn) tryAcquireAll() error {
	for i, step := range t.steps {
		if t.ctx.IsCancelled() {
			t.releaseSteps(i)
			return t.cancelErr()
		}
		if err := step.shard.AcquireKey(t.db, step.key, t.id, t.opts.LockTimeout); err != nil {
			t.releaseSteps(i)
			return err
		}
	}
	return nil
}

// arm chooses the transaction's clock value, the maximum of every
// participating shard's clock incremented by one, and republishes it to all
// participants. After arming, conflicting transactions on any shared shard
// observe clock order.
func (t *Txn) arm() {
	var max core.TxClock
	for _, p := range t.parts {
		if c := p.Shard.Clock(); c > max {
			max = c
		}
	}
	t.clock = max + 1
	for _, p := range t.parts {
		p.Shard.AdvanceClock(t.clock)
	}
	t.setState(StateArmed)
}

// dispatch fans the operation body out to every participant in parallel and
// collects the raw results. Cancellation is polled at every shard boundary:
// participants not yet dispatched when the flag rises are skipped.
func (t *Txn) dispatch(body ShardFunc) []ShardResult {
	t.setState(StateExecuting)

	results := make([]ShardResult, len(t.parts))
	var wg sync.WaitGroup

	for i, p := range t.parts {
		if t.ctx.IsCancelled() {
			results[i] = ShardResult{Sid: p.Sid, Skipped: true}
			continue
		}

		wg.Add(1)
		go func(i int, p Participant) {
			defer wg.Done()
			err := p.Shard.Await(func(s *shard.Shard) {
				results[i] = t.runBody(body, s, p)
			})
			if err != nil {
				results[i] = ShardResult{Sid: p.Sid, Err: err}
				t.ctx.ReportError(err, fmt.Sprintf("dispatch to shard %d", p.Sid))
			}
		}(i, p)
	}

	wg.Wait()
	return results
}

// runBody executes the operation body on the shard's stream and funnels its
// error through the execution context.
func (t *Txn) runBody(body ShardFunc, s *shard.Shard, p Participant) ShardResult {
	value, err := body(t, s, p.Args)
	if err != nil {
		t.ctx.ReportError(err, fmt.Sprintf("shard %d", p.Sid))
	}
	return ShardResult{Sid: p.Sid, Value: value, Err: err}
}

// releaseLocks releases the full lock set. Duplicate releases of the same
// key are harmless no-ops.
func (t *Txn) releaseLocks() {
	t.releaseSteps(len(t.steps))
}

func (t *Txn) releaseSteps(n int) {
	for _, step := range t.steps[:n] {
		step.shard.ReleaseKey(t.db, step.key, t.id)
	}
}

// outcome derives the transaction's single terminal outcome. The first
// latched error wins; cancellation without a latched error surfaces as
// ErrCancelled. Results of shards that completed despite a failure are
// discarded in favor of the latched error.
func (t *Txn) outcome(results []ShardResult) error {
	if t.ctx.HasError() {
		t.setState(StateAborted)
		for _, r := range results {
			if r.Err == nil && !r.Skipped {
				Logger.Debugf("tx %d: discarding shard %d result in favor of the latched error", t.id, r.Sid)
			}
		}
		return t.ctx.Err()
	}
	if t.ctx.IsCancelled() {
		t.setState(StateAborted)
		return t.cancelErr()
	}
	t.setState(StateCommitted)
	return nil
}

func (t *Txn) cancelErr() error {
	return core.NewGenericErrorf(core.ErrCancelled, fmt.Sprintf("tx %d", t.id))
}
