package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coraldb/coral/lib/core"
	"github.com/coraldb/coral/lib/shard"
	"github.com/coraldb/coral/lib/txn"
	"github.com/coraldb/coral/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the engine at startup.
type Options struct {
	NumShards     int           // number of shards (0 = one per CPU)
	Txn           txn.Options   // lock acquisition bounds
	MaxMemory     uint64        // memory ceiling, 0 = unlimited
	ShutdownGrace time.Duration // how long Close waits for in-flight work
}

// DefaultOptions returns the default engine options.
func DefaultOptions() *Options {
	return &Options{
		NumShards:     runtime.NumCPU(),
		Txn:           txn.DefaultOptions(),
		ShutdownGrace: 5 * time.Second,
	}
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is the coordination core of a coral process: the shard table, the
// transaction factory and the lifecycle gate.
type Engine struct {
	opts   *Options
	seed   uint64
	shards []*shard.Shard
	state  *core.ServerState

	nextTx   atomic.Uint64
	live     *xsync.MapOf[uint64, *txn.Txn]
	inflight sync.WaitGroup
}

// New creates the shard table and starts one execution stream per shard. The
// engine begins in the LOADING phase; call Load (optionally) and then
// Activate before admitting transactions.
//
// Thread-safety: New is meant to be called once during startup.
func New(opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	shards := make([]*shard.Shard, opts.NumShards)
	for i := range shards {
		shards[i] = shard.New(core.ShardID(i))
	}

	e := &Engine{
		opts:   opts,
		seed:   util.GenerateSeed(),
		shards: shards,
		state:  core.NewServerState(),
		live:   xsync.NewMapOf[uint64, *txn.Txn](),
	}
	e.state.SetMaxMemory(opts.MaxMemory)

	Logger.Infof("engine created with %d shards", opts.NumShards)
	return e
}

// Activate ends the startup phase and begins admitting transactions.
func (e *Engine) Activate() {
	if e.state.Activate() {
		Logger.Infof("engine state: %s", e.state.State())
	}
}

// State exposes the process-wide lifecycle state machine, used by the
// persistence collaborator and by diagnostics.
func (e *Engine) State() *core.ServerState {
	return e.state
}

// NumShards returns the fixed shard count.
func (e *Engine) NumShards() int {
	return len(e.shards)
}

// Shard returns the shard with the given id.
func (e *Engine) Shard(sid core.ShardID) *shard.Shard {
	return e.shards[sid]
}

// ShardForKey maps a (database, key) pair to its owning shard. The mapping
// is stable for the lifetime of the process.
func (e *Engine) ShardForKey(db core.DbIndex, key string) core.ShardID {
	h := uint64(util.HashKey(uint16(db), key, e.seed))
	// shift to use higher-quality bits for distribution
	return core.ShardID((h >> 7) % uint64(len(e.shards)))
}

// --------------------------------------------------------------------------
// Transaction Admission
// --------------------------------------------------------------------------

// NewTransaction validates the key-span descriptor, builds the lock request
// set, and admits a transaction against the lifecycle state. The returned
// transaction has a unique id; its clock is assigned at arming.
func (e *Engine) NewTransaction(db core.DbIndex, ki core.KeyIndex, args []string, handler core.ErrHandler) (*txn.Txn, error) {
	switch e.state.State() {
	case core.GlobalActive, core.GlobalSaving:
		// new work admitted; saves read concurrently through shard streams
	case core.GlobalLoading:
		return nil, core.NewGenericErrorf(core.ErrStartupOnly, "server is loading")
	default:
		txRejected.Inc()
		return nil, core.NewGenericError(core.ErrShuttingDown)
	}

	if db >= core.MaxDbIndex {
		return nil, core.NewGenericErrorf(core.ErrBadKeyIndex, fmt.Sprintf("db index %d out of range", db))
	}
	if err := ki.Validate(); err != nil {
		return nil, core.NewGenericErrorf(core.ErrBadKeyIndex, err.Error())
	}
	if int(ki.End) > len(args) || (ki.Bonus > 0 && int(ki.Bonus) >= len(args)) {
		return nil, core.NewGenericErrorf(core.ErrBadKeyIndex, "key span exceeds argument list")
	}

	id := core.TxID(e.nextTx.Add(1))
	parts := e.buildParticipants(db, ki, args)
	t := txn.New(id, db, core.NewContext(handler), e.opts.Txn, parts)

	e.live.Store(uint64(id), t)
	txAdmitted.Inc()
	return t, nil
}

// buildParticipants computes the (shard -> local argument subset) pairs. The
// subset keeps each key together with its trailing non-key slots (the value
// of a key/value interleaved span), so the operation body sees its local
// arguments exactly as declared and EachKey's step-walk stays on key
// positions. The bonus key is carried separately so it cannot misalign the
// step-groups of its owning shard's subset.
func (e *Engine) buildParticipants(db core.DbIndex, ki core.KeyIndex, args []string) []txn.Participant {
	type localArgs struct {
		subset []string
		bonus  string
		has    bool
	}
	local := make(map[core.ShardID]*localArgs)
	at := func(sid core.ShardID) *localArgs {
		la, exists := local[sid]
		if !exists {
			la = &localArgs{}
			local[sid] = la
		}
		return la
	}

	if ki.Bonus > 0 {
		la := at(e.ShardForKey(db, args[ki.Bonus]))
		la.bonus = args[ki.Bonus]
		la.has = true
	}
	for i := ki.Start; i < ki.End; i += ki.Step {
		end := i + ki.Step
		if end > ki.End {
			end = ki.End
		}
		la := at(e.ShardForKey(db, args[i]))
		la.subset = append(la.subset, args[i:end]...)
	}

	parts := make([]txn.Participant, 0, len(local))
	for sid, la := range local {
		parts = append(parts, txn.Participant{
			Sid:   sid,
			Shard: e.shards[sid],
			Args: core.KeyLockArgs{
				DbIndex:  db,
				Args:     la.subset,
				KeyStep:  ki.Step,
				Bonus:    la.bonus,
				HasBonus: la.has,
			},
		})
	}
	return parts
}

// Run admits a transaction, executes body on every participating shard and
// retires the transaction id. It is the one-call path command dispatch uses.
func (e *Engine) Run(db core.DbIndex, ki core.KeyIndex, args []string, body txn.ShardFunc) ([]txn.ShardResult, error) {
	t, err := e.NewTransaction(db, ki, args, nil)
	if err != nil {
		return nil, err
	}
	return e.Execute(t, body)
}

// Execute runs an admitted transaction and retires it.
func (e *Engine) Execute(t *txn.Txn, body txn.ShardFunc) ([]txn.ShardResult, error) {
	e.inflight.Add(1)
	defer e.inflight.Done()
	defer e.live.Delete(uint64(t.ID()))

	results, err := t.Execute(body)
	switch {
	case err == nil:
		txCommitted.Inc()
	case core.IsContention(err):
		txContended.Inc()
		txAborted.Inc()
	default:
		txAborted.Inc()
	}
	return results, err
}

// LiveTransactions returns the number of admitted, not yet retired
// transactions.
func (e *Engine) LiveTransactions() int {
	return e.live.Size()
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Info is a point-in-time description of the engine.
type Info struct {
	State             core.GlobalState       `json:"state"`
	NumShards         int                    `json:"num_shards"`
	Keys              int                    `json:"keys"`
	LiveTransactions  int                    `json:"live_transactions"`
	MaxClock          core.TxClock           `json:"max_clock"`
	ShardDistribution util.DistributionStats `json:"shard_distribution"`
}

// Info samples every shard through its stream and summarizes the keyspace
// distribution over the shard table.
func (e *Engine) Info() Info {
	sizes := make([]float64, len(e.shards))
	total := 0
	var maxClock core.TxClock

	for i, s := range e.shards {
		n, err := shard.Brief(s, func(s *shard.Shard) int {
			return s.Keyspace().Len()
		})
		if err != nil {
			continue
		}
		sizes[i] = float64(n)
		total += n
		if c := s.Clock(); c > maxClock {
			maxClock = c
		}
	}

	return Info{
		State:             e.state.State(),
		NumShards:         len(e.shards),
		Keys:              total,
		LiveTransactions:  e.LiveTransactions(),
		MaxClock:          maxClock,
		ShardDistribution: util.NewDistributionStats(sizes),
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close moves the engine to SHUTTING DOWN, waits up to the configured grace
// period for in-flight transactions to drain, then stops every shard stream.
func (e *Engine) Close() error {
	e.state.Shutdown()
	Logger.Infof("engine state: %s", e.state.State())

	drained := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(e.opts.ShutdownGrace):
		Logger.Warningf("shutdown grace period expired with %d live transactions", e.LiveTransactions())
	}

	for _, s := range e.shards {
		s.Stop()
	}
	return nil
}
