// Package txn implements the coordination unit for one command's execution
// across one or more shards.
//
// A transaction moves through CREATED -> LOCK_ACQUIRED -> ARMED -> EXECUTING
// -> COMMITTED or ABORTED. Locks are requested across all participating
// shards in a globally consistent order (lexicographic key order, shard id as
// tie-break), and every required lock is held before any shard starts the
// operation body. That gives atomic visibility of multi-key updates without a
// cross-shard commit protocol: for a given key set, each shard only ever
// executes one transaction's body at a time.
//
// Arming chooses a single logical clock value for the transaction, the
// maximum of every participating shard's clock plus one, and republishes it
// to every participant. Conflicting multi-shard transactions are thereby
// serialized in clock order, not arrival order.
//
// Lock acquisition is bounded: a timed-out acquisition releases everything,
// backs off exponentially and retries a limited number of times before the
// caller sees a retryable contention error. Waiters are granted in ascending
// transaction id order, so the oldest contender always makes progress.
//
// Cancellation (through the execution context) aborts a transaction at any
// state before COMMITTED. Shard bodies already running are not interrupted;
// cancellation only prevents further shards from starting and prevents the
// transaction from reporting success.
//
// Single-key commands bypass the multi-lock protocol entirely and execute on
// the owning shard as soon as it admits them.
package txn
