// Package engine ties the coral core together: it owns the fixed shard
// table, routes keys to shards with a seeded hash, admits transactions
// against the process lifecycle state, and exposes the snapshot entry points
// the persistence collaborator uses.
//
// Key responsibilities:
//
//   - Shard routing: every (database, key) pair maps to exactly one shard via
//     a hash that is stable while the shard count is fixed. Shards are created
//     at startup, one execution stream each, and never destroyed during
//     normal operation.
//
//   - Admission control: a transaction is only created while the lifecycle
//     state admits new work. During SHUTTING DOWN every new transaction is
//     rejected with the shutting-down error; transactions already in flight
//     drain within a bounded grace period.
//
//   - Lock request sets: from a command's static key-span descriptor and its
//     argument list the engine computes, once, the (shard -> local key
//     subset) partitioning reused for both lock acquisition and execution
//     dispatch.
//
//   - Snapshots: Save obtains a consistent per-shard view through each
//     shard's single-writer stream without taking the multi-shard lock
//     protocol; Load restores a snapshot during startup, before any client
//     transaction is admitted.
package engine
