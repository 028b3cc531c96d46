// Package core provides the shared vocabulary of the coral engine: identifier
// types for databases, shards and transactions, the key-span descriptor used to
// locate keys inside a command's argument list, operation statuses, structured
// errors, and the cross-cutting concurrency primitives (cancellation flag,
// first-value aggregators and the execution context) that coordinate work
// fanned out over many shards.
//
// The package has no dependencies on the shard or transaction machinery; it is
// imported by everything else in lib/.
//
// Key Components:
//
//   - Identifier types: DbIndex, ShardID, TxID and TxClock with their invalid
//     sentinels. Shard identity is an index into the engine's shard table and
//     is fixed for the lifetime of a process.
//
//   - KeyIndex / KeyLockArgs: a command's static argument-layout descriptor
//     (start/end/step plus an optional bonus position) and the derived lock
//     request set a shard needs to recompute its local keys.
//
//   - GenericError: an error kind plus free-form detail, the payload carried
//     by aggregators and the execution context.
//
//   - Cancellation, AggregateValue, Context: the cooperative-abort primitives.
//     A Context bundles a cancellation flag with a first-error latch and an
//     optional handler that can veto propagation of individual errors.
//
//   - ServerState: the process-wide admission-control state machine (active,
//     loading, saving, shutting down) plus designated-writer process counters
//     (memory accounting, kernel version).
//
//   - ScanOpts: parsing and glob matching for iteration-style commands.
package core
