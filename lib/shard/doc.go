// Package shard implements the independently scheduled execution unit of the
// coral engine. A Shard owns a disjoint partition of the keyspace and a single
// logical execution stream: every mutation of shard-owned state happens on the
// shard's own goroutine, fed through a multi-producer single-consumer
// submission queue. Cross-shard communication is only ever message passing,
// never shared mutable memory.
//
// The package provides three submission primitives:
//
//   - Submit: fire-and-forget closure execution on the shard's stream.
//   - Await: submit a closure and block the caller (not the shard) until it
//     completed. Used by the transaction layer to dispatch operation bodies.
//   - AwaitBrief: submit a lightweight read-only closure and await its result.
//     Used by diagnostics and the snapshot orchestrator, bypassing the lock
//     protocol since it cannot mutate anything another transaction locks.
//
// On top of the stream sits the per-shard lock table. Lock acquisition is
// asynchronous: a request either succeeds immediately or parks as a waiter and
// is granted when the conflicting transaction releases. Waiters are granted in
// ascending transaction-id order, which together with the coordinator's global
// sort-then-acquire ordering rules out both deadlock and livelock. The shard
// itself never blocks waiting for a lock; waiting is always expressed on the
// caller's side of the grant channel.
package shard
