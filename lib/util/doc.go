// Package util provides hashing and distribution-analysis helpers shared by the
// engine and shard packages.
//
// The hash helpers map (database, key) pairs onto the internal UintKey type with
// a per-process random seed, so that shard placement is stable for the lifetime
// of a process but not predictable across processes. The statistics helpers are
// used by the engine to report how evenly keys are spread over the shard table.
package util
