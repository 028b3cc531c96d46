package core

// --------------------------------------------------------------------------
// Identifier Types
// --------------------------------------------------------------------------

// DbIndex is the logical database number a key lives in.
type DbIndex uint16

// ShardID identifies a shard. A shard's identity is its index into the
// engine's shard table; shards are created at startup and never destroyed
// during normal operation.
type ShardID uint16

// TxID is a globally unique, monotonically increasing transaction identifier.
// It is assigned at admission time and never reused.
type TxID uint64

// TxClock is a per-shard logical clock value, distinct from TxID. It orders
// conflicting multi-shard transactions independent of wall-clock time.
type TxClock uint64

const (
	// InvalidDbIndex is the all-bits-set DbIndex sentinel.
	InvalidDbIndex = ^DbIndex(0)

	// InvalidShardID is the all-bits-set ShardID sentinel.
	InvalidShardID = ^ShardID(0)

	// MaxDbIndex bounds the valid database index range.
	MaxDbIndex DbIndex = 1024
)

// --------------------------------------------------------------------------
// Operation Status
// --------------------------------------------------------------------------

// OpStatus is the in-band status of a shard-local operation. The zero value
// is StatusOK so that AggregateStatus latches the first non-OK status.
type OpStatus uint8

const (
	StatusOK OpStatus = iota
	StatusKeyNotFound
	StatusWrongType
	StatusOutOfRange
	StatusSyntaxErr
	StatusInvalidInt
	StatusTimedOut
	StatusCancelled
	StatusShuttingDown
)

func (s OpStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusKeyNotFound:
		return "KEY_NOTFOUND"
	case StatusWrongType:
		return "WRONG_TYPE"
	case StatusOutOfRange:
		return "OUT_OF_RANGE"
	case StatusSyntaxErr:
		return "SYNTAX_ERR"
	case StatusInvalidInt:
		return "INVALID_INT"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusCancelled:
		return "CANCELLED"
	case StatusShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// OpResult carries a value together with its operation status.
type OpResult[T any] struct {
	Value  T
	Status OpStatus
}

// OK reports whether the operation succeeded.
func (r OpResult[T]) OK() bool {
	return r.Status == StatusOK
}

// ResultOf wraps a value in a successful OpResult.
func ResultOf[T any](v T) OpResult[T] {
	return OpResult[T]{Value: v}
}

// ResultStatus wraps a failure status in an OpResult with a zero value.
func ResultStatus[T any](s OpStatus) OpResult[T] {
	return OpResult[T]{Status: s}
}
