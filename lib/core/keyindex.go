package core

import "fmt"

// --------------------------------------------------------------------------
// Key Locator
// --------------------------------------------------------------------------

// KeyIndex describes which positions in a command's argument list are keys.
// It carries no command semantics: Start is the first key position, End the
// exclusive bound, Step the distance between consecutive keys (1 for variadic
// key lists, 2 for key/value interleaved lists) and Bonus an optional extra
// single key position, such as the destination key of a store-style command.
type KeyIndex struct {
	Bonus uint32
	Start uint32
	End   uint32
	Step  uint32
}

// SingleKey is the descriptor of a command whose only key is at position p.
func SingleKey(p uint32) KeyIndex {
	return KeyIndex{Start: p, End: p + 1, Step: 1}
}

// Validate rejects malformed descriptors. A failure here is a programming
// error in a command's static declaration and must be caught at startup
// validation, before any shard is contacted.
func (k KeyIndex) Validate() error {
	if k.Step == 0 {
		return fmt.Errorf("key index: step must be >= 1")
	}
	if k.Start > k.End {
		return fmt.Errorf("key index: start %d exceeds end %d", k.Start, k.End)
	}
	if (k.End-k.Start)%k.Step != 0 {
		return fmt.Errorf("key index: span [%d,%d) is not a multiple of step %d", k.Start, k.End, k.Step)
	}
	return nil
}

// HasSingleKey reports whether the descriptor holds exactly one key and no
// bonus. Callers may use this to skip multi-shard coordination entirely and
// route directly to the key's owning shard.
func (k KeyIndex) HasSingleKey() bool {
	return k.Bonus == 0 && k.Start+k.Step >= k.End
}

// NumArgs returns the number of argument slots covered by the descriptor,
// including the bonus slot if present.
func (k KeyIndex) NumArgs() int {
	n := int(k.End - k.Start)
	if k.Bonus > 0 {
		n++
	}
	return n
}

// NumKeys returns the number of keys the descriptor selects, including the
// bonus key if present.
func (k KeyIndex) NumKeys() int {
	n := int((k.End - k.Start) / k.Step)
	if k.Bonus > 0 {
		n++
	}
	return n
}

// Keys extracts the ordered key sequence from args. The descriptor must be
// valid and must fit inside args; Each panics otherwise since the declaration
// was supposed to be validated at startup.
func (k KeyIndex) Keys(args []string) []string {
	out := make([]string, 0, k.NumKeys())
	k.Each(args, func(_ int, key string) {
		out = append(out, key)
	})
	return out
}

// Each calls fn with every key position and key selected by the descriptor,
// in argument order, the bonus key first when present.
func (k KeyIndex) Each(args []string, fn func(pos int, key string)) {
	if k.Bonus > 0 {
		fn(int(k.Bonus), args[k.Bonus])
	}
	for i := k.Start; i < k.End; i += k.Step {
		fn(int(i), args[i])
	}
}

// --------------------------------------------------------------------------
// Lock Request Set
// --------------------------------------------------------------------------

// KeyLockArgs is the portion of a lock request a shard needs to recompute
// exactly which keys it must lock, without re-parsing command semantics.
// Args holds whole step-groups (each key with its trailing non-key slots),
// so the step-walk always lands on key positions. The bonus key never joins
// Args: folding it in would shift the walk onto value slots, so it rides in
// its own field.
type KeyLockArgs struct {
	DbIndex  DbIndex
	Args     []string
	KeyStep  uint32
	Bonus    string
	HasBonus bool
}

// EachKey calls fn with every key of the lock set, the bonus key first when
// present, then each step-group's leading slot in argument order.
func (a KeyLockArgs) EachKey(fn func(key string)) {
	if a.HasBonus {
		fn(a.Bonus)
	}
	step := a.KeyStep
	if step == 0 {
		step = 1
	}
	for i := uint32(0); i < uint32(len(a.Args)); i += step {
		fn(a.Args[i])
	}
}
