package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coraldb/coral/lib/core"
	"github.com/coraldb/coral/lib/shard"
)

// Snapshot file layout constants.
const (
	snapshotMagic   = "CORALDB\x00"
	snapshotVersion = 1
)

// savedEntry is one keyspace entry as it appears in a snapshot.
type savedEntry struct {
	db    core.DbIndex
	key   string
	clock core.TxClock
	value []byte
}

// --------------------------------------------------------------------------
// Save
// --------------------------------------------------------------------------

// Save writes a snapshot of every shard's keyspace to w. The engine moves to
// SAVING for the duration; new transactions are still admitted and mutate
// shards concurrently, consistency is per shard: each shard's view is taken
// in one step on its single-writer stream without the multi-shard lock
// protocol.
func (e *Engine) Save(w io.Writer) error {
	if !e.state.TransitionTo(core.GlobalSaving) {
		return core.NewGenericErrorf(core.ErrShuttingDown, "cannot save in state "+e.state.State().String())
	}
	defer e.state.TransitionTo(core.GlobalActive)

	var entries []savedEntry
	for _, s := range e.shards {
		chunk, err := shard.Brief(s, func(s *shard.Shard) []savedEntry {
			out := make([]savedEntry, 0, s.Keyspace().Len())
			s.Keyspace().Range(func(db core.DbIndex, key string, en shard.Entry) bool {
				cp := make([]byte, len(en.Value))
				copy(cp, en.Value)
				out = append(out, savedEntry{db: db, key: key, clock: en.Clock, value: cp})
				return true
			})
			return out
		})
		if err != nil {
			return err
		}
		entries = append(entries, chunk...)
	}

	bw := bufio.NewWriterSize(w, 1<<20)

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	for _, en := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint16(en.db)); err != nil {
			return err
		}
		if err := writeBytes(bw, []byte(en.key)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(en.clock)); err != nil {
			return err
		}
		if err := writeBytes(bw, en.value); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}

	snapshotsSaved.Inc()
	Logger.Infof("saved snapshot with %d entries", len(entries))
	return nil
}

// --------------------------------------------------------------------------
// Load
// --------------------------------------------------------------------------

// Load restores a snapshot. It is a startup-only operation: the engine must
// still be LOADING, before any client transaction was admitted. Entries are
// routed to their owning shards through the shard streams; each shard's
// clock is advanced to the highest clock it restores.
func (e *Engine) Load(r io.Reader) error {
	if e.state.State() != core.GlobalLoading {
		return core.NewGenericError(core.ErrStartupOnly)
	}

	br := bufio.NewReaderSize(r, 1<<20)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return fmt.Errorf("invalid snapshot: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d (expected %d)", version, snapshotVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	loaded := 0
	for i := uint64(0); i < count; i++ {
		var db uint16
		if err := binary.Read(br, binary.LittleEndian, &db); err != nil {
			return err
		}
		key, err := readBytes(br)
		if err != nil {
			return err
		}
		var clock uint64
		if err := binary.Read(br, binary.LittleEndian, &clock); err != nil {
			return err
		}
		value, err := readBytes(br)
		if err != nil {
			return err
		}

		en := savedEntry{db: core.DbIndex(db), key: string(key), clock: core.TxClock(clock), value: value}
		s := e.shards[e.ShardForKey(en.db, en.key)]
		if err := s.Await(func(s *shard.Shard) {
			s.Keyspace().Set(en.db, en.key, en.value, en.clock)
			s.AdvanceClock(en.clock)
		}); err != nil {
			return err
		}
		loaded++
	}

	snapshotsLoaded.Inc()
	Logger.Infof("loaded snapshot with %d entries", loaded)
	return nil
}

// --------------------------------------------------------------------------
// Wire Helpers
// --------------------------------------------------------------------------

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
