package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/atmx/market-core/internal/model"
)

var cmdPrefix = []byte("cmd/")

// PebbleJournal implements Journal on an embedded Pebble database. Keys are
// "cmd/" followed by the big-endian sequence number so iteration order is
// sequence order. Every append is synced before it returns.
type PebbleJournal struct {
	db *pebble.DB

	mu   sync.Mutex
	last int64
}

// OpenPebbleJournal opens (or creates) a journal in dir.
func OpenPebbleJournal(dir string) (*PebbleJournal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	j := &PebbleJournal{db: db}
	if j.last, err = j.lastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *PebbleJournal) lastSeq() (int64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: cmdPrefix,
		UpperBound: []byte("cmd0"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseSeqKey(iter.Key())
}

func (j *PebbleJournal) Append(_ context.Context, cmd model.Command) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if cmd.Seq != j.last+1 {
		return fmt.Errorf("%w: got %d want %d", ErrSequenceGap, cmd.Seq, j.last+1)
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command %d: %w", cmd.Seq, err)
	}
	if err := j.db.Set(seqKey(cmd.Seq), payload, pebble.Sync); err != nil {
		return fmt.Errorf("append command %d: %w", cmd.Seq, err)
	}
	j.last = cmd.Seq
	return nil
}

func (j *PebbleJournal) Replay(ctx context.Context, fn func(model.Command) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: cmdPrefix,
		UpperBound: []byte("cmd0"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var cmd model.Command
		if err := json.Unmarshal(iter.Value(), &cmd); err != nil {
			return fmt.Errorf("decode command %x: %w", iter.Key(), err)
		}
		if err := fn(cmd); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (j *PebbleJournal) Close() error {
	return j.db.Close()
}

func seqKey(seq int64) []byte {
	key := make([]byte, len(cmdPrefix)+8)
	copy(key, cmdPrefix)
	binary.BigEndian.PutUint64(key[len(cmdPrefix):], uint64(seq))
	return key
}

func parseSeqKey(key []byte) (int64, error) {
	if len(key) != len(cmdPrefix)+8 {
		return 0, errors.New("store: invalid command key")
	}
	return int64(binary.BigEndian.Uint64(key[len(cmdPrefix):])), nil
}
