package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/market-core/internal/model"
)

// MemoryJournal implements Journal in memory. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryJournal struct {
	mu       sync.RWMutex
	commands []model.Command

	// FailAppend, when set, is returned by every Append.
	FailAppend error
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, cmd model.Command) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.FailAppend != nil {
		return j.FailAppend
	}
	if want := int64(len(j.commands)) + 1; cmd.Seq != want {
		return fmt.Errorf("%w: got %d want %d", ErrSequenceGap, cmd.Seq, want)
	}
	j.commands = append(j.commands, cmd)
	return nil
}

func (j *MemoryJournal) Replay(ctx context.Context, fn func(model.Command) error) error {
	j.mu.RLock()
	cmds := append([]model.Command(nil), j.commands...)
	j.mu.RUnlock()

	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of journaled commands.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.commands)
}

func (j *MemoryJournal) Close() error { return nil }

// MemoryQuoteCache implements QuoteCache with a map.
type MemoryQuoteCache struct {
	mu    sync.RWMutex
	books map[string]map[string]BookSnapshot // event → outcome:depth → snapshot
}

// NewMemoryQuoteCache creates an empty cache.
func NewMemoryQuoteCache() *MemoryQuoteCache {
	return &MemoryQuoteCache{books: make(map[string]map[string]BookSnapshot)}
}

func (c *MemoryQuoteCache) GetBook(_ context.Context, eventID string, outcome, depth int) (*BookSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.books[eventID][bookField(outcome, depth)]
	if !ok {
		return nil, ErrCacheMiss
	}
	return &snap, nil
}

func (c *MemoryQuoteCache) SetBook(_ context.Context, depth int, snap *BookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev, ok := c.books[snap.EventID]
	if !ok {
		ev = make(map[string]BookSnapshot)
		c.books[snap.EventID] = ev
	}
	ev[bookField(snap.Outcome, depth)] = *snap
	return nil
}

func (c *MemoryQuoteCache) Invalidate(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, eventID)
	return nil
}

func bookField(outcome, depth int) string { return fmt.Sprintf("%d:%d", outcome, depth) }
