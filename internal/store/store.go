// Package store persists the pod's command journal and caches read-side
// book snapshots.
//
// The journal is the source of truth: every committed mutation is one
// record, and replaying the records through the pod rebuilds the order
// books and the ledger exactly. Implementations include PostgreSQL, Pebble
// (embedded) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/market-core/internal/model"
)

var (
	// ErrSequenceGap is returned when a command does not follow the last
	// journaled sequence number.
	ErrSequenceGap = errors.New("store: command sequence out of order")

	// ErrCacheMiss is returned by a QuoteCache that holds no entry.
	ErrCacheMiss = errors.New("store: cache miss")
)

// Journal is an append-only log of committed commands.
type Journal interface {
	// Append durably records cmd. cmd.Seq must be exactly one past the last
	// appended sequence (the first command has Seq 1).
	Append(ctx context.Context, cmd model.Command) error

	// Replay calls fn for every command in sequence order.
	Replay(ctx context.Context, fn func(model.Command) error) error

	// Close releases the journal's resources.
	Close() error
}

// BookSnapshot is a depth view of one outcome's book.
type BookSnapshot struct {
	EventID string        `json:"event_id"`
	Outcome int           `json:"outcome"`
	Bids    []model.Quote `json:"bids"`
	Asks    []model.Quote `json:"asks"`
}

// QuoteCache is a read-through cache of book snapshots. Entries of an event
// are dropped whenever a mutation touches that event.
type QuoteCache interface {
	GetBook(ctx context.Context, eventID string, outcome, depth int) (*BookSnapshot, error)
	SetBook(ctx context.Context, depth int, snap *BookSnapshot) error
	Invalidate(ctx context.Context, eventID string) error
}
