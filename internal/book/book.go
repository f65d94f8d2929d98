// Package book implements the order book of one (event, outcome) pair.
//
// Each side keeps its price levels in a B-tree ordered best-first (bids
// descending, asks ascending), so the best level is always the tree minimum.
// Within a level, orders queue in arrival order. A level whose queue becomes
// empty is removed from the tree in the same call.
//
// The book holds references to orders but never changes their amounts or
// status; the matching engine owns order mutation. It is not safe for
// concurrent use; the owning pod serializes access.
package book

import (
	"container/list"
	"fmt"

	"github.com/google/btree"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/model"
)

var (
	// ErrDuplicateOrder is returned when inserting an order already in the book.
	ErrDuplicateOrder = apperr.New(apperr.StateConflict, "book: order already resting")

	// ErrOrderNotInBook is returned when removing an order the book does not hold.
	ErrOrderNotInBook = apperr.New(apperr.NotFound, "book: order not resting")

	// ErrWrongBook is returned for an order of another event or outcome.
	ErrWrongBook = apperr.New(apperr.Validation, "book: order belongs to a different book")
)

const btreeDegree = 16

type entry struct {
	level *Level
	elem  *list.Element
}

// Book is a two-sided price-level index for one outcome of one event.
type Book struct {
	EventID string
	Outcome int

	bids  *btree.BTreeG[*Level]
	asks  *btree.BTreeG[*Level]
	index map[string]entry
}

// New creates an empty book.
func New(eventID string, outcome int) *Book {
	return &Book{
		EventID: eventID,
		Outcome: outcome,
		bids: btree.NewG(btreeDegree, func(a, b *Level) bool {
			return a.Price > b.Price
		}),
		asks: btree.NewG(btreeDegree, func(a, b *Level) bool {
			return a.Price < b.Price
		}),
		index: make(map[string]entry),
	}
}

func (b *Book) side(s model.Side) *btree.BTreeG[*Level] {
	if s == model.Buy {
		return b.bids
	}
	return b.asks
}

// Insert appends o to the queue at its price, creating the level if needed.
func (b *Book) Insert(o *model.Order) error {
	if o.EventID != b.EventID || o.Outcome != b.Outcome {
		return fmt.Errorf("%w: order %s is for %s/%d", ErrWrongBook, o.ID, o.EventID, o.Outcome)
	}
	if _, ok := b.index[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}

	tree := b.side(o.Side)
	lvl, ok := tree.Get(&Level{Price: o.Price})
	if !ok {
		lvl = newLevel(o.Price)
		tree.ReplaceOrInsert(lvl)
	}
	b.index[o.ID] = entry{level: lvl, elem: lvl.orders.PushBack(o)}
	return nil
}

// Remove takes o out of its level and drops the level if it empties.
func (b *Book) Remove(o *model.Order) error {
	ent, ok := b.index[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotInBook, o.ID)
	}
	ent.level.orders.Remove(ent.elem)
	delete(b.index, o.ID)

	if ent.level.orders.Len() == 0 {
		b.side(o.Side).Delete(ent.level)
	}
	return nil
}

// Contains reports whether the order id is resting in the book.
func (b *Book) Contains(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}

// Best returns the best level on a side, or nil if the side is empty.
func (b *Book) Best(s model.Side) *Level {
	lvl, ok := b.side(s).Min()
	if !ok {
		return nil
	}
	return lvl
}

// BestBid returns the highest bid price and the open amount resting there.
func (b *Book) BestBid() (model.Quote, bool) { return b.quote(model.Buy) }

// BestAsk returns the lowest ask price and the open amount resting there.
func (b *Book) BestAsk() (model.Quote, bool) { return b.quote(model.Sell) }

func (b *Book) quote(s model.Side) (model.Quote, bool) {
	lvl := b.Best(s)
	if lvl == nil {
		return model.Quote{}, false
	}
	return model.Quote{Price: lvl.Price, Amount: lvl.Volume()}, true
}

// Depth returns up to n levels of one side, best first. n <= 0 means all.
func (b *Book) Depth(s model.Side, n int) []model.Quote {
	quotes := []model.Quote{}
	b.side(s).Ascend(func(lvl *Level) bool {
		quotes = append(quotes, model.Quote{Price: lvl.Price, Amount: lvl.Volume()})
		return n <= 0 || len(quotes) < n
	})
	return quotes
}

// Orders returns every resting order: bids best-first then asks best-first,
// each level in arrival order.
func (b *Book) Orders() []*model.Order {
	out := make([]*model.Order, 0, len(b.index))
	collect := func(lvl *Level) bool {
		out = append(out, lvl.Orders()...)
		return true
	}
	b.bids.Ascend(collect)
	b.asks.Ascend(collect)
	return out
}

// Walk calls fn for each order on side s in matching priority: best price
// first, arrival order within a level. It stops when fn returns false.
func (b *Book) Walk(s model.Side, fn func(*model.Order) bool) {
	b.side(s).Ascend(func(lvl *Level) bool {
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			if !fn(e.Value.(*model.Order)) {
				return false
			}
		}
		return true
	})
}

// Len returns the number of resting orders.
func (b *Book) Len() int { return len(b.index) }

// Levels returns the number of price levels on a side.
func (b *Book) Levels(s model.Side) int { return b.side(s).Len() }
