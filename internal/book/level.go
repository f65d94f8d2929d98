package book

import (
	"container/list"

	"github.com/atmx/market-core/internal/model"
)

// Level is the FIFO queue of resting orders at one price on one side.
type Level struct {
	Price  int64
	orders *list.List // of *model.Order, arrival order
}

func newLevel(price int64) *Level {
	return &Level{Price: price, orders: list.New()}
}

// Front returns the oldest order at this price, or nil.
func (l *Level) Front() *model.Order {
	if e := l.orders.Front(); e != nil {
		return e.Value.(*model.Order)
	}
	return nil
}

// Len returns the number of orders queued at this price.
func (l *Level) Len() int { return l.orders.Len() }

// Volume sums the remaining amount of every open order at this price.
func (l *Level) Volume() int64 {
	var v int64
	for e := l.orders.Front(); e != nil; e = e.Next() {
		if o := e.Value.(*model.Order); o.Open() {
			v += o.RemainingAmount
		}
	}
	return v
}

// Orders returns the queued orders in arrival order.
func (l *Level) Orders() []*model.Order {
	out := make([]*model.Order, 0, l.orders.Len())
	for e := l.orders.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*model.Order))
	}
	return out
}
