// Package model defines the core domain types shared across the exchange core.
//
// Amounts, balances and prices are int64 fixed-point integers. A price is the
// probability of an outcome in basis points: MaxPrice represents 1.0, so a
// claim bought at price p costs amount*p/MaxPrice units of collateral.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxPrice is the highest allowed price (probability 1.0000).
	MaxPrice int64 = 10000

	// TickSize is the minimum price increment.
	TickSize int64 = 10

	// MaxOrderAmount bounds a single order so notional math stays in int64.
	MaxOrderAmount int64 = 1_000_000_000_000

	// MinOutcomes and MaxOutcomes bound the outcome count of an event.
	MinOutcomes = 2
	MaxOutcomes = 32
)

// Side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle state of an order.
// Pending → {Partial, Filled, Cancelled}; Partial → {Filled, Cancelled}.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no transition can leave s.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is a limit order on one outcome of one event.
// Invariant: FilledAmount + RemainingAmount + CancelledAmount == OriginalAmount,
// and RemainingAmount == 0 exactly when Status is terminal.
type Order struct {
	ID              string      `json:"id"`
	Owner           string      `json:"owner"`
	EventID         string      `json:"event_id"`
	Outcome         int         `json:"outcome"`
	Side            Side        `json:"side"`
	Price           int64       `json:"price"`
	OriginalAmount  int64       `json:"original_amount"`
	FilledAmount    int64       `json:"filled_amount"`
	RemainingAmount int64       `json:"remaining_amount"`
	CancelledAmount int64       `json:"cancelled_amount"`
	Status          OrderStatus `json:"status"`
	Token           string      `json:"token"`

	// Locked is what is still escrowed for the order: collateral (including
	// fee headroom) for buys, outcome claims for sells.
	Locked int64 `json:"locked"`

	// Seq is the arrival sequence inside the pod.
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the order can still trade.
func (o *Order) Open() bool { return !o.Status.Terminal() && o.RemainingAmount > 0 }

// Probability renders the price as a decimal probability (6000 → 0.6).
func (o *Order) Probability() decimal.Decimal { return PriceToProbability(o.Price) }

// PriceToProbability converts a basis-point price to a decimal probability.
func PriceToProbability(price int64) decimal.Decimal {
	return decimal.New(price, -4)
}

// MarketStatus is the trading status of an event as seen by the core.
type MarketStatus string

const (
	MarketActive    MarketStatus = "active"
	MarketSettled   MarketStatus = "settled"
	MarketCancelled MarketStatus = "cancelled"
)

// Market is the core's view of an externally managed event.
// FeeRateBps and FeeAccount are fixed at registration so replaying the
// journal always reproduces the same fee movements.
type Market struct {
	EventID      string       `json:"event_id"`
	OutcomeCount int          `json:"outcome_count"`
	Token        string       `json:"token"`
	FeeRateBps   int64        `json:"fee_rate_bps"`
	FeeAccount   string       `json:"fee_account"`
	Status       MarketStatus `json:"status"`
	Winner       *int         `json:"winner,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
}

// Trade is an immutable record of one fill. Price is always the maker's price.
type Trade struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	Outcome     int       `json:"outcome"`
	Price       int64     `json:"price"`
	Amount      int64     `json:"amount"`
	Notional    int64     `json:"notional"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	TakerSide   Side      `json:"taker_side"`
	BuyerFee    int64     `json:"buyer_fee"`
	SellerFee   int64     `json:"seller_fee"`
	Timestamp   time.Time `json:"timestamp"`
}

// Quote is the aggregate remaining amount at one price level.
type Quote struct {
	Price  int64 `json:"price"`
	Amount int64 `json:"amount"`
}

// Holding is one user's free claim position on an outcome.
type Holding struct {
	User   string `json:"user"`
	Amount int64  `json:"amount"`
}

// Payout is the reward credited to one winning-claim holder.
type Payout struct {
	User     string `json:"user"`
	Position int64  `json:"position"`
	Reward   int64  `json:"reward"`
}

// Settlement summarises a finalized event.
// Residual is the integer-division remainder kept by the platform.
type Settlement struct {
	EventID         string    `json:"event_id"`
	Winner          int       `json:"winner"`
	Token           string    `json:"token"`
	Pool            int64     `json:"pool"`
	TotalWinning    int64     `json:"total_winning"`
	Payouts         []Payout  `json:"payouts"`
	Residual        int64     `json:"residual"`
	CancelledOrders int       `json:"cancelled_orders"`
	SettledAt       time.Time `json:"settled_at"`
}

// Balance is a user's free and order-locked collateral in one token.
type Balance struct {
	Token  string `json:"token"`
	Free   int64  `json:"free"`
	Locked int64  `json:"locked"`
}

// Position is a user's claim holding on one outcome.
type Position struct {
	EventID string `json:"event_id"`
	Outcome int    `json:"outcome"`
	Amount  int64  `json:"amount"`
	Locked  int64  `json:"locked"`
}

// Portfolio aggregates a user's balances, positions and resting orders.
type Portfolio struct {
	UserID     string     `json:"user_id"`
	Balances   []Balance  `json:"balances"`
	Positions  []Position `json:"positions"`
	OpenOrders []Order    `json:"open_orders"`
}
