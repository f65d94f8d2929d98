// Package fee implements the trading-fee arithmetic of the exchange core.
//
// Every function is pure. Rates are expressed in basis points of notional,
// and all rounding is explicit integer rounding performed with
// shopspring/decimal so intermediate products never overflow int64.
//
// Fee model:
//   - The fee on a trade is floor(notional * rate / 10000).
//   - It is split between buyer and seller: the side computed second pays
//     floor(notional * rate / 20000) and the side computed first pays the
//     rest, absorbing the rounding remainder. The taker is computed first.
//   - Notional is rounded against the taker: a buying taker pays
//     ceil(amount * price / MaxPrice) and a selling taker receives the floor.
//     A resting order therefore never trades below its own value, however
//     small the fills that hit it.
//   - A buy order reserves, at placement, the exact cost of the fills it
//     takes immediately plus BuyLock for the part that will rest. Fills
//     consume that reservation and refund any unused part, so a fee is never
//     a separate debit that can fail.
//   - The seller's fee is deducted from the seller's proceeds.
package fee

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/model"
)

const (
	// BasisPoints is the rate denominator (100%).
	BasisPoints int64 = 10000

	// MaxRateBps is the highest fee rate the core accepts (50%).
	MaxRateBps int64 = 5000
)

var (
	// ErrInvalidRate is returned for a rate outside [0, MaxRateBps].
	ErrInvalidRate = apperr.New(apperr.Validation, "fee: rate must be within [0, 5000] basis points")
)

// ValidateRate checks that rate is an accepted fee rate.
func ValidateRate(rate int64) error {
	if rate < 0 || rate > MaxRateBps {
		return ErrInvalidRate
	}
	return nil
}

// Fee returns floor(notional * rate / 10000).
func Fee(notional, rate int64) int64 {
	return divide(product(notional, rate), BasisPoints, false)
}

// Notional returns the collateral value floor(amount * price / MaxPrice).
func Notional(amount, price int64) int64 {
	return divide(product(amount, price), model.MaxPrice, false)
}

// NotionalUp returns ceil(amount * price / MaxPrice), the notional a buying
// taker pays.
func NotionalUp(amount, price int64) int64 {
	return divide(product(amount, price), model.MaxPrice, true)
}

// TakerNotional returns the notional of a fill rounded against the taker.
func TakerNotional(amount, price int64, taker model.Side) int64 {
	if taker == model.Buy {
		return NotionalUp(amount, price)
	}
	return Notional(amount, price)
}

// BuyLock returns the collateral a buy order must keep escrowed for amount
// unfilled claims at limit price: ceil(amount*price*(10000+rate) / (MaxPrice*10000)).
//
// For any fill of q claims against the resting buy at a price p <= price,
// the reduction BuyLock(r, price) - BuyLock(r-q, price) is at least
// Notional(q, p) + Fee(Notional(q, p), rate), so a maker fill can always be
// paid from the reservation.
func BuyLock(amount, price, rate int64) int64 {
	return divide(product(amount, price, BasisPoints+rate), model.MaxPrice*BasisPoints, true)
}

// Split is the allocation of one trade's fee.
type Split struct {
	Total  int64 `json:"total"`
	First  int64 `json:"first"`
	Second int64 `json:"second"`
}

// SplitFee divides the fee on notional between two sides. First is the side
// computed first and absorbs the rounding remainder, so First >= Second and
// First - Second <= 1.
func SplitFee(notional, rate int64) Split {
	total := Fee(notional, rate)
	second := divide(product(notional, rate), 2*BasisPoints, false)
	return Split{Total: total, First: total - second, Second: second}
}

// Allocate returns the buyer's and seller's fee for a trade. The taker's
// side is computed first.
func Allocate(notional, rate int64, taker model.Side) (buyerFee, sellerFee int64) {
	s := SplitFee(notional, rate)
	if taker == model.Buy {
		return s.First, s.Second
	}
	return s.Second, s.First
}

func product(factors ...int64) decimal.Decimal {
	p := decimal.NewFromInt(1)
	for _, f := range factors {
		p = p.Mul(decimal.NewFromInt(f))
	}
	return p
}

// divide performs integer division of a non-negative numerator, rounding
// down or up.
func divide(num decimal.Decimal, den int64, roundUp bool) int64 {
	q, r := num.QuoRem(decimal.NewFromInt(den), 0)
	if roundUp && r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart()
}
