package ledger

import (
	"fmt"

	"github.com/atmx/market-core/internal/model"
)

// MintCompleteSet converts amount collateral into amount claims on every
// outcome of the event. The collateral joins the event's prize pool.
func (l *Ledger) MintCompleteSet(user, eventID, token string, amount int64) error {
	ev, err := l.event(eventID)
	if err != nil {
		return err
	}
	switch {
	case user == "":
		return ErrInvalidAccount
	case amount <= 0:
		return ErrInvalidAmount
	case ev.settled:
		return ErrEventSettled
	case ev.closed:
		return ErrEventClosed
	case token != ev.token:
		return fmt.Errorf("%w: want %s", ErrTokenMismatch, ev.token)
	}
	if have := l.free[user][token]; have < amount {
		return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientBalance, have, amount)
	}

	add(l.free, user, token, -amount)
	ev.pool += amount
	for i := range ev.positions {
		adjust(ev.positions[i], user, amount)
	}
	return nil
}

// BurnCompleteSet redeems amount claims on every outcome for amount
// collateral from the prize pool.
func (l *Ledger) BurnCompleteSet(user, eventID, token string, amount int64) error {
	ev, err := l.event(eventID)
	if err != nil {
		return err
	}
	switch {
	case user == "":
		return ErrInvalidAccount
	case amount <= 0:
		return ErrInvalidAmount
	case ev.settled:
		return ErrEventSettled
	case token != ev.token:
		return fmt.Errorf("%w: want %s", ErrTokenMismatch, ev.token)
	}
	for i := range ev.positions {
		if have := ev.positions[i][user]; have < amount {
			return fmt.Errorf("%w: outcome=%d have=%d need=%d", ErrInsufficientPosition, i, have, amount)
		}
	}

	for i := range ev.positions {
		adjust(ev.positions[i], user, -amount)
	}
	ev.pool -= amount
	add(l.free, user, token, amount)
	return nil
}

// Lock describes escrow held for one order: collateral for a buy, claims on
// the order's outcome for a sell.
type Lock struct {
	User    string
	Token   string
	EventID string
	Outcome int
	Side    model.Side
	Amount  int64
}

// LockForOrder moves funds from free to locked for a new order.
func (l *Ledger) LockForOrder(lk Lock) error {
	if lk.Amount <= 0 {
		return ErrInvalidAmount
	}
	ev, err := l.event(lk.EventID)
	if err != nil {
		return err
	}
	if err := ev.checkOutcome(lk.Outcome); err != nil {
		return err
	}
	if ev.settled {
		return ErrEventSettled
	}
	switch lk.Side {
	case model.Buy:
		if lk.Token != ev.token {
			return fmt.Errorf("%w: want %s", ErrTokenMismatch, ev.token)
		}
		if have := l.free[lk.User][lk.Token]; have < lk.Amount {
			return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientBalance, have, lk.Amount)
		}
		add(l.free, lk.User, lk.Token, -lk.Amount)
		add(l.locked, lk.User, lk.Token, lk.Amount)
	case model.Sell:
		if have := ev.positions[lk.Outcome][lk.User]; have < lk.Amount {
			return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientPosition, have, lk.Amount)
		}
		adjust(ev.positions[lk.Outcome], lk.User, -lk.Amount)
		adjust(ev.lockedClaims[lk.Outcome], lk.User, lk.Amount)
	default:
		return fmt.Errorf("ledger: invalid side %q", lk.Side)
	}
	return nil
}

// UnlockForOrder returns escrow of a cancelled order to the owner.
func (l *Ledger) UnlockForOrder(lk Lock) error {
	if lk.Amount == 0 {
		return nil
	}
	if lk.Amount < 0 {
		return ErrInvalidAmount
	}
	ev, err := l.event(lk.EventID)
	if err != nil {
		return err
	}
	if err := ev.checkOutcome(lk.Outcome); err != nil {
		return err
	}
	switch lk.Side {
	case model.Buy:
		if have := l.locked[lk.User][lk.Token]; have < lk.Amount {
			return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientLocked, have, lk.Amount)
		}
		add(l.locked, lk.User, lk.Token, -lk.Amount)
		add(l.free, lk.User, lk.Token, lk.Amount)
	case model.Sell:
		if have := ev.lockedClaims[lk.Outcome][lk.User]; have < lk.Amount {
			return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientLocked, have, lk.Amount)
		}
		adjust(ev.lockedClaims[lk.Outcome], lk.User, -lk.Amount)
		adjust(ev.positions[lk.Outcome], lk.User, lk.Amount)
	default:
		return fmt.Errorf("ledger: invalid side %q", lk.Side)
	}
	return nil
}

// Fill is the escrow movement of one trade.
//
// BuyerRelease is the part of the buyer's lock consumed by the fill. It
// covers Notional and BuyerFee; anything left over goes back to the buyer's
// free balance. The seller's locked claims move to the buyer and the seller
// receives Notional minus SellerFee. Both fees go to FeeAccount.
type Fill struct {
	EventID      string
	Outcome      int
	Token        string
	Buyer        string
	Seller       string
	Claims       int64
	BuyerRelease int64
	Notional     int64
	BuyerFee     int64
	SellerFee    int64
	FeeAccount   string
}

// SettleMatchedOrder applies a trade to the ledger. Only the matching engine
// calls it; an error means the engine and ledger disagree.
func (l *Ledger) SettleMatchedOrder(f Fill) error {
	ev, err := l.event(f.EventID)
	if err != nil {
		return err
	}
	if err := ev.checkOutcome(f.Outcome); err != nil {
		return err
	}
	switch {
	case ev.settled:
		return ErrEventSettled
	case f.Token != ev.token, f.FeeAccount == "":
		return fmt.Errorf("%w: token or fee account", ErrInvalidFill)
	case f.Claims <= 0, f.Notional < 0, f.BuyerFee < 0, f.SellerFee < 0:
		return fmt.Errorf("%w: negative amounts", ErrInvalidFill)
	case f.BuyerRelease < f.Notional+f.BuyerFee:
		return fmt.Errorf("%w: release=%d below notional=%d+fee=%d", ErrInvalidFill, f.BuyerRelease, f.Notional, f.BuyerFee)
	case f.SellerFee > f.Notional:
		return fmt.Errorf("%w: seller fee=%d above notional=%d", ErrInvalidFill, f.SellerFee, f.Notional)
	}
	if have := l.locked[f.Buyer][f.Token]; have < f.BuyerRelease {
		return fmt.Errorf("%w: buyer locked=%d need=%d", ErrInsufficientLocked, have, f.BuyerRelease)
	}
	if have := ev.lockedClaims[f.Outcome][f.Seller]; have < f.Claims {
		return fmt.Errorf("%w: seller claims=%d need=%d", ErrInsufficientLocked, have, f.Claims)
	}

	add(l.locked, f.Buyer, f.Token, -f.BuyerRelease)
	if refund := f.BuyerRelease - f.Notional - f.BuyerFee; refund > 0 {
		add(l.free, f.Buyer, f.Token, refund)
	}
	if proceeds := f.Notional - f.SellerFee; proceeds > 0 {
		add(l.free, f.Seller, f.Token, proceeds)
	}
	if fees := f.BuyerFee + f.SellerFee; fees > 0 {
		add(l.free, f.FeeAccount, f.Token, fees)
	}
	adjust(ev.lockedClaims[f.Outcome], f.Seller, -f.Claims)
	adjust(ev.positions[f.Outcome], f.Buyer, f.Claims)
	return nil
}
