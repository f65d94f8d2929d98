package pod

import (
	"github.com/atmx/market-core/internal/ledger"
	"github.com/atmx/market-core/internal/model"
)

// BestBid returns the highest bid on an outcome and whether one exists.
func (p *Pod) BestBid(eventID string, outcome int) (model.Quote, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matching.BestBid(eventID, outcome)
}

// BestAsk returns the lowest ask on an outcome and whether one exists.
func (p *Pod) BestAsk(eventID string, outcome int) (model.Quote, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matching.BestAsk(eventID, outcome)
}

// BookSnapshot returns up to n price levels per side of an outcome's book and
// the book version it was read at.
func (p *Pod) BookSnapshot(eventID string, outcome, n int) (bids, asks []model.Quote, version int64, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bids, asks, err = p.matching.Depth(eventID, outcome, n)
	return bids, asks, p.bookVersions[eventID], err
}

// BookVersion returns the seq of the last command that changed the event's
// books. Two reads with the same version saw the same books.
func (p *Pod) BookVersion(eventID string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bookVersions[eventID]
}

// Balance returns the user's free and locked collateral in token.
func (p *Pod) Balance(user, token string) model.Balance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance(user, token)
}

func (p *Pod) balance(user, token string) model.Balance {
	return model.Balance{
		Token:  token,
		Free:   p.ledger.Balance(user, token),
		Locked: p.ledger.LockedCollateral(user, token),
	}
}

// Position returns the user's claims on one outcome.
func (p *Pod) Position(user, eventID string, outcome int) model.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return model.Position{
		EventID: eventID,
		Outcome: outcome,
		Amount:  p.ledger.Position(user, eventID, outcome),
		Locked:  p.ledger.LockedPosition(user, eventID, outcome),
	}
}

// PrizePool returns the collateral backing the event's complete sets.
func (p *Pod) PrizePool(eventID, token string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.PrizePool(eventID, token)
}

// Totals returns the conservation breakdown of token.
func (p *Pod) Totals(token string) ledger.Totals {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.Totals(token)
}

func (p *Pod) Order(orderID string) (model.Order, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matching.Order(orderID)
}

func (p *Pod) Market(eventID string) (model.Market, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matching.Market(eventID)
}

func (p *Pod) Markets() []model.Market {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matching.Markets()
}

func (p *Pod) Trades(eventID string) ([]model.Trade, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matching.Trades(eventID)
}

// Portfolio returns a consistent snapshot of the user's balances, positions
// and open orders.
func (p *Pod) Portfolio(user string) model.Portfolio {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return model.Portfolio{
		UserID:     user,
		Balances:   p.ledger.Balances(user),
		Positions:  p.ledger.Positions(user),
		OpenOrders: p.matching.OpenOrders(user),
	}
}

// IsOperator reports whether id is a configured market operator.
func (p *Pod) IsOperator(id string) bool { return p.matching.IsOperator(id) }
