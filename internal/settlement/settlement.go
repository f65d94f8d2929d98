// Package settlement finalizes events: it drains every resting order of the
// event, then pays the prize pool out to the holders of the winning outcome.
package settlement

import (
	"fmt"
	"time"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/ledger"
	"github.com/atmx/market-core/internal/matching"
	"github.com/atmx/market-core/internal/model"
)

var (
	ErrAlreadySettled  = apperr.New(apperr.StateConflict, "settlement: event already settled")
	ErrMarketCancelled = apperr.New(apperr.StateConflict, "settlement: market was cancelled")
	ErrInvalidOutcome  = apperr.New(apperr.Validation, "settlement: winning outcome out of range")
	ErrPayoutFailed    = apperr.New(apperr.Fatal, "settlement: ledger rejected payout")
)

// Engine settles and cancels markets of one pod.
type Engine struct {
	matching *matching.Engine
	ledger   *ledger.Ledger
}

// New creates a settlement engine over the pod's matching engine and ledger.
func New(m *matching.Engine, l *ledger.Ledger) *Engine {
	return &Engine{matching: m, ledger: l}
}

func (s *Engine) closable(eventID string) (model.Market, error) {
	m, ok := s.matching.Market(eventID)
	if !ok {
		return model.Market{}, fmt.Errorf("%w: %s", matching.ErrUnknownMarket, eventID)
	}
	switch m.Status {
	case model.MarketSettled:
		return m, fmt.Errorf("%w: %s", ErrAlreadySettled, eventID)
	case model.MarketCancelled:
		return m, fmt.Errorf("%w: %s", ErrMarketCancelled, eventID)
	}
	return m, nil
}

// SettleEvent cancels every resting order of the event, pays each holder of
// the winning outcome floor(pool * position / totalWinning) and marks the
// market settled. The rounding remainder is retained as platform residual.
func (s *Engine) SettleEvent(eventID string, winner int, at time.Time) (model.Settlement, error) {
	m, err := s.closable(eventID)
	if err != nil {
		return model.Settlement{}, err
	}
	if winner < 0 || winner >= m.OutcomeCount {
		return model.Settlement{}, fmt.Errorf("%w: %d", ErrInvalidOutcome, winner)
	}

	cancelled, err := s.matching.DrainMarket(eventID, at)
	if err != nil {
		return model.Settlement{}, err
	}
	d, err := s.ledger.SettleEvent(eventID, winner, s.ledger.Holders(eventID, winner))
	if err != nil {
		return model.Settlement{}, fmt.Errorf("%w: %s: %v", ErrPayoutFailed, eventID, err)
	}
	if err := s.matching.MarkSettled(eventID, winner, at); err != nil {
		return model.Settlement{}, err
	}

	return model.Settlement{
		EventID:         eventID,
		Winner:          winner,
		Token:           d.Token,
		Pool:            d.Pool,
		TotalWinning:    d.TotalWinning,
		Payouts:         d.Payouts,
		Residual:        d.Residual,
		CancelledOrders: cancelled,
		SettledAt:       at,
	}, nil
}

// CancelMarket drains the event's orders and closes it without a payout.
// Holders recover collateral by burning complete sets.
func (s *Engine) CancelMarket(eventID string, at time.Time) (int, error) {
	if _, err := s.closable(eventID); err != nil {
		return 0, err
	}
	cancelled, err := s.matching.DrainMarket(eventID, at)
	if err != nil {
		return cancelled, err
	}
	if err := s.ledger.CloseEvent(eventID); err != nil {
		return cancelled, fmt.Errorf("%w: %s: %v", ErrPayoutFailed, eventID, err)
	}
	return cancelled, s.matching.MarkCancelled(eventID, at)
}
