package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/ledger"
	"github.com/atmx/market-core/internal/matching"
	"github.com/atmx/market-core/internal/model"
)

const (
	usdc = "USDC"
	evt  = "evt-1"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*ledger.Ledger, *matching.Engine, *Engine) {
	t.Helper()
	l := ledger.New()
	m := matching.New(l)
	_, err := m.RegisterMarket(matching.MarketSpec{EventID: evt, OutcomeCount: 2, Token: usdc, FeeAccount: "fees", At: now})
	require.NoError(t, err)
	return l, m, New(m, l)
}

func TestSettleEvent_PayoutScenario(t *testing.T) {
	l, _, s := setup(t)
	require.NoError(t, l.Deposit("w1", usdc, 100))
	require.NoError(t, l.Deposit("w2", usdc, 200))
	require.NoError(t, l.MintCompleteSet("w1", evt, usdc, 100))
	require.NoError(t, l.MintCompleteSet("w2", evt, usdc, 200))

	res, err := s.SettleEvent(evt, 0, now)
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.Pool)
	assert.Equal(t, int64(300), res.TotalWinning)
	assert.Equal(t, []model.Payout{
		{User: "w1", Position: 100, Reward: 100},
		{User: "w2", Position: 200, Reward: 200},
	}, res.Payouts)
	assert.Zero(t, res.Residual)

	assert.Equal(t, int64(100), l.Balance("w1", usdc))
	assert.Equal(t, int64(200), l.Balance("w2", usdc))
	assert.Zero(t, l.PrizePool(evt, usdc))
	require.NoError(t, l.Audit())
}

func TestSettleEvent_DrainsOrdersBeforePayout(t *testing.T) {
	l, m, s := setup(t)
	require.NoError(t, l.Deposit("seller", usdc, 100))
	require.NoError(t, l.MintCompleteSet("seller", evt, usdc, 100))
	require.NoError(t, l.Deposit("buyer", usdc, 100))

	_, _, err := m.PlaceOrder(matching.PlaceRequest{ID: "s", Owner: "seller", EventID: evt, Outcome: 0, Side: model.Sell, Price: 8000, Amount: 40, Token: usdc, At: now})
	require.NoError(t, err)
	_, _, err = m.PlaceOrder(matching.PlaceRequest{ID: "b", Owner: "buyer", EventID: evt, Outcome: 0, Side: model.Buy, Price: 5000, Amount: 100, Token: usdc, At: now})
	require.NoError(t, err)

	res, err := s.SettleEvent(evt, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CancelledOrders)
	assert.Equal(t, []model.Payout{{User: "seller", Position: 100, Reward: 100}}, res.Payouts)

	assert.Equal(t, int64(200), l.Balance("seller", usdc)+l.Balance("buyer", usdc))
	assert.Equal(t, int64(100), l.Balance("buyer", usdc))
	assert.Zero(t, l.LockedCollateral("buyer", usdc))
	assert.Zero(t, m.RestingOrders(evt))

	o, _ := m.Order("s")
	assert.Equal(t, model.StatusCancelled, o.Status)
	mk, _ := m.Market(evt)
	assert.Equal(t, model.MarketSettled, mk.Status)
	require.NotNil(t, mk.Winner)
	assert.Equal(t, 0, *mk.Winner)
	require.NoError(t, l.Audit())
}

func TestSettleEvent_RejectedTwice(t *testing.T) {
	_, _, s := setup(t)
	_, err := s.SettleEvent(evt, 1, now)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = s.SettleEvent(evt, 1, now)
		require.ErrorIs(t, err, ErrAlreadySettled)
		assert.Equal(t, apperr.StateConflict, apperr.KindOf(err))
	}
	_, err = s.CancelMarket(evt, now)
	require.ErrorIs(t, err, ErrAlreadySettled)
}

func TestSettleEvent_Validation(t *testing.T) {
	_, _, s := setup(t)
	_, err := s.SettleEvent(evt, 2, now)
	require.ErrorIs(t, err, ErrInvalidOutcome)
	_, err = s.SettleEvent("missing", 0, now)
	require.ErrorIs(t, err, matching.ErrUnknownMarket)
}

func TestCancelMarket(t *testing.T) {
	l, m, s := setup(t)
	require.NoError(t, l.Deposit("u", usdc, 100))
	require.NoError(t, l.MintCompleteSet("u", evt, usdc, 50))
	_, _, err := m.PlaceOrder(matching.PlaceRequest{ID: "s", Owner: "u", EventID: evt, Outcome: 1, Side: model.Sell, Price: 3000, Amount: 50, Token: usdc, At: now})
	require.NoError(t, err)

	n, err := s.CancelMarket(evt, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mk, _ := m.Market(evt)
	assert.Equal(t, model.MarketCancelled, mk.Status)

	// Holders get their collateral back by burning; minting is closed.
	require.ErrorIs(t, l.MintCompleteSet("u", evt, usdc, 1), ledger.ErrEventClosed)
	require.NoError(t, l.BurnCompleteSet("u", evt, usdc, 50))
	assert.Equal(t, int64(100), l.Balance("u", usdc))

	_, err = s.SettleEvent(evt, 0, now)
	require.ErrorIs(t, err, ErrMarketCancelled)
	_, err = s.CancelMarket(evt, now)
	require.ErrorIs(t, err, ErrMarketCancelled)
	require.NoError(t, l.Audit())
}
