package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/model"
)

const (
	usdc  = "USDC"
	event = "evt-1"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	require.NoError(t, l.RegisterEvent(event, 2, usdc))
	return l
}

func TestDepositWithdraw(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("alice", usdc, 500))
	require.NoError(t, l.Withdraw("alice", usdc, 200))
	assert.Equal(t, int64(300), l.Balance("alice", usdc))

	err := l.Withdraw("alice", usdc, 301)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, apperr.InsufficientResource, apperr.KindOf(err))
	assert.Equal(t, int64(300), l.Balance("alice", usdc))

	require.ErrorIs(t, l.Deposit("alice", usdc, 0), ErrInvalidAmount)
	require.ErrorIs(t, l.Withdraw("alice", usdc, -5), ErrInvalidAmount)
	require.NoError(t, l.Audit())
}

func TestDeposit_RejectsSupplyOverflow(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("alice", usdc, math.MaxInt64))

	err := l.Deposit("bob", usdc, 10)
	require.ErrorIs(t, err, ErrSupplyOverflow)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Zero(t, l.Balance("bob", usdc))

	err = l.Deposit("alice", usdc, 1)
	require.ErrorIs(t, err, ErrSupplyOverflow)
	assert.Equal(t, int64(math.MaxInt64), l.Balance("alice", usdc))

	require.NoError(t, l.Deposit("bob", "DAI", 10))
	require.NoError(t, l.Audit())
}

func TestRegisterEvent(t *testing.T) {
	l := newLedger(t)
	require.ErrorIs(t, l.RegisterEvent(event, 2, usdc), ErrEventExists)
	require.ErrorIs(t, l.RegisterEvent("evt-2", 1, usdc), ErrInvalidOutcomeCount)
	require.ErrorIs(t, l.RegisterEvent("evt-2", 33, usdc), ErrInvalidOutcomeCount)
}

func TestMintBurn_RoundTrip(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("alice", usdc, 1000))

	require.NoError(t, l.MintCompleteSet("alice", event, usdc, 400))
	assert.Equal(t, int64(600), l.Balance("alice", usdc))
	assert.Equal(t, int64(400), l.Position("alice", event, 0))
	assert.Equal(t, int64(400), l.Position("alice", event, 1))
	assert.Equal(t, int64(400), l.PrizePool(event, usdc))
	require.NoError(t, l.Audit())

	require.NoError(t, l.BurnCompleteSet("alice", event, usdc, 400))
	assert.Equal(t, int64(1000), l.Balance("alice", usdc))
	assert.Zero(t, l.Position("alice", event, 0))
	assert.Zero(t, l.Position("alice", event, 1))
	assert.Zero(t, l.PrizePool(event, usdc))
	require.NoError(t, l.Audit())
}

func TestMint_Rejections(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("alice", usdc, 100))

	require.ErrorIs(t, l.MintCompleteSet("alice", event, usdc, 101), ErrInsufficientBalance)
	require.ErrorIs(t, l.MintCompleteSet("alice", "nope", usdc, 1), ErrUnknownEvent)
	require.ErrorIs(t, l.MintCompleteSet("alice", event, "DAI", 1), ErrTokenMismatch)
	require.ErrorIs(t, l.MintCompleteSet("alice", event, usdc, 0), ErrInvalidAmount)

	require.NoError(t, l.CloseEvent(event))
	require.ErrorIs(t, l.MintCompleteSet("alice", event, usdc, 1), ErrEventClosed)
	assert.Equal(t, int64(100), l.Balance("alice", usdc))
}

func TestBurn_AllowedAfterClose(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("alice", usdc, 100))
	require.NoError(t, l.MintCompleteSet("alice", event, usdc, 100))
	require.NoError(t, l.CloseEvent(event))

	require.NoError(t, l.BurnCompleteSet("alice", event, usdc, 100))
	assert.Equal(t, int64(100), l.Balance("alice", usdc))
}

func TestBurn_NeedsEveryOutcome(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("alice", usdc, 100))
	require.NoError(t, l.MintCompleteSet("alice", event, usdc, 100))
	require.NoError(t, l.LockForOrder(Lock{User: "alice", Token: usdc, EventID: event, Outcome: 1, Side: model.Sell, Amount: 30}))

	require.ErrorIs(t, l.BurnCompleteSet("alice", event, usdc, 80), ErrInsufficientPosition)
	assert.Equal(t, int64(100), l.Position("alice", event, 0))
	require.NoError(t, l.BurnCompleteSet("alice", event, usdc, 70))
	require.NoError(t, l.Audit())
}

func TestLockUnlock(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("bob", usdc, 100))

	buy := Lock{User: "bob", Token: usdc, EventID: event, Outcome: 0, Side: model.Buy, Amount: 61}
	require.NoError(t, l.LockForOrder(buy))
	assert.Equal(t, int64(39), l.Balance("bob", usdc))
	assert.Equal(t, int64(61), l.LockedCollateral("bob", usdc))

	require.ErrorIs(t, l.LockForOrder(Lock{User: "bob", Token: usdc, EventID: event, Side: model.Buy, Amount: 40}), ErrInsufficientBalance)
	require.ErrorIs(t, l.LockForOrder(Lock{User: "bob", Token: usdc, EventID: event, Side: model.Sell, Amount: 1}), ErrInsufficientPosition)
	require.ErrorIs(t, l.LockForOrder(Lock{User: "bob", Token: usdc, EventID: event, Outcome: 2, Side: model.Buy, Amount: 1}), ErrInvalidOutcome)

	require.NoError(t, l.UnlockForOrder(buy))
	assert.Equal(t, int64(100), l.Balance("bob", usdc))
	assert.Zero(t, l.LockedCollateral("bob", usdc))
	require.ErrorIs(t, l.UnlockForOrder(buy), ErrInsufficientLocked)
	require.NoError(t, l.Audit())
}

func TestSettleMatchedOrder(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("seller", usdc, 100))
	require.NoError(t, l.MintCompleteSet("seller", event, usdc, 100))
	require.NoError(t, l.Deposit("buyer", usdc, 100))

	require.NoError(t, l.LockForOrder(Lock{User: "seller", Token: usdc, EventID: event, Outcome: 0, Side: model.Sell, Amount: 100}))
	require.NoError(t, l.LockForOrder(Lock{User: "buyer", Token: usdc, EventID: event, Outcome: 0, Side: model.Buy, Amount: 61}))

	// 100 @ 6000 with a 1% fee: notional 60, buyer fee 1, seller fee 0.
	require.NoError(t, l.SettleMatchedOrder(Fill{
		EventID: event, Outcome: 0, Token: usdc,
		Buyer: "buyer", Seller: "seller", Claims: 100,
		BuyerRelease: 61, Notional: 60, BuyerFee: 1, SellerFee: 0,
		FeeAccount: "fees",
	}))

	assert.Equal(t, int64(39), l.Balance("buyer", usdc))
	assert.Zero(t, l.LockedCollateral("buyer", usdc))
	assert.Equal(t, int64(100), l.Position("buyer", event, 0))
	assert.Equal(t, int64(60), l.Balance("seller", usdc))
	assert.Zero(t, l.LockedPosition("seller", event, 0))
	assert.Equal(t, int64(100), l.Position("seller", event, 1))
	assert.Equal(t, int64(1), l.Balance("fees", usdc))
	require.NoError(t, l.Audit())
}

func TestSettleMatchedOrder_RefundsSurplus(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("seller", usdc, 50))
	require.NoError(t, l.MintCompleteSet("seller", event, usdc, 50))
	require.NoError(t, l.Deposit("buyer", usdc, 100))
	require.NoError(t, l.LockForOrder(Lock{User: "seller", Token: usdc, EventID: event, Side: model.Sell, Amount: 50}))
	require.NoError(t, l.LockForOrder(Lock{User: "buyer", Token: usdc, EventID: event, Side: model.Buy, Amount: 28}))

	require.NoError(t, l.SettleMatchedOrder(Fill{
		EventID: event, Token: usdc, Buyer: "buyer", Seller: "seller",
		Claims: 50, BuyerRelease: 28, Notional: 25, FeeAccount: "fees",
	}))
	assert.Equal(t, int64(72+3), l.Balance("buyer", usdc))
	assert.Equal(t, int64(25), l.Balance("seller", usdc))
	require.NoError(t, l.Audit())
}

func TestSettleMatchedOrder_RejectsInconsistentFill(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("seller", usdc, 10))
	require.NoError(t, l.MintCompleteSet("seller", event, usdc, 10))
	require.NoError(t, l.Deposit("buyer", usdc, 10))
	require.NoError(t, l.LockForOrder(Lock{User: "seller", Token: usdc, EventID: event, Side: model.Sell, Amount: 10}))
	require.NoError(t, l.LockForOrder(Lock{User: "buyer", Token: usdc, EventID: event, Side: model.Buy, Amount: 5}))

	err := l.SettleMatchedOrder(Fill{
		EventID: event, Token: usdc, Buyer: "buyer", Seller: "seller",
		Claims: 10, BuyerRelease: 4, Notional: 5, FeeAccount: "fees",
	})
	require.ErrorIs(t, err, ErrInvalidFill)
	assert.Equal(t, apperr.Fatal, apperr.KindOf(err))

	err = l.SettleMatchedOrder(Fill{
		EventID: event, Token: usdc, Buyer: "buyer", Seller: "seller",
		Claims: 11, BuyerRelease: 5, Notional: 5, FeeAccount: "fees",
	})
	require.ErrorIs(t, err, ErrInsufficientLocked)
	assert.Equal(t, int64(5), l.LockedCollateral("buyer", usdc))
	assert.Equal(t, int64(10), l.LockedPosition("seller", event, 0))
}

func TestSettleEvent_ProportionalPayout(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("w1", usdc, 100))
	require.NoError(t, l.Deposit("w2", usdc, 200))
	require.NoError(t, l.MintCompleteSet("w1", event, usdc, 100))
	require.NoError(t, l.MintCompleteSet("w2", event, usdc, 200))
	require.Equal(t, int64(300), l.PrizePool(event, usdc))

	d, err := l.SettleEvent(event, 0, l.Holders(event, 0))
	require.NoError(t, err)
	assert.Equal(t, []model.Payout{
		{User: "w1", Position: 100, Reward: 100},
		{User: "w2", Position: 200, Reward: 200},
	}, d.Payouts)
	assert.Zero(t, d.Residual)
	assert.Zero(t, l.PrizePool(event, usdc))
	assert.Equal(t, int64(100), l.Balance("w1", usdc))
	assert.Equal(t, int64(200), l.Balance("w2", usdc))
	assert.Zero(t, l.Position("w1", event, 1))
	require.NoError(t, l.Audit())

	_, err = l.SettleEvent(event, 0, nil)
	require.ErrorIs(t, err, ErrEventSettled)
}

func TestSettleEvent_EmptyEvent(t *testing.T) {
	l := newLedger(t)
	d, err := l.SettleEvent(event, 1, nil)
	require.NoError(t, err)
	assert.Zero(t, d.Pool)
	assert.Empty(t, d.Payouts)
	assert.Zero(t, l.Residual(usdc))
	require.NoError(t, l.Audit())
}

func TestSettleEvent_AfterTrading(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("a", usdc, 50))
	require.NoError(t, l.MintCompleteSet("a", event, usdc, 50))
	require.NoError(t, l.LockForOrder(Lock{User: "a", Token: usdc, EventID: event, Outcome: 0, Side: model.Sell, Amount: 50}))
	require.NoError(t, l.Deposit("b", usdc, 50))
	require.NoError(t, l.LockForOrder(Lock{User: "b", Token: usdc, EventID: event, Outcome: 0, Side: model.Buy, Amount: 50}))
	require.NoError(t, l.SettleMatchedOrder(Fill{
		EventID: event, Token: usdc, Buyer: "b", Seller: "a",
		Claims: 50, BuyerRelease: 50, Notional: 50, FeeAccount: "fees",
	}))
	require.NoError(t, l.Withdraw("a", usdc, 50))

	// a sold outcome 0 and kept outcome 1.
	d, err := l.SettleEvent(event, 1, l.Holders(event, 1))
	require.NoError(t, err)
	assert.Equal(t, []model.Payout{{User: "a", Position: 50, Reward: 50}}, d.Payouts)
	assert.Zero(t, d.Residual)
	assert.Equal(t, int64(50), l.Balance("a", usdc))
	assert.Zero(t, l.Position("b", event, 0))
	require.NoError(t, l.Audit())
}

func TestSettleEvent_Rejections(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("a", usdc, 10))
	require.NoError(t, l.MintCompleteSet("a", event, usdc, 10))

	_, err := l.SettleEvent(event, 2, nil)
	require.ErrorIs(t, err, ErrInvalidOutcome)

	_, err = l.SettleEvent(event, 0, []model.Holding{{User: "a", Amount: 9}})
	require.ErrorIs(t, err, ErrPayoutPlanMismatch)

	_, err = l.SettleEvent(event, 0, nil)
	require.ErrorIs(t, err, ErrPayoutPlanMismatch)

	require.NoError(t, l.LockForOrder(Lock{User: "a", Token: usdc, EventID: event, Side: model.Sell, Amount: 1}))
	_, err = l.SettleEvent(event, 0, l.Holders(event, 0))
	require.ErrorIs(t, err, ErrClaimsLocked)
	assert.Equal(t, int64(10), l.PrizePool(event, usdc))
}

func TestAudit_DetectsDrift(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("a", usdc, 10))
	l.free["a"][usdc] = 11

	err := l.Audit()
	require.ErrorIs(t, err, ErrConservationViolated)
	assert.Equal(t, apperr.Fatal, apperr.KindOf(err))
}

func TestBalancesAndPositions(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Deposit("a", usdc, 100))
	require.NoError(t, l.MintCompleteSet("a", event, usdc, 40))
	require.NoError(t, l.LockForOrder(Lock{User: "a", Token: usdc, EventID: event, Outcome: 1, Side: model.Sell, Amount: 15}))
	require.NoError(t, l.LockForOrder(Lock{User: "a", Token: usdc, EventID: event, Outcome: 0, Side: model.Buy, Amount: 20}))

	assert.Equal(t, []model.Balance{{Token: usdc, Free: 40, Locked: 20}}, l.Balances("a"))
	assert.Equal(t, []model.Position{
		{EventID: event, Outcome: 0, Amount: 40},
		{EventID: event, Outcome: 1, Amount: 25, Locked: 15},
	}, l.Positions("a"))
	assert.Empty(t, l.Balances("ghost"))
}

// TestConservation_Property drives random operation sequences through the
// ledger and audits after every step. Rejected operations must leave the
// totals unchanged.
func TestConservation_Property(t *testing.T) {
	users := []string{"u1", "u2", "u3", "fees"}
	rapid.Check(t, func(t *rapid.T) {
		l := New()
		if err := l.RegisterEvent(event, 3, usdc); err != nil {
			t.Fatal(err)
		}
		var locks []Lock

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			user := rapid.SampledFrom(users).Draw(t, "user")
			amount := rapid.Int64Range(0, 500).Draw(t, "amount")
			outcome := rapid.IntRange(0, 2).Draw(t, "outcome")
			before := l.Totals(usdc)

			var err error
			switch op := rapid.IntRange(0, 7).Draw(t, "op"); op {
			case 0:
				err = l.Deposit(user, usdc, amount)
			case 1:
				err = l.Withdraw(user, usdc, amount)
			case 2:
				err = l.MintCompleteSet(user, event, usdc, amount)
			case 3:
				err = l.BurnCompleteSet(user, event, usdc, amount)
			case 4, 5:
				side := model.Buy
				if op == 5 {
					side = model.Sell
				}
				lk := Lock{User: user, Token: usdc, EventID: event, Outcome: outcome, Side: side, Amount: amount}
				if err = l.LockForOrder(lk); err == nil {
					locks = append(locks, lk)
				}
			case 6:
				if len(locks) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(locks)-1).Draw(t, "lock")
				err = l.UnlockForOrder(locks[idx])
				if err == nil {
					locks = append(locks[:idx], locks[idx+1:]...)
				}
			case 7:
				// Match a locked sell against a locked buy on the same outcome.
				var buy, sell = -1, -1
				for j, lk := range locks {
					if lk.Side == model.Buy && buy < 0 {
						buy = j
					}
				}
				for j, lk := range locks {
					if buy >= 0 && lk.Side == model.Sell && lk.Outcome == locks[buy].Outcome && lk.User != locks[buy].User {
						sell = j
						break
					}
				}
				if buy < 0 || sell < 0 {
					continue
				}
				b, s := locks[buy], locks[sell]
				claims := min(s.Amount, b.Amount)
				if claims == 0 {
					continue
				}
				notional := b.Amount / 2
				err = l.SettleMatchedOrder(Fill{
					EventID: event, Outcome: b.Outcome, Token: usdc,
					Buyer: b.User, Seller: s.User, Claims: claims,
					BuyerRelease: b.Amount, Notional: notional,
					BuyerFee: (b.Amount - notional) / 2, SellerFee: notional / 10,
					FeeAccount: "fees",
				})
				if err == nil {
					locks[buy].Amount = 0
					locks[sell].Amount -= claims
					kept := locks[:0]
					for _, lk := range locks {
						if lk.Amount > 0 {
							kept = append(kept, lk)
						}
					}
					locks = kept
				}
			}

			if auditErr := l.Audit(); auditErr != nil {
				t.Fatalf("step %d: %v", i, auditErr)
			}
			if err != nil {
				after := l.Totals(usdc)
				if after != before {
					t.Fatalf("step %d: rejected op changed totals: %+v → %+v (%v)", i, before, after, err)
				}
			}
		}
	})
}
