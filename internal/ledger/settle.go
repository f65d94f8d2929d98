package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-core/internal/model"
)

// Distribution is the ledger outcome of settling an event.
type Distribution struct {
	Token        string
	Pool         int64
	TotalWinning int64
	Payouts      []model.Payout
	Residual     int64
}

// SettleEvent pays out the prize pool to the winning-outcome holders in plan.
// Each holder receives floor(pool * position / totalWinning); the remainder
// goes to the token's residual account. Every position of the event is
// retired and the pool ends at zero.
//
// plan must list exactly the current holders of the winning outcome (see
// Holders). No claim of the event may still be locked in an order.
func (l *Ledger) SettleEvent(eventID string, winner int, plan []model.Holding) (Distribution, error) {
	ev, err := l.event(eventID)
	if err != nil {
		return Distribution{}, err
	}
	if ev.settled {
		return Distribution{}, ErrEventSettled
	}
	if err := ev.checkOutcome(winner); err != nil {
		return Distribution{}, err
	}
	for i := range ev.lockedClaims {
		if len(ev.lockedClaims[i]) > 0 {
			return Distribution{}, fmt.Errorf("%w: outcome %d", ErrClaimsLocked, i)
		}
	}

	var total int64
	seen := make(map[string]struct{}, len(plan))
	for _, h := range plan {
		if _, dup := seen[h.User]; dup || h.Amount <= 0 || ev.positions[winner][h.User] != h.Amount {
			return Distribution{}, fmt.Errorf("%w: %s", ErrPayoutPlanMismatch, h.User)
		}
		seen[h.User] = struct{}{}
		total += h.Amount
	}
	if len(seen) != len(ev.positions[winner]) {
		return Distribution{}, fmt.Errorf("%w: %d holders planned, %d on ledger", ErrPayoutPlanMismatch, len(seen), len(ev.positions[winner]))
	}

	d := Distribution{Token: ev.token, Pool: ev.pool, TotalWinning: total}
	paid := int64(0)
	if total > 0 {
		pool, denom := decimal.NewFromInt(ev.pool), decimal.NewFromInt(total)
		d.Payouts = make([]model.Payout, 0, len(plan))
		for _, h := range plan {
			q, _ := pool.Mul(decimal.NewFromInt(h.Amount)).QuoRem(denom, 0)
			reward := q.IntPart()
			d.Payouts = append(d.Payouts, model.Payout{User: h.User, Position: h.Amount, Reward: reward})
			paid += reward
		}
	}
	d.Residual = ev.pool - paid

	for _, p := range d.Payouts {
		if p.Reward > 0 {
			add(l.free, p.User, ev.token, p.Reward)
		}
	}
	l.residual[ev.token] += d.Residual
	ev.pool = 0
	for i := range ev.positions {
		ev.positions[i] = make(map[string]int64)
	}
	ev.settled = true
	return d, nil
}
