package ledger

import (
	"fmt"
	"sort"
)

// Totals is the conservation breakdown of one token.
type Totals struct {
	Free      int64 `json:"free"`
	Locked    int64 `json:"locked"`
	Pools     int64 `json:"pools"`
	Residual  int64 `json:"residual"`
	Deposited int64 `json:"deposited"`
	Withdrawn int64 `json:"withdrawn"`
}

// Held is everything the ledger currently holds in the token.
func (t Totals) Held() int64 { return t.Free + t.Locked + t.Pools + t.Residual }

// Totals sums every account of token.
func (l *Ledger) Totals(token string) Totals {
	t := Totals{
		Residual:  l.residual[token],
		Deposited: l.deposited[token],
		Withdrawn: l.withdrawn[token],
	}
	for _, bal := range l.free {
		t.Free += bal[token]
	}
	for _, bal := range l.locked {
		t.Locked += bal[token]
	}
	for _, ev := range l.events {
		if ev.token == token {
			t.Pools += ev.pool
		}
	}
	return t
}

// Audit verifies fund conservation for every token, claim backing for every
// unsettled event and that no account is negative. It returns an error
// wrapping ErrConservationViolated on the first violation found.
func (l *Ledger) Audit() error {
	for _, token := range l.tokens() {
		t := l.Totals(token)
		if t.Held() != t.Deposited-t.Withdrawn {
			return fmt.Errorf("%w: token=%s held=%d net_deposits=%d", ErrConservationViolated, token, t.Held(), t.Deposited-t.Withdrawn)
		}
	}
	for _, m := range []map[string]map[string]int64{l.free, l.locked} {
		for user, bal := range m {
			for token, v := range bal {
				if v < 0 {
					return fmt.Errorf("%w: negative balance user=%s token=%s", ErrConservationViolated, user, token)
				}
			}
		}
	}
	for id, ev := range l.events {
		if ev.pool < 0 {
			return fmt.Errorf("%w: negative pool event=%s", ErrConservationViolated, id)
		}
		if ev.settled {
			continue
		}
		for i := range ev.positions {
			var claims int64
			for user, v := range ev.positions[i] {
				if v < 0 {
					return fmt.Errorf("%w: negative position user=%s event=%s", ErrConservationViolated, user, id)
				}
				claims += v
			}
			for _, v := range ev.lockedClaims[i] {
				claims += v
			}
			if claims != ev.pool {
				return fmt.Errorf("%w: event=%s outcome=%d claims=%d pool=%d", ErrConservationViolated, id, i, claims, ev.pool)
			}
		}
	}
	return nil
}

func (l *Ledger) tokens() []string {
	set := make(map[string]struct{})
	for t := range l.deposited {
		set[t] = struct{}{}
	}
	for _, ev := range l.events {
		set[ev.token] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
