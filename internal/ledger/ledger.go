// Package ledger is the escrow of the exchange core: the only component that
// mutates token balances, order locks, outcome-claim positions and event
// prize pools.
//
// Every mutating method checks all of its preconditions before writing, so a
// failed call leaves the ledger untouched. The ledger is not safe for
// concurrent use; the owning pod serializes access.
//
// Fund conservation, per token:
//
//	Σ free + Σ locked + Σ prize pools + residual == deposited − withdrawn
//
// and, for every unsettled event and outcome:
//
//	Σ positions + Σ locked claims == prize pool
package ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/model"
)

var (
	ErrInvalidAmount        = apperr.New(apperr.Validation, "ledger: amount must be positive")
	ErrInvalidAccount       = apperr.New(apperr.Validation, "ledger: user and token are required")
	ErrSupplyOverflow       = apperr.New(apperr.Validation, "ledger: deposit would overflow the token supply")
	ErrUnknownEvent         = apperr.New(apperr.Validation, "ledger: unknown event")
	ErrInvalidOutcome       = apperr.New(apperr.Validation, "ledger: outcome index out of range")
	ErrInvalidOutcomeCount  = apperr.New(apperr.Validation, "ledger: outcome count must be within [2, 32]")
	ErrTokenMismatch        = apperr.New(apperr.Validation, "ledger: token does not match the event collateral")
	ErrEventClosed          = apperr.New(apperr.Validation, "ledger: event is not open for minting")
	ErrEventExists          = apperr.New(apperr.StateConflict, "ledger: event already registered")
	ErrEventSettled         = apperr.New(apperr.StateConflict, "ledger: event already settled")
	ErrClaimsLocked         = apperr.New(apperr.StateConflict, "ledger: event still has claims locked in orders")
	ErrInsufficientBalance  = apperr.New(apperr.InsufficientResource, "ledger: insufficient balance")
	ErrInsufficientPosition = apperr.New(apperr.InsufficientResource, "ledger: insufficient position")
	ErrInsufficientLocked   = apperr.New(apperr.InsufficientResource, "ledger: insufficient locked funds")
	ErrInvalidFill          = apperr.New(apperr.Fatal, "ledger: fill amounts are inconsistent")
	ErrPayoutPlanMismatch   = apperr.New(apperr.Fatal, "ledger: payout plan does not match winning positions")
	ErrConservationViolated = apperr.New(apperr.Fatal, "ledger: fund conservation violated")
)

type eventState struct {
	token        string
	pool         int64
	closed       bool // no more minting
	settled      bool
	positions    []map[string]int64 // outcome → user → free claims
	lockedClaims []map[string]int64 // outcome → user → claims locked in sell orders
}

// Ledger holds every balance of one pod.
type Ledger struct {
	free      map[string]map[string]int64 // user → token → free collateral
	locked    map[string]map[string]int64 // user → token → collateral locked in buy orders
	events    map[string]*eventState
	residual  map[string]int64 // token → settlement rounding remainder
	deposited map[string]int64
	withdrawn map[string]int64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		free:      make(map[string]map[string]int64),
		locked:    make(map[string]map[string]int64),
		events:    make(map[string]*eventState),
		residual:  make(map[string]int64),
		deposited: make(map[string]int64),
		withdrawn: make(map[string]int64),
	}
}

// RegisterEvent opens position and prize-pool accounts for an event.
func (l *Ledger) RegisterEvent(eventID string, outcomes int, token string) error {
	if eventID == "" || token == "" {
		return ErrInvalidAccount
	}
	if outcomes < model.MinOutcomes || outcomes > model.MaxOutcomes {
		return ErrInvalidOutcomeCount
	}
	if _, ok := l.events[eventID]; ok {
		return fmt.Errorf("%w: %s", ErrEventExists, eventID)
	}
	ev := &eventState{
		token:        token,
		positions:    make([]map[string]int64, outcomes),
		lockedClaims: make([]map[string]int64, outcomes),
	}
	for i := 0; i < outcomes; i++ {
		ev.positions[i] = make(map[string]int64)
		ev.lockedClaims[i] = make(map[string]int64)
	}
	l.events[eventID] = ev
	return nil
}

// CloseEvent stops minting for a cancelled event. Burning stays possible so
// holders of complete sets can recover their collateral.
func (l *Ledger) CloseEvent(eventID string) error {
	ev, err := l.event(eventID)
	if err != nil {
		return err
	}
	if ev.settled {
		return ErrEventSettled
	}
	ev.closed = true
	return nil
}

// Deposit credits amount to the user's free balance.
//
// Every balance cell, lock and prize pool of a token is bounded by the
// token's cumulative deposits, so refusing deposits that would overflow that
// counter keeps all later arithmetic in range.
func (l *Ledger) Deposit(user, token string, amount int64) error {
	if user == "" || token == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if total := l.deposited[token]; amount > math.MaxInt64-total {
		return fmt.Errorf("%w: token=%s deposited=%d amount=%d", ErrSupplyOverflow, token, total, amount)
	}
	add(l.free, user, token, amount)
	l.deposited[token] += amount
	return nil
}

// Withdraw debits amount from the user's free balance.
func (l *Ledger) Withdraw(user, token string, amount int64) error {
	if user == "" || token == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if have := l.free[user][token]; have < amount {
		return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientBalance, have, amount)
	}
	add(l.free, user, token, -amount)
	l.withdrawn[token] += amount
	return nil
}

// --- Reads ---

// Balance returns the user's free balance.
func (l *Ledger) Balance(user, token string) int64 { return l.free[user][token] }

// LockedCollateral returns collateral the user has locked in buy orders.
func (l *Ledger) LockedCollateral(user, token string) int64 { return l.locked[user][token] }

// Position returns the user's free claims on an outcome.
func (l *Ledger) Position(user, eventID string, outcome int) int64 {
	ev, ok := l.events[eventID]
	if !ok || outcome < 0 || outcome >= len(ev.positions) {
		return 0
	}
	return ev.positions[outcome][user]
}

// LockedPosition returns claims the user has locked in sell orders.
func (l *Ledger) LockedPosition(user, eventID string, outcome int) int64 {
	ev, ok := l.events[eventID]
	if !ok || outcome < 0 || outcome >= len(ev.lockedClaims) {
		return 0
	}
	return ev.lockedClaims[outcome][user]
}

// PrizePool returns the collateral backing the event's complete sets.
func (l *Ledger) PrizePool(eventID, token string) int64 {
	ev, ok := l.events[eventID]
	if !ok || ev.token != token {
		return 0
	}
	return ev.pool
}

// Residual returns the settlement remainder retained by the platform.
func (l *Ledger) Residual(token string) int64 { return l.residual[token] }

// Holders lists users with a positive free position on an outcome, sorted
// by user id.
func (l *Ledger) Holders(eventID string, outcome int) []model.Holding {
	ev, ok := l.events[eventID]
	if !ok || outcome < 0 || outcome >= len(ev.positions) {
		return nil
	}
	holders := make([]model.Holding, 0, len(ev.positions[outcome]))
	for user, amt := range ev.positions[outcome] {
		if amt > 0 {
			holders = append(holders, model.Holding{User: user, Amount: amt})
		}
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].User < holders[j].User })
	return holders
}

// Balances returns the user's balances per token, sorted by token.
func (l *Ledger) Balances(user string) []model.Balance {
	tokens := make(map[string]struct{})
	for t := range l.free[user] {
		tokens[t] = struct{}{}
	}
	for t := range l.locked[user] {
		tokens[t] = struct{}{}
	}
	out := make([]model.Balance, 0, len(tokens))
	for t := range tokens {
		b := model.Balance{Token: t, Free: l.free[user][t], Locked: l.locked[user][t]}
		if b.Free != 0 || b.Locked != 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Positions returns every non-zero claim holding of the user.
func (l *Ledger) Positions(user string) []model.Position {
	var out []model.Position
	for id, ev := range l.events {
		for i := range ev.positions {
			p := model.Position{
				EventID: id,
				Outcome: i,
				Amount:  ev.positions[i][user],
				Locked:  ev.lockedClaims[i][user],
			}
			if p.Amount != 0 || p.Locked != 0 {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}

func (l *Ledger) event(eventID string) (*eventState, error) {
	ev, ok := l.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	return ev, nil
}

func (ev *eventState) checkOutcome(outcome int) error {
	if outcome < 0 || outcome >= len(ev.positions) {
		return fmt.Errorf("%w: %d", ErrInvalidOutcome, outcome)
	}
	return nil
}

// add adjusts a user/token cell, dropping it when it reaches zero.
func add(m map[string]map[string]int64, user, token string, delta int64) {
	inner, ok := m[user]
	if !ok {
		inner = make(map[string]int64)
		m[user] = inner
	}
	inner[token] += delta
	if inner[token] == 0 {
		delete(inner, token)
		if len(inner) == 0 {
			delete(m, user)
		}
	}
}

// adjust changes a claim cell, dropping it when it reaches zero.
func adjust(m map[string]int64, user string, delta int64) {
	m[user] += delta
	if m[user] == 0 {
		delete(m, user)
	}
}
