package pod

import (
	"context"

	"github.com/atmx/market-core/internal/matching"
	"github.com/atmx/market-core/internal/model"
)

func (p *Pod) requireOperator(caller string) error {
	if !p.matching.IsOperator(caller) {
		return matching.ErrNotOperator
	}
	return nil
}

// --- Market lifecycle (operators only) ---

// RegisterMarket opens an event for trading. An empty token selects the
// pod's default collateral token. The pod's fee rate and fee account are
// fixed into the market.
func (p *Pod) RegisterMarket(ctx context.Context, caller, eventID string, outcomeCount int, token string) (model.Market, error) {
	if err := p.requireOperator(caller); err != nil {
		return model.Market{}, err
	}
	if token == "" {
		token = p.opts.DefaultToken
	}
	res, err := p.commit(ctx, model.Command{
		Kind:         model.CmdRegisterMarket,
		Caller:       caller,
		EventID:      eventID,
		OutcomeCount: outcomeCount,
		Token:        token,
		FeeRateBps:   p.opts.FeeRateBps,
		FeeAccount:   p.opts.FeeAccount,
	})
	return res.market, err
}

// SettleEvent drains the event's orders and pays out the winning outcome.
func (p *Pod) SettleEvent(ctx context.Context, caller, eventID string, winner int) (model.Settlement, error) {
	if err := p.requireOperator(caller); err != nil {
		return model.Settlement{}, err
	}
	res, err := p.commit(ctx, model.Command{
		Kind:    model.CmdSettleEvent,
		Caller:  caller,
		EventID: eventID,
		Outcome: winner,
	})
	return res.settlement, err
}

// CancelMarket drains the event's orders and closes it without payout. It
// returns the number of orders cancelled.
func (p *Pod) CancelMarket(ctx context.Context, caller, eventID string) (int, error) {
	if err := p.requireOperator(caller); err != nil {
		return 0, err
	}
	res, err := p.commit(ctx, model.Command{
		Kind:    model.CmdCancelMarket,
		Caller:  caller,
		EventID: eventID,
	})
	return res.cancelled, err
}

// --- Trading ---

// OrderRequest is a user's new limit order.
type OrderRequest struct {
	EventID string     `json:"event_id"`
	Outcome int        `json:"outcome"`
	Side    model.Side `json:"side"`
	Price   int64      `json:"price"`
	Amount  int64      `json:"amount"`
	Token   string     `json:"token"`
}

// PlaceOrder places a limit order for caller and returns it as it stands
// after matching, with the trades it produced.
func (p *Pod) PlaceOrder(ctx context.Context, caller string, req OrderRequest) (model.Order, []model.Trade, error) {
	if caller == "" {
		return model.Order{}, nil, matching.ErrMissingField
	}
	res, err := p.commit(ctx, model.Command{
		Kind:    model.CmdPlaceOrder,
		Caller:  caller,
		EventID: req.EventID,
		Outcome: req.Outcome,
		Side:    req.Side,
		Price:   req.Price,
		Amount:  req.Amount,
		Token:   req.Token,
		OrderID: p.opts.NewID(),
	})
	return res.order, res.trades, err
}

// CancelOrder cancels a resting order. Only the owner or an operator may
// cancel.
func (p *Pod) CancelOrder(ctx context.Context, caller, orderID string) (model.Order, error) {
	if err := p.authorizeCancel(caller, orderID); err != nil {
		return model.Order{}, err
	}
	res, err := p.commit(ctx, model.Command{
		Kind:    model.CmdCancelOrder,
		Caller:  caller,
		OrderID: orderID,
	})
	return res.order, err
}

func (p *Pod) authorizeCancel(caller, orderID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.matching.Order(orderID)
	if !ok {
		return matching.ErrOrderNotFound
	}
	if o.Owner != caller && !p.matching.IsOperator(caller) {
		return matching.ErrNotOrderOwner
	}
	return nil
}

// --- Funds ---

// Deposit credits caller's free balance and returns the balance as of that
// commit.
func (p *Pod) Deposit(ctx context.Context, caller, token string, amount int64) (model.Balance, error) {
	res, err := p.commit(ctx, model.Command{Kind: model.CmdDeposit, Caller: caller, Token: token, Amount: amount})
	return res.balance, err
}

// Withdraw debits caller's free balance and returns the balance as of that
// commit.
func (p *Pod) Withdraw(ctx context.Context, caller, token string, amount int64) (model.Balance, error) {
	res, err := p.commit(ctx, model.Command{Kind: model.CmdWithdraw, Caller: caller, Token: token, Amount: amount})
	return res.balance, err
}

// MintCompleteSet converts caller's collateral into one claim per outcome.
func (p *Pod) MintCompleteSet(ctx context.Context, caller, eventID, token string, amount int64) error {
	_, err := p.commit(ctx, model.Command{Kind: model.CmdMint, Caller: caller, EventID: eventID, Token: token, Amount: amount})
	return err
}

// BurnCompleteSet redeems one claim per outcome for collateral.
func (p *Pod) BurnCompleteSet(ctx context.Context, caller, eventID, token string, amount int64) error {
	_, err := p.commit(ctx, model.Command{Kind: model.CmdBurn, Caller: caller, EventID: eventID, Token: token, Amount: amount})
	return err
}
