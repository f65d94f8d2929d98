package pod

import (
	"fmt"

	"github.com/atmx/market-core/internal/matching"
	"github.com/atmx/market-core/internal/model"
)

// applied carries the outcome of one command.
type applied struct {
	market     model.Market
	order      model.Order
	trades     []model.Trade
	settlement model.Settlement
	cancelled  int
	balance    model.Balance
}

// apply executes cmd against the pod state. It is shared by live commits
// and journal replay, so it only depends on the command's own fields.
// Authorization happens before a command is built.
func (p *Pod) apply(cmd model.Command) (applied, error) {
	var res applied
	var err error

	switch cmd.Kind {
	case model.CmdRegisterMarket:
		res.market, err = p.matching.RegisterMarket(matching.MarketSpec{
			EventID:      cmd.EventID,
			OutcomeCount: cmd.OutcomeCount,
			Token:        cmd.Token,
			FeeRateBps:   cmd.FeeRateBps,
			FeeAccount:   cmd.FeeAccount,
			At:           cmd.At,
		})
	case model.CmdSettleEvent:
		res.settlement, err = p.settle.SettleEvent(cmd.EventID, cmd.Outcome, cmd.At)
	case model.CmdCancelMarket:
		res.cancelled, err = p.settle.CancelMarket(cmd.EventID, cmd.At)
	case model.CmdDeposit:
		err = p.ledger.Deposit(cmd.Caller, cmd.Token, cmd.Amount)
		res.balance = p.balance(cmd.Caller, cmd.Token)
	case model.CmdWithdraw:
		err = p.ledger.Withdraw(cmd.Caller, cmd.Token, cmd.Amount)
		res.balance = p.balance(cmd.Caller, cmd.Token)
	case model.CmdMint:
		err = p.ledger.MintCompleteSet(cmd.Caller, cmd.EventID, cmd.Token, cmd.Amount)
	case model.CmdBurn:
		err = p.ledger.BurnCompleteSet(cmd.Caller, cmd.EventID, cmd.Token, cmd.Amount)
	case model.CmdPlaceOrder:
		res.order, res.trades, err = p.matching.PlaceOrder(matching.PlaceRequest{
			ID:      cmd.OrderID,
			Owner:   cmd.Caller,
			EventID: cmd.EventID,
			Outcome: cmd.Outcome,
			Side:    cmd.Side,
			Price:   cmd.Price,
			Amount:  cmd.Amount,
			Token:   cmd.Token,
			At:      cmd.At,
		})
	case model.CmdCancelOrder:
		// The caller was authorized when the command was built; cancel as
		// the owner so replay does not depend on the operator list.
		o, ok := p.matching.Order(cmd.OrderID)
		if !ok {
			return res, fmt.Errorf("%w: %s", matching.ErrOrderNotFound, cmd.OrderID)
		}
		res.order, err = p.matching.CancelOrder(o.Owner, cmd.OrderID, cmd.At)
	default:
		err = fmt.Errorf("pod: unknown command kind %q", cmd.Kind)
	}
	return res, err
}
