package model

import "time"

// CommandKind names a journaled state-changing operation.
type CommandKind string

const (
	CmdRegisterMarket CommandKind = "register_market"
	CmdSettleEvent    CommandKind = "settle_event"
	CmdCancelMarket   CommandKind = "cancel_market"
	CmdDeposit        CommandKind = "deposit"
	CmdWithdraw       CommandKind = "withdraw"
	CmdMint           CommandKind = "mint_complete_set"
	CmdBurn           CommandKind = "burn_complete_set"
	CmdPlaceOrder     CommandKind = "place_order"
	CmdCancelOrder    CommandKind = "cancel_order"
)

// Command is one journal record. It carries every input of the operation,
// including generated ids and the timestamp, so replaying the journal
// rebuilds identical state.
type Command struct {
	Seq          int64       `json:"seq"`
	Kind         CommandKind `json:"kind"`
	Caller       string      `json:"caller,omitempty"`
	EventID      string      `json:"event_id,omitempty"`
	OutcomeCount int         `json:"outcome_count,omitempty"`
	Outcome      int         `json:"outcome,omitempty"`
	Side         Side        `json:"side,omitempty"`
	Price        int64       `json:"price,omitempty"`
	Amount       int64       `json:"amount,omitempty"`
	Token        string      `json:"token,omitempty"`
	OrderID      string      `json:"order_id,omitempty"`
	FeeRateBps   int64       `json:"fee_rate_bps,omitempty"`
	FeeAccount   string      `json:"fee_account,omitempty"`
	At           time.Time   `json:"at"`
}

// NotificationType names an outbound notification.
type NotificationType string

const (
	NoteMarketRegistered NotificationType = "market_registered"
	NoteOrderPlaced      NotificationType = "order_placed"
	NoteOrderMatched     NotificationType = "order_matched"
	NoteOrderCancelled   NotificationType = "order_cancelled"
	NoteEventSettled     NotificationType = "event_settled"
	NoteMarketCancelled  NotificationType = "market_cancelled"
)

// Notification is emitted after a mutation commits.
type Notification struct {
	Type       NotificationType `json:"type"`
	EventID    string           `json:"event_id"`
	Order      *Order           `json:"order,omitempty"`
	Trade      *Trade           `json:"trade,omitempty"`
	Settlement *Settlement      `json:"settlement,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
