// Package matching is the order-matching engine: it validates orders, walks
// the opposite side of an outcome's book under price-time priority and asks
// the ledger to move funds for every fill.
//
// The engine is not safe for concurrent use. The owning pod runs each
// operation to completion under its write lock.
package matching

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/book"
	"github.com/atmx/market-core/internal/fee"
	"github.com/atmx/market-core/internal/ledger"
	"github.com/atmx/market-core/internal/model"
)

var (
	ErrUnknownMarket       = apperr.New(apperr.Validation, "matching: unknown market")
	ErrMarketNotActive     = apperr.New(apperr.Validation, "matching: market is not active")
	ErrInvalidOutcome      = apperr.New(apperr.Validation, "matching: outcome index out of range")
	ErrInvalidOutcomeCount = apperr.New(apperr.Validation, "matching: outcome count must be within [2, 32]")
	ErrInvalidPrice        = apperr.New(apperr.Validation, "matching: price must be within [1, 10000]")
	ErrInvalidTick         = apperr.New(apperr.Validation, "matching: price must be a multiple of the tick size")
	ErrInvalidAmount       = apperr.New(apperr.Validation, "matching: amount must be within [1, 1e12]")
	ErrInvalidSide         = apperr.New(apperr.Validation, "matching: side must be BUY or SELL")
	ErrTokenMismatch       = apperr.New(apperr.Validation, "matching: token does not match the market collateral")
	ErrMissingField        = apperr.New(apperr.Validation, "matching: required field missing")
	ErrNotOrderOwner       = apperr.New(apperr.Authorization, "matching: caller does not own the order")
	ErrNotOperator         = apperr.New(apperr.Authorization, "matching: caller is not a market operator")
	ErrOrderNotFound       = apperr.New(apperr.NotFound, "matching: order not found")
	ErrMarketExists        = apperr.New(apperr.StateConflict, "matching: market already registered")
	ErrDuplicateOrderID    = apperr.New(apperr.StateConflict, "matching: order id already used")
	ErrOrderNotCancellable = apperr.New(apperr.StateConflict, "matching: order is not cancellable")
	ErrInconsistent        = apperr.New(apperr.Fatal, "matching: book and ledger disagree")
)

type marketState struct {
	market model.Market
	books  []*book.Book // indexed by outcome
	trades []model.Trade
}

// Engine owns every market, order book and order of one pod.
type Engine struct {
	ledger    *ledger.Ledger
	operators map[string]struct{}
	markets   map[string]*marketState
	orders    map[string]*model.Order
	seq       uint64
	pending   []model.Notification
}

// New creates an engine that settles fills against l.
func New(l *ledger.Ledger, operators ...string) *Engine {
	ops := make(map[string]struct{}, len(operators))
	for _, op := range operators {
		ops[op] = struct{}{}
	}
	return &Engine{
		ledger:    l,
		operators: ops,
		markets:   make(map[string]*marketState),
		orders:    make(map[string]*model.Order),
	}
}

// IsOperator reports whether id may manage markets and cancel any order.
func (e *Engine) IsOperator(id string) bool {
	_, ok := e.operators[id]
	return ok
}

// TakeNotifications returns and clears the notifications emitted since the
// last call.
func (e *Engine) TakeNotifications() []model.Notification {
	out := e.pending
	e.pending = nil
	return out
}

// Discard drops pending notifications of an operation that did not commit.
func (e *Engine) Discard() { e.pending = nil }

func (e *Engine) emit(n model.Notification) { e.pending = append(e.pending, n) }

// MarketSpec describes a market to register.
type MarketSpec struct {
	EventID      string
	OutcomeCount int
	Token        string
	FeeRateBps   int64
	FeeAccount   string
	At           time.Time
}

// RegisterMarket opens books and ledger accounts for an event.
func (e *Engine) RegisterMarket(def MarketSpec) (model.Market, error) {
	switch {
	case def.EventID == "", def.Token == "", def.FeeAccount == "":
		return model.Market{}, ErrMissingField
	case def.OutcomeCount < model.MinOutcomes || def.OutcomeCount > model.MaxOutcomes:
		return model.Market{}, ErrInvalidOutcomeCount
	}
	if err := fee.ValidateRate(def.FeeRateBps); err != nil {
		return model.Market{}, err
	}
	if _, ok := e.markets[def.EventID]; ok {
		return model.Market{}, fmt.Errorf("%w: %s", ErrMarketExists, def.EventID)
	}
	if err := e.ledger.RegisterEvent(def.EventID, def.OutcomeCount, def.Token); err != nil {
		return model.Market{}, err
	}

	ms := &marketState{
		market: model.Market{
			EventID:      def.EventID,
			OutcomeCount: def.OutcomeCount,
			Token:        def.Token,
			FeeRateBps:   def.FeeRateBps,
			FeeAccount:   def.FeeAccount,
			Status:       model.MarketActive,
			CreatedAt:    def.At,
		},
		books: make([]*book.Book, def.OutcomeCount),
	}
	for i := range ms.books {
		ms.books[i] = book.New(def.EventID, i)
	}
	e.markets[def.EventID] = ms
	e.emit(model.Notification{Type: model.NoteMarketRegistered, EventID: def.EventID, Timestamp: def.At})
	return ms.market, nil
}

// PlaceRequest is a new limit order. ID is assigned by the caller so that
// replaying a journal reproduces the same ids.
type PlaceRequest struct {
	ID      string
	Owner   string
	EventID string
	Outcome int
	Side    model.Side
	Price   int64
	Amount  int64
	Token   string
	At      time.Time
}

// PlaceOrder validates and escrows a new order, matches it against the book
// and rests any remainder. It returns the order as it stands after matching
// and the trades it produced.
func (e *Engine) PlaceOrder(req PlaceRequest) (model.Order, []model.Trade, error) {
	ms, err := e.validate(req)
	if err != nil {
		return model.Order{}, nil, err
	}

	lock := req.Amount
	if req.Side == model.Buy {
		lock = buyCost(ms, req)
	}
	if err := e.ledger.LockForOrder(ledger.Lock{
		User:    req.Owner,
		Token:   req.Token,
		EventID: req.EventID,
		Outcome: req.Outcome,
		Side:    req.Side,
		Amount:  lock,
	}); err != nil {
		return model.Order{}, nil, err
	}

	e.seq++
	o := &model.Order{
		ID:              req.ID,
		Owner:           req.Owner,
		EventID:         req.EventID,
		Outcome:         req.Outcome,
		Side:            req.Side,
		Price:           req.Price,
		OriginalAmount:  req.Amount,
		RemainingAmount: req.Amount,
		Status:          model.StatusPending,
		Token:           req.Token,
		Locked:          lock,
		Seq:             e.seq,
		CreatedAt:       req.At,
		UpdatedAt:       req.At,
	}
	e.orders[o.ID] = o

	trades, err := e.match(ms, o, req.At)
	if err != nil {
		return model.Order{}, nil, err
	}
	if o.Side == model.Buy {
		if err := e.trimBuyLock(ms, o); err != nil {
			return model.Order{}, nil, err
		}
	}
	if o.Open() {
		if err := ms.books[o.Outcome].Insert(o); err != nil {
			return model.Order{}, nil, fmt.Errorf("%w: %v", ErrInconsistent, err)
		}
	}

	placed := *o
	e.emit(model.Notification{Type: model.NoteOrderPlaced, EventID: o.EventID, Order: &placed, Timestamp: req.At})
	for i := range trades {
		tr := trades[i]
		e.emit(model.Notification{Type: model.NoteOrderMatched, EventID: o.EventID, Trade: &tr, Timestamp: req.At})
	}
	return placed, trades, nil
}

func (e *Engine) validate(req PlaceRequest) (*marketState, error) {
	ms, ok := e.markets[req.EventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, req.EventID)
	}
	switch {
	case ms.market.Status != model.MarketActive:
		return nil, fmt.Errorf("%w: %s is %s", ErrMarketNotActive, req.EventID, ms.market.Status)
	case req.ID == "", req.Owner == "":
		return nil, ErrMissingField
	case !req.Side.Valid():
		return nil, ErrInvalidSide
	case req.Outcome < 0 || req.Outcome >= ms.market.OutcomeCount:
		return nil, fmt.Errorf("%w: %d", ErrInvalidOutcome, req.Outcome)
	case req.Price < 1 || req.Price > model.MaxPrice:
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, req.Price)
	case req.Price%model.TickSize != 0:
		return nil, fmt.Errorf("%w: %d", ErrInvalidTick, req.Price)
	case req.Amount <= 0 || req.Amount > model.MaxOrderAmount:
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	case req.Token != ms.market.Token:
		return nil, fmt.Errorf("%w: want %s", ErrTokenMismatch, ms.market.Token)
	}
	if _, dup := e.orders[req.ID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrderID, req.ID)
	}
	return ms, nil
}

// match walks the opposite side of the taker's book from the best level and
// fills against resting orders until the taker is exhausted or the next
// level does not cross.
func (e *Engine) match(ms *marketState, taker *model.Order, at time.Time) ([]model.Trade, error) {
	bk := ms.books[taker.Outcome]
	var trades []model.Trade
	for taker.RemainingAmount > 0 {
		lvl := bk.Best(taker.Side.Opposite())
		if lvl == nil || !crosses(taker, lvl.Price) {
			break
		}
		maker := lvl.Front()
		if !maker.Open() {
			if err := bk.Remove(maker); err != nil {
				return trades, fmt.Errorf("%w: %v", ErrInconsistent, err)
			}
			continue
		}

		qty := min(taker.RemainingAmount, maker.RemainingAmount)
		tr, err := e.fill(ms, taker, maker, qty, lvl.Price, at, len(trades))
		if err != nil {
			return trades, err
		}
		trades = append(trades, tr)
		ms.trades = append(ms.trades, tr)

		if !maker.Open() {
			if err := bk.Remove(maker); err != nil {
				return trades, fmt.Errorf("%w: %v", ErrInconsistent, err)
			}
		}
	}
	return trades, nil
}

// buyCost is the collateral a buy order escrows at placement: the exact
// taker cost of the fills the book would give it now, plus BuyLock for the
// remainder that would rest.
func buyCost(ms *marketState, req PlaceRequest) int64 {
	rate := ms.market.FeeRateBps
	remaining, cost := req.Amount, int64(0)
	ms.books[req.Outcome].Walk(model.Sell, func(maker *model.Order) bool {
		if maker.Price > req.Price {
			return false
		}
		if !maker.Open() {
			return true
		}
		qty := min(remaining, maker.RemainingAmount)
		notional := fee.NotionalUp(qty, maker.Price)
		buyerFee, _ := fee.Allocate(notional, rate, model.Buy)
		cost += notional + buyerFee
		remaining -= qty
		return remaining > 0
	})
	return cost + fee.BuyLock(remaining, req.Price, rate)
}

// trimBuyLock returns whatever a buy taker escrowed beyond what its
// remainder needs to rest.
func (e *Engine) trimBuyLock(ms *marketState, o *model.Order) error {
	need := fee.BuyLock(o.RemainingAmount, o.Price, ms.market.FeeRateBps)
	switch {
	case o.Locked < need:
		return fmt.Errorf("%w: order %s escrows %d, needs %d", ErrInconsistent, o.ID, o.Locked, need)
	case o.Locked > need:
		if err := e.ledger.UnlockForOrder(ledger.Lock{
			User:    o.Owner,
			Token:   o.Token,
			EventID: o.EventID,
			Outcome: o.Outcome,
			Side:    model.Buy,
			Amount:  o.Locked - need,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrInconsistent, err)
		}
		o.Locked = need
	}
	return nil
}

func crosses(taker *model.Order, levelPrice int64) bool {
	if taker.Side == model.Buy {
		return levelPrice <= taker.Price
	}
	return levelPrice >= taker.Price
}

// fill executes qty claims between taker and maker at the maker's price.
// The notional is rounded against the taker.
func (e *Engine) fill(ms *marketState, taker, maker *model.Order, qty, price int64, at time.Time, n int) (model.Trade, error) {
	buy, sell := taker, maker
	if taker.Side == model.Sell {
		buy, sell = maker, taker
	}
	rate := ms.market.FeeRateBps
	notional := fee.TakerNotional(qty, price, taker.Side)
	buyerFee, sellerFee := fee.Allocate(notional, rate, taker.Side)
	buyLockAfter := fee.BuyLock(buy.RemainingAmount-qty, buy.Price, rate)
	if taker.Side == model.Buy {
		// The taker's escrow holds the exact cost of each fill it takes.
		buyLockAfter = buy.Locked - notional - buyerFee
	}

	if err := e.ledger.SettleMatchedOrder(ledger.Fill{
		EventID:      ms.market.EventID,
		Outcome:      taker.Outcome,
		Token:        ms.market.Token,
		Buyer:        buy.Owner,
		Seller:       sell.Owner,
		Claims:       qty,
		BuyerRelease: buy.Locked - buyLockAfter,
		Notional:     notional,
		BuyerFee:     buyerFee,
		SellerFee:    sellerFee,
		FeeAccount:   ms.market.FeeAccount,
	}); err != nil {
		return model.Trade{}, fmt.Errorf("%w: fill %s/%s: %v", ErrInconsistent, buy.ID, sell.ID, err)
	}

	buy.Locked = buyLockAfter
	sell.Locked -= qty
	for _, o := range []*model.Order{buy, sell} {
		o.FilledAmount += qty
		o.RemainingAmount -= qty
		o.Status = model.StatusPartial
		if o.RemainingAmount == 0 {
			o.Status = model.StatusFilled
		}
		o.UpdatedAt = at
	}

	return model.Trade{
		ID:          tradeID(taker.ID, n),
		EventID:     ms.market.EventID,
		Outcome:     taker.Outcome,
		Price:       price,
		Amount:      qty,
		Notional:    notional,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Buyer:       buy.Owner,
		Seller:      sell.Owner,
		TakerSide:   taker.Side,
		BuyerFee:    buyerFee,
		SellerFee:   sellerFee,
		Timestamp:   at,
	}, nil
}

// tradeID derives a stable id from the taker order and the fill index.
func tradeID(takerID string, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(takerID+"/"+strconv.Itoa(n))).String()
}

// CancelOrder cancels a resting order on behalf of its owner or an operator
// and returns the owner's escrow.
func (e *Engine) CancelOrder(caller, orderID string, at time.Time) (model.Order, error) {
	o, ok := e.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if caller != o.Owner && !e.IsOperator(caller) {
		return model.Order{}, ErrNotOrderOwner
	}
	if o.Status.Terminal() {
		return model.Order{}, fmt.Errorf("%w: %s is %s", ErrOrderNotCancellable, orderID, o.Status)
	}
	ms := e.markets[o.EventID]
	if ms.market.Status != model.MarketActive {
		return model.Order{}, fmt.Errorf("%w: %s is %s", ErrMarketNotActive, o.EventID, ms.market.Status)
	}
	if err := e.cancel(ms, o, at); err != nil {
		return model.Order{}, err
	}
	return *o, nil
}

func (e *Engine) cancel(ms *marketState, o *model.Order, at time.Time) error {
	if err := e.ledger.UnlockForOrder(ledger.Lock{
		User:    o.Owner,
		Token:   o.Token,
		EventID: o.EventID,
		Outcome: o.Outcome,
		Side:    o.Side,
		Amount:  o.Locked,
	}); err != nil {
		return fmt.Errorf("%w: unlock %s: %v", ErrInconsistent, o.ID, err)
	}
	if err := ms.books[o.Outcome].Remove(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	o.CancelledAmount = o.RemainingAmount
	o.RemainingAmount = 0
	o.Locked = 0
	o.Status = model.StatusCancelled
	o.UpdatedAt = at

	cancelled := *o
	e.emit(model.Notification{Type: model.NoteOrderCancelled, EventID: o.EventID, Order: &cancelled, Timestamp: at})
	return nil
}

// DrainMarket cancels every resting order of the event through the normal
// cancel path and returns how many were cancelled. Bids drain before asks,
// best price and earliest arrival first.
func (e *Engine) DrainMarket(eventID string, at time.Time) (int, error) {
	ms, ok := e.markets[eventID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMarket, eventID)
	}
	n := 0
	for _, bk := range ms.books {
		for _, o := range bk.Orders() {
			if err := e.cancel(ms, o, at); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// MarkSettled records the winning outcome and closes the market.
func (e *Engine) MarkSettled(eventID string, winner int, at time.Time) error {
	ms, ok := e.markets[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, eventID)
	}
	w := winner
	ms.market.Status = model.MarketSettled
	ms.market.Winner = &w
	ms.market.ClosedAt = &at
	return nil
}

// MarkCancelled closes the market without a winner.
func (e *Engine) MarkCancelled(eventID string, at time.Time) error {
	ms, ok := e.markets[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, eventID)
	}
	ms.market.Status = model.MarketCancelled
	ms.market.ClosedAt = &at
	return nil
}

// --- Reads ---

// Market returns a copy of the market.
func (e *Engine) Market(eventID string) (model.Market, bool) {
	ms, ok := e.markets[eventID]
	if !ok {
		return model.Market{}, false
	}
	return ms.market, true
}

// Markets returns every market sorted by event id.
func (e *Engine) Markets() []model.Market {
	out := make([]model.Market, 0, len(e.markets))
	for _, ms := range e.markets {
		out = append(out, ms.market)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

// Order returns a copy of the order.
func (e *Engine) Order(orderID string) (model.Order, bool) {
	o, ok := e.orders[orderID]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// OpenOrders returns the user's non-terminal orders in arrival order.
func (e *Engine) OpenOrders(user string) []model.Order {
	var out []model.Order
	for _, o := range e.orders {
		if o.Owner == user && o.Open() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (e *Engine) book(eventID string, outcome int) (*book.Book, error) {
	ms, ok := e.markets[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, eventID)
	}
	if outcome < 0 || outcome >= len(ms.books) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOutcome, outcome)
	}
	return ms.books[outcome], nil
}

// BestBid returns the highest bid and its volume.
func (e *Engine) BestBid(eventID string, outcome int) (model.Quote, bool, error) {
	bk, err := e.book(eventID, outcome)
	if err != nil {
		return model.Quote{}, false, err
	}
	q, ok := bk.BestBid()
	return q, ok, nil
}

// BestAsk returns the lowest ask and its volume.
func (e *Engine) BestAsk(eventID string, outcome int) (model.Quote, bool, error) {
	bk, err := e.book(eventID, outcome)
	if err != nil {
		return model.Quote{}, false, err
	}
	q, ok := bk.BestAsk()
	return q, ok, nil
}

// Depth returns up to n levels per side, best first. n <= 0 means all.
func (e *Engine) Depth(eventID string, outcome, n int) (bids, asks []model.Quote, err error) {
	bk, err := e.book(eventID, outcome)
	if err != nil {
		return nil, nil, err
	}
	return bk.Depth(model.Buy, n), bk.Depth(model.Sell, n), nil
}

// Trades returns the event's trade log, oldest first.
func (e *Engine) Trades(eventID string) ([]model.Trade, error) {
	ms, ok := e.markets[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, eventID)
	}
	return append([]model.Trade(nil), ms.trades...), nil
}

// RestingOrders returns the number of orders resting in the event's books.
func (e *Engine) RestingOrders(eventID string) int {
	ms, ok := e.markets[eventID]
	if !ok {
		return 0
	}
	n := 0
	for _, bk := range ms.books {
		n += bk.Len()
	}
	return n
}
