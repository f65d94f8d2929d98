// Package trade implements the HTTP API of the exchange core: market
// administration, order entry, funds movements and read-side queries,
// all served by a single pod.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/model"
	"github.com/atmx/market-core/internal/pod"
	"github.com/atmx/market-core/internal/store"
)

// UserHeader carries the caller's identity.
const UserHeader = "X-User-ID"

const (
	defaultDepth = 10
	maxDepth     = 100
)

// Service exposes the pod over HTTP.
type Service struct {
	pod   *pod.Pod
	cache store.QuoteCache
}

// NewService creates a trade service. A nil cache disables book caching.
func NewService(p *pod.Pod, cache store.QuoteCache) *Service {
	return &Service{pod: p, cache: cache}
}

// Routes mounts the API under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.RegisterMarket)
	r.Get("/markets/{eventID}", s.GetMarket)
	r.Post("/markets/{eventID}/settle", s.SettleEvent)
	r.Post("/markets/{eventID}/cancel", s.CancelMarket)
	r.Get("/markets/{eventID}/outcomes/{outcome}/book", s.GetBook)
	r.Get("/markets/{eventID}/trades", s.ListTrades)

	r.Post("/orders", s.PlaceOrder)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)

	r.Post("/accounts/deposit", s.Deposit)
	r.Post("/accounts/withdraw", s.Withdraw)
	r.Post("/sets/mint", s.MintSet)
	r.Post("/sets/burn", s.BurnSet)

	r.Get("/portfolio/{userID}", s.GetPortfolio)
}

// --- Request/Response types ---

// RegisterMarketRequest is the JSON body for POST /api/v1/markets.
type RegisterMarketRequest struct {
	EventID      string `json:"event_id"`
	OutcomeCount int    `json:"outcome_count"`
	Token        string `json:"token,omitempty"`
}

// SettleRequest is the JSON body for POST /api/v1/markets/{eventID}/settle.
type SettleRequest struct {
	WinningOutcome *int `json:"winning_outcome"`
}

// FundsRequest is the JSON body for deposits and withdrawals.
type FundsRequest struct {
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

// SetRequest is the JSON body for minting and burning complete sets.
type SetRequest struct {
	EventID string `json:"event_id"`
	Token   string `json:"token"`
	Amount  int64  `json:"amount"`
}

// PlaceOrderResponse is returned by POST /api/v1/orders.
type PlaceOrderResponse struct {
	Order  model.Order   `json:"order"`
	Trades []model.Trade `json:"trades"`
}

// CancelMarketResponse is returned by POST /api/v1/markets/{eventID}/cancel.
type CancelMarketResponse struct {
	EventID         string `json:"event_id"`
	CancelledOrders int    `json:"cancelled_orders"`
}

// --- Market administration ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.pod.Markets()
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// RegisterMarket handles POST /api/v1/markets (operators only).
func (s *Service) RegisterMarket(w http.ResponseWriter, r *http.Request) {
	var req RegisterMarketRequest
	if !decode(w, r, &req) {
		return
	}

	market, err := s.pod.RegisterMarket(r.Context(), caller(r), req.EventID, req.OutcomeCount, req.Token)
	if err != nil {
		s.fail(w, "register_market", err)
		return
	}

	slog.Info("market registered",
		"event_id", market.EventID,
		"outcomes", market.OutcomeCount,
		"token", market.Token,
	)
	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{eventID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := s.pod.Market(chi.URLParam(r, "eventID"))
	if !ok {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// SettleEvent handles POST /api/v1/markets/{eventID}/settle (operators only).
func (s *Service) SettleEvent(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.WinningOutcome == nil {
		writeError(w, "winning_outcome is required", http.StatusBadRequest)
		return
	}

	eventID := chi.URLParam(r, "eventID")
	settlement, err := s.pod.SettleEvent(r.Context(), caller(r), eventID, *req.WinningOutcome)
	if err != nil {
		s.fail(w, "settle_event", err)
		return
	}
	s.invalidate(r.Context(), eventID)
	writeJSON(w, http.StatusOK, settlement)
}

// CancelMarket handles POST /api/v1/markets/{eventID}/cancel (operators only).
func (s *Service) CancelMarket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	n, err := s.pod.CancelMarket(r.Context(), caller(r), eventID)
	if err != nil {
		s.fail(w, "cancel_market", err)
		return
	}
	s.invalidate(r.Context(), eventID)
	writeJSON(w, http.StatusOK, CancelMarketResponse{EventID: eventID, CancelledOrders: n})
}

// --- Read side ---

// GetBook handles GET /api/v1/markets/{eventID}/outcomes/{outcome}/book?depth=n
// Snapshots are served from the quote cache when present.
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	outcome, err := strconv.Atoi(chi.URLParam(r, "outcome"))
	if err != nil {
		writeError(w, "outcome must be an integer", http.StatusBadRequest)
		return
	}
	depth := defaultDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		depth, err = strconv.Atoi(v)
		if err != nil || depth <= 0 {
			writeError(w, "depth must be a positive integer", http.StatusBadRequest)
			return
		}
		if depth > maxDepth {
			depth = maxDepth
		}
	}

	ctx := r.Context()
	if s.cache != nil {
		snap, err := s.cache.GetBook(ctx, eventID, outcome, depth)
		if err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if !errors.Is(err, store.ErrCacheMiss) {
			slog.Warn("book cache read failed", "event_id", eventID, "err", err)
		}
	}

	bids, asks, version, err := s.pod.BookSnapshot(eventID, outcome, depth)
	if err != nil {
		s.fail(w, "get_book", err)
		return
	}
	snap := &store.BookSnapshot{EventID: eventID, Outcome: outcome, Bids: bids, Asks: asks}
	if snap.Bids == nil {
		snap.Bids = []model.Quote{}
	}
	if snap.Asks == nil {
		snap.Asks = []model.Quote{}
	}

	if s.cache != nil {
		if err := s.cache.SetBook(ctx, depth, snap); err != nil {
			slog.Warn("book cache write failed", "event_id", eventID, "err", err)
		} else if s.pod.BookVersion(eventID) != version {
			// The book changed after the snapshot was read; its own
			// invalidation may already have run.
			s.invalidate(ctx, eventID)
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListTrades handles GET /api/v1/markets/{eventID}/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.pod.Trades(chi.URLParam(r, "eventID"))
	if err != nil {
		s.fail(w, "list_trades", err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns balances, claim positions and open orders.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pod.Portfolio(chi.URLParam(r, "userID")))
}

// --- Orders ---

// PlaceOrder handles POST /api/v1/orders
// Matches immediately against the book; any remainder rests.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req pod.OrderRequest
	if !decode(w, r, &req) {
		return
	}

	order, trades, err := s.pod.PlaceOrder(r.Context(), caller(r), req)
	if err != nil {
		s.fail(w, "place_order", err)
		return
	}
	s.invalidate(r.Context(), order.EventID)

	slog.Info("order placed",
		"order_id", order.ID,
		"owner", order.Owner,
		"event_id", order.EventID,
		"outcome", order.Outcome,
		"side", order.Side,
		"price", order.Probability().String(),
		"amount", order.OriginalAmount,
		"trades", len(trades),
		"status", order.Status,
	)
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusCreated, PlaceOrderResponse{Order: order, Trades: trades})
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.pod.Order(chi.URLParam(r, "orderID"))
	if !ok {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
// Only the owner or an operator may cancel.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.pod.CancelOrder(r.Context(), caller(r), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, "cancel_order", err)
		return
	}
	s.invalidate(r.Context(), order.EventID)

	slog.Info("order cancelled", "order_id", order.ID, "by", caller(r), "cancelled", order.CancelledAmount)
	writeJSON(w, http.StatusOK, order)
}

// --- Funds ---

// Deposit handles POST /api/v1/accounts/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req FundsRequest
	if !decode(w, r, &req) {
		return
	}
	bal, err := s.pod.Deposit(r.Context(), caller(r), req.Token, req.Amount)
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// Withdraw handles POST /api/v1/accounts/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req FundsRequest
	if !decode(w, r, &req) {
		return
	}
	bal, err := s.pod.Withdraw(r.Context(), caller(r), req.Token, req.Amount)
	if err != nil {
		s.fail(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// MintSet handles POST /api/v1/sets/mint
// Converts collateral into one claim on every outcome of the event.
func (s *Service) MintSet(w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if !decode(w, r, &req) {
		return
	}
	user := caller(r)
	if err := s.pod.MintCompleteSet(r.Context(), user, req.EventID, req.Token, req.Amount); err != nil {
		s.fail(w, "mint_set", err)
		return
	}
	writeJSON(w, http.StatusOK, s.pod.Portfolio(user))
}

// BurnSet handles POST /api/v1/sets/burn
func (s *Service) BurnSet(w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if !decode(w, r, &req) {
		return
	}
	user := caller(r)
	if err := s.pod.BurnCompleteSet(r.Context(), user, req.EventID, req.Token, req.Amount); err != nil {
		s.fail(w, "burn_set", err)
		return
	}
	writeJSON(w, http.StatusOK, s.pod.Portfolio(user))
}

// --- helpers ---

func caller(r *http.Request) string { return r.Header.Get(UserHeader) }

func (s *Service) invalidate(ctx context.Context, eventID string) {
	if s.cache == nil || eventID == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, eventID); err != nil {
		slog.Warn("book cache invalidation failed", "event_id", eventID, "err", err)
	}
}

// fail maps a classified error onto an HTTP status.
func (s *Service) fail(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("operation failed", "op", op, "kind", kind.String(), "err", err)
	}
	writeError(w, err.Error(), status)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Authorization:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InsufficientResource, apperr.StateConflict:
		return http.StatusConflict
	case apperr.Fatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
