// Package pod runs one market group's exchange core as a single writer.
//
// Every mutation holds the write lock for its whole duration: it is applied
// to the order books and the ledger, appended to the journal as one command
// and audited for fund conservation before the lock is released. Reads take
// the read lock and return copies. Notifications are handed to the
// notifier before the lock is released, so subscribers see them in commit
// order.
//
// A fatal condition (journal failure, audit violation, book/ledger
// disagreement) halts the pod: later mutations fail with ErrHalted while
// reads keep working.
package pod

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/market-core/internal/apperr"
	"github.com/atmx/market-core/internal/events"
	"github.com/atmx/market-core/internal/ledger"
	"github.com/atmx/market-core/internal/matching"
	"github.com/atmx/market-core/internal/metrics"
	"github.com/atmx/market-core/internal/model"
	"github.com/atmx/market-core/internal/settlement"
	"github.com/atmx/market-core/internal/store"
)

// ErrHalted is returned by every mutation once the pod has halted.
var ErrHalted = apperr.New(apperr.Fatal, "pod: halted, mutations are disabled")

// Options configures a pod.
type Options struct {
	Operators       []string
	FeeRateBps      int64
	FeeAccount      string
	DefaultToken    string
	CheckInvariants bool

	// Now and NewID default to time.Now and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// Pod owns the ledger, matching engine and settlement engine of one market
// group.
type Pod struct {
	mu       sync.RWMutex
	ledger   *ledger.Ledger
	matching *matching.Engine
	settle   *settlement.Engine
	journal  store.Journal
	notifier events.Notifier
	opts     Options
	seq      int64
	halted   error

	// bookVersions holds, per event, the seq of the last command that
	// changed its order books.
	bookVersions map[string]int64
}

// New creates an empty pod. Call Recover before serving traffic when the
// journal may already hold commands.
func New(journal store.Journal, notifier events.Notifier, opts Options) *Pod {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if notifier == nil {
		notifier = events.Fanout{}
	}
	l := ledger.New()
	m := matching.New(l, opts.Operators...)
	return &Pod{
		ledger:   l,
		matching: m,
		settle:   settlement.New(m, l),
		journal:  journal,
		notifier: notifier,
		opts:     opts,

		bookVersions: make(map[string]int64),
	}
}

// Recover replays the journal into the pod. A replay failure halts the pod.
func (p *Pod) Recover(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	err := p.journal.Replay(ctx, func(cmd model.Command) error {
		if cmd.Seq != p.seq+1 {
			return fmt.Errorf("journal gap: got seq %d after %d", cmd.Seq, p.seq)
		}
		if _, err := p.apply(cmd); err != nil {
			return fmt.Errorf("replay seq %d (%s): %w", cmd.Seq, cmd.Kind, err)
		}
		p.seq = cmd.Seq
		return nil
	})
	p.matching.Discard()
	if err == nil {
		err = p.ledger.Audit()
	}
	if err != nil {
		p.halt(err)
		return err
	}
	p.refreshActiveMarkets()
	slog.Info("journal replayed", "commands", p.seq, "duration", time.Since(start))
	return nil
}

// Halted returns the error that halted the pod, or nil.
func (p *Pod) Halted() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.halted
}

// Seq returns the sequence number of the last committed command.
func (p *Pod) Seq() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}

func (p *Pod) halt(err error) {
	if p.halted != nil {
		return
	}
	p.halted = err
	metrics.PodHalted.Set(1)
	slog.Error("pod halted", "seq", p.seq, "err", err)
}

// commit applies cmd, journals it, audits the ledger and publishes its
// notifications, all under the write lock. Notifier.Publish never blocks.
func (p *Pod) commit(ctx context.Context, cmd model.Command) (applied, error) {
	start := time.Now()
	p.mu.Lock()

	res, notes, err := p.commitLocked(ctx, cmd)
	for _, n := range notes {
		p.notifier.Publish(n)
	}
	p.mu.Unlock()

	if err != nil {
		metrics.OperationsRejected.WithLabelValues(string(cmd.Kind), apperr.KindOf(err).String()).Inc()
		slog.Debug("command rejected", "kind", cmd.Kind, "caller", cmd.Caller, "event_id", cmd.EventID, "err", err)
		return res, err
	}
	metrics.OperationLatency.WithLabelValues(string(cmd.Kind)).Observe(time.Since(start).Seconds())
	slog.Debug("command committed", "seq", cmd.Seq, "kind", cmd.Kind, "caller", cmd.Caller, "event_id", cmd.EventID)
	return res, nil
}

func (p *Pod) commitLocked(ctx context.Context, cmd model.Command) (applied, []model.Notification, error) {
	if p.halted != nil {
		return applied{}, nil, ErrHalted
	}
	cmd.Seq = p.seq + 1
	cmd.At = p.opts.Now()

	res, err := p.apply(cmd)
	if err != nil {
		p.matching.Discard()
		if apperr.KindOf(err) == apperr.Fatal {
			p.halt(err)
		}
		return applied{}, nil, err
	}

	if err := p.journal.Append(ctx, cmd); err != nil {
		// State is ahead of the journal; nothing further may commit.
		p.matching.Discard()
		p.halt(fmt.Errorf("journal append seq %d: %w", cmd.Seq, err))
		return applied{}, nil, fmt.Errorf("%w: %v", ErrHalted, err)
	}
	p.seq = cmd.Seq

	if p.opts.CheckInvariants {
		if err := p.ledger.Audit(); err != nil {
			p.matching.Discard()
			p.halt(err)
			return applied{}, nil, fmt.Errorf("%w: %v", ErrHalted, err)
		}
	}

	if ev := bookEvent(cmd, res); ev != "" {
		p.bookVersions[ev] = cmd.Seq
	}
	notes := p.matching.TakeNotifications()
	notes = append(notes, p.record(cmd, res)...)
	return res, notes, nil
}

// bookEvent returns the event whose books cmd changed, or "".
func bookEvent(cmd model.Command, res applied) string {
	switch cmd.Kind {
	case model.CmdRegisterMarket, model.CmdPlaceOrder, model.CmdSettleEvent, model.CmdCancelMarket:
		return cmd.EventID
	case model.CmdCancelOrder:
		return res.order.EventID
	}
	return ""
}

// record updates metrics for a committed command and returns the lifecycle
// notifications the matching engine does not emit itself.
func (p *Pod) record(cmd model.Command, res applied) []model.Notification {
	switch cmd.Kind {
	case model.CmdRegisterMarket:
		p.refreshActiveMarkets()
	case model.CmdPlaceOrder:
		metrics.OrdersPlaced.WithLabelValues(string(cmd.Side)).Inc()
		for _, tr := range res.trades {
			metrics.TradesTotal.WithLabelValues(string(tr.TakerSide)).Inc()
			metrics.TradedVolume.WithLabelValues(tr.EventID).Add(float64(tr.Amount))
			if f := tr.BuyerFee + tr.SellerFee; f > 0 {
				metrics.FeesCollected.WithLabelValues(cmd.Token).Add(float64(f))
			}
		}
	case model.CmdSettleEvent:
		p.refreshActiveMarkets()
		metrics.Settlements.Inc()
		s := res.settlement
		slog.Info("event settled", "event_id", s.EventID, "winner", s.Winner, "pool", s.Pool,
			"payouts", len(s.Payouts), "residual", s.Residual, "cancelled_orders", s.CancelledOrders)
		return []model.Notification{{Type: model.NoteEventSettled, EventID: cmd.EventID, Settlement: &s, Timestamp: cmd.At}}
	case model.CmdCancelMarket:
		p.refreshActiveMarkets()
		slog.Info("market cancelled", "event_id", cmd.EventID, "cancelled_orders", res.cancelled)
		return []model.Notification{{Type: model.NoteMarketCancelled, EventID: cmd.EventID, Timestamp: cmd.At}}
	}
	return nil
}

func (p *Pod) refreshActiveMarkets() {
	n := 0
	for _, m := range p.matching.Markets() {
		if m.Status == model.MarketActive {
			n++
		}
	}
	metrics.ActiveMarkets.Set(float64(n))
}
