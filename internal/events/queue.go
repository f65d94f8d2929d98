package events

import (
	"context"
	"log/slog"

	"github.com/atmx/market-core/internal/metrics"
	"github.com/atmx/market-core/internal/model"
)

const defaultBuffer = 1024

// queue is the buffered hand-off between the pod and a publisher's Run loop.
type queue struct {
	sink string
	ch   chan model.Notification
}

func newQueue(sink string, size int) queue {
	if size <= 0 {
		size = defaultBuffer
	}
	return queue{sink: sink, ch: make(chan model.Notification, size)}
}

// Publish enqueues n, dropping it if the buffer is full.
func (q queue) Publish(n model.Notification) {
	select {
	case q.ch <- n:
	default:
		metrics.NotificationsDropped.WithLabelValues(q.sink).Inc()
		slog.Warn("notification dropped", "sink", q.sink, "type", n.Type, "event_id", n.EventID)
	}
}

// drain feeds queued notifications to send until ctx is done. Send failures
// are logged and skipped; consumers can rebuild from the journal.
func (q queue) drain(ctx context.Context, send func(context.Context, model.Notification) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-q.ch:
			if err := send(ctx, n); err != nil {
				slog.Warn("notification publish failed", "sink", q.sink, "type", n.Type, "event_id", n.EventID, "err", err)
			}
		}
	}
}
