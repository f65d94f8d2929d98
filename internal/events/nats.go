package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atmx/market-core/internal/model"
)

// StreamName is the JetStream stream holding market notifications.
const StreamName = "MARKET_EVENTS"

// NATSPublisher publishes notifications to JetStream on
// market.events.<type>.<event_id>.
type NATSPublisher struct {
	queue
	js jetstream.JetStream
}

// NewNATSPublisher creates a publisher with a buffer of size notifications.
func NewNATSPublisher(js jetstream.JetStream, size int) *NATSPublisher {
	return &NATSPublisher{queue: newQueue("nats", size), js: js}
}

// Run publishes queued notifications until ctx is cancelled.
func (p *NATSPublisher) Run(ctx context.Context) error {
	return p.drain(ctx, p.send)
}

func (p *NATSPublisher) send(ctx context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = p.js.Publish(ctx, Subject(n), data)
	return err
}

// EnsureStream creates or updates the notification stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	slog.Info("ensured notification stream", "stream", StreamName)
	return nil
}
