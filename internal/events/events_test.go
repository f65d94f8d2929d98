package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/market-core/internal/model"
)

func note(typ model.NotificationType, eventID string) model.Notification {
	return model.Notification{Type: typ, EventID: eventID, Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "market.events.order_matched.evt-1", Subject(note(model.NoteOrderMatched, "evt-1")))
}

func TestFanout_PublishesToEverySink(t *testing.T) {
	var a, b []model.Notification
	f := Fanout{
		NotifierFunc(func(n model.Notification) { a = append(a, n) }),
		NotifierFunc(func(n model.Notification) { b = append(b, n) }),
	}
	f.Publish(note(model.NoteOrderPlaced, "e"))
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := newQueue("test", 1)
	q.Publish(note(model.NoteOrderPlaced, "e"))
	q.Publish(note(model.NoteOrderCancelled, "e"))
	require.Len(t, q.ch, 1)
	assert.Equal(t, model.NoteOrderPlaced, (<-q.ch).Type)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	got  chan struct{}
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.msgs = append(w.msgs, msgs...)
	w.mu.Unlock()
	w.got <- struct{}{}
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByEvent(t *testing.T) {
	w := &fakeWriter{got: make(chan struct{}, 1)}
	p := newKafkaPublisher(w, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Publish(note(model.NoteEventSettled, "evt-9"))
	select {
	case <-w.got:
	case <-time.After(2 * time.Second):
		t.Fatal("message not written")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "evt-9", string(w.msgs[0].Key))
	assert.Equal(t, "event_settled", string(w.msgs[0].Headers[0].Value))

	var n model.Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &n))
	assert.Equal(t, model.NoteEventSettled, n.Type)
}
