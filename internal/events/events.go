// Package events delivers committed-state notifications to downstream
// consumers. Delivery is best effort: a notifier must never block the pod,
// so publishers buffer and drop when full.
package events

import (
	"github.com/atmx/market-core/internal/model"
)

// Notifier receives notifications as the pod commits a mutation. Publish is
// called with the pod's write lock held: it must not block or call back into
// the pod.
type Notifier interface {
	Publish(n model.Notification)
}

// Fanout publishes every notification to each of its notifiers in order.
type Fanout []Notifier

func (f Fanout) Publish(n model.Notification) {
	for _, sink := range f {
		sink.Publish(n)
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.Notification)

func (fn NotifierFunc) Publish(n model.Notification) { fn(n) }

// Subject returns the routing subject of a notification:
// market.events.<type>.<event_id>.
func Subject(n model.Notification) string {
	return subjectPrefix + string(n.Type) + "." + n.EventID
}

const subjectPrefix = "market.events."
