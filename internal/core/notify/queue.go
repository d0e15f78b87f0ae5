package notify

import (
	"sync"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
)

// outboundQueue is a bounded FIFO that drops its oldest entry when full.
// Push never blocks.
type outboundQueue struct {
	mu       sync.Mutex
	items    []alarm.NotificationEvent
	capacity int
	ready    chan struct{}
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &outboundQueue{
		items:    make([]alarm.NotificationEvent, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// push enqueues event and returns the entry evicted to make room, if any.
func (q *outboundQueue) push(event alarm.NotificationEvent) (alarm.NotificationEvent, bool) {
	q.mu.Lock()
	var (
		dropped alarm.NotificationEvent
		full    bool
	)
	if len(q.items) == q.capacity {
		dropped, full = q.items[0], true
		q.items = append(q.items[:0], q.items[1:]...)
	}
	q.items = append(q.items, event)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped, full
}

func (q *outboundQueue) pop() (alarm.NotificationEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return alarm.NotificationEvent{}, false
	}
	event := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	return event, true
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
