package market_watcher

import (
	"context"
	"sync"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
)

// notificationQueue is a bounded FIFO. Enqueue never blocks: when the queue is
// full the oldest pending notification is dropped to make room.
type notificationQueue struct {
	mu       sync.Mutex
	items    []entity.Notification
	capacity int
	dropped  int
	ready    chan struct{}
}

func newNotificationQueue(capacity int) *notificationQueue {
	return &notificationQueue{
		items:    make([]entity.Notification, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends n and returns the notification it displaced, if any.
func (q *notificationQueue) Enqueue(n entity.Notification) (entity.Notification, bool) {
	q.mu.Lock()
	var (
		evicted    entity.Notification
		wasEvicted bool
	)
	if len(q.items) >= q.capacity {
		evicted, wasEvicted = q.items[0], true
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, n)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted, wasEvicted
}

// Dequeue removes the oldest pending notification.
func (q *notificationQueue) Dequeue() (entity.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return entity.Notification{}, false
	}
	n := q.items[0]
	q.items[0] = entity.Notification{}
	q.items = q.items[1:]
	return n, true
}

// Ready is signalled after an enqueue.
func (q *notificationQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *notificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many notifications were discarded because the queue was full.
func (q *notificationQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// enqueueNotification hands n to the worker without blocking the cycle.
func (s *Service) enqueueNotification(ctx context.Context, n entity.Notification) {
	if len(s.notifiers) == 0 {
		return
	}
	if evicted, ok := s.queue.Enqueue(n); ok {
		s.metrics.RecordNotificationDropped(ctx)
		s.logger.Warn("notification queue full, dropped oldest",
			"dropped", evicted.ListingID,
			"totalDropped", s.queue.Dropped())
	}
}

// notifyLoop drains the queue until the service context is cancelled.
func (s *Service) notifyLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.queue.Ready():
		}

		for {
			if s.ctx.Err() != nil {
				return
			}
			n, ok := s.queue.Dequeue()
			if !ok {
				break
			}
			s.deliver(s.ctx, n)
		}
	}
}

// deliver sends n to every notifier once. Failures are logged, not retried.
func (s *Service) deliver(ctx context.Context, n entity.Notification) {
	for _, notifier := range s.notifiers {
		deliverCtx, cancel := context.WithTimeout(ctx, s.config.NotificationTimeout)
		err := notifier.Notify(deliverCtx, n)
		cancel()

		if err != nil {
			s.metrics.RecordNotification(ctx, notifier.Name(), "error")
			s.logger.Error("failed to deliver notification",
				"notifier", notifier.Name(),
				"listing", n.ListingID,
				"error", err)
			continue
		}
		s.metrics.RecordNotification(ctx, notifier.Name(), "ok")
		s.logger.Debug("notification delivered", "notifier", notifier.Name(), "listing", n.ListingID)
	}
}
