package memory

import (
	"context"
	"sync"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.Notifier = (*Notifier)(nil)

// Notifier records every notification it receives.
type Notifier struct {
	mu            sync.RWMutex
	notifications []entity.Notification
	onNotify      func(entity.Notification)
}

// NewNotifier creates an empty recording notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Name implements outbound.Notifier.
func (n *Notifier) Name() string { return "memory" }

// Notify stores the notification.
func (n *Notifier) Notify(ctx context.Context, note entity.Notification) error {
	n.mu.Lock()
	n.notifications = append(n.notifications, note)
	cb := n.onNotify
	n.mu.Unlock()

	if cb != nil {
		cb(note)
	}
	return nil
}

// Notifications returns a copy of everything recorded so far.
func (n *Notifier) Notifications() []entity.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]entity.Notification, len(n.notifications))
	copy(out, n.notifications)
	return out
}

// SetOnNotify registers a callback invoked after each delivery.
func (n *Notifier) SetOnNotify(fn func(entity.Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onNotify = fn
}
