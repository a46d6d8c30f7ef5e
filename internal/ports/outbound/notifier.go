package outbound

import (
	"context"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
)

// Notifier delivers a notification to the operator. Delivery is best-effort;
// callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, n entity.Notification) error
	// Name identifies the notifier in logs and metrics.
	Name() string
}
