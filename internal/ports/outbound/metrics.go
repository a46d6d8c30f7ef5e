package outbound

import (
	"context"
	"time"
)

// MetricsRecorder lets services record metrics without depending on a
// telemetry implementation.
type MetricsRecorder interface {
	RecordCycle(ctx context.Context, duration time.Duration, status string)
	RecordListingsFetched(ctx context.Context, count int)
	RecordOrderAttempt(ctx context.Context, status string)
	RecordNotification(ctx context.Context, notifier, status string)
	RecordNotificationDropped(ctx context.Context)
}
