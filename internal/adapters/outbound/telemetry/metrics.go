package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements outbound.MetricsRecorder with OpenTelemetry instruments.
type Metrics struct {
	cycleDuration        metric.Float64Histogram
	cycles               metric.Int64Counter
	listingsFetched      metric.Int64Counter
	orderAttempts        metric.Int64Counter
	notifications        metric.Int64Counter
	notificationsDropped metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.cycleDuration, err = meter.Float64Histogram(
		"p2pwatch_cycle_duration_seconds",
		metric.WithDescription("Time taken by one poll cycle"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cycle duration histogram: %w", err)
	}

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
	}{
		{&m.cycles, "p2pwatch_cycles_total", "Poll cycles by status"},
		{&m.listingsFetched, "p2pwatch_listings_fetched_total", "Listings returned by the market gateway"},
		{&m.orderAttempts, "p2pwatch_order_attempts_total", "Order attempts by status"},
		{&m.notifications, "p2pwatch_notifications_total", "Notification deliveries by notifier and status"},
		{&m.notificationsDropped, "p2pwatch_notifications_dropped_total", "Notifications dropped because the queue was full"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.description)); err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	return &m, nil
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(ctx context.Context, duration time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.cycleDuration.Record(ctx, duration.Seconds(), attrs)
	m.cycles.Add(ctx, 1, attrs)
}

// RecordListingsFetched adds the number of listings seen in one fetch.
func (m *Metrics) RecordListingsFetched(ctx context.Context, count int) {
	m.listingsFetched.Add(ctx, int64(count))
}

// RecordOrderAttempt counts one order attempt.
func (m *Metrics) RecordOrderAttempt(ctx context.Context, status string) {
	m.orderAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordNotification counts one delivery to one notifier.
func (m *Metrics) RecordNotification(ctx context.Context, notifier, status string) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("notifier", notifier),
		attribute.String("status", status),
	))
}

// RecordNotificationDropped counts a notification evicted from the queue.
func (m *Metrics) RecordNotificationDropped(ctx context.Context) {
	m.notificationsDropped.Add(ctx, 1)
}
