// Package inbound contains the primary ports: the use cases front ends call.
package inbound

import (
	"context"
	"errors"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
)

var (
	// ErrNoOrder is returned when marking paid without an order id.
	ErrNoOrder = errors.New("no order to mark as paid")

	// ErrGatewayUnavailable is returned when an operation needs the market
	// gateway and none is configured.
	ErrGatewayUnavailable = errors.New("market gateway not configured")

	// ErrAttemptNotFound is returned when a listing is not in recent history.
	ErrAttemptNotFound = errors.New("ad not found in recent history")
)

// Controller is the operator-facing API of the watcher. Telegram, HTTP and
// queue front ends are thin adapters over it.
type Controller interface {
	StartWatching(ctx context.Context) error
	StopWatching(ctx context.Context) error
	ToggleAutoStart(ctx context.Context) (bool, error)

	Status(ctx context.Context) entity.Summary
	History(ctx context.Context, limit int) []entity.OrderAttempt
	FindAttempt(ctx context.Context, listingID string) (entity.OrderAttempt, error)

	SetPriceBand(ctx context.Context, band entity.PriceBand) error
	SetBuyBounds(ctx context.Context, bounds entity.BuyBounds) error
	ApplySettingInput(ctx context.Context, text string) (entity.SettingChange, error)

	MarkPaid(ctx context.Context, orderID string) error
}

// HealthChecker reports readiness and liveness for probes.
type HealthChecker interface {
	// IsReady is true once state has loaded and the poll loop is running.
	IsReady() bool

	// IsHealthy is true while the poll loop keeps completing iterations.
	IsHealthy() bool
}
