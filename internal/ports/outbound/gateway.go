// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"errors"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
)

// ErrOrderRejected is returned by gateways when the exchange refused an order.
var ErrOrderRejected = errors.New("order rejected by exchange")

// ListingQuery selects the listings to fetch.
type ListingQuery struct {
	Coin  string
	Fiat  string
	Side  entity.Side
	Page  int
	Limit int
}

// OrderRequest asks the exchange to take a listing for Amount units of fiat.
type OrderRequest struct {
	AdvertisementID string
	Amount          int64
}

// MarketGateway is the exchange capability the watcher depends on. Each
// supported exchange API version gets its own implementation.
type MarketGateway interface {
	// ListActiveListings returns raw listing records in exchange order.
	// Records are decoded by entity.ParseListing.
	ListActiveListings(ctx context.Context, q ListingQuery) ([]map[string]any, error)

	// PlaceOrder creates an order. Implementations must not retry it.
	PlaceOrder(ctx context.Context, req OrderRequest) (*entity.OrderResult, error)

	// MarkPaid tells the exchange the buyer has paid the seller.
	MarkPaid(ctx context.Context, orderID string) error
}
