package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.MarketGateway = (*Gateway)(nil)

// Gateway is a scripted market. Listings are returned for every query until
// replaced, and orders succeed unless the advertisement is listed in Reject.
type Gateway struct {
	mu       sync.Mutex
	listings []map[string]any
	reject   map[string]bool
	orders   []outbound.OrderRequest
	paid     []string
	queries  []outbound.ListingQuery
}

// NewGateway creates a gateway serving listings.
func NewGateway(listings ...map[string]any) *Gateway {
	return &Gateway{listings: listings, reject: make(map[string]bool)}
}

// SetListings replaces the listings returned by subsequent queries.
func (g *Gateway) SetListings(listings ...map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listings = listings
}

// Reject makes PlaceOrder fail for the given advertisement ids.
func (g *Gateway) Reject(adIDs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range adIDs {
		g.reject[id] = true
	}
}

// ListActiveListings returns the scripted listings.
func (g *Gateway) ListActiveListings(ctx context.Context, q outbound.ListingQuery) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries = append(g.queries, q)
	out := make([]map[string]any, len(g.listings))
	copy(out, g.listings)
	return out, nil
}

// PlaceOrder records the request and returns a fresh order id.
func (g *Gateway) PlaceOrder(ctx context.Context, req outbound.OrderRequest) (*entity.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.orders = append(g.orders, req)
	if g.reject[req.AdvertisementID] {
		return nil, fmt.Errorf("%w: advertisement %s", outbound.ErrOrderRejected, req.AdvertisementID)
	}
	return entity.NewOrderResult(map[string]any{
		"orderId": uuid.NewString(),
		"amount":  req.Amount,
	}), nil
}

// MarkPaid records the order id.
func (g *Gateway) MarkPaid(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paid = append(g.paid, orderID)
	return nil
}

// Orders returns every order request received.
func (g *Gateway) Orders() []outbound.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]outbound.OrderRequest(nil), g.orders...)
}

// Paid returns every order id marked as paid.
func (g *Gateway) Paid() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.paid...)
}

// Queries returns every listing query received.
func (g *Gateway) Queries() []outbound.ListingQuery {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]outbound.ListingQuery(nil), g.queries...)
}
