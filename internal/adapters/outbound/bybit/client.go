// Package bybit implements the MarketGateway port against the Bybit v5 P2P
// REST API.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/pkg/httpclient"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

const (
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"
)

var _ outbound.MarketGateway = (*Client)(nil)

// Config holds configuration for the Bybit client.
type Config struct {
	APIKey    string
	APISecret string

	// Testnet selects TestnetURL when BaseURL is empty.
	Testnet bool
	BaseURL string

	RecvWindow time.Duration

	ListingsPath    string
	CreateOrderPath string
	MarkPaidPath    string

	HTTP httpclient.Config
}

// ConfigDefaults returns the v5 P2P endpoints on testnet.
func ConfigDefaults() Config {
	return Config{
		Testnet:         true,
		RecvWindow:      5 * time.Second,
		ListingsPath:    "/v5/p2p/item/online",
		CreateOrderPath: "/v5/p2p/order/create",
		MarkPaidPath:    "/v5/p2p/order/pay",
		HTTP:            httpclient.DefaultConfig(),
	}
}

// Client is a signed Bybit P2P client.
type Client struct {
	baseURL string
	config  Config
	signer  *Signer
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a Bybit gateway. Credentials are required.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("bybit API key and secret are required")
	}

	defaults := ConfigDefaults()
	if config.RecvWindow <= 0 {
		config.RecvWindow = defaults.RecvWindow
	}
	if config.ListingsPath == "" {
		config.ListingsPath = defaults.ListingsPath
	}
	if config.CreateOrderPath == "" {
		config.CreateOrderPath = defaults.CreateOrderPath
	}
	if config.MarkPaidPath == "" {
		config.MarkPaidPath = defaults.MarkPaidPath
	}
	if config.HTTP == (httpclient.Config{}) {
		config.HTTP = defaults.HTTP
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = MainnetURL
		if config.Testnet {
			baseURL = TestnetURL
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bybit-client")

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  config,
		signer:  NewSigner(config.APIKey, config.APISecret, config.RecvWindow),
		http:    httpclient.NewClient(config.HTTP, logger, parseEnvelope),
		logger:  logger,
	}, nil
}

// post sends a signed JSON POST and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, payload any, noRetry bool) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var raw json.RawMessage
	err = c.http.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + path,
		Headers: map[string]string{headerRequestID: uuid.NewString()},
		Body:    body,
		Prepare: func(req *http.Request, body []byte) error {
			for k, v := range c.signer.Headers(body) {
				req.Header.Set(k, v)
			}
			return nil
		},
		NoRetry: noRetry,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// sideCode maps a side to the P2P API's "0" (buy) / "1" (sell).
func sideCode(s entity.Side) string {
	if s.Normalize() == entity.SideSell {
		return "1"
	}
	return "0"
}

// ListActiveListings fetches one page of online advertisements.
func (c *Client) ListActiveListings(ctx context.Context, q outbound.ListingQuery) ([]map[string]any, error) {
	page := q.Page
	if page <= 0 {
		page = 1
	}
	size := q.Limit
	if size <= 0 {
		size = 10
	}

	raw, err := c.post(ctx, c.config.ListingsPath, map[string]string{
		"tokenId":    q.Coin,
		"currencyId": q.Fiat,
		"side":       sideCode(q.Side),
		"page":       strconv.Itoa(page),
		"size":       strconv.Itoa(size),
	}, false)
	if err != nil {
		return nil, fmt.Errorf("listing online ads: %w", err)
	}

	listings, err := extractListings(raw)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched listings", "coin", q.Coin, "fiat", q.Fiat, "side", q.Side, "count", len(listings))
	return listings, nil
}

// PlaceOrder creates an order for the advertisement. It is sent exactly
// once; any exchange refusal wraps outbound.ErrOrderRejected.
func (c *Client) PlaceOrder(ctx context.Context, req outbound.OrderRequest) (*entity.OrderResult, error) {
	if req.AdvertisementID == "" {
		return nil, fmt.Errorf("advertisement id is required")
	}

	raw, err := c.post(ctx, c.config.CreateOrderPath, map[string]string{
		"advertisementId": req.AdvertisementID,
		"itemId":          req.AdvertisementID,
		"amount":          decimal.NewFromInt(req.Amount).String(),
	}, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %w", outbound.ErrOrderRejected, apiErr)
		}
		return nil, fmt.Errorf("creating order: %w", err)
	}

	obj, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding order response: %w", err)
	}

	result := entity.NewOrderResult(obj)
	c.logger.Info("order created", "advertisement", req.AdvertisementID, "amount", req.Amount, "orderId", result.OrderID)
	return result, nil
}

// MarkPaid confirms payment for an order.
func (c *Client) MarkPaid(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("order id is required")
	}
	if _, err := c.post(ctx, c.config.MarkPaidPath, map[string]string{"orderId": orderID}, false); err != nil {
		return fmt.Errorf("marking order %s paid: %w", orderID, err)
	}
	c.logger.Info("order marked paid", "orderId", orderID)
	return nil
}
