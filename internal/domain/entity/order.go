package entity

import (
	"strings"
	"time"
)

// OrderResult is what the gateway returned for a placed order.
type OrderResult struct {
	OrderID string
	Raw     map[string]any
}

// NewOrderResult wraps a raw order response, extracting the order id from
// orderId, data.orderId or result.orderId.
func NewOrderResult(raw map[string]any) *OrderResult {
	return &OrderResult{OrderID: extractOrderID(raw), Raw: raw}
}

func extractOrderID(raw map[string]any) string {
	if raw == nil {
		return ""
	}
	if v, ok := firstPresent(raw, []string{"orderId"}); ok {
		return toString(v)
	}
	for _, wrapper := range []string{"data", "result"} {
		nested, ok := raw[wrapper].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := firstPresent(nested, []string{"orderId"}); ok {
			return toString(v)
		}
	}
	return ""
}

// AdSnapshot is the listing as it was when the order was attempted.
type AdSnapshot struct {
	ID    string         `json:"id"`
	Price float64        `json:"price"`
	Raw   map[string]any `json:"raw"`
}

// OrderAttempt is one history record. OrderResponse is nil when no order
// was created, either because the gateway failed or is not configured.
type OrderAttempt struct {
	OrderResponse map[string]any `json:"order_response"`
	Ad            AdSnapshot     `json:"ad"`
	Amount        int64          `json:"amount"`
	Timestamp     string         `json:"timestamp"`
}

// NewOrderAttempt builds a history record stamped with at in UTC.
func NewOrderAttempt(l Listing, amount int64, result *OrderResult, at time.Time) OrderAttempt {
	a := OrderAttempt{
		Ad:        AdSnapshot{ID: l.ID, Price: l.Price, Raw: l.Raw},
		Amount:    amount,
		Timestamp: FormatTimestamp(at),
	}
	if result != nil {
		a.OrderResponse = result.Raw
		if a.OrderResponse == nil {
			a.OrderResponse = map[string]any{}
		}
	}
	return a
}

// Succeeded reports whether the gateway returned an order response.
func (a OrderAttempt) Succeeded() bool {
	return a.OrderResponse != nil
}

// OrderID returns the exchange order id, if any.
func (a OrderAttempt) OrderID() string {
	return extractOrderID(a.OrderResponse)
}

// Time parses Timestamp. ok is false for malformed values.
func (a OrderAttempt) Time() (t time.Time, ok bool) {
	return ParseTimestamp(a.Timestamp)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// FormatTimestamp renders t as an RFC 3339 UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp accepts RFC 3339 and naive ISO-8601 timestamps. Naive values
// are taken to be UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
