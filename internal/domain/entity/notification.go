package entity

import (
	"fmt"
	"strings"
	"time"
)

// NotificationKind distinguishes a created order from a failed attempt.
type NotificationKind string

const (
	NotificationOrderCreated NotificationKind = "order_created"
	NotificationOrderFailed  NotificationKind = "order_failed"
)

// Action verbs carried in notification buttons.
const (
	ActionMarkPaid = "markpaid"
	ActionViewAd   = "viewad"

	// NoOrderID stands in for the order id when no order was created.
	NoOrderID = "none"
)

// Notification is the event handed to notifiers after an order attempt.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Recipient int64            `json:"recipient"`
	Market    MarketFilter     `json:"market"`
	ListingID string           `json:"listing_id"`
	Price     float64          `json:"price"`
	Amount    int64            `json:"amount"`
	OrderID   string           `json:"order_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewOrderNotification builds the notification for an order attempt.
func NewOrderNotification(st State, a OrderAttempt, at time.Time) Notification {
	n := Notification{
		Kind:      NotificationOrderCreated,
		Recipient: st.AdminID,
		Market:    st.Market,
		ListingID: a.Ad.ID,
		Price:     a.Ad.Price,
		Amount:    a.Amount,
		OrderID:   a.OrderID(),
		Timestamp: at.UTC(),
	}
	if !a.Succeeded() {
		n.Kind = NotificationOrderFailed
	}
	return n
}

// Action is an operator action attached to a notification.
type Action struct {
	Label string
	Data  string
}

// Actions returns the buttons offered with the notification.
func (n Notification) Actions() []Action {
	orderID := n.OrderID
	if orderID == "" {
		orderID = NoOrderID
	}
	return []Action{
		{Label: "✅ I Have Paid", Data: ActionMarkPaid + ":" + orderID},
		{Label: "🔍 View Ad", Data: ActionViewAd + ":" + n.ListingID},
	}
}

// Subject is a one-line summary.
func (n Notification) Subject() string {
	if n.Kind == NotificationOrderFailed {
		return fmt.Sprintf("Buy order failed for ad %s", n.ListingID)
	}
	return fmt.Sprintf("New buy order created for ad %s", n.ListingID)
}

// ParseAction splits "verb:id" callback data.
func ParseAction(data string) (verb, id string, ok bool) {
	verb, id, ok = strings.Cut(data, ":")
	if !ok || verb == "" {
		return "", "", false
	}
	return verb, id, true
}
