package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.Notifier = (*Notifier)(nil)

// messageSender is the part of API the notifier needs.
type messageSender interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string, markup *InlineKeyboardMarkup) (*Message, error)
}

// Notifier sends order notifications to the recipient's chat.
type Notifier struct {
	api    messageSender
	logger *slog.Logger
}

// NewNotifier creates a notifier over a Bot API client.
func NewNotifier(api *API, logger *slog.Logger) (*Notifier, error) {
	if api == nil {
		return nil, fmt.Errorf("telegram api cannot be nil")
	}
	return newNotifier(api, logger), nil
}

func newNotifier(api messageSender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{api: api, logger: logger.With("component", "telegram-notifier")}
}

// Name implements outbound.Notifier.
func (n *Notifier) Name() string { return "telegram" }

// Notify sends the HTML message with the action buttons.
func (n *Notifier) Notify(ctx context.Context, note entity.Notification) error {
	if note.Recipient == 0 {
		return fmt.Errorf("notification %s has no recipient", note.ID)
	}
	if _, err := n.api.SendMessage(ctx, note.Recipient, FormatNotification(note), "HTML", ActionKeyboard(note.Actions())); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	n.logger.Debug("notification sent", "id", note.ID, "listing", note.ListingID)
	return nil
}

// ActionKeyboard lays out one button per row.
func ActionKeyboard(actions []entity.Action) *InlineKeyboardMarkup {
	rows := make([][]InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []InlineKeyboardButton{{Text: a.Label, CallbackData: a.Data}})
	}
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

// FormatNotification renders the operator message in Telegram HTML.
func FormatNotification(note entity.Notification) string {
	orderID := note.OrderID
	if orderID == "" {
		orderID = "N/A"
	}

	var b strings.Builder
	if note.Kind == entity.NotificationOrderFailed {
		b.WriteString("⚠️ <b>Buy Order Failed</b>\n")
	} else {
		b.WriteString("🔥 <b>New Buy Order Created</b>\n")
	}
	fmt.Fprintf(&b, "Coin: %s / %s\n", html.EscapeString(note.Market.Coin), html.EscapeString(note.Market.Fiat))
	fmt.Fprintf(&b, "Ad ID: %s\n", html.EscapeString(note.ListingID))
	fmt.Fprintf(&b, "Price: %s\n", strconv.FormatFloat(note.Price, 'f', -1, 64))
	fmt.Fprintf(&b, "Amount (fiat): %d\n", note.Amount)
	fmt.Fprintf(&b, "Order ID: %s\n\n", html.EscapeString(orderID))
	if note.Kind == entity.NotificationOrderFailed {
		b.WriteString("No order was created. The attempt is kept in history.")
	} else {
		b.WriteString("Please pay the seller outside the platform and click <b>I Have Paid</b> when done.")
	}
	return b.String()
}
