// Package telegram is the operator chat front end. It long-polls the Bot API
// and turns commands, button presses and free text into Controller calls.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgapi "github.com/archon-research/p2pwatch/internal/adapters/outbound/telegram"
	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/inbound"
)

// maxMessageLen keeps replies under the Bot API limit of 4096 characters.
const maxMessageLen = 4000

type botAPI interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tgapi.Update, error)
	SendMessage(ctx context.Context, chatID int64, text, parseMode string, markup *tgapi.InlineKeyboardMarkup) (*tgapi.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *tgapi.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// Config holds configuration for the bot.
type Config struct {
	// AdminID is the only user or chat the bot answers.
	AdminID int64

	// PollTimeout is the getUpdates long-poll timeout.
	PollTimeout time.Duration

	// ErrorBackoff is the wait after a failed getUpdates.
	ErrorBackoff time.Duration

	// HistoryLimit is the number of attempts shown by history.
	HistoryLimit int

	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		PollTimeout:  30 * time.Second,
		ErrorBackoff: 5 * time.Second,
		HistoryLimit: 10,
		Logger:       slog.Default(),
	}
}

// Bot dispatches Telegram updates to the controller.
type Bot struct {
	api        botAPI
	controller inbound.Controller
	config     Config
	offset     int64
	logger     *slog.Logger
}

// NewBot creates a bot over the Bot API client.
func NewBot(config Config, api *tgapi.API, controller inbound.Controller) (*Bot, error) {
	if api == nil {
		return nil, fmt.Errorf("telegram api cannot be nil")
	}
	return newBot(config, api, controller)
}

func newBot(config Config, api botAPI, controller inbound.Controller) (*Bot, error) {
	if controller == nil {
		return nil, fmt.Errorf("controller cannot be nil")
	}
	if config.AdminID == 0 {
		return nil, fmt.Errorf("admin id is required")
	}

	defaults := ConfigDefaults()
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaults.PollTimeout
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Bot{
		api:        api,
		controller: controller,
		config:     config,
		logger:     config.Logger.With("component", "telegram-bot"),
	}, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram bot started", "adminId", b.config.AdminID)
	for {
		if err := ctx.Err(); err != nil {
			b.logger.Info("telegram bot stopped")
			return nil
		}

		if err := b.poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.Warn("getUpdates failed", "error", err, "backoff", b.config.ErrorBackoff)
			select {
			case <-ctx.Done():
			case <-time.After(b.config.ErrorBackoff):
			}
		}
	}
}

// poll fetches one batch of updates and handles each of them. The offset
// advances past every update, handled or not, so a poisoned update is never
// redelivered.
func (b *Bot) poll(ctx context.Context) error {
	updates, err := b.api.GetUpdates(ctx, b.offset, b.config.PollTimeout)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		b.HandleUpdate(ctx, u)
	}
	return nil
}

// HandleUpdate dispatches a single update.
func (b *Bot) HandleUpdate(ctx context.Context, u tgapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		if !b.isAdmin(u.CallbackQuery.From.ID, chatOf(u.CallbackQuery.Message)) {
			b.logger.Warn("ignoring callback from non-admin", "userId", u.CallbackQuery.From.ID)
			return
		}
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		var from int64
		if u.Message.From != nil {
			from = u.Message.From.ID
		}
		if !b.isAdmin(from, u.Message.Chat.ID) {
			b.logger.Warn("ignoring message from non-admin", "userId", from, "chatId", u.Message.Chat.ID)
			return
		}
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) isAdmin(userID, chatID int64) bool {
	return userID == b.config.AdminID || chatID == b.config.AdminID
}

func chatOf(m *tgapi.Message) int64 {
	if m == nil {
		return 0
	}
	return m.Chat.ID
}

func (b *Bot) handleMessage(ctx context.Context, m *tgapi.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, m.Chat.ID, text)
		return
	}

	change, err := b.controller.ApplySettingInput(ctx, text)
	if err != nil {
		b.send(ctx, m.Chat.ID, settingErrorText(err), nil)
		if !errors.Is(err, context.Canceled) && !entity.IsInputError(err) {
			b.logger.Error("applying setting failed", "error", err)
		}
		return
	}
	b.send(ctx, m.Chat.ID, change.Describe(), nil)
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start", "/menu":
		b.send(ctx, chatID, mainMenuTitle, mainMenu())
	case "/help":
		b.send(ctx, chatID, helpText, nil)
	case "/status":
		b.send(ctx, chatID, statusText(b.controller.Status(ctx)), nil)
	case "/history":
		b.send(ctx, chatID, historyText(b.controller.History(ctx, b.config.HistoryLimit)), nil)
	case "/run":
		b.send(ctx, chatID, b.startWatching(ctx), nil)
	case "/stop":
		b.send(ctx, chatID, b.stopWatching(ctx), nil)
	default:
		b.send(ctx, chatID, "Unknown command. Send /help for the list.", nil)
	}
}

// handleCallback answers the query first so the client stops its spinner,
// then edits the message that carried the button.
func (b *Bot) handleCallback(ctx context.Context, q *tgapi.CallbackQuery) {
	if err := b.api.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
		b.logger.Warn("answering callback failed", "error", err)
	}

	text, markup := b.routeCallback(ctx, q.Data)

	if q.Message == nil {
		b.send(ctx, b.config.AdminID, text, markup)
		return
	}
	if err := b.api.EditMessageText(ctx, q.Message.Chat.ID, q.Message.MessageID, truncate(text), markup); err != nil {
		b.logger.Warn("editing message failed", "error", err)
	}
}

func (b *Bot) routeCallback(ctx context.Context, data string) (string, *tgapi.InlineKeyboardMarkup) {
	switch data {
	case "settings":
		return settingsText(b.controller.Status(ctx)), settingsMenu()
	case "back_main":
		return "Main Menu", mainMenu()
	case "start_bot":
		return b.startWatching(ctx), nil
	case "stop_bot":
		return b.stopWatching(ctx), nil
	case "status":
		return statusText(b.controller.Status(ctx)), nil
	case "history":
		return historyText(b.controller.History(ctx, b.config.HistoryLimit)), nil
	case "set_range":
		return "Send the price range in the format: min-max (e.g. 1400-1455)", nil
	case "set_min_buy":
		return "Send the minimum buy amount in fiat (e.g. 10000)", nil
	case "set_max_buy":
		return "Send the maximum buy amount in fiat (e.g. 1000000)", nil
	case "toggle_autostart":
		enabled, err := b.controller.ToggleAutoStart(ctx)
		if err != nil {
			b.logger.Error("toggling auto-start failed", "error", err)
			return "Failed to toggle auto-start; check logs.", nil
		}
		return fmt.Sprintf("Auto-start set to %t", enabled), nil
	}

	verb, id, ok := entity.ParseAction(data)
	if !ok {
		return "Unknown action.", nil
	}
	switch verb {
	case entity.ActionMarkPaid:
		return b.markPaid(ctx, id), nil
	case entity.ActionViewAd:
		return b.viewAd(ctx, id), nil
	default:
		return "Unknown action.", nil
	}
}

func (b *Bot) startWatching(ctx context.Context) string {
	if err := b.controller.StartWatching(ctx); err != nil {
		b.logger.Error("starting watcher failed", "error", err)
		return "Failed to start; check logs."
	}
	return "Crawler started ✅"
}

func (b *Bot) stopWatching(ctx context.Context) string {
	if err := b.controller.StopWatching(ctx); err != nil {
		b.logger.Error("stopping watcher failed", "error", err)
		return "Failed to stop; check logs."
	}
	return "Crawler stopped ⏹"
}

func (b *Bot) markPaid(ctx context.Context, orderID string) string {
	err := b.controller.MarkPaid(ctx, orderID)
	switch {
	case err == nil:
		return fmt.Sprintf("Order %s marked as paid.", orderID)
	case errors.Is(err, inbound.ErrNoOrder):
		return "No order was created for this ad; nothing to mark as paid."
	case errors.Is(err, inbound.ErrGatewayUnavailable):
		return "Bybit client not configured; cannot mark paid."
	default:
		b.logger.Error("marking paid failed", "orderId", orderID, "error", err)
		return "Failed to mark the order as paid; check logs."
	}
}

func (b *Bot) viewAd(ctx context.Context, listingID string) string {
	a, err := b.controller.FindAttempt(ctx, listingID)
	if err != nil {
		return "Ad not found in recent history."
	}
	data, err := json.MarshalIndent(a.Ad, "", "  ")
	if err != nil {
		b.logger.Error("encoding ad failed", "listingId", listingID, "error", err)
		return "Failed to render the ad; check logs."
	}
	return "Ad details:\n" + string(data)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup *tgapi.InlineKeyboardMarkup) {
	if _, err := b.api.SendMessage(ctx, chatID, truncate(text), "", markup); err != nil {
		b.logger.Warn("sending reply failed", "chatId", chatID, "error", err)
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen-1]) + "…"
}
