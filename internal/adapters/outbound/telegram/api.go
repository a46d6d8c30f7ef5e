// Package telegram is a small Telegram Bot API client and the notifier built
// on it. The inbound bot front end shares the same client.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/p2pwatch/internal/pkg/httpclient"
)

const DefaultBaseURL = "https://api.telegram.org"

// Config holds configuration for the Bot API client.
type Config struct {
	Token   string
	BaseURL string

	// HTTP must allow a timeout longer than the getUpdates long-poll.
	HTTP httpclient.Config
}

// ConfigDefaults returns defaults for the public Bot API.
func ConfigDefaults() Config {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = 60 * time.Second
	httpCfg.RateLimit = rate.Limit(20)
	httpCfg.RateBurst = 5
	return Config{
		BaseURL: DefaultBaseURL,
		HTTP:    httpCfg,
	}
}

// API calls Bot API methods.
type API struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewAPI creates a Bot API client.
func NewAPI(config Config, logger *slog.Logger) (*API, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	defaults := ConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.HTTP == (httpclient.Config{}) {
		config.HTTP = defaults.HTTP
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telegram-api")

	return &API{
		baseURL: strings.TrimRight(config.BaseURL, "/") + "/bot" + config.Token,
		http:    httpclient.NewClient(config.HTTP, logger, parseResponse),
		logger:  logger,
	}, nil
}

// User is the sender of a message or callback.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat is where a message was sent.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is an incoming or sent chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// CallbackQuery is an inline-button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// Update is one getUpdates entry.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// InlineKeyboardButton is a button carrying callback data.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup is a grid of buttons, one slice per row.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// APIError is an ok=false Bot API response.
type APIError struct {
	Code        int    `json:"error_code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Description)
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// parseResponse turns ok=false into an APIError. 429 stays retryable; other
// API errors are final.
func parseResponse(statusCode int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if env.OK {
		return nil
	}
	apiErr := &APIError{Code: env.ErrorCode, Description: env.Description}
	if apiErr.Code == http.StatusTooManyRequests {
		return apiErr
	}
	return httpclient.WrapNonRetryable(apiErr)
}

// call invokes method with params and decodes the result field into out.
func (a *API) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", method, err)
	}

	var env envelope
	if err := a.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    a.baseURL + "/" + method,
		Body:   body,
	}, &env); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

type sendMessageParams struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage posts text to a chat. parseMode may be "" or "HTML".
func (a *API) SendMessage(ctx context.Context, chatID int64, text, parseMode string, markup *InlineKeyboardMarkup) (*Message, error) {
	var msg Message
	err := a.call(ctx, "sendMessage", sendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: markup,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type editMessageParams struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText replaces the text of a message the bot sent.
func (a *API) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	return a.call(ctx, "editMessageText", editMessageParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: markup,
	}, nil)
}

// AnswerCallbackQuery acknowledges a button press.
func (a *API) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return a.call(ctx, "answerCallbackQuery", map[string]string{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

type getUpdatesParams struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// GetUpdates long-polls for updates after offset.
func (a *API) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := a.call(ctx, "getUpdates", getUpdatesParams{
		Offset:         offset,
		Timeout:        int(timeout.Seconds()),
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}
