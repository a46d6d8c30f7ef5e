// Package sqs applies remote control commands received from an SQS queue.
//
// Each message body is a JSON command:
//
//	{"action": "start"}
//	{"action": "stop"}
//	{"action": "toggle_autostart"}
//	{"action": "settings", "input": "1400-1455"}
//	{"action": "mark_paid", "order_id": "1234"}
//
// Handled messages are deleted. Messages that can never succeed (bad JSON,
// unknown action, rejected input) are deleted too; other failures are left
// on the queue for redelivery after the visibility timeout.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/inbound"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

// Command actions.
const (
	ActionStart           = "start"
	ActionStop            = "stop"
	ActionToggleAutoStart = "toggle_autostart"
	ActionSettings        = "settings"
	ActionMarkPaid        = "mark_paid"
)

// errPermanent marks a command that must not be redelivered.
var errPermanent = errors.New("permanent command failure")

// Command is the message payload.
type Command struct {
	Action  string `json:"action"`
	Input   string `json:"input,omitempty"`
	OrderID string `json:"order_id,omitempty"`
}

// Config holds configuration for the listener.
type Config struct {
	MaxMessages int

	// PollInterval is the pause between receive calls. Receives themselves
	// long-poll, so this mostly matters after errors.
	PollInterval time.Duration

	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		MaxMessages:  10,
		PollInterval: time.Second,
		Logger:       slog.Default(),
	}
}

// Listener consumes control commands and applies them to the controller.
type Listener struct {
	config     Config
	consumer   outbound.SQSConsumer
	controller inbound.Controller

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewListener creates a command listener.
func NewListener(config Config, consumer outbound.SQSConsumer, controller inbound.Controller) (*Listener, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if controller == nil {
		return nil, fmt.Errorf("controller cannot be nil")
	}

	defaults := configDefaults()
	if config.MaxMessages == 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Listener{
		config:     config,
		consumer:   consumer,
		controller: controller,
		logger:     config.Logger.With("component", "sqs-command-listener"),
	}, nil
}

// Start begins consuming in a goroutine.
func (l *Listener) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.processLoop()
	l.logger.Info("sqs command listener started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (l *Listener) Stop() error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	l.logger.Info("sqs command listener stopped")
	return nil
}

func (l *Listener) processLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.processMessages(l.ctx); err != nil && l.ctx.Err() == nil {
			l.logger.Error("error processing messages", "error", err)
		}
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Listener) processMessages(ctx context.Context) error {
	messages, err := l.consumer.ReceiveMessages(ctx, l.config.MaxMessages)
	if err != nil {
		return fmt.Errorf("receiving messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	l.logger.Debug("received messages", "count", len(messages))

	var errs []error
	for _, msg := range messages {
		err := l.processMessage(ctx, msg)
		switch {
		case err == nil:
		case errors.Is(err, errPermanent):
			l.logger.Warn("dropping command", "messageId", msg.MessageID, "error", err)
		default:
			errs = append(errs, fmt.Errorf("message %s: %w", msg.MessageID, err))
			continue
		}

		if deleteErr := l.consumer.DeleteMessage(ctx, msg.ReceiptHandle); deleteErr != nil {
			l.logger.Error("failed to delete message", "messageId", msg.MessageID, "error", deleteErr)
		}
	}

	return errors.Join(errs...)
}

func (l *Listener) processMessage(ctx context.Context, msg outbound.SQSMessage) error {
	var cmd Command
	if err := json.Unmarshal([]byte(msg.Body), &cmd); err != nil {
		return fmt.Errorf("%w: parsing command: %w", errPermanent, err)
	}
	if err := l.Apply(ctx, cmd); err != nil {
		return err
	}
	l.logger.Info("command applied", "action", cmd.Action, "messageId", msg.MessageID)
	return nil
}

// Apply runs one command against the controller.
func (l *Listener) Apply(ctx context.Context, cmd Command) error {
	switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
	case ActionStart:
		return l.controller.StartWatching(ctx)
	case ActionStop:
		return l.controller.StopWatching(ctx)
	case ActionToggleAutoStart:
		_, err := l.controller.ToggleAutoStart(ctx)
		return err
	case ActionSettings:
		if strings.TrimSpace(cmd.Input) == "" {
			return fmt.Errorf("%w: settings command without input", errPermanent)
		}
		if _, err := l.controller.ApplySettingInput(ctx, cmd.Input); err != nil {
			if entity.IsInputError(err) {
				return fmt.Errorf("%w: %w", errPermanent, err)
			}
			return err
		}
		return nil
	case ActionMarkPaid:
		err := l.controller.MarkPaid(ctx, cmd.OrderID)
		if errors.Is(err, inbound.ErrNoOrder) || errors.Is(err, inbound.ErrGatewayUnavailable) {
			return fmt.Errorf("%w: %w", errPermanent, err)
		}
		return err
	default:
		return fmt.Errorf("%w: unknown action %q", errPermanent, cmd.Action)
	}
}
