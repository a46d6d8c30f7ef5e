// Package sns publishes order notifications to an AWS SNS topic so that
// other systems (email, chat bridges, audit) can subscribe to them.
//
// Messages are the JSON encoding of entity.Notification. Attributes allow
// subscription filter policies:
//   - kind: "order_created" or "order_failed"
//   - coin, fiat: the watched market
//   - listingId: the advertisement id
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/pkg/retry"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.Notifier = (*Notifier)(nil)

// SNSPublisher defines the subset of SNS client methods used by Notifier.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS notifier.
type Config struct {
	TopicARN string

	// MaxRetries bounds retries of throttled or internal SNS errors within a
	// single delivery. Other errors fail immediately.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Logger:         slog.Default(),
	}
}

// Notifier publishes notifications to SNS.
type Notifier struct {
	client SNSPublisher
	config Config
	logger *slog.Logger
}

// NewNotifier creates a new SNS notifier.
func NewNotifier(client SNSPublisher, config Config) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Notifier{
		client: client,
		config: config,
		logger: config.Logger.With("component", "sns-notifier"),
	}, nil
}

// Name implements outbound.Notifier.
func (n *Notifier) Name() string { return "sns" }

// Notify publishes the notification. Notifications without an id get one so
// subscribers can deduplicate.
func (n *Notifier) Notify(ctx context.Context, note entity.Notification) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}

	message, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.config.TopicARN),
		Message:  aws.String(string(message)),
		Subject:  aws.String(truncateSubject(note.Subject())),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind":      stringAttribute(string(note.Kind)),
			"coin":      stringAttribute(note.Market.Coin),
			"fiat":      stringAttribute(note.Market.Fiat),
			"listingId": stringAttribute(note.ListingID),
		},
	}

	cfg := retry.Config{
		MaxRetries:     n.config.MaxRetries,
		InitialBackoff: n.config.InitialBackoff,
		MaxBackoff:     n.config.MaxBackoff,
		BackoffFactor:  n.config.BackoffFactor,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		n.logger.Warn("publish throttled, retrying",
			"attempt", attempt,
			"maxRetries", n.config.MaxRetries,
			"backoff", backoff,
			"error", err,
			"notification", note.ID,
		)
	}

	out, err := retry.Do(ctx, cfg, isRetryableError, onRetry, func() (*sns.PublishOutput, error) {
		return n.client.Publish(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	n.logger.Debug("notification published", "notification", note.ID, "messageId", aws.ToString(out.MessageId))
	return nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	if v == "" {
		v = "-"
	}
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// SNS subjects are limited to 100 characters.
func truncateSubject(s string) string {
	r := []rune(s)
	if len(r) <= 100 {
		return s
	}
	return string(r[:100])
}

// isRetryableError retries only SNS-side throttling and internal errors.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var throttleErr *types.ThrottledException
	if errors.As(err, &throttleErr) {
		return true
	}
	var internalErr *types.InternalErrorException
	if errors.As(err, &internalErr) {
		return true
	}
	var kmsThrottleErr *types.KMSThrottlingException
	return errors.As(err, &kmsThrottleErr)
}
