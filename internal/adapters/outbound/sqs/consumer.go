// Package sqs receives operator commands from an AWS SQS queue.
package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

// sqsAPI defines the subset of SQS operations needed by the Consumer.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

var _ outbound.SQSConsumer = (*Consumer)(nil)

// Config holds SQS consumer configuration.
type Config struct {
	QueueURL string

	// WaitTimeSeconds is the long-poll wait, at most 20.
	WaitTimeSeconds int32

	// VisibilityTimeout hides a received command from other consumers while
	// it is handled. Zero keeps the queue default.
	VisibilityTimeout int32
}

// ConfigDefaults returns defaults for a command queue.
func ConfigDefaults() Config {
	return Config{
		WaitTimeSeconds:   20,
		VisibilityTimeout: 30,
	}
}

// Consumer is an SQS implementation of the outbound.SQSConsumer port.
type Consumer struct {
	client sqsAPI
	config Config
	closed atomic.Bool
	logger *slog.Logger
}

// NewConsumer creates a new SQS consumer from an AWS config.
func NewConsumer(cfg aws.Config, sqsConfig Config, logger *slog.Logger, optFns ...func(*sqs.Options)) (*Consumer, error) {
	return newConsumer(sqs.NewFromConfig(cfg, optFns...), sqsConfig, logger)
}

func newConsumer(client sqsAPI, config Config, logger *slog.Logger) (*Consumer, error) {
	if config.QueueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := ConfigDefaults()
	if config.WaitTimeSeconds <= 0 {
		config.WaitTimeSeconds = defaults.WaitTimeSeconds
	}
	if config.WaitTimeSeconds > 20 {
		config.WaitTimeSeconds = 20
	}
	if config.VisibilityTimeout < 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}

	return &Consumer{
		client: client,
		config: config,
		logger: logger.With("component", "sqs-consumer"),
	}, nil
}

// ReceiveMessages long-polls for up to maxMessages (1..10) messages.
func (c *Consumer) ReceiveMessages(ctx context.Context, maxMessages int) ([]outbound.SQSMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("consumer is closed")
	}
	maxMessages = min(max(maxMessages, 1), 10)

	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
		VisibilityTimeout:   c.config.VisibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]outbound.SQSMessage, 0, len(result.Messages))
	for _, msg := range result.Messages {
		if msg.MessageId == nil || msg.ReceiptHandle == nil || msg.Body == nil {
			continue
		}
		messages = append(messages, outbound.SQSMessage{
			MessageID:     *msg.MessageId,
			ReceiptHandle: *msg.ReceiptHandle,
			Body:          *msg.Body,
		})
	}

	if len(messages) > 0 {
		c.logger.Debug("received messages", "count", len(messages))
	}
	return messages, nil
}

// DeleteMessage acknowledges a handled message.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Close stops further receives. The SDK client holds no resources.
func (c *Consumer) Close() error {
	c.closed.Store(true)
	return nil
}
