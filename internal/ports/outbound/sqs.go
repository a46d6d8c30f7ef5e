package outbound

import "context"

// SQSMessage is a message received from a queue.
type SQSMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// SQSConsumer receives and acknowledges queue messages.
type SQSConsumer interface {
	// ReceiveMessages long-polls for up to maxMessages messages.
	ReceiveMessages(ctx context.Context, maxMessages int) ([]SQSMessage, error)

	// DeleteMessage acknowledges a handled message.
	DeleteMessage(ctx context.Context, receiptHandle string) error

	Close() error
}
