// Package consumer defines interfaces for feeding a replay buffer from
// Kafka.
//
// A Consumer decodes messages into records and submits them to a sink.
// Messages that cannot become records are handed to a DLQPublisher.
package consumer

import (
	"context"
	"time"
)

// Message is the transport metadata and payload of one consumed message.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string]string
}

// Consumer reads records from Kafka topics into a replay sink.
type Consumer interface {
	// Run consumes until ctx is cancelled or the consumer is closed.
	// Offsets are marked only after a record was accepted by the sink or
	// dead-lettered.
	Run(ctx context.Context) error

	// Close closes the consumer and releases resources.
	Close() error
}

// DLQPublisher publishes messages that could not be turned into records.
type DLQPublisher interface {
	// Publish sends a message to the DLQ with the failure reason.
	Publish(ctx context.Context, msg *Message, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
