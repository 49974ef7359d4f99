package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/consumer"
)

func TestDLQConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  DLQConfig
		wantErr bool
	}{
		{"valid enabled config", DLQConfig{Enabled: true, TopicSuffix: ".dlq"}, false},
		{"disabled config", DLQConfig{Enabled: false}, false},
		{"empty suffix when enabled", DLQConfig{Enabled: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDLQConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateDLQConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDLQTopicName(t *testing.T) {
	tests := []struct {
		name        string
		sourceTopic string
		suffix      string
		want        string
	}{
		{"standard suffix", "transitions", ".dlq", "transitions.dlq"},
		{"custom suffix", "episodes", "-dead-letter", "episodes-dead-letter"},
		{"topic with dots", "rl.agent.transitions", ".dlq", "rl.agent.transitions.dlq"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newDLQPublisher(nil, DLQConfig{Enabled: true, TopicSuffix: tt.suffix}, testLogger(), "test")
			if got := p.Topic(tt.sourceTopic); got != tt.want {
				t.Errorf("Topic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewDLQPublisher_Disabled(t *testing.T) {
	p, err := NewDLQPublisher(ConsumerConfig{}, DLQConfig{Enabled: false}, testLogger(), "test")
	if err != nil {
		t.Fatalf("NewDLQPublisher() error = %v", err)
	}
	if err := p.Publish(context.Background(), &consumer.Message{Topic: "transitions"}, "bad"); err != nil {
		t.Errorf("Publish() on disabled DLQ error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDLQPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "transitions.dlq" {
			return fmt.Errorf("topic = %q", msg.Topic)
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event DLQEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if string(event.OriginalValue) != notJSON {
			return fmt.Errorf("original value = %q", event.OriginalValue)
		}
		if event.OriginalOffset != 42 || event.FailureReason != "unparsable" || event.ProcessorID != "replay-1" {
			return fmt.Errorf("event = %+v", event)
		}

		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "transitions/3/42" {
			return fmt.Errorf("key = %q", key)
		}

		headers := make(map[string]string)
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers["failure_reason"] != "unparsable" || headers["original_topic"] != "transitions" {
			return fmt.Errorf("headers = %v", headers)
		}
		return nil
	})

	p := newDLQPublisher(producer, DLQConfig{Enabled: true, TopicSuffix: ".dlq"}, testLogger(), "replay-1")
	msg := &consumer.Message{Topic: "transitions", Partition: 3, Offset: 42, Value: []byte(notJSON)}

	if err := p.Publish(context.Background(), msg, "unparsable"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDLQPublish_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newDLQPublisher(producer, DLQConfig{Enabled: true, TopicSuffix: ".dlq"}, testLogger(), "replay-1")
	err := p.Publish(context.Background(), &consumer.Message{Topic: "transitions", Key: []byte("k")}, "bad")
	if !stderrors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Publish() error = %v, want ErrOutOfBrokers", err)
	}
	p.Close()
}

func TestDLQPublish_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := newDLQPublisher(producer, DLQConfig{Enabled: true, TopicSuffix: ".dlq"}, testLogger(), "replay-1")
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Publish(ctx, &consumer.Message{Topic: "transitions"}, "bad"); !stderrors.Is(err, context.Canceled) {
		t.Errorf("Publish() error = %v, want context.Canceled", err)
	}
}

func TestDLQClose(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := newDLQPublisher(producer, DLQConfig{Enabled: true, TopicSuffix: ".dlq"}, testLogger(), "replay-1")

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := p.Publish(context.Background(), &consumer.Message{Topic: "transitions"}, "bad"); !stderrors.Is(err, errors.ErrConsumerClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrConsumerClosed", err)
	}
}
