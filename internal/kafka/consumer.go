// Package kafka feeds a replay buffer from Kafka topics.
package kafka

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
	"golang.org/x/time/rate"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/consumer"
	"github.com/jittakal/diskreplay/pkg/record"
	"github.com/jittakal/diskreplay/pkg/replay"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ consumer.Consumer = (*SaramaConsumer)(nil)
)

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	BootstrapServers    []string
	GroupID             string
	Topics              []string
	SecurityProtocol    string
	SASLMechanism       string
	SASLUsername        string
	SASLPassword        string
	AWSRegion           string
	AutoOffsetReset     string
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int

	// MaxRecordsPerSecond throttles submission into the buffer. Zero
	// disables throttling.
	MaxRecordsPerSecond float64
}

// MetricsCollector defines metrics operations for Kafka consumer.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncMessagesRejected(topic string, reason string)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveRebalanceDuration(groupID string, duration float64)
	SetPartitionsAssigned(topic string, count float64)
}

// SaramaConsumer consumes JSON records with a Sarama consumer group and
// submits them to a replay sink. Submit blocks while the write queue is
// full, which stalls the partition and pushes backpressure onto Kafka.
type SaramaConsumer struct {
	group   sarama.ConsumerGroup
	config  ConsumerConfig
	schema  record.Schema
	sink    replay.Sink
	dlq     consumer.DLQPublisher
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics MetricsCollector

	mu     sync.RWMutex
	closed bool
	fatal  error
	cancel context.CancelFunc
}

// NewSaramaConsumer creates a consumer group client. dlq may be nil, in
// which case rejected messages are logged and skipped.
func NewSaramaConsumer(
	config ConsumerConfig,
	schema record.Schema,
	sink replay.Sink,
	dlq consumer.DLQPublisher,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*SaramaConsumer, error) {
	if err := validateConsumerConfig(config); err != nil {
		return nil, err
	}

	saramaConfig, err := newSaramaConfig(config)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		"group_id", config.GroupID,
		"topics", config.Topics,
		"bootstrap_servers", config.BootstrapServers,
		"session_timeout_ms", config.SessionTimeoutMS,
		"max_records_per_second", config.MaxRecordsPerSecond,
	)

	return newConsumer(group, config, schema, sink, dlq, logger, metrics), nil
}

func newConsumer(
	group sarama.ConsumerGroup,
	config ConsumerConfig,
	schema record.Schema,
	sink replay.Sink,
	dlq consumer.DLQPublisher,
	logger *slog.Logger,
	metrics MetricsCollector,
) *SaramaConsumer {
	return &SaramaConsumer{
		group:   group,
		config:  config,
		schema:  schema,
		sink:    sink,
		dlq:     dlq,
		limiter: newLimiter(config.MaxRecordsPerSecond),
		logger:  logger,
		metrics: metrics,
	}
}

func validateConsumerConfig(config ConsumerConfig) error {
	if len(config.BootstrapServers) == 0 {
		return fmt.Errorf("%w: bootstrap servers are required", sarama.ErrInvalidConfig)
	}
	if config.GroupID == "" {
		return fmt.Errorf("%w: group id is required", sarama.ErrInvalidConfig)
	}
	if len(config.Topics) == 0 {
		return fmt.Errorf("%w: at least one topic is required", sarama.ErrInvalidConfig)
	}
	if config.MaxRecordsPerSecond < 0 {
		return fmt.Errorf("%w: max records per second cannot be negative", sarama.ErrInvalidConfig)
	}
	return nil
}

func newSaramaConfig(config ConsumerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true

	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}

	// Submit can block for as long as the write path is saturated.
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	saramaConfig.Consumer.Return.Errors = true

	if err := configureSecurity(saramaConfig, config); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Run joins the consumer group and consumes until ctx is cancelled. It
// returns the error that stopped consumption, or nil on cancellation.
func (c *SaramaConsumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrConsumerClosed
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.logGroupErrors(ctx)

	handler := &consumerGroupHandler{consumer: c}
	c.logger.Info("kafka consumer started", "topics", c.config.Topics)

	for {
		if err := c.group.Consume(ctx, c.config.Topics, handler); err != nil {
			if stderrors.Is(err, sarama.ErrClosedConsumerGroup) {
				return c.fatalErr()
			}
			c.logger.Error("consumer group error", "error", err)
			return fmt.Errorf("consumer group error: %w", err)
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka consumer stopped")
			return c.fatalErr()
		}
	}
}

func (c *SaramaConsumer) logGroupErrors(ctx context.Context) {
	errs := c.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.logger.Error("consumer group reported error", "error", err)
		}
	}
}

// stop ends consumption because of an error no later message can avoid,
// such as a closed write path.
func (c *SaramaConsumer) stop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal == nil {
		c.fatal = err
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *SaramaConsumer) fatalErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fatal
}

// process turns one message into a submitted record. A nil return means
// the offset may be marked.
func (c *SaramaConsumer) process(ctx context.Context, msg *consumer.Message) error {
	rec, err := Decode(c.schema, msg.Value)
	if err == nil && c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err == nil {
		err = c.sink.Submit(ctx, rec)
	}

	switch {
	case err == nil:
		if c.metrics != nil {
			c.metrics.IncMessagesConsumed(msg.Topic, msg.Partition)
		}
		return nil
	case errors.IsSchema(err), stderrors.Is(err, errors.ErrInvalidMessage):
		return c.reject(ctx, msg, err)
	default:
		return err
	}
}

// reject dead-letters a message that can never become a record.
func (c *SaramaConsumer) reject(ctx context.Context, msg *consumer.Message, cause error) error {
	reason := "invalid_message"
	if errors.IsSchema(cause) {
		reason = "schema_mismatch"
	}
	if c.metrics != nil {
		c.metrics.IncMessagesRejected(msg.Topic, reason)
	}

	c.logger.Warn("rejected message",
		"error", cause,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)

	if c.dlq == nil {
		return nil
	}
	if err := c.dlq.Publish(ctx, msg, cause.Error()); err != nil {
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}
	return nil
}

// Close closes the consumer and releases resources.
func (c *SaramaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing kafka consumer")

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.group.Close(); err != nil {
		c.logger.Error("error closing consumer group", "error", err)
		return err
	}

	c.logger.Info("kafka consumer closed")
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	consumer       *SaramaConsumer
	rebalanceStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.rebalanceStart = time.Now()

	h.consumer.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	if h.consumer.metrics != nil {
		h.consumer.metrics.IncRebalances(h.consumer.config.GroupID)
		for topic, partitions := range session.Claims() {
			h.consumer.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	if h.consumer.metrics != nil && !h.rebalanceStart.IsZero() {
		h.consumer.metrics.ObserveRebalanceDuration(
			h.consumer.config.GroupID,
			time.Since(h.rebalanceStart).Seconds(),
		)
	}

	h.consumer.logger.Info("consumer group session cleanup",
		"member_id", session.MemberID(),
	)
	return nil
}

// ConsumeClaim submits the messages of one partition in order.
func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	h.consumer.logger.Info("started consuming partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"initial_offset", claim.InitialOffset(),
	)

	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			if err := h.consumer.process(ctx, toMessage(message)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				h.consumer.logger.Error("stopping consumption",
					"error", err,
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
				)
				h.consumer.stop(err)
				return nil
			}

			session.MarkMessage(message, "")
			if h.consumer.metrics != nil {
				h.consumer.metrics.IncOffsetCommits(message.Topic, message.Partition, "marked")
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func toMessage(m *sarama.ConsumerMessage) *consumer.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	return &consumer.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Timestamp,
		Headers:   headers,
	}
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS MSK IAM authentication.
type MSKAccessTokenProvider struct {
	region string
}

// Token generates an AWS MSK IAM authentication token.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, expiryMs, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}

	return &sarama.AccessToken{
		Token: token,
		Extensions: map[string]string{
			"expiry": fmt.Sprintf("%d", expiryMs),
		},
	}, nil
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	if autoOffsetReset == "earliest" {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

func configureSecurity(config *sarama.Config, kafkaConfig ConsumerConfig) error {
	switch kafkaConfig.SecurityProtocol {
	case "", "PLAINTEXT":
		return nil

	case "SASL_PLAINTEXT", "SASL_SSL":
		config.Net.SASL.Enable = true

		switch kafkaConfig.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
			config.Net.SASL.User = kafkaConfig.SASLUsername
			config.Net.SASL.Password = kafkaConfig.SASLPassword

		case "SCRAM-SHA-256", "SCRAM-SHA-512":
			mechanism, hash, _ := scramMechanism(kafkaConfig.SASLMechanism)
			config.Net.SASL.Mechanism = mechanism
			config.Net.SASL.User = kafkaConfig.SASLUsername
			config.Net.SASL.Password = kafkaConfig.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{hash: hash}
			}

		case "AWS_MSK_IAM":
			config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
			// Sarama validates user and password even for OAuth.
			config.Net.SASL.User = "token"
			config.Net.SASL.Password = "token"

			region := kafkaConfig.AWSRegion
			if region == "" {
				region = "us-east-1"
			}
			config.Net.SASL.TokenProvider = &MSKAccessTokenProvider{region: region}

		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", kafkaConfig.SASLMechanism)
		}

		if kafkaConfig.SecurityProtocol == "SASL_SSL" {
			config.Net.TLS.Enable = true
			config.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
		}

	case "SSL":
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}

	default:
		return fmt.Errorf("unsupported security protocol: %s", kafkaConfig.SecurityProtocol)
	}

	return nil
}
