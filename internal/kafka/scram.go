package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var _ sarama.SCRAMClient = (*scramClient)(nil)

// scramClient runs one xdg-go/scram conversation for sarama.
type scramClient struct {
	hash scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

// Begin starts a conversation for the given credentials.
func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hash.NewClient(userName, password, authzID)
	if err != nil {
		return fmt.Errorf("failed to create scram client: %w", err)
	}
	c.conv = client.NewConversation()
	return nil
}

// Step answers a server challenge.
func (c *scramClient) Step(challenge string) (string, error) {
	if c.conv == nil {
		return "", fmt.Errorf("scram conversation not started")
	}
	return c.conv.Step(challenge)
}

// Done reports whether the server signature has been verified.
func (c *scramClient) Done() bool {
	return c.conv != nil && c.conv.Done()
}

// scramMechanism maps a SASL mechanism name to its sarama type and hash.
func scramMechanism(name string) (sarama.SASLMechanism, scram.HashGeneratorFcn, bool) {
	switch name {
	case "SCRAM-SHA-256":
		return sarama.SASLTypeSCRAMSHA256, scram.SHA256, true
	case "SCRAM-SHA-512":
		return sarama.SASLTypeSCRAMSHA512, scram.SHA512, true
	default:
		return "", nil, false
	}
}
