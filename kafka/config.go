// Package kafka publishes Signal K deltas and bridge health to Kafka clusters.
package kafka

import (
	"crypto/tls"
	"time"

	"seabridge/config"
	"seabridge/namespace"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// Config holds the resolved settings for one Kafka cluster.
type Config struct {
	Name          string
	Enabled       bool
	Brokers       []string
	UseTLS        bool
	TLSSkipVerify bool
	SASLMechanism SASLMechanism
	Username      string
	Password      string

	// Producer settings
	RequiredAcks int // -1=all, 0=none, 1=leader only
	MaxRetries   int
	RetryBackoff time.Duration

	PublishChanges   bool
	Topic            string
	AutoCreateTopics bool
}

// DefaultConfig returns a Kafka configuration with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		Enabled:          false,
		Brokers:          []string{"localhost:9092"},
		RequiredAcks:     -1, // All replicas must acknowledge
		MaxRetries:       3,
		RetryBackoff:     100 * time.Millisecond,
		AutoCreateTopics: true,
	}
}

// FromAppConfig resolves a persisted cluster entry. An empty topic becomes
// {namespace}[-{selector}] and unset producer settings keep their defaults.
func FromAppConfig(c *config.KafkaConfig, ns string) Config {
	cfg := DefaultConfig(c.Name)
	cfg.Enabled = c.Enabled
	if len(c.Brokers) > 0 {
		cfg.Brokers = c.Brokers
	}
	cfg.UseTLS = c.UseTLS
	cfg.TLSSkipVerify = c.TLSSkipVerify
	cfg.SASLMechanism = SASLMechanism(c.SASLMechanism)
	cfg.Username = c.Username
	cfg.Password = c.Password
	if c.RequiredAcks != 0 {
		cfg.RequiredAcks = c.RequiredAcks
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.RetryBackoff > 0 {
		cfg.RetryBackoff = c.RetryBackoff
	}
	cfg.PublishChanges = c.PublishChanges
	cfg.Topic = c.Topic
	if cfg.Topic == "" {
		cfg.Topic = namespace.New(ns, c.Selector).KafkaDeltaTopic()
	}
	if c.AutoCreateTopics != nil {
		cfg.AutoCreateTopics = *c.AutoCreateTopics
	}
	return cfg
}

// HealthTopic returns the topic that carries bridge health.
func (c *Config) HealthTopic() string {
	return c.Topic + ".health"
}

// GetTLSConfig returns a TLS configuration if TLS is enabled.
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}
}
