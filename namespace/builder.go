// Package namespace provides utilities for constructing topic and key paths
// with consistent namespace prefixing across all services (MQTT, Valkey, Kafka).
package namespace

import "strings"

// Builder constructs namespace-prefixed topics and keys.
type Builder struct {
	namespace string
	selector  string
}

// New creates a new namespace builder.
func New(namespace, selector string) *Builder {
	return &Builder{
		namespace: namespace,
		selector:  selector,
	}
}

// --- MQTT (delimiter: /) ---

// MQTTValueTopic returns the topic for one Signal K value:
// {ns}[/{sel}]/signalk/{path with dots as slashes}
func (b *Builder) MQTTValueTopic(path string) string {
	return b.mqttBase() + "/signalk/" + strings.ReplaceAll(path, ".", "/")
}

// MQTTDeltaTopic returns the topic for whole deltas: {ns}[/{sel}]/signalk/delta
func (b *Builder) MQTTDeltaTopic() string {
	return b.mqttBase() + "/signalk/delta"
}

// MQTTHealthTopic returns the topic for bridge health: {ns}[/{sel}]/health
func (b *Builder) MQTTHealthTopic() string {
	return b.mqttBase() + "/health"
}

// MQTTBase returns the base topic: {ns}[/{sel}]
func (b *Builder) MQTTBase() string {
	return b.mqttBase()
}

func (b *Builder) mqttBase() string {
	if b.selector != "" {
		return b.namespace + "/" + b.selector
	}
	return b.namespace
}

// --- Valkey (delimiter: :) ---

// ValkeyValueKey returns the key for one Signal K value: {ns}[:{sel}]:signalk:{path}
func (b *Builder) ValkeyValueKey(path string) string {
	return b.valkeyBase() + ":signalk:" + path
}

// ValkeyReadingKey returns the key for a raw reading: {ns}[:{sel}]:{kind}:{name}
func (b *Builder) ValkeyReadingKey(kind, name string) string {
	return b.valkeyBase() + ":" + kind + ":" + name
}

// ValkeyHealthKey returns the key for bridge health: {ns}[:{sel}]:health
func (b *Builder) ValkeyHealthKey() string {
	return b.valkeyBase() + ":health"
}

// ValkeyChangesChannel returns the Pub/Sub channel for deltas: {ns}[:{sel}]:changes
func (b *Builder) ValkeyChangesChannel() string {
	return b.valkeyBase() + ":changes"
}

func (b *Builder) valkeyBase() string {
	if b.selector != "" {
		return b.namespace + ":" + b.selector
	}
	return b.namespace
}

// --- Kafka (delimiter: - for topics, . for health) ---

// KafkaDeltaTopic returns the topic for deltas: {ns}[-{sel}]
func (b *Builder) KafkaDeltaTopic() string {
	return b.kafkaBase()
}

// KafkaHealthTopic returns the topic for health status: {ns}[-{sel}].health
func (b *Builder) KafkaHealthTopic() string {
	return b.kafkaBase() + ".health"
}

func (b *Builder) kafkaBase() string {
	if b.selector != "" {
		return b.namespace + "-" + b.selector
	}
	return b.namespace
}
