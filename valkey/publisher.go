// Package valkey stores the latest Signal K values and bridge health in Valkey/Redis.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"seabridge/config"
	"seabridge/namespace"
	"seabridge/signalk"
)

// ValueMessage is the JSON document stored under each Signal K value key.
type ValueMessage struct {
	Path      string      `json:"path"`
	Value     interface{} `json:"value"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
}

// HealthMessage is the bridge health document stored under the health key.
type HealthMessage struct {
	Namespace string    `json:"namespace"`
	Appliance string    `json:"appliance"`
	Online    bool      `json:"online"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher handles publishing values to a Valkey server.
type Publisher struct {
	config  *config.ValkeyConfig
	builder *namespace.Builder
	client  *redis.Client
	running bool
	mu      sync.RWMutex

	onConnectCallback func()
}

// NewPublisher creates a new Valkey publisher.
func NewPublisher(cfg *config.ValkeyConfig, ns string) *Publisher {
	return &Publisher{
		config:  cfg,
		builder: namespace.New(ns, cfg.Selector),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Create client and test connection WITHOUT holding the lock
	client := redis.NewClient(opts)

	debugLog("Attempting to connect to Valkey at %s (DB: %d, TLS: %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		debugLog("Valkey connection failed: %v", err)
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}

	debugLog("Successfully connected to Valkey at %s", p.config.Address)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		client.Close()
		return nil
	}

	p.client = client
	p.running = true

	if p.onConnectCallback != nil {
		go p.onConnectCallback()
	}
	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// SetOnConnectCallback sets a callback run after a successful connect.
func (p *Publisher) SetOnConnectCallback(callback func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectCallback = callback
}

// PublishDelta stores every value of d under its Signal K key in a single
// pipeline. With PublishChanges set, the whole delta is also sent on the
// changes channel.
func (p *Publisher) PublishDelta(d *signalk.Delta) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	entries, err := p.valueEntries(d)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, data := range entries {
			pipe.Set(ctx, key, data, cfg.KeyTTL)
		}
		if cfg.PublishChanges {
			if payload, err := d.JSON(); err == nil {
				pipe.Publish(ctx, p.builder.ValkeyChangesChannel(), payload)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store delta: %w", err)
	}
	return nil
}

// PublishReading stores the full canonical reading under {ns}:{kind}:{name}.
func (p *Publisher) PublishReading(kind, name string, reading interface{}) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	ttl := p.config.KeyTTL
	p.mu.RUnlock()

	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal %s reading: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, p.builder.ValkeyReadingKey(kind, name), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// PublishHealth stores bridge health. The health key never expires.
func (p *Publisher) PublishHealth(appliance string, online bool, state, errMsg string) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	p.mu.RUnlock()

	data, err := json.Marshal(p.healthMessage(appliance, online, state, errMsg))
	if err != nil {
		return fmt.Errorf("failed to marshal health status: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, p.builder.ValkeyHealthKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set health key: %w", err)
	}
	return nil
}

// valueEntries renders the key/document pairs for every value in d.
func (p *Publisher) valueEntries(d *signalk.Delta) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	for _, u := range d.Updates {
		for _, v := range u.Values {
			data, err := json.Marshal(ValueMessage{
				Path:      v.Path,
				Value:     v.Value,
				Source:    u.Source.Label,
				Timestamp: u.Timestamp,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to marshal %s: %w", v.Path, err)
			}
			entries[p.builder.ValkeyValueKey(v.Path)] = data
		}
	}
	return entries, nil
}

func (p *Publisher) healthMessage(appliance string, online bool, state, errMsg string) HealthMessage {
	return HealthMessage{
		Namespace: p.builder.ValkeyHealthKey(),
		Appliance: appliance,
		Online:    online,
		State:     state,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
}

// DebugLogger is an interface for debug logging.
type DebugLogger interface {
	LogValkey(format string, args ...interface{})
}

var debugLogger DebugLogger

// SetDebugLogger sets the debug logger for Valkey.
func SetDebugLogger(logger DebugLogger) {
	debugLogger = logger
}

func debugLog(format string, args ...interface{}) {
	if debugLogger != nil {
		debugLogger.LogValkey(format, args...)
	}
}
