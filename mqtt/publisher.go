// Package mqtt publishes Signal K values and bridge health to MQTT brokers.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"seabridge/config"
	"seabridge/namespace"
	"seabridge/signalk"
)

// DebugLogger is an interface for debug logging.
type DebugLogger interface {
	LogMQTT(format string, args ...interface{})
}

var debugLog DebugLogger

// SetDebugLogger sets the debug logger for MQTT.
func SetDebugLogger(logger DebugLogger) {
	debugLog = logger
}

func logMQTT(format string, args ...interface{}) {
	if debugLog != nil {
		debugLog.LogMQTT(format, args...)
	}
}

// Publisher handles one broker connection. Each Signal K value is published
// retained to its own topic, so late subscribers see the latest reading.
type Publisher struct {
	config  *config.MQTTConfig
	builder *namespace.Builder
	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	// Last published value per topic, for change detection.
	lastValues map[string]string
	lastMu     sync.RWMutex

	onConnect func()
}

// ValueMessage is the JSON payload published for one Signal K value.
type ValueMessage struct {
	Path      string      `json:"path"`
	Value     interface{} `json:"value"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
}

// HealthMessage is the JSON payload published to the health topic.
type HealthMessage struct {
	Namespace string `json:"namespace"`
	Appliance string `json:"appliance"`
	Online    bool   `json:"online"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewPublisher creates a new MQTT publisher for a single broker.
func NewPublisher(cfg *config.MQTTConfig, ns string) *Publisher {
	return &Publisher{
		config:     cfg,
		builder:    namespace.New(ns, cfg.Selector),
		lastValues: make(map[string]string),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// SetOnConnect sets a callback run after every (re)connect. The change cache
// is cleared first, so the callback can force a full republish.
func (p *Publisher) SetOnConnect(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = cb
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options and connect without holding the lock.
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	// Brokers mark the bridge offline if it drops without a clean disconnect.
	will, _ := json.Marshal(HealthMessage{Online: false, State: "Offline", Timestamp: time.Now().UTC().Format(time.RFC3339)})
	opts.SetWill(p.builder.MQTTHealthTopic(), string(will), 1, true)

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logMQTT("Connected to %s", p.Address())
		p.clearCache()
		p.mu.RLock()
		cb := p.onConnect
		p.mu.RUnlock()
		if cb != nil {
			go cb()
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logMQTT("Connection to %s lost: %v", p.Address(), err)
	})

	client := pahomqtt.NewClient(opts)
	logMQTT("Attempting to connect to MQTT broker %s", p.Address())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logMQTT("MQTT connection timeout")
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		logMQTT("MQTT connection error: %v", token.Error())
		return token.Error()
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	return nil
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	client.Disconnect(500)
}

// Address returns the broker URL.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// PublishDelta publishes every changed value in d and returns how many were
// sent. When anything changed, the whole delta also goes to the delta topic.
func (p *Publisher) PublishDelta(d *signalk.Delta, force bool) int {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return 0
	}

	sent := 0
	for _, u := range d.Updates {
		for _, v := range u.Values {
			topic := p.builder.MQTTValueTopic(v.Path)
			if !p.changed(topic, v.Value, force) {
				continue
			}

			payload, err := json.Marshal(ValueMessage{
				Path:      v.Path,
				Value:     v.Value,
				Source:    u.Source.Label,
				Timestamp: u.Timestamp,
			})
			if err != nil {
				continue
			}

			token := client.Publish(topic, 1, true, payload)
			if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
				logMQTT("Publish to %s failed: %v", topic, token.Error())
				continue
			}
			p.remember(topic, v.Value)
			sent++
		}
	}

	if sent > 0 {
		if payload, err := d.JSON(); err == nil {
			client.Publish(p.builder.MQTTDeltaTopic(), 0, false, payload)
		}
	}
	return sent
}

// PublishHealth publishes retained bridge health.
func (p *Publisher) PublishHealth(appliance string, online bool, state, errMsg string) error {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return nil
	}

	payload, err := json.Marshal(p.healthMessage(appliance, online, state, errMsg))
	if err != nil {
		return fmt.Errorf("failed to marshal health status: %w", err)
	}

	token := client.Publish(p.builder.MQTTHealthTopic(), 1, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("health publish timeout")
	}
	return token.Error()
}

func (p *Publisher) healthMessage(appliance string, online bool, state, errMsg string) HealthMessage {
	return HealthMessage{
		Namespace: p.builder.MQTTBase(),
		Appliance: appliance,
		Online:    online,
		State:     state,
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (p *Publisher) changed(topic string, value interface{}, force bool) bool {
	if force {
		return true
	}
	p.lastMu.RLock()
	last, exists := p.lastValues[topic]
	p.lastMu.RUnlock()
	return !exists || last != fmt.Sprintf("%v", value)
}

func (p *Publisher) remember(topic string, value interface{}) {
	p.lastMu.Lock()
	p.lastValues[topic] = fmt.Sprintf("%v", value)
	p.lastMu.Unlock()
}

func (p *Publisher) clearCache() {
	p.lastMu.Lock()
	p.lastValues = make(map[string]string)
	p.lastMu.Unlock()
}

// Manager manages multiple MQTT publishers.
type Manager struct {
	publishers map[string]*Publisher
	mu         sync.RWMutex
	onConnect  func()
}

// NewManager creates a new MQTT manager.
func NewManager() *Manager {
	return &Manager{
		publishers: make(map[string]*Publisher),
	}
}

// Add adds a publisher to the manager.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	m.publishers[pub.Name()] = pub
	cb := m.onConnect
	m.mu.Unlock()

	if cb != nil {
		pub.SetOnConnect(cb)
	}
}

// Remove stops and removes a publisher by name.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	pub, exists := m.publishers[name]
	if exists {
		delete(m.publishers, name)
	}
	m.mu.Unlock()

	if exists {
		pub.Stop()
	}
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publishers[name]
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		result = append(result, pub)
	}
	return result
}

// SetOnConnect sets the reconnect callback on all current and future publishers.
func (m *Manager) SetOnConnect(cb func()) {
	m.mu.Lock()
	m.onConnect = cb
	m.mu.Unlock()

	for _, pub := range m.List() {
		pub.SetOnConnect(cb)
	}
}

// LoadFromConfig creates publishers from configuration.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig, ns string) {
	for i := range cfgs {
		m.Add(NewPublisher(&cfgs[i], ns))
	}
}

// StartAll starts all enabled publishers and returns how many started.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if pub.config.Enabled && !pub.IsRunning() {
			logMQTT("Auto-starting MQTT publisher: %s", pub.Name())
			if err := pub.Start(); err != nil {
				logMQTT("Failed to auto-start %s: %v", pub.Name(), err)
			} else {
				logMQTT("Successfully started %s (%s)", pub.Name(), pub.Address())
				started++
			}
		}
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// AnyRunning returns true if any publisher is running.
func (m *Manager) AnyRunning() bool {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			return true
		}
	}
	return false
}

// PublishDelta publishes a delta to all running publishers.
func (m *Manager) PublishDelta(d *signalk.Delta, force bool) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.PublishDelta(d, force)
		}
	}
}

// PublishHealth publishes bridge health to all running publishers.
func (m *Manager) PublishHealth(appliance string, online bool, state, errMsg string) {
	for _, pub := range m.List() {
		if !pub.IsRunning() {
			continue
		}
		if err := pub.PublishHealth(appliance, online, state, errMsg); err != nil {
			logMQTT("Health publish error (%s): %v", pub.Name(), err)
		}
	}
}
