// Package config handles configuration persistence for the seabridge daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Namespace string          `yaml:"namespace"` // instance namespace for topic/key isolation
	Appliance ApplianceConfig `yaml:"appliance"`
	Tanks     []MappingConfig `yaml:"tanks"`
	Batteries []MappingConfig `yaml:"batteries"`
	MQTT      []MQTTConfig    `yaml:"mqtt"`
	Valkey    []ValkeyConfig  `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig   `yaml:"kafka,omitempty"`
	Web       WebConfig       `yaml:"web"`

	dataMu sync.Mutex `yaml:"-"`
}

// ApplianceConfig describes the monitoring appliance and the session timing.
type ApplianceConfig struct {
	Host              string          `yaml:"host"`
	Port              int             `yaml:"port"`
	KeepAliveToken    string          `yaml:"keepalive_token,omitempty"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval,omitempty"`
	ReconnectDelay    time.Duration   `yaml:"reconnect_delay,omitempty"`
	Requests          []RequestConfig `yaml:"requests,omitempty"`
}

// RequestConfig is one periodic fetch_map request.
type RequestConfig struct {
	Category   string        `yaml:"category"`
	Interval   time.Duration `yaml:"interval,omitempty"`
	CallbackID int           `yaml:"callback_id,omitempty"`
}

// MappingConfig binds an appliance reading name to a Signal K base path.
type MappingConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// WebConfig holds the HTTP server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`
	Selector       string        `yaml:"selector,omitempty"`
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"` // 0 = no expiry
	PublishChanges bool          `yaml:"publish_changes,omitempty"`
}

// KafkaConfig holds Kafka cluster configuration for YAML persistence.
// AutoCreateTopics is a pointer so that "not set" can default to true.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic,omitempty"` // default: {namespace}[-{selector}]
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1 or unset=all, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`

	PublishChanges   bool   `yaml:"publish_changes,omitempty"`
	Selector         string `yaml:"selector,omitempty"`
	AutoCreateTopics *bool  `yaml:"auto_create_topics,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "vessel",
		Appliance: ApplianceConfig{
			Port:              8080,
			KeepAliveToken:    "ping",
			HeartbeatInterval: 10 * time.Second,
			ReconnectDelay:    3 * time.Second,
			Requests: []RequestConfig{
				{Category: "Tank", Interval: 5 * time.Second, CallbackID: 1},
				{Category: "Battery", Interval: 5 * time.Second, CallbackID: 2},
			},
		},
		Tanks:     []MappingConfig{},
		Batteries: []MappingConfig{},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
		},
		MQTT:   []MQTTConfig{},
		Valkey: []ValkeyConfig{},
		Kafka:  []KafkaConfig{},
	}
}

// DefaultPath returns the default configuration file path (~/.seabridge/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".seabridge", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults, which are written back to path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg.Save(path) // best-effort
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills connection fields left empty in publisher entries.
func (c *Config) applyDefaults() {
	for i := range c.MQTT {
		m := &c.MQTT[i]
		if m.Port == 0 {
			m.Port = 1883
		}
		if m.ClientID == "" {
			m.ClientID = "seabridge-" + m.Name
		}
	}
	for i := range c.Valkey {
		if c.Valkey[i].Address == "" {
			c.Valkey[i].Address = "localhost:6379"
		}
	}
	for i := range c.Kafka {
		k := &c.Kafka[i]
		if len(k.Brokers) == 0 {
			k.Brokers = []string{"localhost:9092"}
		}
	}
}

// Save marshals the config and replaces path atomically.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FindTank returns the tank mapping with the given name, or nil if not found.
func (c *Config) FindTank(name string) *MappingConfig {
	for i := range c.Tanks {
		if c.Tanks[i].Name == name {
			return &c.Tanks[i]
		}
	}
	return nil
}

// FindBattery returns the battery mapping with the given name, or nil if not found.
func (c *Config) FindBattery(name string) *MappingConfig {
	for i := range c.Batteries {
		if c.Batteries[i].Name == name {
			return &c.Batteries[i]
		}
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace %q: must contain only alphanumeric characters, hyphens, underscores, and dots", c.Namespace)
	}

	a := c.Appliance
	if a.Host == "" {
		return fmt.Errorf("appliance.host is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("appliance.port %d out of range", a.Port)
	}
	ids := make(map[int]string)
	for i, r := range a.Requests {
		if r.Category == "" {
			return fmt.Errorf("appliance.requests[%d]: category is required", i)
		}
		if r.CallbackID == 0 {
			continue
		}
		if prev, dup := ids[r.CallbackID]; dup {
			return fmt.Errorf("appliance.requests[%d]: callback_id %d already used by %s", i, r.CallbackID, prev)
		}
		ids[r.CallbackID] = r.Category
	}

	if err := validateMappings("tanks", c.Tanks); err != nil {
		return err
	}
	if err := validateMappings("batteries", c.Batteries); err != nil {
		return err
	}

	names := make(map[string]bool)
	check := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%s publisher name is required", kind)
		}
		key := kind + "/" + name
		if names[key] {
			return fmt.Errorf("duplicate %s publisher %q", kind, name)
		}
		names[key] = true
		return nil
	}
	for _, m := range c.MQTT {
		if err := check("mqtt", m.Name); err != nil {
			return err
		}
	}
	for _, v := range c.Valkey {
		if err := check("valkey", v.Name); err != nil {
			return err
		}
	}
	for _, k := range c.Kafka {
		if err := check("kafka", k.Name); err != nil {
			return err
		}
	}
	return nil
}

func validateMappings(section string, mappings []MappingConfig) error {
	seen := make(map[string]bool)
	for i, m := range mappings {
		if m.Name == "" {
			return fmt.Errorf("%s[%d]: name is required", section, i)
		}
		if seen[m.Name] {
			return fmt.Errorf("%s[%d]: duplicate name %q", section, i, m.Name)
		}
		seen[m.Name] = true
		if !IsValidPath(m.Path) {
			return fmt.Errorf("%s[%d]: invalid path %q", section, i, m.Path)
		}
	}
	return nil
}

// IsValidNamespace returns true if the namespace is valid.
// Valid namespaces contain only alphanumeric characters, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !isNameRune(r) && r != '.' {
			return false
		}
	}
	return true
}

// IsValidPath reports whether p is a dotted Signal K path such as
// "tanks.freshWater.0".
func IsValidPath(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			if !isNameRune(r) {
				return false
			}
		}
	}
	return true
}

func isNameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}
