package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Namespace != "vessel" {
		t.Errorf("expected namespace 'vessel', got %q", cfg.Namespace)
	}
	a := cfg.Appliance
	if a.KeepAliveToken != "ping" {
		t.Errorf("expected keep-alive token 'ping', got %q", a.KeepAliveToken)
	}
	if a.HeartbeatInterval != 10*time.Second {
		t.Errorf("expected 10s heartbeat, got %v", a.HeartbeatInterval)
	}
	if a.ReconnectDelay != 3*time.Second {
		t.Errorf("expected 3s reconnect delay, got %v", a.ReconnectDelay)
	}
	if len(a.Requests) != 2 || a.Requests[0].Category != "Tank" || a.Requests[1].Category != "Battery" {
		t.Errorf("unexpected default requests %+v", a.Requests)
	}
	if !cfg.Web.Enabled || cfg.Web.Port != 8090 || cfg.Web.Host != "0.0.0.0" {
		t.Errorf("unexpected web defaults %+v", cfg.Web)
	}
}

func TestLoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns default for nonexistent file and writes it", func(t *testing.T) {
		path := filepath.Join(tmpDir, "fresh", "config.yaml")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Appliance.HeartbeatInterval != 10*time.Second {
			t.Error("expected default config")
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("default config not written: %v", err)
		}
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		path := filepath.Join(tmpDir, "roundtrip.yaml")

		cfg := DefaultConfig()
		cfg.Namespace = "sv-aurora"
		cfg.Appliance.Host = "192.168.1.50"
		cfg.Appliance.HeartbeatInterval = 15 * time.Second
		cfg.Tanks = []MappingConfig{{Name: "EP_1", Path: "tanks.freshWater.0"}}
		cfg.Batteries = []MappingConfig{{Name: "GE_TD", Path: "electrical.batteries.house"}}
		cfg.MQTT = []MQTTConfig{{Name: "local", Enabled: true, Broker: "mqtt.local", Port: 1883, ClientID: "sb"}}
		cfg.Valkey = []ValkeyConfig{{Name: "cache", Address: "10.0.0.2:6379", KeyTTL: time.Minute}}

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Namespace != "sv-aurora" || loaded.Appliance.Host != "192.168.1.50" {
			t.Errorf("appliance config not preserved: %+v", loaded.Appliance)
		}
		if loaded.Appliance.HeartbeatInterval != 15*time.Second {
			t.Errorf("expected 15s heartbeat, got %v", loaded.Appliance.HeartbeatInterval)
		}
		if loaded.FindTank("EP_1") == nil || loaded.FindTank("EP_1").Path != "tanks.freshWater.0" {
			t.Error("tank mapping not preserved")
		}
		if loaded.FindBattery("GE_TD") == nil {
			t.Error("battery mapping not preserved")
		}
		if len(loaded.MQTT) != 1 || loaded.MQTT[0].Broker != "mqtt.local" {
			t.Error("MQTT config not preserved")
		}
		if len(loaded.Valkey) != 1 || loaded.Valkey[0].KeyTTL != time.Minute {
			t.Error("Valkey config not preserved")
		}
	})

	t.Run("durations parse from strings", func(t *testing.T) {
		path := filepath.Join(tmpDir, "durations.yaml")
		yamlText := `
namespace: boat
appliance:
  host: 10.0.0.5
  port: 8080
  heartbeat_interval: 20s
  requests:
    - {category: Tank, interval: 2s, callback_id: 4}
`
		if err := os.WriteFile(path, []byte(yamlText), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Appliance.HeartbeatInterval != 20*time.Second {
			t.Errorf("heartbeat = %v", cfg.Appliance.HeartbeatInterval)
		}
		if cfg.Appliance.ReconnectDelay != 3*time.Second {
			t.Errorf("unset reconnect delay should keep default, got %v", cfg.Appliance.ReconnectDelay)
		}
		if len(cfg.Appliance.Requests) != 1 || cfg.Appliance.Requests[0].Interval != 2*time.Second {
			t.Errorf("requests = %+v", cfg.Appliance.Requests)
		}
	})

	t.Run("fills publisher defaults", func(t *testing.T) {
		path := filepath.Join(tmpDir, "publishers.yaml")
		yamlText := `
mqtt:
  - name: deck
    broker: 10.0.0.9
valkey:
  - name: cache
kafka:
  - name: shore
`
		os.WriteFile(path, []byte(yamlText), 0644)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.MQTT[0].Port != 1883 || cfg.MQTT[0].ClientID != "seabridge-deck" {
			t.Errorf("mqtt defaults = %+v", cfg.MQTT[0])
		}
		if cfg.Valkey[0].Address != "localhost:6379" {
			t.Errorf("valkey address = %q", cfg.Valkey[0].Address)
		}
		if len(cfg.Kafka[0].Brokers) != 1 || cfg.Kafka[0].Brokers[0] != "localhost:9092" {
			t.Errorf("kafka brokers = %v", cfg.Kafka[0].Brokers)
		}
	})

	t.Run("creates directory if needed", func(t *testing.T) {
		path := filepath.Join(tmpDir, "subdir", "nested", "config.yaml")
		if err := DefaultConfig().Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("config file was not created")
		}
		entries, _ := os.ReadDir(filepath.Dir(path))
		if len(entries) != 1 {
			t.Errorf("expected only config.yaml in directory, found %d entries", len(entries))
		}
	})

	t.Run("returns error for invalid yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.yaml")
		os.WriteFile(path, []byte("invalid: yaml: content: ["), 0644)

		if _, err := Load(path); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Appliance.Host = "10.0.0.5"
		cfg.Tanks = []MappingConfig{{Name: "EP_1", Path: "tanks.freshWater.0"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad namespace", mutate: func(c *Config) { c.Namespace = "my boat" }, wantErr: "invalid namespace"},
		{name: "empty namespace", mutate: func(c *Config) { c.Namespace = "" }, wantErr: "invalid namespace"},
		{name: "missing host", mutate: func(c *Config) { c.Appliance.Host = "" }, wantErr: "appliance.host"},
		{name: "bad port", mutate: func(c *Config) { c.Appliance.Port = 0 }, wantErr: "appliance.port"},
		{
			name: "duplicate callback id",
			mutate: func(c *Config) {
				c.Appliance.Requests = []RequestConfig{{Category: "Tank", CallbackID: 1}, {Category: "Battery", CallbackID: 1}}
			},
			wantErr: "callback_id 1",
		},
		{
			name:    "request without category",
			mutate:  func(c *Config) { c.Appliance.Requests = []RequestConfig{{CallbackID: 3}} },
			wantErr: "category is required",
		},
		{
			name:    "duplicate tank",
			mutate:  func(c *Config) { c.Tanks = append(c.Tanks, MappingConfig{Name: "EP_1", Path: "tanks.fuel.0"}) },
			wantErr: "duplicate name",
		},
		{
			name:    "bad battery path",
			mutate:  func(c *Config) { c.Batteries = []MappingConfig{{Name: "B", Path: "electrical..house"}} },
			wantErr: "invalid path",
		},
		{
			name:    "unnamed publisher",
			mutate:  func(c *Config) { c.MQTT = []MQTTConfig{{Broker: "x"}} },
			wantErr: "name is required",
		},
		{
			name:    "duplicate kafka",
			mutate:  func(c *Config) { c.Kafka = []KafkaConfig{{Name: "k"}, {Name: "k"}} },
			wantErr: "duplicate kafka",
		},
		{
			name: "same name across publisher kinds",
			mutate: func(c *Config) {
				c.MQTT = []MQTTConfig{{Name: "main"}}
				c.Valkey = []ValkeyConfig{{Name: "main"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidNamespace(t *testing.T) {
	tests := []struct {
		ns   string
		want bool
	}{
		{"vessel", true},
		{"sv-aurora_2", true},
		{"fleet.boat1", true},
		{"", false},
		{"my boat", false},
		{"a/b", false},
	}
	for _, tt := range tests {
		if got := IsValidNamespace(tt.ns); got != tt.want {
			t.Errorf("IsValidNamespace(%q) = %v, want %v", tt.ns, got, tt.want)
		}
	}
}

func TestIsValidPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"tanks.freshWater.0", true},
		{"electrical.batteries.house", true},
		{"", false},
		{".tanks", false},
		{"tanks.", false},
		{"tanks/fuel", false},
	}
	for _, tt := range tests {
		if got := IsValidPath(tt.path); got != tt.want {
			t.Errorf("IsValidPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
	if !filepath.IsAbs(path) && path != "config.yaml" {
		t.Error("expected absolute path or 'config.yaml'")
	}
	if filepath.IsAbs(path) && !strings.Contains(path, ".seabridge") {
		t.Errorf("expected path under .seabridge, got %s", path)
	}
}
