package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/lithium-test.db"
  busy_timeout: 10
  pragmas:
    mmap_size: "268435456"
cache:
  default_ttl: 120
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/lithium-test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/lithium-test.db")
	}
	if cfg.GetBusyTimeout() != 10*time.Second {
		t.Errorf("GetBusyTimeout() = %v, want 10s", cfg.GetBusyTimeout())
	}
	if cfg.GetCacheTTL() != 2*time.Minute {
		t.Errorf("GetCacheTTL() = %v, want 2m", cfg.GetCacheTTL())
	}
	// Unset in the file, so the default survives.
	if cfg.GetPurgeInterval() != time.Minute {
		t.Errorf("GetPurgeInterval() = %v, want 1m", cfg.GetPurgeInterval())
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Database.Path != "./data/lithium.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled || cfg.API.Enabled {
		t.Error("optional integrations should default to disabled")
	}
	if cfg.InfluxDB.Instance != "lithium-store" {
		t.Errorf("InfluxDB.Instance = %q, want %q", cfg.InfluxDB.Instance, "lithium-store")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: ""
cache:
  default_ttl: -1
`))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"database.path", "cache.default_ttl"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"negative busy timeout", func(c *Config) { c.Database.BusyTimeout = -1 }, true},
		{"negative cache size", func(c *Config) { c.Database.CacheSizeKB = -5 }, true},
		{"zero purge interval", func(c *Config) { c.Cache.PurgeInterval = 0 }, true},
		{"qos out of range", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"mqtt enabled without host", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker.Host = ""
		}, true},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"influx enabled complete", func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = "http://localhost:8086"
			c.InfluxDB.Org = "lithium"
		}, false},
		{"api port out of range", func(c *Config) {
			c.API.Enabled = true
			c.API.Port = 70000
		}, true},
		{"metrics path without slash", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LITHIUM_DATABASE_PATH", "/env/lithium.db")
	t.Setenv("LITHIUM_DATABASE_READ_ONLY", "true")
	t.Setenv("LITHIUM_CACHE_DEFAULT_TTL", "42")
	t.Setenv("LITHIUM_MQTT_ENABLED", "1")
	t.Setenv("LITHIUM_MQTT_HOST", "mqtt.env")
	t.Setenv("LITHIUM_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("LITHIUM_LOG_LEVEL", "debug")
	t.Setenv("LITHIUM_API_ENABLED", "true")
	t.Setenv("LITHIUM_API_PORT", "8181")

	cfg, err := Load(writeConfig(t, "database:\n  path: /file/lithium.db\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/env/lithium.db" {
		t.Errorf("Database.Path = %q, env should win over file", cfg.Database.Path)
	}
	if !cfg.Database.ReadOnly {
		t.Error("Database.ReadOnly not overridden")
	}
	if cfg.Cache.DefaultTTL != 42 {
		t.Errorf("Cache.DefaultTTL = %d, want 42", cfg.Cache.DefaultTTL)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "mqtt.env" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if !cfg.API.Enabled || cfg.API.Port != 8181 {
		t.Errorf("API = %+v", cfg.API)
	}
}

func TestEnvOverrides_IgnoresMalformed(t *testing.T) {
	t.Setenv("LITHIUM_CACHE_DEFAULT_TTL", "soon")
	t.Setenv("LITHIUM_DATABASE_READ_ONLY", "maybe")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.DefaultTTL != 300 || cfg.Database.ReadOnly {
		t.Errorf("malformed env values should be ignored, got ttl=%d ro=%v", cfg.Cache.DefaultTTL, cfg.Database.ReadOnly)
	}
}

func TestEffectivePragmas(t *testing.T) {
	d := DatabaseConfig{
		CacheSizeKB:     4000,
		TempStoreMemory: true,
		Pragmas:         map[string]string{"temp_store": "FILE", "mmap_size": "0"},
	}
	got := d.EffectivePragmas()

	want := map[string]string{"cache_size": "-4000", "temp_store": "FILE", "mmap_size": "0"}
	if len(got) != len(want) {
		t.Fatalf("EffectivePragmas() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("EffectivePragmas()[%s] = %q, want %q", k, got[k], v)
		}
	}

	if n := len((DatabaseConfig{}).EffectivePragmas()); n != 0 {
		t.Errorf("zero DatabaseConfig produced %d pragmas, want 0", n)
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load(sample) error = %v", err)
	}
	if !cfg.API.Enabled || cfg.API.Port != 9464 || cfg.Metrics.Path != "/metrics" {
		t.Errorf("API = %+v, Metrics = %+v", cfg.API, cfg.Metrics)
	}
	if cfg.Database.Pragmas["mmap_size"] != "268435456" {
		t.Errorf("Pragmas = %v", cfg.Database.Pragmas)
	}
}
