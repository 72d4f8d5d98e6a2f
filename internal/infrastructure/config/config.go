package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Lithium store.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"read_only"`

	// CacheSizeKB is the page cache size in KiB, written as a negative
	// cache_size pragma. 0 leaves the SQLite default.
	CacheSizeKB int `yaml:"cache_size_kb"`

	// TempStoreMemory keeps temporary tables and indices in memory.
	TempStoreMemory bool `yaml:"temp_store_memory"`

	// BusyTimeout is how long to wait on a locked database, in seconds.
	BusyTimeout int `yaml:"busy_timeout"`

	// Pragmas are applied after the built-in settings, in name order.
	Pragmas map[string]string `yaml:"pragmas"`
}

// CacheConfig contains TTL cache settings, in seconds.
type CacheConfig struct {
	DefaultTTL    int `yaml:"default_ttl"`
	PurgeInterval int `yaml:"purge_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`

	// Instance tags every point so several stores can share a bucket.
	Instance string `yaml:"instance"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the admin HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MetricsConfig contains the Prometheus endpoint settings. The endpoint
// is mounted on the admin API server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LITHIUM_SECTION_KEY
// For example: LITHIUM_DATABASE_PATH, LITHIUM_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "./data/lithium.db",
			CacheSizeKB:     2000,
			TempStoreMemory: true,
			BusyTimeout:     5,
		},
		Cache: CacheConfig{
			DefaultTTL:    300,
			PurgeInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lithium-store",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "lithium",
			BatchSize:     100,
			FlushInterval: 10,
			Instance:      "lithium-store",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 9464,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 30,
				Idle:  120,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LITHIUM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("LITHIUM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v, ok := envBool("LITHIUM_DATABASE_READ_ONLY"); ok {
		cfg.Database.ReadOnly = v
	}

	// Cache
	if v, ok := envInt("LITHIUM_CACHE_DEFAULT_TTL"); ok {
		cfg.Cache.DefaultTTL = v
	}

	// Logging
	if v := os.Getenv("LITHIUM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v, ok := envBool("LITHIUM_MQTT_ENABLED"); ok {
		cfg.MQTT.Enabled = v
	}
	if v := os.Getenv("LITHIUM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LITHIUM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LITHIUM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("LITHIUM_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("LITHIUM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("LITHIUM_INFLUXDB_INSTANCE"); v != "" {
		cfg.InfluxDB.Instance = v
	}

	// API
	if v, ok := envBool("LITHIUM_API_ENABLED"); ok {
		cfg.API.Enabled = v
	}
	if v := os.Getenv("LITHIUM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("LITHIUM_API_PORT"); ok {
		cfg.API.Port = v
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout cannot be negative")
	}
	if c.Database.CacheSizeKB < 0 {
		errs = append(errs, "database.cache_size_kb cannot be negative")
	}

	// Cache validation
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, "cache.default_ttl must be positive")
	}
	if c.Cache.PurgeInterval <= 0 {
		errs = append(errs, "cache.purge_interval must be positive")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 0 and 65535")
	}

	// Metrics validation
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// EffectivePragmas returns the pragma settings implied by the database section:
// cache_size and temp_store from their fields, then the explicit Pragmas,
// which win on conflict.
func (d DatabaseConfig) EffectivePragmas() map[string]string {
	out := make(map[string]string, len(d.Pragmas)+2)
	if d.CacheSizeKB > 0 {
		out["cache_size"] = strconv.Itoa(-d.CacheSizeKB)
	}
	if d.TempStoreMemory {
		out["temp_store"] = "MEMORY"
	}
	for k, v := range d.Pragmas {
		out[k] = v
	}
	return out
}

// GetBusyTimeout returns the database busy timeout as a Duration.
func (c *Config) GetBusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeout) * time.Second
}

// GetCacheTTL returns the cache default TTL as a Duration.
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.Cache.DefaultTTL) * time.Second
}

// GetPurgeInterval returns the cache reaper interval as a Duration.
func (c *Config) GetPurgeInterval() time.Duration {
	return time.Duration(c.Cache.PurgeInterval) * time.Second
}
