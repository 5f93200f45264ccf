package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bounds for collector.interval.
const (
	MinInterval = 100 * time.Millisecond
	MaxInterval = 24 * time.Hour
)

// Config is the root configuration structure for tsfeed.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Collector CollectorConfig `yaml:"collector"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Status    StatusConfig    `yaml:"status"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig contains the tsstore endpoint and credentials.
type StoreConfig struct {
	Endpoint       string `yaml:"endpoint"`
	StoreName      string `yaml:"store_name"`
	APIKey         string `yaml:"api_key"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	ReadTimeout    int    `yaml:"read_timeout"`
	WriteTimeout   int    `yaml:"write_timeout"`
}

// CollectorConfig contains sampling cadence and reconnect backoff.
type CollectorConfig struct {
	// Interval is in seconds and may be fractional; 0.5 samples at 2 Hz.
	Interval    float64       `yaml:"interval"`
	StatusEvery int           `yaml:"status_every"`
	Backoff     BackoffConfig `yaml:"backoff"`
}

// BackoffConfig contains reconnect delays in seconds.
type BackoffConfig struct {
	Initial int `yaml:"initial"`
	Max     int `yaml:"max"`
}

// SamplerConfig selects and configures the record source.
type SamplerConfig struct {
	Kind        string            `yaml:"kind"`
	System      SystemConfig      `yaml:"system"`
	Environment EnvironmentConfig `yaml:"environment"`
}

// SystemConfig contains host metric source locations.
type SystemConfig struct {
	DiskPath string `yaml:"disk_path"`
	ProcRoot string `yaml:"proc_root"`
	SysRoot  string `yaml:"sys_root"`
}

// EnvironmentConfig lists the sensor files to read.
type EnvironmentConfig struct {
	Sensors []SensorConfig `yaml:"sensors"`
}

// SensorConfig maps one numeric file to a record field.
type SensorConfig struct {
	Field     string  `yaml:"field"`
	Path      string  `yaml:"path"`
	Scale     float64 `yaml:"scale"`
	Offset    float64 `yaml:"offset"`
	Precision int     `yaml:"precision"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long delivery events are kept. Sessions and
	// totals are never pruned. Zero keeps events forever.
	RetentionDays int `yaml:"retention_days"`
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
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// StatusConfig contains the status HTTP server settings.
type StatusConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Addr     string              `yaml:"addr"`
	Timeouts StatusTimeoutConfig `yaml:"timeouts"`
}

// StatusTimeoutConfig contains HTTP timeout settings in seconds.
type StatusTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path skips the file and uses defaults plus environment.
//
// Parameters:
//   - path: Path to the YAML configuration file, or ""
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadUnvalidated is Load without the final Validate, for callers that
// apply further overrides (command-line flags) before validating.
func LoadUnvalidated(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a configuration with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Endpoint:       "/run/tsstore.sock",
			ConnectTimeout: 5,
			ReadTimeout:    5,
			WriteTimeout:   5,
		},
		Collector: CollectorConfig{
			Interval:    10,
			StatusEvery: 60,
			Backoff: BackoffConfig{
				Initial: 1,
				Max:     60,
			},
		},
		Sampler: SamplerConfig{
			Kind: "system",
			System: SystemConfig{
				DiskPath: "/",
				ProcRoot: "/proc",
				SysRoot:  "/sys",
			},
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/tsfeed.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tsfeed",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "tsfeed",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9464",
			Timeouts: StatusTimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TSFEED_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Store
	if v := os.Getenv("TSFEED_ENDPOINT"); v != "" {
		cfg.Store.Endpoint = v
	}
	if v := os.Getenv("TSFEED_STORE_NAME"); v != "" {
		cfg.Store.StoreName = v
	}
	// TSSTORE_API_KEY is what the bundled collector scripts read.
	if v := os.Getenv("TSSTORE_API_KEY"); v != "" {
		cfg.Store.APIKey = v
	}
	if v := os.Getenv("TSFEED_API_KEY"); v != "" {
		cfg.Store.APIKey = v
	}

	// Collector
	if v := os.Getenv("TSFEED_INTERVAL"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TSFEED_INTERVAL: %w", err)
		}
		cfg.Collector.Interval = n
	}

	// Database
	if v := os.Getenv("TSFEED_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TSFEED_DATABASE_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TSFEED_DATABASE_RETENTION_DAYS: %w", err)
		}
		cfg.Database.RetentionDays = n
	}

	// MQTT
	if v := os.Getenv("TSFEED_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TSFEED_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TSFEED_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TSFEED_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Status server
	if v := os.Getenv("TSFEED_STATUS_ADDR"); v != "" {
		cfg.Status.Addr = v
	}
	return nil
}

// Validate checks that all required configuration values are present and valid.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateOffline is Validate without the store section, for dry runs that
// never dial the store.
func (c *Config) ValidateOffline() error {
	return c.validate(false)
}

func (c *Config) validate(withStore bool) error {
	var errs []string

	if withStore {
		errs = append(errs, c.validateStore()...)
	}

	// Collector
	// Written negated so NaN fails too.
	if !(c.Collector.Interval >= MinInterval.Seconds() && c.Collector.Interval <= MaxInterval.Seconds()) {
		errs = append(errs, fmt.Sprintf("collector.interval must be between %g and %g seconds",
			MinInterval.Seconds(), MaxInterval.Seconds()))
	}
	if c.Collector.StatusEvery < 0 {
		errs = append(errs, "collector.status_every must not be negative")
	}
	if c.Collector.Backoff.Initial < 1 {
		errs = append(errs, "collector.backoff.initial must be at least 1 second")
	}
	if c.Collector.Backoff.Max < c.Collector.Backoff.Initial {
		errs = append(errs, "collector.backoff.max must not be less than collector.backoff.initial")
	}

	// Sampler
	switch c.Sampler.Kind {
	case "system":
	case "environment":
		if len(c.Sampler.Environment.Sensors) == 0 {
			errs = append(errs, "sampler.environment.sensors must list at least one sensor")
		}
		for i, s := range c.Sampler.Environment.Sensors {
			if s.Field == "" || s.Path == "" {
				errs = append(errs, fmt.Sprintf("sampler.environment.sensors[%d] needs field and path", i))
			}
		}
	default:
		errs = append(errs, "sampler.kind must be system or environment")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when enabled (set TSFEED_INFLUXDB_TOKEN environment variable)")
		}
	}

	// Status server
	if c.Status.Enabled && c.Status.Addr == "" {
		errs = append(errs, "status.addr is required when the status server is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	if c.Store.Endpoint == "" {
		errs = append(errs, "store.endpoint is required")
	}
	if c.Store.StoreName == "" {
		errs = append(errs, "store.store_name is required")
	} else if strings.ContainsAny(c.Store.StoreName, " \t\r\n") {
		errs = append(errs, "store.store_name must not contain whitespace")
	}
	if c.Store.APIKey == "" {
		errs = append(errs, "store.api_key is required (set TSFEED_API_KEY environment variable)")
	} else if strings.ContainsAny(c.Store.APIKey, " \t\r\n") {
		errs = append(errs, "store.api_key must not contain whitespace")
	}
	if c.Store.ConnectTimeout < 1 || c.Store.ReadTimeout < 1 || c.Store.WriteTimeout < 1 {
		errs = append(errs, "store timeouts must be at least 1 second")
	}
	return errs
}

// ConnectTimeout returns the store connect timeout as a time.Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Store.ConnectTimeout) * time.Second
}

// ReadTimeout returns the store read timeout as a time.Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Store.ReadTimeout) * time.Second
}

// WriteTimeout returns the store write timeout as a time.Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Store.WriteTimeout) * time.Second
}

// Interval returns the sampling interval as a time.Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Collector.Interval * float64(time.Second))
}

// Retention returns how long journal events are kept, or 0 for forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}

// InitialBackoff returns the first reconnect delay as a time.Duration.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Collector.Backoff.Initial) * time.Second
}

// MaxBackoff returns the reconnect delay ceiling as a time.Duration.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Collector.Backoff.Max) * time.Second
}
