// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the Z-Wave Redis bridge.
package config

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/soothill/zwave-redis-bridge/monitoring"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/zwave/sim"
	"gopkg.in/yaml.v3"
)

// DefaultTransport is the serial device used when none is given.
const DefaultTransport = "/dev/ttyUSB0"

// Config represents the application configuration
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	ZWave         ZWaveConfig         `yaml:"zwave"`
	Simulation    *sim.Network        `yaml:"simulation"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// StoreConfig holds Redis connection settings
type StoreConfig struct {
	Address          string        `yaml:"address" validate:"omitempty,hostname_port"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db" validate:"gte=0,lte=15"`
	DialTimeout      time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	ReadTimeout      time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gte=0"`
	Discover         bool          `yaml:"discover"`
	ServiceType      string        `yaml:"service_type"`
	Domain           string        `yaml:"domain"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" validate:"gte=0"`
	Breaker          BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds the store circuit breaker settings
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" validate:"gte=1"`
	OpenTimeout time.Duration `yaml:"open_timeout" validate:"gte=0"`
	HalfOpenMax uint32        `yaml:"half_open_max"`
}

// ZWaveConfig holds device network runtime settings
type ZWaveConfig struct {
	Transport     string        `yaml:"transport"`
	ConfigPath    string        `yaml:"config_path"`
	UserPath      string        `yaml:"user_path"`
	PollInterval  time.Duration `yaml:"poll_interval" validate:"gte=0"`
	PollIntensity uint8         `yaml:"poll_intensity" validate:"gte=1"`
	InitTimeout   time.Duration `yaml:"init_timeout" validate:"gte=0"`
}

// InfluxDBConfig holds the optional value history settings
type InfluxDBConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// MQTTConfig holds the optional event mirror settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         uint8  `yaml:"qos" validate:"lte=2"`
	Retain      bool   `yaml:"retain"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// NotificationsConfig holds alerting settings
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides. A missing file is not an error: defaults and environment apply.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	if path := os.Getenv("OPEN_ZWAVE_CONFIG"); path != "" {
		c.ZWave.ConfigPath = path
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Store.Address = addr
		c.Store.Discover = false
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Store.Password = password
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if interval := os.Getenv("ZWAVE_POLL_INTERVAL"); interval != "" {
		duration, parseErr := time.ParseDuration(interval)
		if parseErr == nil {
			c.ZWave.PollInterval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse ZWAVE_POLL_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
	if u := os.Getenv("INFLUXDB_URL"); u != "" {
		c.InfluxDB.URL = u
		c.InfluxDB.Enabled = true
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.InfluxDB.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.InfluxDB.Organization = org
	}
	if bucket := os.Getenv("INFLUXDB_BUCKET"); bucket != "" {
		c.InfluxDB.Bucket = bucket
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
		c.MQTT.Enabled = true
	}
	if webhook := os.Getenv("SLACK_WEBHOOK_URL"); webhook != "" {
		c.Notifications.SlackWebhookURL = webhook
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Store.Address == "" && !c.Store.Discover {
		c.Store.Address = "localhost:6379"
	}
	if c.Store.DialTimeout == 0 {
		c.Store.DialTimeout = 5 * time.Second
	}
	if c.Store.ReadTimeout == 0 {
		c.Store.ReadTimeout = 3 * time.Second
	}
	if c.Store.WriteTimeout == 0 {
		c.Store.WriteTimeout = 3 * time.Second
	}
	if c.Store.ServiceType == "" {
		c.Store.ServiceType = "_redis._tcp"
	}
	if c.Store.Domain == "" {
		c.Store.Domain = "local."
	}
	if c.Store.DiscoveryTimeout == 0 {
		c.Store.DiscoveryTimeout = 5 * time.Second
	}
	if c.Store.Breaker.MaxFailures == 0 {
		c.Store.Breaker.MaxFailures = 5
	}
	if c.Store.Breaker.OpenTimeout == 0 {
		c.Store.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.Store.Breaker.HalfOpenMax == 0 {
		c.Store.Breaker.HalfOpenMax = 1
	}

	if c.ZWave.Transport == "" {
		c.ZWave.Transport = DefaultTransport
	}
	if c.ZWave.ConfigPath == "" {
		c.ZWave.ConfigPath = "config/"
	}
	if c.ZWave.PollInterval == 0 {
		c.ZWave.PollInterval = 1500 * time.Millisecond
	}
	if c.ZWave.PollIntensity == 0 {
		c.ZWave.PollIntensity = monitoring.DefaultPollIntensity
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "zwave-redis-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "zwave"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return structError(err)
	}

	if err := c.validateStore(); err != nil {
		return err
	}
	if c.InfluxDB.Enabled {
		if err := c.validateInfluxDB(); err != nil {
			return err
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.NewConfigError("mqtt.broker", "", fmt.Errorf("%w: required when mqtt is enabled", errors.ErrInvalidConfig))
	}

	return nil
}

// structError reports the first failed struct tag as a ConfigError
// naming the YAML path of the field.
func structError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	return errors.NewConfigError(field, fmt.Sprint(fe.Value()),
		fmt.Errorf("%w: failed %q check", errors.ErrInvalidConfig, fe.Tag()))
}

// validateStore validates the store settings not expressible as tags
func (c *Config) validateStore() error {
	if c.Store.Address == "" && !c.Store.Discover {
		return errors.NewConfigError("store.address", "", fmt.Errorf("%w: required unless store.discover is set", errors.ErrInvalidConfig))
	}
	return nil
}

// validateInfluxDB validates the InfluxDB configuration
func (c *Config) validateInfluxDB() error {
	if c.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb.url is required")
	}

	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil {
		return fmt.Errorf("influxdb.url is not a valid URL: %w", parseErr)
	}

	if securityErr := validateURLSecurity(parsedURL); securityErr != nil {
		return securityErr
	}

	if c.InfluxDB.Token == "" {
		return fmt.Errorf("influxdb.token is required")
	}
	if len(c.InfluxDB.Token) < 8 {
		return fmt.Errorf("influxdb.token must be at least 8 characters long")
	}
	if c.InfluxDB.Organization == "" {
		return fmt.Errorf("influxdb.organization is required")
	}
	if c.InfluxDB.Bucket == "" {
		return fmt.Errorf("influxdb.bucket is required")
	}

	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("influxdb.url must use HTTPS for non-local connections (got %s). Using HTTP transmits credentials in plaintext", parsedURL.Scheme)
	}

	return nil
}

// Network returns the simulated mesh to run, falling back to the built-in
// three node network.
func (c *Config) Network() sim.Network {
	if c.Simulation != nil {
		return *c.Simulation
	}
	return sim.DefaultNetwork()
}
