package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for files that are neither YAML nor TOML.
var ErrUnknownFormat = errors.New("unknown config format")

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// ServerConfig describes the Buttplug server and request behavior.
//
// SettleDelay is waited after the handshake so the server can announce
// devices it already knows.
type ServerConfig struct {
	URL            string        `yaml:"url" toml:"url"`
	ClientName     string        `yaml:"client_name" toml:"client_name"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
	SettleDelay    time.Duration `yaml:"settle_delay" toml:"settle_delay"`
	StopTimeout    time.Duration `yaml:"stop_timeout" toml:"stop_timeout"`
	MaxMessageSize int           `yaml:"max_message_size" toml:"max_message_size"`
}

// LoggingConfig controls the slog handler and protocol capture.
type LoggingConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Format      string `yaml:"format" toml:"format"`
	CaptureFile string `yaml:"capture_file" toml:"capture_file"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
	Path   string `yaml:"path" toml:"path"`
}

// MQTTConfig describes the broker the bridge publishes to.
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         int    `yaml:"qos" toml:"qos"`
}

// ReconnectConfig controls the backoff between server connection attempts.
// MaxAttempts of zero retries forever.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" toml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" toml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts" toml:"max_attempts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            "ws://127.0.0.1:12345",
			ClientName:     "Buttbee.Client",
			RequestTimeout: 10 * time.Second,
			SettleDelay:    200 * time.Millisecond,
			StopTimeout:    time.Second,
			MaxMessageSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "buttbee-bridge",
			TopicPrefix: "buttbee",
			QoS:         1,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. The format follows the file extension: .yaml/.yml
// or .toml. An empty path loads defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Ext(path))
	}
}

// applyEnvOverrides applies BUTTBEE_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	str := map[string]*string{
		"BUTTBEE_SERVER_URL":           &cfg.Server.URL,
		"BUTTBEE_SERVER_CLIENT_NAME":   &cfg.Server.ClientName,
		"BUTTBEE_LOGGING_LEVEL":        &cfg.Logging.Level,
		"BUTTBEE_LOGGING_FORMAT":       &cfg.Logging.Format,
		"BUTTBEE_LOGGING_CAPTURE_FILE": &cfg.Logging.CaptureFile,
		"BUTTBEE_METRICS_LISTEN":       &cfg.Metrics.Listen,
		"BUTTBEE_MQTT_BROKER":          &cfg.MQTT.Broker,
		"BUTTBEE_MQTT_CLIENT_ID":       &cfg.MQTT.ClientID,
		"BUTTBEE_MQTT_USERNAME":        &cfg.MQTT.Username,
		"BUTTBEE_MQTT_PASSWORD":        &cfg.MQTT.Password,
		"BUTTBEE_MQTT_TOPIC_PREFIX":    &cfg.MQTT.TopicPrefix,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	dur := map[string]*time.Duration{
		"BUTTBEE_SERVER_REQUEST_TIMEOUT": &cfg.Server.RequestTimeout,
		"BUTTBEE_SERVER_SETTLE_DELAY":    &cfg.Server.SettleDelay,
		"BUTTBEE_SERVER_STOP_TIMEOUT":    &cfg.Server.StopTimeout,
	}
	for key, dst := range dur {
		v := getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v := getenv("BUTTBEE_MQTT_QOS"); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BUTTBEE_MQTT_QOS: %w", err)
		}
		cfg.MQTT.QoS = qos
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "server.url must be a ws:// or wss:// URL")
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, "server.request_timeout must not be negative")
	}
	if c.Server.SettleDelay < 0 {
		errs = append(errs, "server.settle_delay must not be negative")
	}
	if c.Server.MaxMessageSize < 0 {
		errs = append(errs, "server.max_message_size must not be negative")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must not contain wildcards")
	}

	if c.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "reconnect.initial_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		errs = append(errs, "reconnect.max_delay must not be below initial_delay")
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, "reconnect.multiplier must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level %q is not debug, info, warn or error", s)
	}
	return l, nil
}

// Handler builds the slog handler described by the logging section.
func (c LoggingConfig) Handler(w io.Writer) slog.Handler {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
