// Package config loads server settings from defaults, an optional YAML
// file and LIVECLASS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"liveclass/internal/logging"
)

const (
	// EnvPrefix is prepended to every environment override, e.g.
	// LIVECLASS_HTTP_PORT for http.port.
	EnvPrefix = "LIVECLASS"

	// EnvConfigFile names an explicit config file.
	EnvConfigFile = "LIVECLASS_CONFIG_FILE"

	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type Config struct {
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Heartbeat *HeartbeatConfig `mapstructure:"heartbeat"`
	Presence  *PresenceConfig  `mapstructure:"presence"`
	Database  *DatabaseConfig  `mapstructure:"database"`
	Messaging *MessagingConfig `mapstructure:"messaging"`
	Log       logging.Config   `mapstructure:"log"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig tunes the transport. ReadTimeout bounds how long a
// connection may stay silent, pongs included.
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// HeartbeatConfig drives the application level probe. A connection that
// does not answer a probe within Timeout is closed.
type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type PresenceConfig struct {
	MaxConnectionsPerUser int `mapstructure:"max_connections_per_user"`
}

type DatabaseConfig struct {
	Driver        string        `mapstructure:"driver"`
	Path          string        `mapstructure:"path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDatabase string        `mapstructure:"mongo_database"`
}

type MessagingConfig struct {
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	MaxContentBytes int           `mapstructure:"max_content_bytes"`
}

// DefaultConfig returns settings for a single classroom server with a
// local sqlite store.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   25 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
		},
		Heartbeat: &HeartbeatConfig{
			Interval: 10 * time.Second,
			Timeout:  20 * time.Second,
		},
		Presence: &PresenceConfig{
			MaxConnectionsPerUser: 3,
		},
		Database: &DatabaseConfig{
			Driver:        DriverSQLite,
			Path:          "./data/liveclass.db",
			Timeout:       30 * time.Second,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "liveclass",
		},
		Messaging: &MessagingConfig{
			RateLimit:       100,
			RateWindow:      time.Minute,
			MaxContentBytes: 64 * 1024,
		},
		Log: logging.Config{
			Level:       "info",
			ServiceName: "liveclass",
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Heartbeat == nil {
		return errors.New("heartbeat configuration is required")
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		return errors.New("heartbeat interval and timeout must be positive")
	}

	if c.Presence == nil || c.Presence.MaxConnectionsPerUser <= 0 {
		return errors.New("max connections per user must be positive")
	}

	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case DriverMongo:
		if c.Database.MongoURI == "" || c.Database.MongoDatabase == "" {
			return errors.New("mongo uri and database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	if c.Messaging == nil {
		return errors.New("messaging configuration is required")
	}
	if c.Messaging.RateLimit <= 0 || c.Messaging.RateWindow <= 0 {
		return errors.New("messaging rate limit and window must be positive")
	}
	if c.Messaging.MaxContentBytes <= 0 {
		return errors.New("messaging max content bytes must be positive")
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Load builds a Config. An explicit configFile must exist; with an empty
// configFile the path in LIVECLASS_CONFIG_FILE is used, and failing that
// liveclass.yaml is searched for in ./config and the working directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = os.Getenv(EnvConfigFile)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("liveclass")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)

	v.SetDefault("heartbeat.interval", d.Heartbeat.Interval)
	v.SetDefault("heartbeat.timeout", d.Heartbeat.Timeout)

	v.SetDefault("presence.max_connections_per_user", d.Presence.MaxConnectionsPerUser)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.mongo_uri", d.Database.MongoURI)
	v.SetDefault("database.mongo_database", d.Database.MongoDatabase)

	v.SetDefault("messaging.rate_limit", d.Messaging.RateLimit)
	v.SetDefault("messaging.rate_window", d.Messaging.RateWindow)
	v.SetDefault("messaging.max_content_bytes", d.Messaging.MaxContentBytes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}
