// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `split_words:"true" validate:"gt=0"`
	RefillInterval time.Duration `split_words:"true" validate:"gt=0"`
}

// SocketIOConfig controls the Socket.IO compatibility endpoint.
type SocketIOConfig struct {
	Enabled bool   `split_words:"true"`
	Path    string `split_words:"true" validate:"required,startswith=/"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Host           string          `envconfig:"HOST"`
	Port           int             `envconfig:"PORT" validate:"min=1,max=65535"`
	AllowedOrigins []string        `envconfig:"ALLOWED_ORIGINS" validate:"min=1,dive,required"`
	MaxMessageSize int64           `envconfig:"MAX_MESSAGE_SIZE" validate:"gt=0"`
	SendBufferSize int             `envconfig:"SEND_BUFFER_SIZE" validate:"gt=0"`
	RateLimit      RateLimitConfig `envconfig:"RATE_LIMIT"`

	// PingInterval of zero disables transport keepalive and read deadlines.
	PingInterval time.Duration `envconfig:"PING_INTERVAL" validate:"gte=0"`
	PongWait     time.Duration `envconfig:"PONG_WAIT" validate:"gtfield=PingInterval"`
	WriteWait    time.Duration `envconfig:"WRITE_WAIT" validate:"gt=0"`

	SocketIO        SocketIOConfig `envconfig:"SOCKETIO"`
	ShutdownTimeout time.Duration  `envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	LogLevel  string `envconfig:"LOG_LEVEL" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `envconfig:"LOG_FORMAT" validate:"oneof=text json"`
}

var validate = validator.New()

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8000,
		AllowedOrigins: []string{"http://localhost:5173"},
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		SocketIO: SocketIOConfig{
			Enabled: true,
			Path:    "/ws/socket.io",
		},
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadConfig builds a Config from the defaults, an optional .env file in the
// working directory, and the process environment, then validates it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := NewConfig()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr is the listen address built from Host and Port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
