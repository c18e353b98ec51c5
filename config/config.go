// Package config loads server configuration from the environment.
//
// Values come from process environment variables (optionally seeded from a
// .env file by the caller) with the defaults declared on Config. Command line
// flags may override individual fields afterwards; call Validate once they
// have been applied.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything the serve command needs.
type Config struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT" envDefault:"10000"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// WebSocket connection tuning.
	WriteWait       time.Duration `env:"WRITE_WAIT"        envDefault:"10s"`
	PongWait        time.Duration `env:"PONG_WAIT"         envDefault:"60s"`
	PingPeriod      time.Duration `env:"PING_PERIOD"       envDefault:"54s"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES" envDefault:"8192"`
	SendBuffer      int           `env:"SEND_BUFFER"       envDefault:"64"`
	RateLimit       float64       `env:"RATE_LIMIT"        envDefault:"20"`
	RateBurst       int           `env:"RATE_BURST"        envDefault:"40"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	NgrokEnabled   bool   `env:"NGROK_ENABLED"`
	NgrokAuthToken string `env:"NGROK_AUTHTOKEN"`
	NgrokDomain    string `env:"NGROK_DOMAIN"`
}

// Load parses the environment into a Config. It does not validate.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks that the values are usable together.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.WriteWait <= 0:
		return fmt.Errorf("%w: write wait must be positive", ErrInvalidConfig)
	case c.PongWait <= 0 || c.PingPeriod <= 0:
		return fmt.Errorf("%w: ping period and pong wait must be positive", ErrInvalidConfig)
	case c.PingPeriod >= c.PongWait:
		return fmt.Errorf("%w: ping period (%s) must be shorter than pong wait (%s)", ErrInvalidConfig, c.PingPeriod, c.PongWait)
	case c.MaxMessageBytes <= 0:
		return fmt.Errorf("%w: max message bytes must be positive", ErrInvalidConfig)
	case c.SendBuffer <= 0:
		return fmt.Errorf("%w: send buffer must be positive", ErrInvalidConfig)
	case c.RateLimit <= 0 || c.RateBurst <= 0:
		return fmt.Errorf("%w: rate limit and burst must be positive", ErrInvalidConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LocalURL is a base URL for reaching the server from the same host.
func (c Config) LocalURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}
