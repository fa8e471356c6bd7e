// Package config loads server configuration from the environment and then
// lets command-line flags override it.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Pairing policies understood by the matchmaking queue.
const (
	PolicyFIFO   = "fifo"
	PolicyRandom = "random"
)

// Result sinks a finished game can be written to.
const (
	SinkSQLite = "sqlite"
	SinkNATS   = "nats"
	SinkRedis  = "redis"
	SinkLog    = "log"
)

// Config holds every setting of the relay server.
type Config struct {
	HTTPAddr      string `env:"MATCHRELAY_HTTP_ADDR"      envDefault:":8081"`
	PairingPolicy string `env:"MATCHRELAY_PAIRING_POLICY" envDefault:"fifo"`

	JWTSecret       string        `env:"MATCHRELAY_JWT_SECRET"`
	AccessTokenTTL  time.Duration `env:"MATCHRELAY_ACCESS_TOKEN_TTL"  envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"MATCHRELAY_REFRESH_TOKEN_TTL" envDefault:"720h"`
	TokenCacheSize  int           `env:"MATCHRELAY_TOKEN_CACHE_SIZE"  envDefault:"4096"`

	DatabasePath string `env:"MATCHRELAY_DB_PATH"        envDefault:"matchrelay.db"`
	PhotoDir     string `env:"MATCHRELAY_PHOTO_DIR"      envDefault:"photos"`
	PhotoBaseURL string `env:"MATCHRELAY_PHOTO_BASE_URL" envDefault:"http://localhost:8081/photos"`

	ResultSinks   []string      `env:"MATCHRELAY_RESULT_SINKS"    envDefault:"sqlite" envSeparator:","`
	ResultTimeout time.Duration `env:"MATCHRELAY_RESULT_TIMEOUT"  envDefault:"5s"`
	NATSURL       string        `env:"MATCHRELAY_NATS_URL"        envDefault:"nats://127.0.0.1:4222"`
	NATSSubject   string        `env:"MATCHRELAY_NATS_SUBJECT"    envDefault:"matchrelay.results"`
	RedisAddr     string        `env:"MATCHRELAY_REDIS_ADDR"      envDefault:"127.0.0.1:6379"`
	RedisStream   string        `env:"MATCHRELAY_REDIS_STREAM"    envDefault:"matchrelay:results"`

	MaxMessageBytes int64 `env:"MATCHRELAY_MAX_MESSAGE_BYTES" envDefault:"2097152"`

	// ConsulAddr is a comma separated list of agents. Empty disables registration.
	ConsulAddr     string `env:"CONSUL_HTTP_ADDR"`
	ServiceName    string `env:"MATCHRELAY_SERVICE_NAME"        envDefault:"matchrelay"`
	AdvertisedHost string `env:"SERVICE_ADVERTISED_HOSTNAME"`

	LogLevel    string `env:"MATCHRELAY_LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"MATCHRELAY_DEV"`
}

// Parse reads the environment into a Config and applies flag overrides from args.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP/WebSocket listen address")
	fs.StringVar(&cfg.PairingPolicy, "pairing-policy", cfg.PairingPolicy, "matchmaking pairing policy (fifo|random)")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	fs.StringVar(&cfg.PhotoDir, "photo-dir", cfg.PhotoDir, "directory for uploaded profile photos")
	fs.StringVar(&cfg.ConsulAddr, "consul-addr", cfg.ConsulAddr, "Consul agent addresses, empty disables registration")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.BoolVar(&cfg.Development, "dev", cfg.Development, "development logging")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.PairingPolicy = strings.ToLower(strings.TrimSpace(cfg.PairingPolicy))
	sinks := make([]string, 0, len(cfg.ResultSinks))
	for _, s := range cfg.ResultSinks {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			sinks = append(sinks, s)
		}
	}
	cfg.ResultSinks = sinks
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("MATCHRELAY_JWT_SECRET is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	switch c.PairingPolicy {
	case PolicyFIFO, PolicyRandom:
	default:
		return fmt.Errorf("unknown pairing policy %q", c.PairingPolicy)
	}
	for _, s := range c.ResultSinks {
		switch s {
		case SinkSQLite, SinkNATS, SinkRedis, SinkLog:
		default:
			return fmt.Errorf("unknown result sink %q", s)
		}
	}
	if c.ResultTimeout <= 0 {
		return errors.New("result timeout must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return errors.New("max message bytes must be positive")
	}
	return nil
}

// HasSink reports whether name is one of the configured result sinks.
func (c Config) HasSink(name string) bool {
	for _, s := range c.ResultSinks {
		if s == name {
			return true
		}
	}
	return false
}
