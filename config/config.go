/*
config.go - Server configuration

PURPOSE:
  One place that turns flags, environment and an optional config file
  into a validated Config for cmd/server.

PRECEDENCE (highest first):
  1. Command-line flags
  2. Environment variables, prefixed CAPACITY_ (dots become underscores)
  3. Config file (--config, YAML)
  4. Defaults below

KEYS:
  port                   HTTP port (8080)
  db                     SQLite path, ":memory:" allowed (capacity.db)
  seed                   Optional YAML roster loaded at startup
  log.level              debug, info, warn, error (info)
  log.development        Human-readable console logs (false)
  nats.url               Publish change events here when set
  nats.subject_prefix    Subject prefix for events (capacity)
  audit.interval         Over-allocation audit period, 0 disables (1h)

EXAMPLE:
  CAPACITY_NATS_URL=nats://localhost:4222 ./server serve --port=3000

SEE ALSO:
  - cmd/server/main.go: Binds these flags to the serve command
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "CAPACITY"

type Config struct {
	Port int    `mapstructure:"port"`
	DB   string `mapstructure:"db"`
	Seed string `mapstructure:"seed"`

	Log   LogConfig   `mapstructure:"log"`
	NATS  NATSConfig  `mapstructure:"nats"`
	Audit AuditConfig `mapstructure:"audit"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type AuditConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// RegisterFlags adds every key as a flag on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.Int("port", 8080, "HTTP server port")
	fs.String("db", "capacity.db", `SQLite database path (":memory:" for in-memory)`)
	fs.String("seed", "", "YAML roster of users, projects and allocations to load at startup")
	fs.String("log.level", "info", "Log level: debug, info, warn, error")
	fs.Bool("log.development", false, "Human-readable console logging")
	fs.String("nats.url", "", "NATS server URL for change events (disabled when empty)")
	fs.String("nats.subject_prefix", "capacity", "Subject prefix for change events")
	fs.Duration("audit.interval", time.Hour, "Over-allocation audit interval (0 disables)")
}

// Load resolves the configuration from fs, the environment and the
// optional config file named by the --config flag.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, errors.New("db is required"))
	}
	if _, err := c.Log.ZapLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Audit.Interval < 0 {
		errs = append(errs, fmt.Errorf("audit.interval must not be negative, got %s", c.Audit.Interval))
	}
	return errors.Join(errs...)
}

// ZapLevel parses Level.
func (l LogConfig) ZapLevel() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
