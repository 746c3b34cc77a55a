// Package config loads the bridge configuration from defaults, an optional
// config file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the bridge configuration. It is loaded once and passed by value.
type Config struct {
	URI          string    `mapstructure:"uri" yaml:"uri"`
	BearerToken  string    `mapstructure:"bearer_token" yaml:"bearer_token"`
	Name         string    `mapstructure:"name" yaml:"name"`
	TimeoutMS    int       `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	MaxQueue     int       `mapstructure:"max_queue" yaml:"max_queue"`
	MaxBackoffMS int       `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	MetricsAddr  string    `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Log          LogConfig `mapstructure:"log" yaml:"log"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Timeout returns the per-exchange timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// MaxBackoff returns the backoff ceiling.
func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// DisplayName returns the diagnostic name used in log lines.
func (c Config) DisplayName() string {
	if c.Name == "" {
		return DefaultName
	}
	return c.Name
}

// Validate checks that the configuration can run a bridge.
func (c Config) Validate() error {
	u, err := url.Parse(c.URI)
	if err != nil {
		return fmt.Errorf("invalid uri %q: %w", c.URI, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid uri %q: scheme must be http or https", c.URI)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid uri %q: missing host", c.URI)
	}
	if c.TimeoutMS <= 0 {
		return errors.New("timeout_ms must be positive")
	}
	if c.MaxQueue <= 0 {
		return errors.New("max_queue must be positive")
	}
	if c.MaxQueue > MaxQueueLimit {
		return fmt.Errorf("max_queue must be at most %d", MaxQueueLimit)
	}
	if c.MaxBackoff() < InitialBackoff {
		return fmt.Errorf("max_backoff_ms must be at least %d", InitialBackoff.Milliseconds())
	}
	return nil
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"uri":            "URI",
	"bearer_token":   "BEARER_TOKEN",
	"name":           "MCP_NAME",
	"timeout_ms":     "MCP_TIMEOUT_MS",
	"max_queue":      "MCP_MAX_QUEUE",
	"max_backoff_ms": "MCP_MAX_BACKOFF_MS",
	"metrics_addr":   "MCP_METRICS_ADDR",
	"log.level":      "MCP_LOG_LEVEL",
	"log.format":     "MCP_LOG_FORMAT",
	"log.file":       "MCP_LOG_FILE",
}

// flagBindings maps command-line flag names to config keys.
var flagBindings = map[string]string{
	"uri":            "uri",
	"token":          "bearer_token",
	"name":           "name",
	"timeout-ms":     "timeout_ms",
	"max-queue":      "max_queue",
	"max-backoff-ms": "max_backoff_ms",
	"metrics-addr":   "metrics_addr",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file",
}

// Load builds the configuration.
// 优先级: flag > ENV > 配置文件 > 默认值
//
// An empty path falls back to DefaultConfigPath when that file exists.
// flags may be nil; only flags the user actually set override other sources.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if flags != nil {
		for name, key := range flagBindings {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	file, err := resolveConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	for key, def := range numericDefaults {
		v.Set(key, parseCount(v.GetString(key), def))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func resolveConfigFile(path string) (string, error) {
	if path != "" {
		return ExpandPath(path)
	}
	def, err := DefaultConfigPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(def); err != nil {
		return "", nil
	}
	return def, nil
}

// parseCount parses a non-negative integer, falling back to def when the
// value is missing, malformed or negative.
func parseCount(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return def
	}
	return n
}
