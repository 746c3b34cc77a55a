package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultURI is the remote endpoint used when none is configured.
	DefaultURI = "https://glo-matcher.brainapi.lumen-labs.ai/mcp"
	// DefaultName is the diagnostic name used when none is configured.
	DefaultName = "mcp-stdio-http-bridge"

	DefaultTimeoutMS    = 60000
	DefaultMaxQueue     = 10000
	DefaultMaxBackoffMS = 30000

	// MaxQueueLimit bounds max_queue. Queue buffers are allocated up front.
	MaxQueueLimit = 1_000_000

	// InitialBackoff is the first wait after a retryable failure.
	InitialBackoff = 500 * time.Millisecond
)

var numericDefaults = map[string]int{
	"timeout_ms":     DefaultTimeoutMS,
	"max_queue":      DefaultMaxQueue,
	"max_backoff_ms": DefaultMaxBackoffMS,
}

// setDefaults 设置所有配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("uri", DefaultURI)
	v.SetDefault("bearer_token", "")
	v.SetDefault("name", "")
	for key, def := range numericDefaults {
		v.SetDefault(key, def)
	}
	v.SetDefault("metrics_addr", "")

	// Log 配置; an empty format selects console or json from the terminal.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.file", "")
}
