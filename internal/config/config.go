package config

import (
	"time"

	beepit "github.com/julianarecha/beepit-server"
)

// Config is the root configuration of a beepit server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Limits      LimitsConfig      `yaml:"limits"`
	Connections ConnectionsConfig `yaml:"connections"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the HTTP and WebSocket listener settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	Path           string        `yaml:"path"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`  // max silence before a connection is considered dead
	WriteTimeout   time.Duration `yaml:"write_timeout"` // per frame
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	MaxConnections int           `yaml:"max_connections"` // 0 = unlimited
	AllowedOrigins []string      `yaml:"allowed_origins"` // empty or "*" = any
	IdentityHeader string        `yaml:"identity_header"`
	IdentityQuery  string        `yaml:"identity_query"`
}

// LimitsConfig holds admission control settings.
type LimitsConfig struct {
	Enabled            *bool         `yaml:"enabled"`
	RefillRate         float64       `yaml:"refill_rate"` // tokens per second
	BurstCapacity      int           `yaml:"burst_capacity"`
	IdleEvictionPeriod time.Duration `yaml:"idle_eviction_period"`
}

// ConnectionsConfig holds per-connection settings.
type ConnectionsConfig struct {
	OutboundQueueCapacity int           `yaml:"outbound_queue_capacity"`
	OverflowPolicy        string        `yaml:"overflow_policy"`
	DrainGracePeriod      time.Duration `yaml:"drain_grace_period"`
	MailboxSize           int           `yaml:"mailbox_size"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ServerLimits returns the hot-reloadable limits handed to the server.
func (c *Config) ServerLimits() beepit.Limits {
	enabled := true
	if c.Limits.Enabled != nil {
		enabled = *c.Limits.Enabled
	}
	return beepit.Limits{
		RateLimitEnabled:      enabled,
		RefillRate:            c.Limits.RefillRate,
		BurstCapacity:         c.Limits.BurstCapacity,
		IdleEvictionPeriod:    c.Limits.IdleEvictionPeriod,
		OutboundQueueCapacity: c.Connections.OutboundQueueCapacity,
		OverflowPolicy:        c.Connections.OverflowPolicy,
		DrainGracePeriod:      c.Connections.DrainGracePeriod,
		MailboxSize:           c.Connections.MailboxSize,
	}
}
