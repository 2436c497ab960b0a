package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr                  = ":8080"
	DefaultPath                  = "/ws"
	DefaultReadTimeout           = 60 * time.Second
	DefaultWriteTimeout          = 10 * time.Second
	DefaultPingInterval          = 30 * time.Second
	DefaultMaxMessageSize        = 1 << 20
	DefaultIdentityHeader        = "X-Client-ID"
	DefaultIdentityQuery         = "client_id"
	DefaultRefillRate            = 10.0
	DefaultBurstCapacity         = 20
	DefaultIdleEvictionPeriod    = 5 * time.Minute
	DefaultOutboundQueueCapacity = 256
	DefaultOverflowPolicy        = "drop_oldest"
	DefaultDrainGracePeriod      = 5 * time.Second
	DefaultMailboxSize           = 64
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Server.IdentityHeader == "" {
		c.Server.IdentityHeader = DefaultIdentityHeader
	}
	if c.Server.IdentityQuery == "" {
		c.Server.IdentityQuery = DefaultIdentityQuery
	}

	// Limits defaults
	if c.Limits.Enabled == nil {
		enabled := true
		c.Limits.Enabled = &enabled
	}
	if c.Limits.RefillRate == 0 {
		c.Limits.RefillRate = DefaultRefillRate
	}
	if c.Limits.BurstCapacity == 0 {
		c.Limits.BurstCapacity = DefaultBurstCapacity
	}
	if c.Limits.IdleEvictionPeriod == 0 {
		c.Limits.IdleEvictionPeriod = DefaultIdleEvictionPeriod
	}

	// Connections defaults
	if c.Connections.OutboundQueueCapacity == 0 {
		c.Connections.OutboundQueueCapacity = DefaultOutboundQueueCapacity
	}
	if c.Connections.OverflowPolicy == "" {
		c.Connections.OverflowPolicy = DefaultOverflowPolicy
	}
	if c.Connections.DrainGracePeriod == 0 {
		c.Connections.DrainGracePeriod = DefaultDrainGracePeriod
	}
	if c.Connections.MailboxSize == 0 {
		c.Connections.MailboxSize = DefaultMailboxSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
