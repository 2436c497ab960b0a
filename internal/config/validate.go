package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/julianarecha/beepit-server/internal/protocol"
	"github.com/julianarecha/beepit-server/internal/queue"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("server.read_timeout and server.write_timeout must be > 0")
	}
	if c.Server.PingInterval <= 0 || c.Server.PingInterval >= c.Server.ReadTimeout {
		return fmt.Errorf("server.ping_interval must be > 0 and < server.read_timeout (%s), got %s",
			c.Server.ReadTimeout, c.Server.PingInterval)
	}
	if c.Server.MaxMessageSize < 1 || c.Server.MaxMessageSize > protocol.MaxFrameSize {
		return fmt.Errorf("server.max_message_size must be between 1 and %d, got %d",
			protocol.MaxFrameSize, c.Server.MaxMessageSize)
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must be >= 0")
	}

	if err := c.Limits.validate(); err != nil {
		return err
	}
	if err := c.Connections.validate(); err != nil {
		return err
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (l *LimitsConfig) validate() error {
	if l.RefillRate <= 0 {
		return fmt.Errorf("limits.refill_rate must be > 0, got %g", l.RefillRate)
	}
	if l.BurstCapacity < 1 {
		return fmt.Errorf("limits.burst_capacity must be >= 1, got %d", l.BurstCapacity)
	}
	if l.IdleEvictionPeriod < 0 {
		return errors.New("limits.idle_eviction_period must be >= 0")
	}
	return nil
}

func (c *ConnectionsConfig) validate() error {
	if c.OutboundQueueCapacity < 1 {
		return fmt.Errorf("connections.outbound_queue_capacity must be >= 1, got %d", c.OutboundQueueCapacity)
	}
	if _, err := queue.ParsePolicy(c.OverflowPolicy); err != nil {
		return fmt.Errorf("connections.overflow_policy: %w", err)
	}
	if c.DrainGracePeriod < 0 {
		return errors.New("connections.drain_grace_period must be >= 0")
	}
	if c.MailboxSize < 1 {
		return fmt.Errorf("connections.mailbox_size must be >= 1, got %d", c.MailboxSize)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
