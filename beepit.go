package beepit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Server defines a real-time message dispatch server.
//
// Clients connect over WebSocket, subscribe to topics, publish to topics and send
// direct messages to other connections. Every connection is served by its own actor;
// routing, admission control and topic membership are shared services.
//
// Example usage:
//
//	import "github.com/julianarecha/beepit-server/ws"
//
//	server, err := ws.New(ws.NewConfig(":8080", ws.AllOrigins()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(context.Background())
type Server interface {
	// Start starts the WebSocket server and begins accepting connections.
	// The server keeps running until Stop is called or the context is cancelled.
	//
	// Returns an error if the server is already running or if the network
	// address cannot be bound.
	Start(ctx context.Context) error

	// Stop gracefully stops the server. Every connection is drained within its
	// grace period and then closed.
	Stop(ctx context.Context) error

	// Reconfigure replaces the admission and connection limits. Rate limits apply
	// to existing buckets immediately; queue and drain settings apply to
	// connections opened afterwards.
	Reconfigure(limits Limits) error

	// Stats returns a point-in-time view of the server.
	Stats() Stats
}

// Limits is the hot-reloadable set of limits handed to the core.
type Limits struct {
	// RateLimitEnabled turns admission control on or off.
	RateLimitEnabled bool
	// RefillRate is the number of tokens added to a bucket per second.
	RefillRate float64
	// BurstCapacity is the maximum number of tokens a bucket can hold.
	BurstCapacity int
	// IdleEvictionPeriod is how long an unused bucket is kept.
	IdleEvictionPeriod time.Duration
	// OutboundQueueCapacity bounds the number of pending messages per connection.
	OutboundQueueCapacity int
	// OverflowPolicy is either "drop_oldest" or "drop_new".
	OverflowPolicy string
	// DrainGracePeriod bounds the flush of queued messages on graceful close.
	DrainGracePeriod time.Duration
	// MailboxSize bounds the inbound frames a connection holds before its
	// reader blocks.
	MailboxSize int
}

// Validate reports the first invalid limit. Zero queue capacity and mailbox
// size select the defaults. Rate and burst are checked only when rate
// limiting is enabled.
func (l Limits) Validate() error {
	if l.RateLimitEnabled {
		if l.RefillRate <= 0 {
			return fmt.Errorf("refill rate must be > 0, got %g", l.RefillRate)
		}
		if l.BurstCapacity < 1 {
			return fmt.Errorf("burst capacity must be >= 1, got %d", l.BurstCapacity)
		}
	}
	if l.IdleEvictionPeriod < 0 {
		return errors.New("idle eviction period must be >= 0")
	}
	if l.OutboundQueueCapacity < 0 {
		return fmt.Errorf("outbound queue capacity must be >= 0, got %d", l.OutboundQueueCapacity)
	}
	if l.DrainGracePeriod < 0 {
		return errors.New("drain grace period must be >= 0")
	}
	if l.MailboxSize < 0 {
		return fmt.Errorf("mailbox size must be >= 0, got %d", l.MailboxSize)
	}
	return nil
}

// Stats contains runtime statistics.
type Stats struct {
	Connections int `json:"connections"`
	Topics      int `json:"topics"`
	Buckets     int `json:"buckets"`

	Connected       int64 `json:"connected"`
	Disconnected    int64 `json:"disconnected"`
	MessagesRouted  int64 `json:"messages_routed"`
	MessagesDropped int64 `json:"messages_dropped"`
	RateLimited     int64 `json:"rate_limited"`
	ProtocolErrors  int64 `json:"protocol_errors"`
	ActorFailures   int64 `json:"actor_failures"`
}
