package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind names an observable event.
type Kind string

const (
	Connected        Kind = "connected"
	Disconnected     Kind = "disconnected"
	MessageDropped   Kind = "message_dropped"
	RateLimited      Kind = "rate_limited"
	ProtocolViolated Kind = "protocol_error"
	ActorFailed      Kind = "actor_failed"
	MessageRouted    Kind = "message_routed"
)

// Drop reasons carried by MessageDropped events.
const (
	ReasonQueueOverflow    = "queue_overflow"
	ReasonRecipientClosed  = "recipient_closed"
	ReasonUnknownRecipient = "unknown_recipient"
	ReasonDrainTimeout     = "drain_timeout"
	ReasonRateLimited      = "rate_limited"
	ReasonConnectionClosed = "connection_closed"
)

// Event is a structured observation emitted by the core.
type Event struct {
	Kind     Kind
	At       time.Time
	ConnID   string
	ClientID string
	Topic    string
	Reason   string
	Seq      uint64
	Count    int
	Err      error
}

// Name returns the event name, "message_dropped:<reason>" for drops.
func (e Event) Name() string {
	if e.Kind == MessageDropped && e.Reason != "" {
		return string(e.Kind) + ":" + e.Reason
	}
	return string(e.Kind)
}

// Sink receives events. Emit must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans an event out to several sinks. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// LogSink writes events as slog records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit logs the event at a level matching its severity.
func (s *LogSink) Emit(e Event) {
	level := slog.LevelInfo
	switch e.Kind {
	case MessageRouted:
		level = slog.LevelDebug
	case MessageDropped, RateLimited, ProtocolViolated:
		level = slog.LevelWarn
	case ActorFailed:
		level = slog.LevelError
	}

	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	if e.ConnID != "" {
		attrs = append(attrs, slog.String("conn_id", e.ConnID))
	}
	if e.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", e.ClientID))
	}
	if e.Topic != "" {
		attrs = append(attrs, slog.String("topic", e.Topic))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.Seq != 0 {
		attrs = append(attrs, slog.Uint64("seq", e.Seq))
	}
	if e.Count != 0 {
		attrs = append(attrs, slog.Int("count", e.Count))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.Any("error", e.Err))
	}

	s.logger.LogAttrs(ctx, level, e.Name(), attrs...)
}

// Counters aggregates event counts.
type Counters struct {
	connected      atomic.Int64
	disconnected   atomic.Int64
	routed         atomic.Int64
	dropped        atomic.Int64
	rateLimited    atomic.Int64
	protocolErrors atomic.Int64
	actorFailures  atomic.Int64

	mu      sync.Mutex
	reasons map[string]int64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{reasons: make(map[string]int64)}
}

// Emit counts the event.
func (c *Counters) Emit(e Event) {
	n := int64(e.Count)
	if n == 0 {
		n = 1
	}

	switch e.Kind {
	case Connected:
		c.connected.Add(1)
	case Disconnected:
		c.disconnected.Add(1)
	case MessageRouted:
		c.routed.Add(n)
	case MessageDropped:
		c.dropped.Add(n)
		c.mu.Lock()
		c.reasons[e.Reason] += n
		c.mu.Unlock()
	case RateLimited:
		c.rateLimited.Add(1)
	case ProtocolViolated:
		c.protocolErrors.Add(1)
	case ActorFailed:
		c.actorFailures.Add(1)
	}
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Connected      int64
	Disconnected   int64
	Routed         int64
	Dropped        int64
	RateLimited    int64
	ProtocolErrors int64
	ActorFailures  int64
	DropReasons    map[string]int64
}

// Snapshot returns the current counts.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	reasons := make(map[string]int64, len(c.reasons))
	for k, v := range c.reasons {
		reasons[k] = v
	}
	c.mu.Unlock()

	return Snapshot{
		Connected:      c.connected.Load(),
		Disconnected:   c.disconnected.Load(),
		Routed:         c.routed.Load(),
		Dropped:        c.dropped.Load(),
		RateLimited:    c.rateLimited.Load(),
		ProtocolErrors: c.protocolErrors.Load(),
		ActorFailures:  c.actorFailures.Load(),
		DropReasons:    reasons,
	}
}
