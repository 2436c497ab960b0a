package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/julianarecha/beepit-server/internal/config"
	"github.com/julianarecha/beepit-server/internal/events"
	"github.com/julianarecha/beepit-server/internal/websocket"
)

type Server = websocket.Server
type CheckOriginFn = websocket.CheckOriginFn
type ServerConfig = *websocket.ServerConfig

// Event is a core event delivered to an EventSink.
type Event = events.Event

// EventSink receives core events (connections, drops, rate limiting,
// protocol errors, actor failures).
type EventSink = events.Sink

// EventSinkFunc adapts a function to an EventSink.
type EventSinkFunc = events.SinkFunc

// New creates a new WebSocket dispatch server. It fails if the limits in cfg
// are invalid.
//
// Example:
//
//	server, err := ws.New(ws.NewConfig(":8080", ws.AllOrigins()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	server.Start(ctx)
func New(cfg ServerConfig) (*Server, error) {
	return websocket.New(cfg)
}

// NewConfig returns a configuration with default timeouts and limits.
func NewConfig(addr string, checkOrigin CheckOriginFn) ServerConfig {
	cfg := websocket.DefaultServerConfig(addr)
	cfg.CheckOrigin = checkOrigin
	return cfg
}

// FromFile builds a server configuration from a loaded config file.
func FromFile(c *config.Config, logger *slog.Logger) ServerConfig {
	return &websocket.ServerConfig{
		Addr:           c.Server.Addr,
		Path:           c.Server.Path,
		CheckOrigin:    Origins(c.Server.AllowedOrigins...),
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		PingInterval:   c.Server.PingInterval,
		MaxMessageSize: c.Server.MaxMessageSize,
		MaxConnections: c.Server.MaxConnections,
		IdentityHeader: c.Server.IdentityHeader,
		IdentityQuery:  c.Server.IdentityQuery,
		Limits:         c.ServerLimits(),
		Logger:         logger,
	}
}

// AllOrigins returns a checkOrigin function that allows all origins.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// Origins returns a checkOrigin function accepting the listed origins,
// compared case-insensitively. No origins or "*" allows all. Requests
// without an Origin header are accepted.
func Origins(allowed ...string) CheckOriginFn {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return AllOrigins()
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	if len(set) == 0 {
		return AllOrigins()
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
