package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	beepit "github.com/julianarecha/beepit-server"
	"github.com/julianarecha/beepit-server/internal/actor"
	"github.com/julianarecha/beepit-server/internal/events"
	"github.com/julianarecha/beepit-server/internal/protocol"
	"github.com/julianarecha/beepit-server/internal/supervisor"
	"github.com/julianarecha/beepit-server/internal/version"
)

// maxIdentityLength bounds client ids taken from the handshake request.
const maxIdentityLength = 128

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// ServerConfig configures the WebSocket transport and the limits handed to
// the core.
type ServerConfig struct {
	Addr        string
	Path        string
	CheckOrigin CheckOriginFn

	// ReadTimeout is the longest a connection may stay silent, pongs included.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration

	MaxMessageSize int64
	MaxConnections int // 0 = unlimited

	// IdentityHeader and IdentityQuery name where the authenticated client
	// id is read from, header first. Without one the connection id is used.
	IdentityHeader string
	IdentityQuery  string

	Limits beepit.Limits

	Logger *slog.Logger
	// Sink receives core events in addition to the logger.
	Sink events.Sink
}

// DefaultServerConfig returns a configuration listening on addr with
// default timeouts and limits.
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:           addr,
		Path:           "/ws",
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1 << 20,
		IdentityHeader: "X-Client-ID",
		IdentityQuery:  "client_id",
		Limits: beepit.Limits{
			RateLimitEnabled:      true,
			RefillRate:            10,
			BurstCapacity:         20,
			IdleEvictionPeriod:    5 * time.Minute,
			OutboundQueueCapacity: 256,
			OverflowPolicy:        "drop_oldest",
			DrainGracePeriod:      5 * time.Second,
			MailboxSize:           64,
		},
	}
}

// Server implements beepit.Server on top of gorilla/websocket. Every upgraded
// connection becomes an actor owned by the supervisor; the server only reads
// frames, keeps the connection alive and hands frames to the actor.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	sup    *supervisor.Supervisor

	upgrader websocket.Upgrader

	mu       sync.Mutex
	running  bool
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

var _ beepit.Server = (*Server)(nil)

// New creates a server. It fails if the limits are invalid.
func New(cfg *ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	supCfg, err := supervisor.ConfigFromLimits(cfg.Limits, cfg.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("server limits: %w", err)
	}

	s := &Server{
		cfg:    *cfg,
		logger: logger,
		sup:    supervisor.New(supCfg, events.Multi(events.NewLogSink(logger), cfg.Sink)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	if s.cfg.Path == "" {
		s.cfg.Path = "/ws"
	}
	return s, nil
}

// Handler returns the HTTP handler serving WebSocket upgrades on the
// configured path and a JSON health report on /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stopped := !s.running && s.listener != nil
	s.mu.Unlock()

	health := struct {
		Status  string       `json:"status"`
		Version version.Info `json:"version"`
		Stats   beepit.Stats `json:"stats"`
	}{
		Status:  "healthy",
		Version: version.Get(),
		Stats:   s.Stats(),
	}
	if limit := s.cfg.MaxConnections; limit > 0 && health.Stats.Connections >= limit {
		health.Status = "saturated"
	}

	w.Header().Set("Content-Type", "application/json")
	if stopped {
		health.Status = "stopped"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Debug("health response failed", "remote_addr", r.RemoteAddr, "error", err)
	}
}

// Start binds the listener and serves connections in the background. The
// server stops when Stop is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New(beepit.ErrServerAlreadyRunning)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	// A stopped server can be started again.
	s.sup.Resume()

	runCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.listener = ln
	s.cancel = cancel
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	go s.sup.Run(runCtx)
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "addr", ln.Addr().String(), "error", err)
		}
	}(s.server)
	go func() {
		select {
		case <-ctx.Done():
			stopCtx, stop := context.WithTimeout(context.Background(), s.cfg.Limits.DrainGracePeriod+time.Second)
			defer stop()
			s.Stop(stopCtx)
		case <-runCtx.Done():
		}
	}()

	s.logger.Info("server started", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops accepting connections and drains every live connection.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	defer cancel()

	// Hijacked connections are not tracked by http.Server; the supervisor
	// closes them.
	err := errors.Join(srv.Shutdown(ctx), s.sup.Shutdown(ctx))
	s.logger.Info("server stopped", "error", err)
	return err
}

// Reconfigure replaces the limits.
func (s *Server) Reconfigure(limits beepit.Limits) error {
	cfg, err := supervisor.ConfigFromLimits(limits, s.cfg.MaxConnections)
	if err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	s.sup.Reconfigure(cfg.Actor, cfg.Limits)
	s.logger.Info("limits reconfigured",
		"refill_rate", limits.RefillRate,
		"burst_capacity", limits.BurstCapacity,
		"rate_limit_enabled", limits.RateLimitEnabled,
		"overflow_policy", cfg.Actor.Overflow.String(),
	)
	return nil
}

// Stats returns a point-in-time view of the server.
func (s *Server) Stats() beepit.Stats {
	return s.sup.Stats()
}

// identity extracts the authenticated client id from the handshake request.
func (s *Server) identity(r *http.Request) string {
	if s.cfg.IdentityHeader != "" {
		if id := strings.TrimSpace(r.Header.Get(s.cfg.IdentityHeader)); id != "" {
			return id
		}
	}
	if s.cfg.IdentityQuery != "" {
		return strings.TrimSpace(r.URL.Query().Get(s.cfg.IdentityQuery))
	}
	return ""
}

// handleWebSocket upgrades the request and hands the connection to the
// supervisor.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := s.identity(r)
	if len(clientID) > maxIdentityLength {
		http.Error(w, "client id too long", http.StatusBadRequest)
		return
	}
	if limit := s.cfg.MaxConnections; limit > 0 && s.sup.Count() >= limit {
		w.Header().Set("Retry-After", "1")
		http.Error(w, beepit.ErrTooManyConnections, http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg.WriteTimeout)
	a, err := s.sup.OnConnect(client, clientID)
	if err != nil {
		code := beepit.CloseTryAgainLater
		if errors.Is(err, supervisor.ErrShuttingDown) {
			code = beepit.CloseGoingAway
		}
		s.logger.Warn("connection rejected", "remote_addr", r.RemoteAddr, "error", err)
		client.Close(code, err.Error())
		return
	}

	go client.keepalive(s.cfg.PingInterval)
	go s.readLoop(client, a)
}

// readLoop reads frames until the connection fails or the actor closes the
// transport, then asks the supervisor to close the actor.
func (s *Server) readLoop(client *Client, a *actor.Actor) {
	reason := actor.ReasonPeerGone
	defer func() {
		s.sup.OnDisconnect(a.ID(), reason)
	}()

	extend := func() {
		if s.cfg.ReadTimeout > 0 {
			client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
	}
	extend()
	client.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				a.Violation(fmt.Errorf("%w: frame exceeds %d bytes", protocol.ErrProtocol, s.cfg.MaxMessageSize))
			} else if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				reason = actor.ReasonNormal
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				a.State() == actor.Open {
				s.logger.Debug("read failed", "conn_id", a.ID(), "remote_addr", client.RemoteAddr(), "error", err)
			}
			return
		}
		extend()

		if err := a.ReceiveInbound(context.Background(), data); err != nil {
			return
		}
	}
}
