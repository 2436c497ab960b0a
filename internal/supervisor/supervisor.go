// Package supervisor owns connection actors: it creates them on connect,
// resolves them for the router, and releases them on disconnect or failure.
//
// A failed actor is discarded and its slot released; it is never restarted.
// Failures are isolated to the failing connection, with one exception: a
// broken registry invariant is a defect in shared state and is re-raised.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	beepit "github.com/julianarecha/beepit-server"
	"github.com/julianarecha/beepit-server/internal/actor"
	"github.com/julianarecha/beepit-server/internal/events"
	"github.com/julianarecha/beepit-server/internal/queue"
	"github.com/julianarecha/beepit-server/internal/ratelimit"
	"github.com/julianarecha/beepit-server/internal/registry"
	"github.com/julianarecha/beepit-server/internal/router"
)

var (
	ErrTooManyConnections = errors.New(beepit.ErrTooManyConnections)
	ErrShuttingDown       = errors.New(beepit.ErrShuttingDown)
)

// Config configures a Supervisor.
type Config struct {
	// MaxConnections caps live connections; 0 means unlimited.
	MaxConnections int
	Actor          actor.Config
	Limits         ratelimit.Config
}

// DefaultConfig returns a configuration with default limits and no
// connection cap.
func DefaultConfig() Config {
	return Config{
		Actor:  actor.DefaultConfig(),
		Limits: ratelimit.DefaultConfig(),
	}
}

// Supervisor maps connection ids to actors and wires every actor to the
// shared registry, limiter and router.
type Supervisor struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	router   *router.Router
	counters *events.Counters
	sink     events.Sink

	actorCfg atomic.Pointer[actor.Config]
	maxConns int

	mu      sync.RWMutex
	actors  map[string]*actor.Actor
	closing bool
}

// New creates a supervisor. Events go to sink (may be nil) and to the
// supervisor's own counters.
func New(cfg Config, sink events.Sink, opts ...ratelimit.Option) *Supervisor {
	s := &Supervisor{
		registry: registry.New(),
		limiter:  ratelimit.New(cfg.Limits, opts...),
		counters: events.NewCounters(),
		maxConns: cfg.MaxConnections,
		actors:   make(map[string]*actor.Actor),
	}
	s.sink = events.Multi(s.counters, sink)
	s.router = router.New(s.registry, s.limiter, s, s.sink)
	s.actorCfg.Store(&cfg.Actor)
	return s
}

// Run evicts idle rate-limit buckets until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.limiter.Run(ctx)
}

// OnConnect creates an actor for an accepted connection, registers it and
// opens it. An empty clientID falls back to the connection id.
func (s *Supervisor) OnConnect(transport actor.Transport, clientID string) (*actor.Actor, error) {
	id := uuid.NewString()
	a := actor.New(id, clientID, transport, *s.actorCfg.Load(), actor.Deps{
		Router:   s.router,
		Registry: s.registry,
		Sink:     s.sink,
		OnExit:   s.onExit,
	})

	s.mu.Lock()
	switch {
	case s.closing:
		s.mu.Unlock()
		return nil, ErrShuttingDown
	case s.maxConns > 0 && len(s.actors) >= s.maxConns:
		s.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	s.actors[id] = a
	s.mu.Unlock()

	if err := a.Open(); err != nil {
		// Shutdown closed it between registration and open.
		s.remove(id)
		return nil, fmt.Errorf("%w: %w", ErrShuttingDown, err)
	}
	return a, nil
}

// OnDisconnect starts closing the connection. Unknown ids are ignored.
func (s *Supervisor) OnDisconnect(connID string, reason actor.CloseReason) {
	if a, ok := s.Actor(connID); ok {
		a.Close(reason)
	}
}

// Actor returns the live actor for connID.
func (s *Supervisor) Actor(connID string) (*actor.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[connID]
	return a, ok
}

// Lookup implements router.Directory.
func (s *Supervisor) Lookup(connID string) (router.Recipient, bool) {
	a, ok := s.Actor(connID)
	if !ok {
		return nil, false
	}
	return a, true
}

// Count returns the number of live connections.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

func (s *Supervisor) remove(id string) {
	s.mu.Lock()
	delete(s.actors, id)
	s.mu.Unlock()
}

// onExit runs on the actor's goroutine once it reached Closed.
func (s *Supervisor) onExit(a *actor.Actor, failure error) {
	s.remove(a.ID())
	if failure == nil {
		return
	}

	s.sink.Emit(events.Event{
		Kind:     events.ActorFailed,
		ConnID:   a.ID(),
		ClientID: a.ClientID(),
		Err:      failure,
	})
	if errors.Is(failure, registry.ErrInconsistent) {
		panic(failure)
	}
}

// Shutdown stops accepting connections and closes every live actor
// gracefully. Actors still draining when ctx is done are aborted.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	live := make([]*actor.Actor, 0, len(s.actors))
	for _, a := range s.actors {
		live = append(live, a)
	}
	s.mu.Unlock()

	g := new(errgroup.Group)
	for _, a := range live {
		a := a
		g.Go(func() error {
			a.Close(actor.ReasonShutdown)
			if err := a.Wait(ctx); err != nil {
				a.Abort(actor.ReasonShutdown)
				return fmt.Errorf("close %s: %w", a.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Resume accepts connections again after Shutdown.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	s.closing = false
	s.mu.Unlock()
}

// Reconfigure applies new limits. Rate limits change for existing buckets
// immediately; actor settings apply to connections opened afterwards.
func (s *Supervisor) Reconfigure(actorCfg actor.Config, limits ratelimit.Config) {
	s.actorCfg.Store(&actorCfg)
	s.limiter.Reconfigure(limits)
}

// Registry returns the shared topic registry.
func (s *Supervisor) Registry() *registry.Registry { return s.registry }

// Stats returns a point-in-time view of the supervised connections.
func (s *Supervisor) Stats() beepit.Stats {
	snap := s.counters.Snapshot()
	return beepit.Stats{
		Connections:     s.Count(),
		Topics:          s.registry.Len(),
		Buckets:         s.limiter.Len(),
		Connected:       snap.Connected,
		Disconnected:    snap.Disconnected,
		MessagesRouted:  snap.Routed,
		MessagesDropped: snap.Dropped,
		RateLimited:     snap.RateLimited,
		ProtocolErrors:  snap.ProtocolErrors,
		ActorFailures:   snap.ActorFailures,
	}
}

// ConfigFromLimits maps the public limits onto supervisor settings.
func ConfigFromLimits(l beepit.Limits, maxConns int) (Config, error) {
	if err := l.Validate(); err != nil {
		return Config{}, err
	}
	if maxConns < 0 {
		return Config{}, fmt.Errorf("max connections must be >= 0, got %d", maxConns)
	}

	ac := actor.DefaultConfig()
	if l.OverflowPolicy != "" {
		policy, err := queue.ParsePolicy(l.OverflowPolicy)
		if err != nil {
			return Config{}, err
		}
		ac.Overflow = policy
	}
	if l.OutboundQueueCapacity > 0 {
		ac.QueueCapacity = l.OutboundQueueCapacity
	}
	if l.MailboxSize > 0 {
		ac.MailboxSize = l.MailboxSize
	}
	ac.DrainGrace = l.DrainGracePeriod

	return Config{
		MaxConnections: maxConns,
		Actor:          ac,
		Limits: ratelimit.Config{
			RefillRate:   rate.Limit(l.RefillRate),
			Burst:        l.BurstCapacity,
			IdleEviction: l.IdleEvictionPeriod,
			Enabled:      l.RateLimitEnabled,
		},
	}, nil
}
