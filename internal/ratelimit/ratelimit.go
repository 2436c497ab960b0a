package ratelimit

import (
	"context"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const shardCount = 64

// Config defines the token bucket applied to every key.
type Config struct {
	// RefillRate is the number of tokens added per second.
	RefillRate rate.Limit
	// Burst is the bucket capacity.
	Burst int
	// IdleEviction is how long a bucket may go unused before it is evicted.
	// Zero disables eviction.
	IdleEviction time.Duration
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultConfig returns the default limiter configuration.
// Allows 10 messages per second per key with a burst of 20.
func DefaultConfig() Config {
	return Config{
		RefillRate:   10,
		Burst:        20,
		IdleEviction: 5 * time.Minute,
		Enabled:      true,
	}
}

// Disabled returns a configuration with rate limiting turned off.
func Disabled() Config {
	return Config{Enabled: false}
}

// Key identifies a bucket: one per client and channel.
type Key struct {
	Client  string
	Channel string // topic name or beepit.DirectChannel
}

// Decision is the outcome of TryAcquire.
type Decision bool

const (
	Accepted Decision = true
	Rejected Decision = false
)

func (d Decision) String() string {
	if d {
		return "accepted"
	}
	return "rejected"
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // nanoseconds since Limiter.epoch
}

type shard struct {
	mu      sync.RWMutex
	buckets map[Key]*bucket
}

// Limiter is a token-bucket admission controller keyed by (client, channel).
//
// Buckets are spread over independent shards so that unrelated keys never
// contend on the same lock. Token arithmetic is delegated to rate.Limiter,
// which refills lazily from elapsed monotonic time and clamps to the burst.
type Limiter struct {
	shards [shardCount]shard
	seed   maphash.Seed
	cfg    atomic.Pointer[Config]
	epoch  time.Time
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source. Times returned by now must carry a
// monotonic reading or be strictly non-decreasing.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		seed: maphash.MakeSeed(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	for i := range l.shards {
		l.shards[i].buckets = make(map[Key]*bucket)
	}
	l.epoch = l.now()
	l.cfg.Store(&cfg)
	return l
}

// Config returns the current configuration.
func (l *Limiter) Config() Config {
	return *l.cfg.Load()
}

// TryAcquire attempts to take one token for key. It never blocks.
func (l *Limiter) TryAcquire(key Key) Decision {
	return l.TryAcquireAt(key, l.now())
}

// Allow is TryAcquire reported as a bool.
func (l *Limiter) Allow(key Key) bool {
	return bool(l.TryAcquire(key))
}

// TryAcquireAt attempts to take one token for key as of now.
func (l *Limiter) TryAcquireAt(key Key, now time.Time) Decision {
	cfg := l.cfg.Load()
	if !cfg.Enabled {
		return Accepted
	}

	b := l.bucket(key, cfg, now)
	b.lastSeen.Store(int64(now.Sub(l.epoch)))
	return Decision(b.lim.AllowN(now, 1))
}

func (l *Limiter) shardFor(key Key) *shard {
	var h maphash.Hash
	h.SetSeed(l.seed)
	h.WriteString(key.Client)
	h.WriteByte(0)
	h.WriteString(key.Channel)
	return &l.shards[h.Sum64()%shardCount]
}

func (l *Limiter) bucket(key Key, cfg *Config, now time.Time) *bucket {
	s := l.shardFor(key)

	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		return b
	}
	b = &bucket{lim: rate.NewLimiter(cfg.RefillRate, cfg.Burst)}
	// rate.NewLimiter starts full; anchor it to now so refill starts from here.
	b.lim.SetBurstAt(now, cfg.Burst)
	s.buckets[key] = b
	return b
}

// Tokens returns the tokens currently available for key, or the burst
// capacity if the key has no bucket.
func (l *Limiter) Tokens(key Key) float64 {
	cfg := l.cfg.Load()
	s := l.shardFor(key)

	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if !ok {
		return float64(cfg.Burst)
	}
	return b.lim.TokensAt(l.now())
}

// Forget removes every bucket belonging to client.
func (l *Limiter) Forget(client string) int {
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k := range s.buckets {
			if k.Client == client {
				delete(s.buckets, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Evict removes buckets unused for longer than the idle eviction period.
// A concurrent TryAcquire on an evicted key recreates the bucket at full
// burst capacity.
func (l *Limiter) Evict(now time.Time) int {
	cfg := l.cfg.Load()
	if cfg.IdleEviction <= 0 {
		return 0
	}

	cutoff := int64(now.Sub(l.epoch) - cfg.IdleEviction)
	evicted := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, b := range s.buckets {
			if b.lastSeen.Load() < cutoff {
				delete(s.buckets, k)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.RLock()
		n += len(s.buckets)
		s.mu.RUnlock()
	}
	return n
}

// Reconfigure applies cfg to new and existing buckets. Existing buckets keep
// their accumulated tokens, clamped to the new burst.
func (l *Limiter) Reconfigure(cfg Config) {
	l.cfg.Store(&cfg)

	now := l.now()
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.RLock()
		for _, b := range s.buckets {
			b.lim.SetLimitAt(now, cfg.RefillRate)
			b.lim.SetBurstAt(now, cfg.Burst)
		}
		s.mu.RUnlock()
	}
}

// Run evicts idle buckets periodically until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	interval := l.sweepInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict(l.now())
			if next := l.sweepInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (l *Limiter) sweepInterval() time.Duration {
	idle := l.cfg.Load().IdleEviction
	if idle <= 0 {
		return time.Minute
	}
	if idle/2 < time.Second {
		return time.Second
	}
	return idle / 2
}
