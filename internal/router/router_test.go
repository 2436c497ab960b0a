package router

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianarecha/beepit-server/internal/events"
	"github.com/julianarecha/beepit-server/internal/protocol"
	"github.com/julianarecha/beepit-server/internal/ratelimit"
	"github.com/julianarecha/beepit-server/internal/registry"
)

var errFull = errors.New("full")

// fakeRecipient records deliveries and can be made to reject them.
type fakeRecipient struct {
	id string

	mu       sync.Mutex
	got      []protocol.Delivery
	capacity int // 0 means unbounded
}

func (f *fakeRecipient) ID() string { return f.id }

func (f *fakeRecipient) EnqueueOutbound(d protocol.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capacity > 0 && len(f.got) >= f.capacity {
		return errFull
	}
	f.got = append(f.got, d)
	return nil
}

func (f *fakeRecipient) deliveries() []protocol.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Delivery(nil), f.got...)
}

type fakeDirectory map[string]*fakeRecipient

func (d fakeDirectory) Lookup(id string) (Recipient, bool) {
	r, ok := d[id]
	if !ok {
		return nil, false
	}
	return r, true
}

type harness struct {
	router   *Router
	registry *registry.Registry
	dir      fakeDirectory
	counters *events.Counters
}

func newHarness(t *testing.T, cfg ratelimit.Config, ids ...string) *harness {
	t.Helper()

	h := &harness{
		registry: registry.New(),
		dir:      make(fakeDirectory),
		counters: events.NewCounters(),
	}
	for _, id := range ids {
		h.dir[id] = &fakeRecipient{id: id}
	}
	h.router = New(h.registry, ratelimit.New(cfg), h.dir, h.counters)
	return h
}

func publish(origin string, seq uint64, topic, payload string) *protocol.Message {
	return &protocol.Message{
		ID:        fmt.Sprintf("m-%s-%d", origin, seq),
		Origin:    origin,
		Client:    origin,
		Topic:     topic,
		Kind:      protocol.KindText,
		Payload:   []byte(`"` + payload + `"`),
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

func TestDispatch_FanOutWithoutSelfEcho(t *testing.T) {
	h := newHarness(t, ratelimit.Disabled(), "a", "b", "c")
	h.registry.Subscribe("room1", "a")
	h.registry.Subscribe("room1", "b")
	h.registry.Subscribe("room1", "c")

	res, err := h.router.Dispatch(publish("a", 1, "room1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 2}, res)

	assert.Empty(t, h.dir["a"].deliveries())
	require.Len(t, h.dir["b"].deliveries(), 1)
	require.Len(t, h.dir["c"].deliveries(), 1)

	out, err := protocol.DecodeOutbound(h.dir["b"].deliveries()[0].Data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeMessage, out.Type)
	assert.Equal(t, "a", out.From)
	assert.Equal(t, "room1", out.Topic)
	assert.Equal(t, `"hello"`, string(out.Payload))
}

func TestDispatch_PreservesOriginOrder(t *testing.T) {
	h := newHarness(t, ratelimit.Disabled(), "a", "b")
	h.registry.Subscribe("room1", "b")

	for seq := uint64(1); seq <= 100; seq++ {
		_, err := h.router.Dispatch(publish("a", seq, "room1", "x"))
		require.NoError(t, err)
	}

	got := h.dir["b"].deliveries()
	require.Len(t, got, 100)
	for i, d := range got {
		assert.Equal(t, uint64(i+1), d.Seq)
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	h := newHarness(t, ratelimit.Config{RefillRate: 1, Burst: 2, Enabled: true}, "c", "s")
	h.registry.Subscribe("room1", "s")

	for seq := uint64(1); seq <= 2; seq++ {
		_, err := h.router.Dispatch(publish("c", seq, "room1", "ok"))
		require.NoError(t, err)
	}

	res, err := h.router.Dispatch(publish("c", 3, "room1", "too many"))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, Result{}, res)

	assert.Len(t, h.dir["s"].deliveries(), 2)
	assert.Equal(t, int64(1), h.counters.Snapshot().RateLimited)
}

func TestDispatch_RateLimitIsPerTopic(t *testing.T) {
	h := newHarness(t, ratelimit.Config{RefillRate: 1, Burst: 1, Enabled: true}, "c", "s")
	h.registry.Subscribe("room1", "s")
	h.registry.Subscribe("room2", "s")

	_, err := h.router.Dispatch(publish("c", 1, "room1", "x"))
	require.NoError(t, err)
	_, err = h.router.Dispatch(publish("c", 2, "room2", "x"))
	require.NoError(t, err)
	_, err = h.router.Dispatch(publish("c", 3, "room1", "x"))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestDispatch_FullRecipientIsIsolated(t *testing.T) {
	h := newHarness(t, ratelimit.Disabled(), "a", "slow", "fast")
	h.dir["slow"].capacity = 1
	h.registry.Subscribe("room1", "slow")
	h.registry.Subscribe("room1", "fast")

	for seq := uint64(1); seq <= 3; seq++ {
		_, err := h.router.Dispatch(publish("a", seq, "room1", "x"))
		require.NoError(t, err)
	}

	assert.Len(t, h.dir["slow"].deliveries(), 1)
	assert.Len(t, h.dir["fast"].deliveries(), 3)
}

func TestDispatch_SubscriberGoneBetweenSnapshotAndLookup(t *testing.T) {
	h := newHarness(t, ratelimit.Disabled(), "a", "b")
	h.registry.Subscribe("room1", "b")
	h.registry.Subscribe("room1", "ghost")

	res, err := h.router.Dispatch(publish("a", 1, "room1", "x"))
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 1, Dropped: 1}, res)
	assert.Equal(t, int64(1), h.counters.Snapshot().DropReasons[events.ReasonRecipientClosed])
}

func TestDispatch_EmptyTopic(t *testing.T) {
	h := newHarness(t, ratelimit.Disabled(), "a")

	res, err := h.router.Dispatch(publish("a", 1, "nobody-here", "x"))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestDispatch_Direct(t *testing.T) {
	h := newHarness(t, ratelimit.Disabled(), "a", "b")

	msg := publish("a", 1, "", "psst")
	msg.To = "b"

	res, err := h.router.Dispatch(msg)
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 1}, res)

	got := h.dir["b"].deliveries()
	require.Len(t, got, 1)
	out, err := protocol.DecodeOutbound(got[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "b", out.To)
	assert.Empty(t, out.Topic)
}

func TestDispatch_DirectUnknownRecipient(t *testing.T) {
	h := newHarness(t, ratelimit.Disabled(), "a")

	msg := publish("a", 1, "", "psst")
	msg.To = "nobody"

	res, err := h.router.Dispatch(msg)
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	assert.Equal(t, Result{Dropped: 1}, res)
}

func TestDispatch_DirectUsesDirectBudget(t *testing.T) {
	h := newHarness(t, ratelimit.Config{RefillRate: 1, Burst: 1, Enabled: true}, "a", "b")
	h.registry.Subscribe("room1", "b")

	direct := func(seq uint64) *protocol.Message {
		m := publish("a", seq, "", "x")
		m.To = "b"
		return m
	}

	_, err := h.router.Dispatch(direct(1))
	require.NoError(t, err)
	_, err = h.router.Dispatch(direct(2))
	assert.ErrorIs(t, err, ErrRateLimited)

	// The topic budget is untouched.
	_, err = h.router.Dispatch(publish("a", 3, "room1", "x"))
	assert.NoError(t, err)
}

func TestDispatch_ConcurrentOriginsKeepTheirOwnOrder(t *testing.T) {
	origins := []string{"o1", "o2", "o3", "o4"}
	h := newHarness(t, ratelimit.Disabled(), append(origins, "sink")...)
	h.registry.Subscribe("room1", "sink")

	var wg sync.WaitGroup
	for _, o := range origins {
		wg.Add(1)
		go func(o string) {
			defer wg.Done()
			for seq := uint64(1); seq <= 200; seq++ {
				h.router.Dispatch(publish(o, seq, "room1", "x"))
			}
		}(o)
	}
	wg.Wait()

	last := make(map[string]uint64)
	got := h.dir["sink"].deliveries()
	require.Len(t, got, 800)
	for _, d := range got {
		require.Greater(t, d.Seq, last[d.Origin], "origin %s reordered", d.Origin)
		last[d.Origin] = d.Seq
	}
}
