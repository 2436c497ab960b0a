package registry

import (
	"errors"
	"fmt"
	"hash/maphash"
	"sort"
	"sync"
)

const shardCount = 32

// ErrInconsistent marks a broken registry invariant. It is a programming
// defect, raised with panic, never returned.
var ErrInconsistent = errors.New("registry inconsistency")

// topic holds the members of one topic. members is the authoritative set;
// snapshot is an immutable copy rebuilt on every mutation and handed out to
// readers without copying.
type topic struct {
	members  map[string]struct{}
	snapshot []string
}

// rebuild replaces the snapshot after the member set changed by delta.
func (t *topic) rebuild(delta int) {
	if len(t.snapshot)+delta != len(t.members) {
		panic(fmt.Errorf("%w: snapshot has %d entries, set has %d after change of %d",
			ErrInconsistent, len(t.snapshot), len(t.members), delta))
	}
	snap := make([]string, 0, len(t.members))
	for id := range t.members {
		snap = append(snap, id)
	}
	t.snapshot = snap
}

type shard struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

// Registry maps topic names to the connections subscribed to them.
//
// Topics are spread over independent shards; each shard serializes its own
// writers and never blocks writers of other shards. Readers get point-in-time
// snapshots that later mutations never touch. A topic is removed as soon as
// its last member leaves, so an empty topic is indistinguishable from one
// that never existed.
type Registry struct {
	shards [shardCount]shard
	seed   maphash.Seed
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{seed: maphash.MakeSeed()}
	for i := range r.shards {
		r.shards[i].topics = make(map[string]*topic)
	}
	return r
}

func (r *Registry) shardFor(name string) *shard {
	return &r.shards[maphash.String(r.seed, name)%shardCount]
}

// Subscribe adds connID to the topic. It reports false if connID was already
// a member.
func (r *Registry) Subscribe(name, connID string) bool {
	s := r.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[name]
	if !ok {
		t = &topic{members: make(map[string]struct{})}
		s.topics[name] = t
	}
	if _, exists := t.members[connID]; exists {
		return false
	}
	t.members[connID] = struct{}{}
	t.rebuild(1)
	return true
}

// Unsubscribe removes connID from the topic. It is a no-op if connID is not a
// member and reports whether anything was removed.
func (r *Registry) Unsubscribe(name, connID string) bool {
	s := r.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(name, connID)
}

func (s *shard) removeLocked(name, connID string) bool {
	t, ok := s.topics[name]
	if !ok {
		return false
	}
	if _, exists := t.members[connID]; !exists {
		return false
	}
	delete(t.members, connID)
	t.rebuild(-1)
	if len(t.members) == 0 {
		delete(s.topics, name)
	}
	return true
}

// UnsubscribeAll removes connID from each of the given topics and returns how
// many memberships were removed.
func (r *Registry) UnsubscribeAll(connID string, names []string) int {
	removed := 0
	for _, name := range names {
		if r.Unsubscribe(name, connID) {
			removed++
		}
	}
	return removed
}

// Subscribers returns a point-in-time snapshot of the topic's members.
// The returned slice is shared and must not be modified.
func (r *Registry) Subscribers(name string) []string {
	s := r.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[name]
	if !ok {
		return nil
	}
	return t.snapshot
}

// Members returns a sorted copy of the topic's members.
func (r *Registry) Members(name string) []string {
	snap := r.Subscribers(name)
	out := make([]string, len(snap))
	copy(out, snap)
	sort.Strings(out)
	return out
}

// IsSubscribed reports whether connID is a member of the topic.
func (r *Registry) IsSubscribed(name, connID string) bool {
	s := r.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[name]
	if !ok {
		return false
	}
	_, exists := t.members[connID]
	return exists
}

// Count returns the number of members of the topic.
func (r *Registry) Count(name string) int {
	return len(r.Subscribers(name))
}

// Topics returns the names of all non-empty topics, sorted.
func (r *Registry) Topics() []string {
	var names []string
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for name := range s.topics {
			names = append(names, name)
		}
		s.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// Len returns the number of non-empty topics.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.topics)
		s.mu.RUnlock()
	}
	return n
}
