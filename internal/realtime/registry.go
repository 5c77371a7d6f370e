package realtime

import (
	"sync"
	"time"
)

const registryShards = 32

type presence struct {
	connectedAt  time.Time
	lastActivity time.Time
}

// registryShard buckets presence entries by owning user so connect, heartbeat,
// and disconnect traffic for unrelated users never contend on one lock.
type registryShard struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]*presence
}

// Registry is the in-memory presence map: which live connections belong to
// which user, and when each was last active. All methods are safe under
// unbounded concurrent callers.
//
// Entries are ephemeral. The registry is rebuilt from live sockets after a
// restart; nothing here is persisted.
type Registry struct {
	shards [registryShards]*registryShard

	// index maps connection id -> user id so connection-keyed operations
	// (Touch, Remove) find the right shard without scanning.
	index sync.Map

	now func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the clock, primarily for sweep tests.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an empty presence registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &registryShard{byUser: make(map[int64]map[string]*presence)}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) shardFor(userID int64) *registryShard {
	return r.shards[uint64(userID)%registryShards]
}

// Add registers a live connection for a user. An existing entry under the same
// connection id is treated as a re-registration and overwritten.
func (r *Registry) Add(connectionID string, userID int64) {
	if connectionID == "" || userID <= 0 {
		return
	}

	if prev, loaded := r.index.Load(connectionID); loaded {
		if prevUser, ok := prev.(int64); ok && prevUser != userID {
			r.Remove(connectionID)
		}
	}
	r.index.Store(connectionID, userID)

	now := r.now()
	shard := r.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.byUser[userID] == nil {
		shard.byUser[userID] = make(map[string]*presence)
	}
	shard.byUser[userID][connectionID] = &presence{connectedAt: now, lastActivity: now}
}

// Touch refreshes the last-activity timestamp for a connection. Touching a
// connection that is already gone is a no-op, not an error.
func (r *Registry) Touch(connectionID string) {
	value, ok := r.index.Load(connectionID)
	if !ok {
		return
	}
	userID := value.(int64)

	shard := r.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if entry, exists := shard.byUser[userID][connectionID]; exists {
		entry.lastActivity = r.now()
	}
}

// Remove deletes a connection entry. It is idempotent: disconnect-initiated and
// sweep-initiated removals racing on the same id are both safe after the first
// one wins.
func (r *Registry) Remove(connectionID string) {
	value, loaded := r.index.LoadAndDelete(connectionID)
	if !loaded {
		return
	}
	userID := value.(int64)

	shard := r.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	r.deleteLocked(shard, userID, connectionID)
}

func (r *Registry) deleteLocked(shard *registryShard, userID int64, connectionID string) {
	conns := shard.byUser[userID]
	if conns == nil {
		return
	}
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(shard.byUser, userID)
	}
}

// ConnectionsFor returns a snapshot of the live connection ids owned by a user.
// The snapshot may be stale by the time it is used; pushes against vanished
// entries are expected to fail and be swallowed downstream.
func (r *Registry) ConnectionsFor(userID int64) []string {
	shard := r.shardFor(userID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	conns := shard.byUser[userID]
	if len(conns) == 0 {
		return nil
	}

	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// ConnectionsForUsers returns a snapshot of connection ids across the supplied
// users, deduplicating repeated ids.
func (r *Registry) ConnectionsForUsers(userIDs []int64) []string {
	seen := make(map[int64]struct{}, len(userIDs))
	var out []string
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		out = append(out, r.ConnectionsFor(userID)...)
	}
	return out
}

// AllConnections returns a snapshot of every live connection id.
func (r *Registry) AllConnections() []string {
	var out []string
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, conns := range shard.byUser {
			for id := range conns {
				out = append(out, id)
			}
		}
		shard.mu.RUnlock()
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	total := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, conns := range shard.byUser {
			total += len(conns)
		}
		shard.mu.RUnlock()
	}
	return total
}

// Sweep removes every entry whose last activity is older than the timeout and
// returns the removed connection ids so the transport layer can close the
// matching sockets. Only one shard is locked at a time, so live add/touch/
// remove traffic on other shards is never blocked.
func (r *Registry) Sweep(timeout time.Duration) []string {
	cutoff := r.now().Add(-timeout)
	var removed []string

	for _, shard := range r.shards {
		shard.mu.Lock()
		for userID, conns := range shard.byUser {
			for id, entry := range conns {
				if entry.lastActivity.Before(cutoff) {
					r.index.Delete(id)
					r.deleteLocked(shard, userID, id)
					removed = append(removed, id)
				}
			}
		}
		shard.mu.Unlock()
	}

	return removed
}
