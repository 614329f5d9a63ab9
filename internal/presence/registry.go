// Package presence tracks live connections per user and probes them for
// liveness.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liveclass/internal/logging"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// DefaultMaxConnectionsPerUser is the per-user connection cap.
const DefaultMaxConnectionsPerUser = 3

type connEntry struct {
	conn interfaces.Connection
	info types.ConnectionInfo
}

// userEntry holds one user's connections ordered by connectedAt. Its
// mutex serializes every mutation for that user. An entry marked dead has
// been unlinked from the registry and must not be written to.
type userEntry struct {
	mu    sync.Mutex
	conns []*connEntry
	dead  bool
}

// Registry owns the per-user connection lists. r.mu guards only the maps;
// per-user work happens under the user's own lock, so different users
// never contend beyond a map lookup. Lock order is user then registry.
type Registry struct {
	mu         sync.RWMutex
	users      map[string]*userEntry
	index      map[string]string // connectionID -> userID
	maxPerUser int
	now        func() time.Time
	logger     zerolog.Logger
}

func NewRegistry(maxPerUser int, logger zerolog.Logger) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxConnectionsPerUser
	}
	return &Registry{
		users:      make(map[string]*userEntry),
		index:      make(map[string]string),
		maxPerUser: maxPerUser,
		now:        time.Now,
		logger:     logger.With().Str(logging.FieldComponent, "registry").Logger(),
	}
}

// MaxPerUser returns the configured cap.
func (r *Registry) MaxPerUser() int {
	return r.maxPerUser
}

func (r *Registry) entryFor(userID string, create bool) *userEntry {
	r.mu.RLock()
	u := r.users[userID]
	r.mu.RUnlock()
	if u != nil || !create {
		return u
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if u = r.users[userID]; u == nil {
		u = &userEntry{}
		r.users[userID] = u
	}
	return u
}

// Add registers conn. When the user is already at the cap the oldest
// connection is unregistered and closed, and returned so the caller can
// finish tearing it down.
func (r *Registry) Add(conn interfaces.Connection) (interfaces.Connection, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	identity := conn.Identity()
	if identity == nil {
		return nil, ErrNoIdentity
	}

	var evicted *connEntry
	for {
		u := r.entryFor(identity.ID, true)
		u.mu.Lock()
		if u.dead {
			u.mu.Unlock()
			continue
		}

		for _, e := range u.conns {
			if e.conn.ID() == conn.ID() {
				u.mu.Unlock()
				return nil, ErrDuplicateConnection
			}
		}

		if len(u.conns) >= r.maxPerUser {
			evicted = u.conns[0]
			u.conns = append([]*connEntry(nil), u.conns[1:]...)
		}

		now := r.now()
		if n := len(u.conns); n > 0 && !now.After(u.conns[n-1].info.ConnectedAt) {
			now = u.conns[n-1].info.ConnectedAt.Add(time.Nanosecond)
		}
		u.conns = append(u.conns, &connEntry{
			conn: conn,
			info: types.ConnectionInfo{
				ConnectionID: conn.ID(),
				Identity:     *identity,
				ConnectedAt:  now,
				LastActiveAt: now,
			},
		})

		r.mu.Lock()
		if evicted != nil {
			delete(r.index, evicted.conn.ID())
		}
		r.index[conn.ID()] = identity.ID
		r.mu.Unlock()

		u.mu.Unlock()
		break
	}

	if evicted == nil {
		return nil, nil
	}

	r.logger.Warn().
		Str(logging.FieldUserID, identity.ID).
		Str(logging.FieldConnectionID, evicted.conn.ID()).
		Int("cap", r.maxPerUser).
		Msg("evicting oldest connection")
	if err := evicted.conn.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("closing evicted connection")
	}
	return evicted.conn, nil
}

// Remove unregisters a connection. It reports whether anything was
// removed; unknown ids are a no-op.
func (r *Registry) Remove(connectionID string) bool {
	for {
		r.mu.RLock()
		userID, ok := r.index[connectionID]
		u := r.users[userID]
		r.mu.RUnlock()
		if !ok || u == nil {
			return false
		}

		u.mu.Lock()
		if u.dead {
			u.mu.Unlock()
			continue
		}

		removed := false
		for i, e := range u.conns {
			if e.conn.ID() == connectionID {
				u.conns = append(u.conns[:i:i], u.conns[i+1:]...)
				removed = true
				break
			}
		}

		if removed {
			r.mu.Lock()
			delete(r.index, connectionID)
			if len(u.conns) == 0 {
				u.dead = true
				delete(r.users, userID)
			}
			r.mu.Unlock()
		}
		u.mu.Unlock()
		return removed
	}
}

// GetConnections returns the user's connections oldest first.
func (r *Registry) GetConnections(userID string) []types.ConnectionInfo {
	u := r.entryFor(userID, false)
	if u == nil {
		return []types.ConnectionInfo{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]types.ConnectionInfo, 0, len(u.conns))
	for _, e := range u.conns {
		out = append(out, e.info)
	}
	return out
}

// Connections returns the live connection handles for a user, oldest
// first, for fan-out.
func (r *Registry) Connections(userID string) []interfaces.Connection {
	u := r.entryFor(userID, false)
	if u == nil {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]interfaces.Connection, 0, len(u.conns))
	for _, e := range u.conns {
		out = append(out, e.conn)
	}
	return out
}

// Touch records a heartbeat acknowledgment.
func (r *Registry) Touch(connectionID string) error {
	r.mu.RLock()
	userID, ok := r.index[connectionID]
	u := r.users[userID]
	r.mu.RUnlock()
	if !ok || u == nil {
		return ErrConnectionNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.conns {
		if e.conn.ID() == connectionID {
			e.info.LastActiveAt = r.now()
			e.info.HeartbeatCount++
			return nil
		}
	}
	return ErrConnectionNotFound
}

// Snapshot lists every active connection ordered by connectedAt.
func (r *Registry) Snapshot() []types.ConnectionInfo {
	r.mu.RLock()
	users := make([]*userEntry, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()

	out := make([]types.ConnectionInfo, 0)
	for _, u := range users {
		u.mu.Lock()
		for _, e := range u.conns {
			out = append(out, e.info)
		}
		u.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}
