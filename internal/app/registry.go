package app

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	User      domain.User
	Conn      core.SignalConnection
	CreatedAt time.Time
}

// Registry is the connection registry: conn -> user and user -> conns.
// It is the source of truth for "is this user currently reachable".
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
	// per-user connection ids in registration order
	users map[domain.UserID][]core.ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
		users: make(map[domain.UserID][]core.ConnID),
	}
}

// Register records the mapping and reports whether it is the user's first
// live connection. A duplicate id is logged and overwritten.
func (r *Registry) Register(cid core.ConnID, user domain.User, conn core.SignalConnection) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[cid]; ok {
		log.Error().
			Err(domain.ErrDuplicateConnection).
			Str("module", "app.registry").
			Str("conn", string(cid)).
			Str("old_user", string(old.User.ID)).
			Str("user", string(user.ID)).
			Msg("overwriting connection")
		r.dropLocked(old.User.ID, cid)
	}

	first = len(r.users[user.ID]) == 0
	r.conns[cid] = &connEntry{User: user, Conn: conn, CreatedAt: time.Now()}
	r.users[user.ID] = append(r.users[user.ID], cid)

	log.Info().
		Str("module", "app.registry").
		Str("conn", string(cid)).
		Str("user", string(user.ID)).
		Int("user_conns", len(r.users[user.ID])).
		Msg("registered connection")
	return first
}

// Unregister removes the mapping and returns the owner with the number of
// connections the owner still has.
func (r *Registry) Unregister(cid core.ConnID) (domain.UserID, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[cid]
	if !ok {
		return "", 0, fmt.Errorf("connection %s: %w", cid, domain.ErrNotFound)
	}
	delete(r.conns, cid)
	remaining := r.dropLocked(e.User.ID, cid)

	log.Info().
		Str("module", "app.registry").
		Str("conn", string(cid)).
		Str("user", string(e.User.ID)).
		Int("user_conns", remaining).
		Msg("unregistered connection")
	return e.User.ID, remaining, nil
}

func (r *Registry) dropLocked(uid domain.UserID, cid core.ConnID) int {
	ids := slices.DeleteFunc(r.users[uid], func(id core.ConnID) bool { return id == cid })
	if len(ids) == 0 {
		delete(r.users, uid)
		return 0
	}
	r.users[uid] = ids
	return len(ids)
}

func (r *Registry) ConnectionsFor(uid domain.UserID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.users[uid])
}

func (r *Registry) UserFor(cid core.ConnID) (domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok {
		return "", fmt.Errorf("connection %s: %w", cid, domain.ErrNotFound)
	}
	return e.User.ID, nil
}

// Conn returns the transport handle of a live connection.
func (r *Registry) Conn(cid core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// Connections returns every live connection id.
func (r *Registry) Connections() []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, 0, len(r.conns))
	for cid := range r.conns {
		out = append(out, cid)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
