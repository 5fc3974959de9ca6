package app

import (
	"context"
	"sync"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/rs/zerolog/log"
)

type presenceShard struct {
	mu     sync.Mutex
	online map[domain.UserID]struct{}
}

// Presence derives online/offline from live connections: a user is online
// from the first connection until the last one is gone.
//
// Transitions for one user are serialized on a per-user shard lock, and the
// decision is read from the registry inside that lock, so a tab connecting
// while another tab is being torn down can never leave the user marked
// offline. Status writes are submitted under the same lock.
type Presence struct {
	Registry *Registry
	Out      *Dispatcher
	Persist  core.Persister

	shards [roomShards]presenceShard
}

func (p *Presence) lock(uid domain.UserID) *presenceShard {
	s := &p.shards[shardOf(string(uid))]
	s.mu.Lock()
	if s.online == nil {
		s.online = make(map[domain.UserID]struct{})
	}
	return s
}

// Attach registers the connection and announces the user in one step.
func (p *Presence) Attach(cid core.ConnID, user domain.User, conn core.SignalConnection) (first bool) {
	s := p.lock(user.ID)
	defer s.mu.Unlock()
	first = p.Registry.Register(cid, user, conn)
	p.connectedLocked(s, user.ID)
	return first
}

// Detach deregisters the connection and, when it was the user's last one,
// announces the user offline in the same step.
func (p *Presence) Detach(cid core.ConnID) (domain.UserID, int, error) {
	uid, err := p.Registry.UserFor(cid)
	if err != nil {
		return "", 0, err
	}
	s := p.lock(uid)
	defer s.mu.Unlock()
	uid, remaining, err := p.Registry.Unregister(cid)
	if err != nil {
		return "", 0, err
	}
	p.disconnectedLocked(s, uid)
	return uid, remaining, nil
}

// OnConnect is called after registration; first is the registry's answer.
// The registry is consulted again under the user's lock.
func (p *Presence) OnConnect(uid domain.UserID, first bool) {
	s := p.lock(uid)
	defer s.mu.Unlock()
	p.connectedLocked(s, uid)
}

// OnDisconnect is called after deregistration with the user's remaining
// connection count. A connection registered in the meantime keeps the user
// online.
func (p *Presence) OnDisconnect(uid domain.UserID, remaining int) {
	if remaining > 0 {
		return
	}
	s := p.lock(uid)
	defer s.mu.Unlock()
	p.disconnectedLocked(s, uid)
}

// Online reports the announced state, which may lag the registry only while
// a transition is in progress.
func (p *Presence) Online(uid domain.UserID) bool {
	s := p.lock(uid)
	defer s.mu.Unlock()
	_, ok := s.online[uid]
	return ok
}

func (p *Presence) connectedLocked(s *presenceShard, uid domain.UserID) {
	if len(p.Registry.ConnectionsFor(uid)) == 0 {
		return
	}
	p.persist(uid, domain.StatusOnline)
	if _, ok := s.online[uid]; ok {
		return
	}
	s.online[uid] = struct{}{}
	p.broadcast(uid, protocol.OutUserStatus, protocol.UserStatus{UserID: uid, Status: domain.StatusOnline})
	p.Out.Metrics.Presence(string(domain.StatusOnline))
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("online")
}

func (p *Presence) disconnectedLocked(s *presenceShard, uid domain.UserID) {
	if n := len(p.Registry.ConnectionsFor(uid)); n > 0 {
		log.Debug().Str("module", "app.presence").Str("user", string(uid)).Int("user_conns", n).Msg("still connected")
		return
	}
	if _, ok := s.online[uid]; !ok {
		return
	}
	delete(s.online, uid)
	p.persist(uid, domain.StatusOffline)
	p.broadcast(uid, protocol.OutUserStatus, protocol.UserStatus{UserID: uid, Status: domain.StatusOffline})
	p.broadcast(uid, protocol.OutDirectTypingStop, protocol.TypingNotice{UserID: uid})
	p.Out.Metrics.Presence(string(domain.StatusOffline))
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("offline")
}

func (p *Presence) broadcast(uid domain.UserID, name string, data any) {
	f, err := protocol.Encode(name, data)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode")
		return
	}
	own := make(map[core.ConnID]struct{})
	for _, cid := range p.Registry.ConnectionsFor(uid) {
		own[cid] = struct{}{}
	}
	for _, cid := range p.Registry.Connections() {
		if _, ok := own[cid]; ok {
			continue
		}
		p.Out.SendTo(cid, f)
	}
}

func (p *Presence) persist(uid domain.UserID, status domain.Status) {
	if p.Persist == nil {
		return
	}
	p.Persist.Submit("user_status", func(ctx context.Context, s core.Store) error {
		return s.SetUserStatus(ctx, uid, status)
	})
}
