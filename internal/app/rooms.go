package app

import (
	"hash/fnv"
	"sync"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/rs/zerolog/log"
)

const roomShards = 32

type memberSet map[core.ConnID]struct{}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[core.RoomKey]memberSet
}

type connShard struct {
	mu     sync.Mutex
	joined map[core.ConnID]map[core.RoomKey]struct{}
}

// Rooms tracks which connections are subscribed to which rooms. A room exists
// only while it has members.
//
// Rooms and the per-connection reverse index are sharded so unrelated rooms do
// not contend. Lock order is always conn shard, then room shard.
type Rooms struct {
	rooms [roomShards]roomShard
	conns [roomShards]connShard
}

func NewRooms() *Rooms {
	r := &Rooms{}
	for i := range r.rooms {
		r.rooms[i].rooms = make(map[core.RoomKey]memberSet)
		r.conns[i].joined = make(map[core.ConnID]map[core.RoomKey]struct{})
	}
	return r
}

func shardOf(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % roomShards)
}

func (r *Rooms) roomShard(key core.RoomKey) *roomShard { return &r.rooms[shardOf(string(key))] }
func (r *Rooms) connShard(cid core.ConnID) *connShard  { return &r.conns[shardOf(string(cid))] }

// Join is idempotent; it reports whether the connection was added.
func (r *Rooms) Join(key core.RoomKey, cid core.ConnID) bool {
	cs := r.connShard(cid)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	rs := r.roomShard(key)
	rs.mu.Lock()
	members, ok := rs.rooms[key]
	if !ok {
		members = make(memberSet)
		rs.rooms[key] = members
	}
	_, dup := members[cid]
	members[cid] = struct{}{}
	count := len(members)
	rs.mu.Unlock()

	if dup {
		return false
	}
	joined, ok := cs.joined[cid]
	if !ok {
		joined = make(map[core.RoomKey]struct{})
		cs.joined[cid] = joined
	}
	joined[key] = struct{}{}

	log.Debug().Str("module", "app.rooms").Str("room", key.String()).Str("conn", string(cid)).Int("members", count).Msg("joined")
	return true
}

// Leave reports whether the connection was a member. An emptied room is deleted.
func (r *Rooms) Leave(key core.RoomKey, cid core.ConnID) bool {
	cs := r.connShard(cid)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !r.removeMember(key, cid) {
		return false
	}
	if joined, ok := cs.joined[cid]; ok {
		delete(joined, key)
		if len(joined) == 0 {
			delete(cs.joined, cid)
		}
	}
	log.Debug().Str("module", "app.rooms").Str("room", key.String()).Str("conn", string(cid)).Msg("left")
	return true
}

func (r *Rooms) removeMember(key core.RoomKey, cid core.ConnID) bool {
	rs := r.roomShard(key)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	members, ok := rs.rooms[key]
	if !ok {
		return false
	}
	if _, ok := members[cid]; !ok {
		return false
	}
	delete(members, cid)
	if len(members) == 0 {
		delete(rs.rooms, key)
	}
	return true
}

// LeaveAll removes the connection from every room it joined and returns them.
func (r *Rooms) LeaveAll(cid core.ConnID) []core.RoomKey {
	cs := r.connShard(cid)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	joined := cs.joined[cid]
	left := make([]core.RoomKey, 0, len(joined))
	for key := range joined {
		r.removeMember(key, cid)
		left = append(left, key)
	}
	delete(cs.joined, cid)

	log.Debug().Str("module", "app.rooms").Str("conn", string(cid)).Int("rooms", len(left)).Msg("left all")
	return left
}

// MembersOf returns a snapshot taken at call time.
func (r *Rooms) MembersOf(key core.RoomKey) []core.ConnID {
	rs := r.roomShard(key)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	members := rs.rooms[key]
	out := make([]core.ConnID, 0, len(members))
	for cid := range members {
		out = append(out, cid)
	}
	return out
}

func (r *Rooms) IsMember(key core.RoomKey, cid core.ConnID) bool {
	rs := r.roomShard(key)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.rooms[key][cid]
	return ok
}

func (r *Rooms) RoomsOf(cid core.ConnID) []core.RoomKey {
	cs := r.connShard(cid)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]core.RoomKey, 0, len(cs.joined[cid]))
	for key := range cs.joined[cid] {
		out = append(out, key)
	}
	return out
}

// Count is the number of non-empty rooms.
func (r *Rooms) Count() int {
	n := 0
	for i := range r.rooms {
		rs := &r.rooms[i]
		rs.mu.RLock()
		n += len(rs.rooms)
		rs.mu.RUnlock()
	}
	return n
}
