package app

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/rs/zerolog/log"
)

type voiceEntry struct {
	member domain.VoiceMember
	seq    uint64
}

// VoiceTracker tracks which users are present in which voice channels,
// independent of text-room membership. It never migrates a user between
// channels on its own; callers leave the old channel first.
type VoiceTracker struct {
	mu       sync.RWMutex
	seq      uint64
	channels map[domain.ChannelID]map[domain.UserID]*voiceEntry
	byUser   map[domain.UserID]map[domain.ChannelID]struct{}
}

func NewVoiceTracker() *VoiceTracker {
	return &VoiceTracker{
		channels: make(map[domain.ChannelID]map[domain.UserID]*voiceEntry),
		byUser:   make(map[domain.UserID]map[domain.ChannelID]struct{}),
	}
}

// JoinVoice adds the member and returns the other users already present.
// Joining twice is a no-op: added is false and the flags are left alone.
func (t *VoiceTracker) JoinVoice(ch domain.ChannelID, m domain.VoiceMember) (others []domain.VoiceMember, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	present, ok := t.channels[ch]
	if !ok {
		present = make(map[domain.UserID]*voiceEntry)
		t.channels[ch] = present
	}
	if _, ok := present[m.UserID]; !ok {
		t.seq++
		present[m.UserID] = &voiceEntry{member: m, seq: t.seq}
		chans, ok := t.byUser[m.UserID]
		if !ok {
			chans = make(map[domain.ChannelID]struct{})
			t.byUser[m.UserID] = chans
		}
		chans[ch] = struct{}{}
		added = true
		log.Info().Str("module", "app.voice").Str("channel", string(ch)).Str("user", string(m.UserID)).Int("present", len(present)).Msg("joined voice")
	}
	return snapshotExcept(present, m.UserID), added
}

// LeaveVoice removes the user and returns who remains. ok is false when the
// user was not present.
func (t *VoiceTracker) LeaveVoice(ch domain.ChannelID, uid domain.UserID) (remaining []domain.VoiceMember, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.leaveLocked(ch, uid) {
		return nil, false
	}
	log.Info().Str("module", "app.voice").Str("channel", string(ch)).Str("user", string(uid)).Msg("left voice")
	return snapshotExcept(t.channels[ch], ""), true
}

func (t *VoiceTracker) leaveLocked(ch domain.ChannelID, uid domain.UserID) bool {
	present, ok := t.channels[ch]
	if !ok {
		return false
	}
	if _, ok := present[uid]; !ok {
		return false
	}
	delete(present, uid)
	if len(present) == 0 {
		delete(t.channels, ch)
	}
	if chans, ok := t.byUser[uid]; ok {
		delete(chans, ch)
		if len(chans) == 0 {
			delete(t.byUser, uid)
		}
	}
	return true
}

// LeaveAllVoice removes the user from every voice channel and returns them.
func (t *VoiceTracker) LeaveAllVoice(uid domain.UserID) []domain.ChannelID {
	t.mu.Lock()
	defer t.mu.Unlock()
	left := make([]domain.ChannelID, 0, len(t.byUser[uid]))
	for ch := range t.byUser[uid] {
		left = append(left, ch)
	}
	for _, ch := range left {
		t.leaveLocked(ch, uid)
	}
	if len(left) > 0 {
		log.Info().Str("module", "app.voice").Str("user", string(uid)).Int("channels", len(left)).Msg("left all voice")
	}
	return left
}

func (t *VoiceTracker) SetMuted(ch domain.ChannelID, uid domain.UserID, muted bool) error {
	return t.update(ch, uid, func(f *domain.MediaFlags) { f.Muted = muted })
}

func (t *VoiceTracker) SetVideoOff(ch domain.ChannelID, uid domain.UserID, off bool) error {
	return t.update(ch, uid, func(f *domain.MediaFlags) { f.VideoOff = off })
}

func (t *VoiceTracker) update(ch domain.ChannelID, uid domain.UserID, fn func(*domain.MediaFlags)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.channels[ch][uid]
	if !ok {
		return fmt.Errorf("voice member %s in %s: %w", uid, ch, domain.ErrNotFound)
	}
	fn(&e.member.MediaFlags)
	return nil
}

// PresenceOf returns everyone present, in join order.
func (t *VoiceTracker) PresenceOf(ch domain.ChannelID) []domain.VoiceMember {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return snapshotExcept(t.channels[ch], "")
}

// ChannelOf returns a voice channel the user currently occupies.
func (t *VoiceTracker) ChannelOf(uid domain.UserID) (domain.ChannelID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ch := range t.byUser[uid] {
		return ch, true
	}
	return "", false
}

// Channels is the number of voice channels with at least one member.
func (t *VoiceTracker) Channels() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}

func (t *VoiceTracker) Participants() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}

func snapshotExcept(present map[domain.UserID]*voiceEntry, skip domain.UserID) []domain.VoiceMember {
	entries := make([]*voiceEntry, 0, len(present))
	for uid, e := range present {
		if uid == skip {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *voiceEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]domain.VoiceMember, len(entries))
	for i, e := range entries {
		out[i] = e.member
	}
	return out
}
