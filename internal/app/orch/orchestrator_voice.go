package orch

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) joinVoice(ctx context.Context, sess *Session, ev protocol.VoiceJoin) error {
	ch, err := o.channel(ctx, sess.User.ID, ev.ChannelID)
	if err != nil {
		return err
	}
	if !ch.IsVoice() {
		return fmt.Errorf("channel %s: %w", ch.ID, errNotVoice)
	}
	o.Rooms.Join(core.ChannelRoom(ch.ID), sess.ID)
	o.enterVoice(ctx, sess, ch, ev.Flags())
	return nil
}

// enterVoice moves the user into ch's call. A user is in at most one call, so
// any other call is left first and its members told.
func (o *Orchestrator) enterVoice(ctx context.Context, sess *Session, ch domain.Channel, flags domain.MediaFlags) {
	uid := sess.User.ID
	if cur, ok := o.Voice.ChannelOf(uid); ok && cur != ch.ID {
		o.Rooms.Leave(core.ChannelRoom(cur), sess.ID)
		o.exitVoice(sess, cur)
	}

	others, added := o.Voice.JoinVoice(ch.ID, domain.NewVoiceMember(sess.User, flags))
	o.reply(sess, protocol.OutVoiceConnectedUsers, o.connectedUsers(ctx, others))
	if !added {
		return
	}
	o.broadcast(core.ChannelRoom(ch.ID), sess.ID, protocol.OutVoiceUserJoined,
		protocol.VoicePeer{UserID: uid, Username: sess.User.Username})
	o.persist("voice_join", func(ctx context.Context, s core.Store) error {
		return s.UpsertVoiceConnection(ctx, ch.ID, uid, flags.Muted)
	})
	log.Info().Str("module", "orch").Str("user", string(uid)).Str("channel", string(ch.ID)).Int("others", len(others)).Msg("entered voice")
}

// connectedUsers enriches tracker entries with profile data from one batched
// lookup. Tracker data is used as is when the lookup fails.
func (o *Orchestrator) connectedUsers(ctx context.Context, members []domain.VoiceMember) []protocol.ConnectedUser {
	out := make([]protocol.ConnectedUser, len(members))
	if len(members) == 0 {
		return out
	}
	ids := make([]domain.UserID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}

	profiles := make(map[domain.UserID]domain.User, len(ids))
	lctx, cancel := o.lookup(ctx)
	users, err := o.Store.UsersByIDs(lctx, ids)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Int("ids", len(ids)).Msg("user lookup failed")
	}
	for _, u := range users {
		profiles[u.ID] = u
	}

	for i, m := range members {
		cu := protocol.ConnectedUser{ID: m.UserID, Username: m.Username, Muted: m.Muted, VideoOff: m.VideoOff}
		if u, ok := profiles[m.UserID]; ok {
			cu.Username = u.Username
			cu.Avatar = u.Avatar
		}
		out[i] = cu
	}
	return out
}

// exitVoice reports whether the user was in ch's call.
func (o *Orchestrator) exitVoice(sess *Session, ch domain.ChannelID) bool {
	uid := sess.User.ID
	if _, ok := o.Voice.LeaveVoice(ch, uid); !ok {
		return false
	}
	o.notifyVoiceLeft(sess, ch)
	o.persist("voice_leave", func(ctx context.Context, s core.Store) error {
		return s.DeleteVoiceConnection(ctx, ch, uid)
	})
	return true
}

// notifyVoiceLeft tells the rest of the channel room. The leaver's other tabs
// are not told about their own user.
func (o *Orchestrator) notifyVoiceLeft(sess *Session, ch domain.ChannelID) {
	f, err := protocol.Encode(protocol.OutVoiceUserLeft, protocol.VoicePeer{UserID: sess.User.ID, Username: sess.User.Username})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", protocol.OutVoiceUserLeft).Msg("encode")
		return
	}
	own := o.Registry.ConnectionsFor(sess.User.ID)
	targets := slices.DeleteFunc(o.Rooms.MembersOf(core.ChannelRoom(ch)), func(cid core.ConnID) bool {
		return slices.Contains(own, cid)
	})
	o.Out.Fanout(targets, sess.ID, f)
}

func (o *Orchestrator) setMuted(sess *Session, ch domain.ChannelID, muted bool) error {
	uid := sess.User.ID
	if err := o.Voice.SetMuted(ch, uid, muted); err != nil {
		return err
	}
	o.broadcast(core.ChannelRoom(ch), sess.ID, protocol.OutVoiceMuteUpdate, protocol.VoiceMuteUpdate{UserID: uid, Muted: muted})
	o.persist("voice_mute", func(ctx context.Context, s core.Store) error {
		return s.SetVoiceMuted(ctx, ch, uid, muted)
	})
	return nil
}

func (o *Orchestrator) setVideoOff(sess *Session, ch domain.ChannelID, off bool) error {
	uid := sess.User.ID
	if err := o.Voice.SetVideoOff(ch, uid, off); err != nil {
		return err
	}
	o.broadcast(core.ChannelRoom(ch), sess.ID, protocol.OutVoiceVideoUpdate, protocol.VoiceVideoUpdate{UserID: uid, VideoOff: off})
	return nil
}

// VoicePresence lists who is in a voice channel, for a user allowed to see it.
func (o *Orchestrator) VoicePresence(ctx context.Context, uid domain.UserID, id domain.ChannelID) ([]domain.VoiceMember, error) {
	ch, err := o.channel(ctx, uid, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsVoice() {
		return nil, fmt.Errorf("channel %s: %w", ch.ID, errNotVoice)
	}
	return o.Voice.PresenceOf(ch.ID), nil
}

// IsNotVoice reports whether err came from using a text channel as a call.
func IsNotVoice(err error) bool { return errors.Is(err, errNotVoice) }
