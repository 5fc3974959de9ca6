package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) joinServer(ctx context.Context, sess *Session, id domain.ServerID) error {
	if err := o.checkMember(ctx, id, sess.User.ID); err != nil {
		return err
	}
	if o.Rooms.Join(core.ServerRoom(id), sess.ID) {
		log.Debug().Str("module", "orch").Str("conn", string(sess.ID)).Str("server", string(id)).Msg("joined server room")
	}
	return nil
}

func (o *Orchestrator) leaveServer(sess *Session, id domain.ServerID) {
	if o.Rooms.Leave(core.ServerRoom(id), sess.ID) {
		log.Debug().Str("module", "orch").Str("conn", string(sess.ID)).Str("server", string(id)).Msg("left server room")
	}
}

func (o *Orchestrator) checkMember(ctx context.Context, server domain.ServerID, uid domain.UserID) error {
	lctx, cancel := o.lookup(ctx)
	defer cancel()
	ok, err := o.Store.IsServerMember(lctx, server, uid)
	if err != nil {
		return fmt.Errorf("server %s membership: %w", server, err)
	}
	if !ok {
		return fmt.Errorf("server %s: %w", server, domain.ErrPermission)
	}
	return nil
}

// channel resolves a channel the user may access.
func (o *Orchestrator) channel(ctx context.Context, uid domain.UserID, id domain.ChannelID) (domain.Channel, error) {
	ch, err := o.lookupChannel(ctx, id)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("channel %s: %w", id, err)
	}
	if err := o.checkMember(ctx, ch.ServerID, uid); err != nil {
		return domain.Channel{}, err
	}
	return ch, nil
}

func (o *Orchestrator) lookupChannel(ctx context.Context, id domain.ChannelID) (domain.Channel, error) {
	lctx, cancel := o.lookup(ctx)
	defer cancel()
	return o.Store.GetChannelByID(lctx, id)
}

func (o *Orchestrator) joinChannel(ctx context.Context, sess *Session, id domain.ChannelID) error {
	ch, err := o.channel(ctx, sess.User.ID, id)
	if err != nil {
		return err
	}
	o.Rooms.Join(core.ChannelRoom(ch.ID), sess.ID)
	log.Debug().Str("module", "orch").Str("conn", string(sess.ID)).Str("channel", string(ch.ID)).Str("type", string(ch.Type)).Msg("joined channel")
	if ch.IsVoice() {
		o.enterVoice(ctx, sess, ch, domain.MediaFlags{})
	}
	return nil
}

// leaveChannel unsubscribes the connection and, if the user is present in the
// channel's voice call, takes them out of it.
func (o *Orchestrator) leaveChannel(sess *Session, id domain.ChannelID) {
	o.Rooms.Leave(core.ChannelRoom(id), sess.ID)
	o.exitVoice(sess, id)
}
