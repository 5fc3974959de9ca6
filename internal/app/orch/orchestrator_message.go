package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) channelMessage(sess *Session, ev protocol.MessageChannel) error {
	key := core.ChannelRoom(ev.ChannelID)
	if !o.Rooms.IsMember(key, sess.ID) {
		return fmt.Errorf("channel %s not joined: %w", ev.ChannelID, domain.ErrPermission)
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	n := o.broadcast(key, sess.ID, protocol.OutMessageChannel, protocol.ChannelMessage{
		ID:         id,
		ChannelID:  ev.ChannelID,
		SenderID:   sess.User.ID,
		SenderName: sess.User.Username,
		Content:    ev.Content,
		Timestamp:  protocol.Timestamp(o.now()),
	})
	log.Debug().Str("module", "orch").Str("channel", string(ev.ChannelID)).Str("message", id).Int("delivered", n).Msg("channel message")
	return nil
}

// directMessage goes to every connection of the receiver and is echoed once
// to the sending connection.
func (o *Orchestrator) directMessage(sess *Session, ev protocol.MessageDirect) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := protocol.DirectMessage{
		ID:         id,
		SenderID:   sess.User.ID,
		ReceiverID: ev.ReceiverID,
		Content:    ev.Content,
		Username:   sess.User.Username,
		CreatedAt:  protocol.Timestamp(o.now()),
	}
	o.broadcast(core.UserRoom(ev.ReceiverID), sess.ID, protocol.OutDirectMessage, msg)
	o.reply(sess, protocol.OutDirectMessage, msg)
}

func (o *Orchestrator) typing(sess *Session, ev protocol.Typing) error {
	key := core.ChannelRoom(ev.ChannelID)
	if !o.Rooms.IsMember(key, sess.ID) {
		return fmt.Errorf("channel %s not joined: %w", ev.ChannelID, domain.ErrNotFound)
	}
	notice := protocol.TypingNotice{UserID: sess.User.ID}
	if ev.Active {
		notice.Username = sess.User.Username
	}
	o.broadcast(key, sess.ID, ev.Name(), notice)
	return nil
}

func (o *Orchestrator) directTyping(sess *Session, ev protocol.DirectTyping) {
	notice := protocol.TypingNotice{UserID: sess.User.ID}
	if ev.Active {
		notice.Username = sess.User.Username
	}
	o.broadcast(core.UserRoom(ev.UserID), "", ev.Name(), notice)
}

func (o *Orchestrator) directJoin(sess *Session, contact domain.UserID) {
	uid := sess.User.ID
	o.persist("direct_contact", func(ctx context.Context, s core.Store) error {
		return s.TouchDirectContact(ctx, uid, contact)
	})
}
