// Package orch routes inbound socket events to the realtime state holders
// and decides who hears about each change.
package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/vidtalk/internal/app"
	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/metrics"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/rs/zerolog/log"
)

var errNotVoice = errors.New("not a voice channel")

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.Rooms
	Voice    *app.VoiceTracker
	Relay    *app.SignalRelay
	Presence *app.Presence
	Out      *app.Dispatcher
	Store    core.Store
	Persist  core.Persister
	Metrics  *metrics.Metrics

	// LookupTimeout bounds each store lookup made while handling an event.
	LookupTimeout time.Duration
	// CheckSignal classifies relayed payloads for diagnostics. It never blocks
	// delivery.
	CheckSignal func(json.RawMessage) error
	Now         func() time.Time
}

// New wires the state holders around a store and a write queue.
func New(store core.Store, persist core.Persister, policy app.Policy, m *metrics.Metrics) *Orchestrator {
	reg := app.NewRegistry()
	out := &app.Dispatcher{Registry: reg, Policy: policy, Metrics: m}
	return &Orchestrator{
		Registry:      reg,
		Rooms:         app.NewRooms(),
		Voice:         app.NewVoiceTracker(),
		Relay:         &app.SignalRelay{Registry: reg, Out: out},
		Presence:      &app.Presence{Registry: reg, Out: out, Persist: persist},
		Out:           out,
		Store:         store,
		Persist:       persist,
		Metrics:       m,
		LookupTimeout: 3 * time.Second,
		Now:           time.Now,
	}
}

type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unauthenticated"
}

// Session is the router's view of one live connection.
type Session struct {
	ID   core.ConnID
	User domain.User

	state atomic.Int32
	once  sync.Once
}

func (s *Session) State() State { return State(s.state.Load()) }

// Connect registers an authenticated connection and announces presence.
func (o *Orchestrator) Connect(ctx context.Context, cid core.ConnID, user domain.User, conn core.SignalConnection) *Session {
	sess := &Session{ID: cid, User: user}
	o.Rooms.Join(core.UserRoom(user.ID), cid)
	first := o.Presence.Attach(cid, user, conn)
	sess.state.Store(int32(StateAuthenticated))
	o.Metrics.ConnOpened()

	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(user.ID)).Bool("first", first).Msg("connected")
	return sess
}

// Handle decodes one inbound frame and routes it. Errors never escape: they
// are logged or reported back to the sender as an error event.
func (o *Orchestrator) Handle(ctx context.Context, sess *Session, raw []byte) {
	if sess.State() != StateAuthenticated {
		return
	}
	ev, typ, err := protocol.Decode(raw)
	if err != nil {
		o.fail(sess, typ, err)
		return
	}
	o.Metrics.Event(ev.Name())

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("module", "orch").
				Str("conn", string(sess.ID)).
				Str("event", ev.Name()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")
			o.Metrics.EventError("panic")
		}
	}()

	if err := o.route(ctx, sess, ev); err != nil {
		o.fail(sess, ev.Name(), err)
	}
}

func (o *Orchestrator) route(ctx context.Context, sess *Session, ev protocol.Event) error {
	switch ev := ev.(type) {
	case protocol.ServerJoin:
		return o.joinServer(ctx, sess, ev.ServerID)
	case protocol.ServerLeave:
		o.leaveServer(sess, ev.ServerID)
	case protocol.ChannelJoin:
		return o.joinChannel(ctx, sess, ev.ChannelID)
	case protocol.ChannelLeave:
		o.leaveChannel(sess, ev.ChannelID)
	case protocol.VoiceJoin:
		return o.joinVoice(ctx, sess, ev)
	case protocol.VoiceLeave:
		o.leaveChannel(sess, ev.ChannelID)
	case protocol.VoiceMute:
		return o.setMuted(sess, ev.ChannelID, *ev.Muted)
	case protocol.VoiceVideo:
		return o.setVideoOff(sess, ev.ChannelID, *ev.VideoOff)
	case protocol.MessageChannel:
		return o.channelMessage(sess, ev)
	case protocol.MessageDirect:
		o.directMessage(sess, ev)
	case protocol.Typing:
		return o.typing(sess, ev)
	case protocol.DirectTyping:
		o.directTyping(sess, ev)
	case protocol.DirectJoin:
		o.directJoin(sess, ev.UserID)
	case protocol.Signal:
		return o.signal(sess, ev)
	case protocol.Ping:
		o.reply(sess, protocol.OutPong, nil)
	default:
		return fmt.Errorf("%w: %w %q", domain.ErrBadPayload, protocol.ErrUnknownEvent, ev.Name())
	}
	return nil
}

// Disconnect reverses everything Connect and the handlers set up. It is
// idempotent and takes no context: cleanup must not be cut short.
func (o *Orchestrator) Disconnect(sess *Session) {
	sess.once.Do(func() {
		sess.state.Store(int32(StateDisconnected))
		uid := sess.User.ID

		rooms := o.Rooms.LeaveAll(sess.ID)
		if left := o.Voice.LeaveAllVoice(uid); len(left) > 0 {
			for _, ch := range left {
				o.notifyVoiceLeft(sess, ch)
			}
			o.persist("voice_cleanup", func(ctx context.Context, s core.Store) error {
				return s.DeleteVoiceConnectionsForUser(ctx, uid)
			})
		}

		_, remaining, err := o.Presence.Detach(sess.ID)
		if err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("conn", string(sess.ID)).Msg("already unregistered")
			return
		}
		o.Metrics.ConnClosed()

		log.Info().
			Str("module", "orch").
			Str("conn", string(sess.ID)).
			Str("user", string(uid)).
			Int("rooms", len(rooms)).
			Int("user_conns", remaining).
			Msg("disconnected")
	})
}

func (o *Orchestrator) fail(sess *Session, event string, err error) {
	code := ""
	switch {
	case errors.Is(err, protocol.ErrUnknownEvent):
		code = protocol.CodeUnknown
	case errors.Is(err, domain.ErrBadPayload):
		code = protocol.CodeBadPayload
	case errors.Is(err, domain.ErrPermission):
		code = protocol.CodeForbidden
	case errors.Is(err, errNotVoice):
		code = protocol.CodeNotVoice
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRelayMiss):
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(sess.ID)).Str("event", event).Msg("ignored")
		return
	default:
		log.Error().Err(err).Str("module", "orch").Str("conn", string(sess.ID)).Str("event", event).Msg("handler failed")
		o.Metrics.EventError("internal")
		return
	}
	log.Debug().Err(err).Str("module", "orch").Str("conn", string(sess.ID)).Str("event", event).Str("code", code).Msg("rejected")
	o.Metrics.EventError(code)
	o.reply(sess, protocol.OutError, protocol.Error{Code: code, Message: err.Error(), Event: event})
}

// reply sends to the originating connection only.
func (o *Orchestrator) reply(sess *Session, name string, data any) {
	f, err := protocol.Encode(name, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", name).Msg("encode")
		return
	}
	o.Out.SendTo(sess.ID, f)
}

// broadcast fans out to a room, skipping one connection (may be empty).
func (o *Orchestrator) broadcast(key core.RoomKey, skip core.ConnID, name string, data any) int {
	f, err := protocol.Encode(name, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", name).Msg("encode")
		return 0
	}
	return o.Out.Fanout(o.Rooms.MembersOf(key), skip, f)
}

func (o *Orchestrator) lookup(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.LookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.LookupTimeout)
}

func (o *Orchestrator) persist(name string, job func(ctx context.Context, s core.Store) error) {
	if o.Persist == nil {
		return
	}
	o.Persist.Submit(name, job)
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}
