package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrUnknownEvent is joined with domain.ErrBadPayload for unrecognized types.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the wire shape of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded, validated inbound event.
type Event interface {
	Name() string
}

type ServerJoin struct{ ServerID domain.ServerID }
type ServerLeave struct{ ServerID domain.ServerID }
type ChannelJoin struct{ ChannelID domain.ChannelID }
type ChannelLeave struct{ ChannelID domain.ChannelID }
type DirectJoin struct{ UserID domain.UserID }

func (ServerJoin) Name() string   { return EvServerJoin }
func (ServerLeave) Name() string  { return EvServerLeave }
func (ChannelJoin) Name() string  { return EvChannelJoin }
func (ChannelLeave) Name() string { return EvChannelLeave }
func (DirectJoin) Name() string   { return EvDirectJoin }

type MessageChannel struct {
	ID        string           `json:"id" validate:"omitempty,max=64"`
	ChannelID domain.ChannelID `json:"channelId" validate:"required,max=64"`
	Content   string           `json:"content" validate:"required,max=4000"`
}

func (MessageChannel) Name() string { return EvMessageChannel }

type MessageDirect struct {
	ID         string        `json:"id" validate:"omitempty,max=64"`
	ReceiverID domain.UserID `json:"receiverId" validate:"required,max=64"`
	Content    string        `json:"content" validate:"required,max=4000"`
}

func (MessageDirect) Name() string { return EvMessageDirect }

// Typing is typing:start when Active, typing:stop otherwise.
type Typing struct {
	ChannelID domain.ChannelID `json:"channelId" validate:"required,max=64"`
	Active    bool             `json:"-"`
}

func (t Typing) Name() string {
	if t.Active {
		return EvTypingStart
	}
	return EvTypingStop
}

type DirectTyping struct {
	UserID domain.UserID `json:"userId" validate:"required,max=64"`
	Active bool          `json:"-"`
}

func (t DirectTyping) Name() string {
	if t.Active {
		return EvDirectTypingStart
	}
	return EvDirectTypingStop
}

type VoiceJoin struct {
	ChannelID domain.ChannelID `json:"channelId" validate:"required,max=64"`
	HasAudio  *bool            `json:"hasAudio"`
	HasVideo  *bool            `json:"hasVideo"`
}

func (VoiceJoin) Name() string { return EvVoiceJoin }

// Flags derives the initial media state; missing capabilities default to on.
func (v VoiceJoin) Flags() domain.MediaFlags {
	var f domain.MediaFlags
	if v.HasAudio != nil {
		f.Muted = !*v.HasAudio
	}
	if v.HasVideo != nil {
		f.VideoOff = !*v.HasVideo
	}
	return f
}

type VoiceLeave struct {
	ChannelID domain.ChannelID `json:"channelId" validate:"required,max=64"`
}

func (VoiceLeave) Name() string { return EvVoiceLeave }

type VoiceMute struct {
	ChannelID domain.ChannelID `json:"channelId" validate:"required,max=64"`
	Muted     *bool            `json:"muted" validate:"required"`
}

func (VoiceMute) Name() string { return EvVoiceMute }

type VoiceVideo struct {
	ChannelID domain.ChannelID `json:"channelId" validate:"required,max=64"`
	VideoOff  *bool            `json:"videoOff" validate:"required"`
}

func (VoiceVideo) Name() string { return EvVoiceVideo }

// Signal carries an opaque offer/answer/candidate payload.
type Signal struct {
	UserID domain.UserID   `json:"userId" validate:"required,max=64"`
	Signal json.RawMessage `json:"signal" validate:"required"`
}

func (Signal) Name() string { return EvSignal }

type Ping struct{}

func (Ping) Name() string { return EvPing }

// Decode parses one frame into its typed event. Malformed or unknown frames
// yield an error wrapping domain.ErrBadPayload; the event type is returned
// alongside when it could be read.
func Decode(raw []byte) (Event, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("%w: envelope: %v", domain.ErrBadPayload, err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EvServerJoin:
		ev, err = decodeID(env.Data, func(s string) Event { return ServerJoin{domain.ServerID(s)} })
	case EvServerLeave:
		ev, err = decodeID(env.Data, func(s string) Event { return ServerLeave{domain.ServerID(s)} })
	case EvChannelJoin:
		ev, err = decodeID(env.Data, func(s string) Event { return ChannelJoin{domain.ChannelID(s)} })
	case EvChannelLeave:
		ev, err = decodeID(env.Data, func(s string) Event { return ChannelLeave{domain.ChannelID(s)} })
	case EvDirectJoin:
		ev, err = decodeID(env.Data, func(s string) Event { return DirectJoin{domain.UserID(s)} })
	case EvMessageChannel:
		ev, err = decodeStruct[MessageChannel](env.Data)
	case EvMessageDirect:
		ev, err = decodeStruct[MessageDirect](env.Data)
	case EvTypingStart, EvTypingStop:
		var t Typing
		t, err = decodeStruct[Typing](env.Data)
		t.Active = env.Type == EvTypingStart
		ev = t
	case EvDirectTypingStart, EvDirectTypingStop:
		var t DirectTyping
		t, err = decodeStruct[DirectTyping](env.Data)
		t.Active = env.Type == EvDirectTypingStart
		ev = t
	case EvVoiceJoin:
		ev, err = decodeStruct[VoiceJoin](env.Data)
	case EvVoiceLeave:
		ev, err = decodeStruct[VoiceLeave](env.Data)
	case EvVoiceMute:
		ev, err = decodeStruct[VoiceMute](env.Data)
	case EvVoiceVideo:
		ev, err = decodeStruct[VoiceVideo](env.Data)
	case EvSignal:
		var s Signal
		s, err = decodeStruct[Signal](env.Data)
		if err == nil && isNull(s.Signal) {
			err = fmt.Errorf("%w: signal: empty", domain.ErrBadPayload)
		}
		ev = s
	case EvPing:
		ev = Ping{}
	case "":
		return nil, "", fmt.Errorf("%w: missing type", domain.ErrBadPayload)
	default:
		return nil, env.Type, fmt.Errorf("%w: %w %q", domain.ErrBadPayload, ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, env.Type, err
	}
	return ev, env.Type, nil
}

const maxIDLen = 64

func decodeID(data json.RawMessage, mk func(string) Event) (Event, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("%w: id: %v", domain.ErrBadPayload, err)
	}
	if id == "" || len(id) > maxIDLen {
		return nil, fmt.Errorf("%w: id: invalid length", domain.ErrBadPayload)
	}
	return mk(id), nil
}

func decodeStruct[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || isNull(data) {
		return v, fmt.Errorf("%w: missing data", domain.ErrBadPayload)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return v, nil
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
