package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
)

type outEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode builds an outbound frame.
func Encode(name string, data any) (core.Frame, error) {
	b, err := json.Marshal(outEnvelope{Type: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return b, nil
}

// MustEncode is Encode for payloads built from this package's own types,
// which always marshal.
func MustEncode(name string, data any) core.Frame {
	f, err := Encode(name, data)
	if err != nil {
		panic(err)
	}
	return f
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp renders t as ISO-8601 in UTC.
func Timestamp(t time.Time) string { return t.UTC().Format(timeLayout) }

type UserStatus struct {
	UserID domain.UserID `json:"userId"`
	Status domain.Status `json:"status"`
}

// VoicePeer is the payload of voice:user-joined and voice:user-left.
type VoicePeer struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username,omitempty"`
}

// ConnectedUser is one entry of voice:connected-users.
type ConnectedUser struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"username"`
	Avatar   string        `json:"avatar,omitempty"`
	Muted    bool          `json:"muted"`
	VideoOff bool          `json:"videoOff"`
}

type VoiceMuteUpdate struct {
	UserID domain.UserID `json:"userId"`
	Muted  bool          `json:"muted"`
}

type VoiceVideoUpdate struct {
	UserID   domain.UserID `json:"userId"`
	VideoOff bool          `json:"videoOff"`
}

type ChannelMessage struct {
	ID         string           `json:"id"`
	ChannelID  domain.ChannelID `json:"channelId"`
	SenderID   domain.UserID    `json:"senderId"`
	SenderName string           `json:"senderName"`
	Content    string           `json:"content"`
	Timestamp  string           `json:"timestamp"`
}

type DirectMessage struct {
	ID         string        `json:"id"`
	SenderID   domain.UserID `json:"sender_id"`
	ReceiverID domain.UserID `json:"receiver_id"`
	Content    string        `json:"content"`
	Username   string        `json:"username"`
	CreatedAt  string        `json:"created_at"`
	Read       bool          `json:"read"`
}

type TypingNotice struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username,omitempty"`
}

type SignalOut struct {
	UserID domain.UserID   `json:"userId"`
	Signal json.RawMessage `json:"signal"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
