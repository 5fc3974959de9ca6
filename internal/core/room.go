package core

import "github.com/dkeye/vidtalk/internal/domain"

// RoomKey is a namespaced broadcast scope. Keys of different kinds never
// collide even when the raw ids do.
type RoomKey string

const (
	serverPrefix  = "server:"
	channelPrefix = "channel:"
	userPrefix    = "user:"
)

func ServerRoom(id domain.ServerID) RoomKey   { return RoomKey(serverPrefix + string(id)) }
func ChannelRoom(id domain.ChannelID) RoomKey { return RoomKey(channelPrefix + string(id)) }
func UserRoom(id domain.UserID) RoomKey       { return RoomKey(userPrefix + string(id)) }

func (k RoomKey) String() string { return string(k) }
