// Package protocol defines the JSON event envelope exchanged over the signal
// socket and the typed payload of every event, inbound and outbound.
package protocol

// Inbound event names (client -> server).
const (
	EvServerJoin        = "server:join"
	EvServerLeave       = "server:leave"
	EvChannelJoin       = "channel:join"
	EvChannelLeave      = "channel:leave"
	EvMessageChannel    = "message:channel"
	EvMessageDirect     = "message:direct"
	EvTypingStart       = "typing:start"
	EvTypingStop        = "typing:stop"
	EvDirectTypingStart = "direct:typing:start"
	EvDirectTypingStop  = "direct:typing:stop"
	EvDirectJoin        = "direct:join"
	EvVoiceJoin         = "voice:join"
	EvVoiceLeave        = "voice:leave"
	EvVoiceMute         = "voice:mute"
	EvVoiceVideo        = "voice:video"
	EvSignal            = "signal"
	EvPing              = "ping"
)

// Outbound event names (server -> client).
const (
	OutUserStatus          = "user:status"
	OutVoiceUserJoined     = "voice:user-joined"
	OutVoiceUserLeft       = "voice:user-left"
	OutVoiceConnectedUsers = "voice:connected-users"
	OutVoiceMuteUpdate     = "voice:mute-update"
	OutVoiceVideoUpdate    = "voice:video-update"
	OutMessageChannel      = "message:channel"
	OutDirectMessage       = "direct_message"
	OutTypingStart         = "typing:start"
	OutTypingStop          = "typing:stop"
	OutDirectTypingStart   = "direct:typing:start"
	OutDirectTypingStop    = "direct:typing:stop"
	OutSignal              = "signal"
	OutPong                = "pong"
	OutError               = "error"
)

// Error codes carried by OutError.
const (
	CodeBadPayload  = "bad_payload"
	CodeForbidden   = "forbidden"
	CodeNotVoice    = "not_voice"
	CodeUnknown     = "unknown_event"
	CodeRateLimited = "rate_limited"
)
