package domain

type (
	ServerID  string
	ChannelID string
)

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
)

// Channel is the subset of a channel row the realtime core needs.
type Channel struct {
	ID       ChannelID   `json:"id"`
	ServerID ServerID    `json:"server_id"`
	Name     string      `json:"name"`
	Type     ChannelType `json:"type"`
}

func (c Channel) IsVoice() bool { return c.Type == ChannelVoice }
