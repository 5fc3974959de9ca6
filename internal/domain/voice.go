package domain

// MediaFlags is the mutable media state of a voice participant.
type MediaFlags struct {
	Muted    bool `json:"muted"`
	VideoOff bool `json:"videoOff"`
}

// VoiceMember is a user present in a voice channel.
// No transport or lifecycle logic here.
type VoiceMember struct {
	UserID   UserID `json:"id"`
	Username string `json:"username"`
	MediaFlags
}

func NewVoiceMember(u User, flags MediaFlags) VoiceMember {
	return VoiceMember{UserID: u.ID, Username: u.Username, MediaFlags: flags}
}
