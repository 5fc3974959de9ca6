package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/pion/webrtc/v4"
)

type signalShape struct {
	Type               string                   `json:"type"`
	SDP                string                   `json:"sdp"`
	Candidate          *webrtc.ICECandidateInit `json:"candidate"`
	Renegotiate        bool                     `json:"renegotiate"`
	TransceiverRequest *struct{ Kind string }   `json:"transceiverRequest"`
}

// CheckSignal recognizes the payloads a browser peer usually emits: a session
// description, an ICE candidate or a renegotiation request. Signals are
// opaque to the server, so an error here is diagnostic only.
func CheckSignal(raw json.RawMessage) error {
	var s signalShape
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("%w: signal: %v", domain.ErrBadPayload, err)
	}
	switch s.Type {
	case "offer", "answer", "pranswer":
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(raw, &sd); err != nil {
			return fmt.Errorf("%w: signal: %v", domain.ErrBadPayload, err)
		}
		if _, err := sd.Unmarshal(); err != nil {
			return fmt.Errorf("%w: signal sdp: %v", domain.ErrBadPayload, err)
		}
		return nil
	case "rollback":
		return nil
	case "candidate":
		if s.Candidate == nil {
			return fmt.Errorf("%w: signal: candidate missing", domain.ErrBadPayload)
		}
		return nil
	case "":
		if s.Candidate != nil || s.Renegotiate || s.TransceiverRequest != nil {
			return nil
		}
	}
	return fmt.Errorf("%w: signal: unrecognized %q", domain.ErrBadPayload, s.Type)
}
