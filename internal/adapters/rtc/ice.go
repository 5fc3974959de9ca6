// Package rtc holds the peer-connection facing pieces of the server: ICE
// configuration handed to browsers and shape checks on relayed signaling.
// Media itself never passes through the server.
package rtc

import (
	"errors"
	"fmt"

	"github.com/dkeye/vidtalk/internal/config"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

// ICEServers converts configured servers, rejecting unparsable URLs.
func ICEServers(in []config.ICEServer) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		if len(s.URLs) == 0 {
			return nil, errors.New("ice server without urls")
		}
		for _, raw := range s.URLs {
			u, err := stun.ParseURI(raw)
			if err != nil {
				return nil, fmt.Errorf("ice url %q: %w", raw, err)
			}
			if (u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS) && s.Username == "" {
				return nil, fmt.Errorf("turn url %q needs credentials", raw)
			}
		}
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out, nil
}
