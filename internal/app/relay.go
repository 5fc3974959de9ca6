package app

import (
	"encoding/json"

	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SignalRelay forwards opaque WebRTC signaling between users. Delivery is
// at-most-once: an offline target means the signal is dropped.
//
// Only the target's first registered connection receives the signal; a user
// with several tabs gets signaling on one of them.
type SignalRelay struct {
	Registry *Registry
	Out      *Dispatcher
}

func (r *SignalRelay) Relay(from, to domain.UserID, payload json.RawMessage) bool {
	conns := r.Registry.ConnectionsFor(to)
	if len(conns) == 0 {
		log.Debug().Err(domain.ErrRelayMiss).Str("module", "app.relay").Str("from", string(from)).Str("to", string(to)).Msg("signal dropped")
		r.Out.Metrics.RelayMiss()
		return false
	}
	f, err := protocol.Encode(protocol.OutSignal, protocol.SignalOut{UserID: from, Signal: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode signal")
		return false
	}
	return r.Out.SendTo(conns[0], f)
}
