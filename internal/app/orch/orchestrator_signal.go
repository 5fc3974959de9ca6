package orch

import (
	"fmt"

	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/rs/zerolog/log"
)

// signal relays the payload as is. CheckSignal only labels payloads it does
// not recognize; they are still delivered.
func (o *Orchestrator) signal(sess *Session, ev protocol.Signal) error {
	if o.CheckSignal != nil {
		if err := o.CheckSignal(ev.Signal); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("conn", string(sess.ID)).Str("target", string(ev.UserID)).Msg("unrecognized signal, relaying anyway")
			o.Metrics.SignalUnrecognized()
		}
	}
	if !o.Relay.Relay(sess.User.ID, ev.UserID, ev.Signal) {
		return fmt.Errorf("signal to %s: %w", ev.UserID, domain.ErrRelayMiss)
	}
	return nil
}
