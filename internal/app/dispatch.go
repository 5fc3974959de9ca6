package app

import (
	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Dispatcher delivers encoded frames to live connections, applying the
// back-pressure policy when a connection cannot keep up.
type Dispatcher struct {
	Registry *Registry
	Policy   Policy
	Metrics  *metrics.Metrics
}

// SendTo reports whether the frame was queued for the connection.
func (d *Dispatcher) SendTo(cid core.ConnID, f core.Frame) bool {
	conn, ok := d.Registry.Conn(cid)
	if !ok {
		return false
	}
	if err := conn.TrySend(f); err != nil {
		d.onBackPressure(cid, conn, err)
		return false
	}
	return true
}

// Fanout sends to every target except skip and returns how many were queued.
func (d *Dispatcher) Fanout(targets []core.ConnID, skip core.ConnID, f core.Frame) int {
	sent := 0
	for _, cid := range targets {
		if cid == skip {
			continue
		}
		if d.SendTo(cid, f) {
			sent++
		}
	}
	return sent
}

func (d *Dispatcher) onBackPressure(cid core.ConnID, conn core.SignalConnection, err error) {
	action := DropFrame
	if d.Policy != nil {
		action = d.Policy.OnBackPressure(cid)
	}
	switch action {
	case KickMember:
		log.Warn().Err(err).Str("module", "app.dispatch").Str("conn", string(cid)).Msg("closing slow consumer")
		d.Metrics.Kicked()
		conn.Close()
	case DropFrame:
		log.Warn().Err(err).Str("module", "app.dispatch").Str("conn", string(cid)).Msg("frame dropped")
		d.Metrics.FrameDropped()
	case NoAction:
	}
}
