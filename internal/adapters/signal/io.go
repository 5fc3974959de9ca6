package signal

import (
	"context"
	"time"

	"github.com/dkeye/vidtalk/internal/app/orch"
	"github.com/dkeye/vidtalk/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(ctl.cfg.WriteWait))
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping failed")
				c.Close()
				return
			}
		}
	}
}

// readPump owns the session: events are handled in arrival order and the
// disconnect path runs only after the last handler returned.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess *orch.Session, c *WsSignalConn) {
	defer func() {
		cancel()
		ctl.Orch.Disconnect(sess)
		if len(ctl.Orch.Registry.ConnectionsFor(sess.User.ID)) == 0 {
			ctl.limiter.Forget(sess.User.ID)
		}
		c.Close()
		log.Info().Str("module", "signal").Str("conn", string(sess.ID)).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
		if mt != websocket.TextMessage {
			continue
		}
		if !ctl.limiter.Allow(sess.User.ID) {
			log.Warn().Str("module", "signal").Str("conn", string(sess.ID)).Str("user", string(sess.User.ID)).Msg("rate limited")
			ctl.Orch.Metrics.EventError(protocol.CodeRateLimited)
			_ = c.TrySend(protocol.MustEncode(protocol.OutError, protocol.Error{
				Code:    protocol.CodeRateLimited,
				Message: "too many events",
			}))
			continue
		}
		ctl.Orch.Handle(ctx, sess, data)
	}
}
