// Package signal is the WebSocket transport: it authenticates the upgrade,
// owns the read and write pumps of each socket, and hands inbound frames to
// the orchestrator.
package signal

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/dkeye/vidtalk/internal/app/orch"
	"github.com/dkeye/vidtalk/internal/config"
	"github.com/dkeye/vidtalk/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type wsConfig struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Verifier core.Verifier

	cfg      wsConfig
	upgrader websocket.Upgrader
	limiter  *EventRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, v core.Verifier, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{
		Orch:     o,
		Verifier: v,
		cfg: wsConfig{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			PongWait:   cfg.PongWait,
			WriteWait:  cfg.WriteWait,
			SendBuffer: cfg.SendBuffer,
		},
		limiter: NewEventRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
	ctl.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return ctl
}

// originChecker allows everything when no origins are configured. Requests
// without an Origin header are not from a browser and are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && slices.Contains(allowed, u.Host)
	}
}

// HandleSignal authenticates, upgrades and serves one socket until it closes.
// Authentication failure is answered with 401 and no socket is opened.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := ctl.Verifier.Verify(TokenFrom(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("ws auth failed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	cid := core.ConnID(uuid.NewString())
	conn := newWsSignalConn(ws, ctl.cfg.SendBuffer)
	connCtx, cancel := context.WithCancel(ctx)

	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("user", string(user.ID)).Msg("new WS connection")
	sess := ctl.Orch.Connect(connCtx, cid, user, conn)

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(connCtx, conn) })
	wg.Go(func() { ctl.readPump(connCtx, cancel, sess, conn) })
	if r := wg.WaitAndRecover(); r != nil {
		log.Error().Str("module", "signal").Str("conn", string(cid)).Str("panic", r.String()).Msg("pump panic")
		cancel()
		ctl.Orch.Disconnect(sess)
		conn.Close()
	}
}
