package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/vidtalk/internal/adapters/signal"
	"github.com/dkeye/vidtalk/internal/app/orch"
	"github.com/dkeye/vidtalk/internal/config"
	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/dkeye/vidtalk/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const userKey = "user"

// Deps is everything the router serves from.
type Deps struct {
	Orch       *orch.Orchestrator
	Verifier   core.Verifier
	ICEServers []webrtc.ICEServer
	Metrics    *metrics.Metrics
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("VidtalkSession", store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics && d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	ws := signal.NewSignalWSController(d.Orch, d.Verifier, cfg)

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		ws.HandleSignal(ctx, c)
	})
	api.POST("/session", handleLogin(d.Verifier))
	api.DELETE("/session", handleLogout)
	api.GET("/voice/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": d.ICEServers})
	})
	api.GET("/stats", func(c *gin.Context) {
		o := d.Orch
		c.JSON(http.StatusOK, gin.H{
			"connections":       o.Registry.Count(),
			"users":             o.Registry.Users(),
			"rooms":             o.Rooms.Count(),
			"voiceChannels":     o.Voice.Channels(),
			"voiceParticipants": o.Voice.Participants(),
		})
	})

	authed := api.Group("", RequireUser(d.Verifier))
	authed.GET("/channels/:id/voice", handleVoicePresence(d.Orch))

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Bool("metrics", cfg.Metrics).Msg("router setup")
	return r
}

// RequireUser resolves the caller the same way the socket does.
func RequireUser(v core.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.Verify(signal.TokenFrom(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

func handleLogin(v core.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
			return
		}
		user, err := v.Verify(req.Token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		s := sessions.Default(c)
		s.Set(signal.SessionTokenKey, req.Token)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

func handleLogout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session clear")
	}
	c.Status(http.StatusNoContent)
}

func handleVoicePresence(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet(userKey).(domain.User)
		id := domain.ChannelID(c.Param("id"))
		members, err := o.VoicePresence(c.Request.Context(), user.ID, id)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"channelId": id, "users": members})
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		case errors.Is(err, domain.ErrPermission):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		case orch.IsNotVoice(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a voice channel"})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Str("channel", string(id)).Msg("voice presence")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		}
	}
}
