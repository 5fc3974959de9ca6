package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/vidtalk/internal/adapters/http"
	"github.com/dkeye/vidtalk/internal/adapters/rtc"
	"github.com/dkeye/vidtalk/internal/app"
	"github.com/dkeye/vidtalk/internal/app/orch"
	"github.com/dkeye/vidtalk/internal/auth"
	"github.com/dkeye/vidtalk/internal/config"
	"github.com/dkeye/vidtalk/internal/metrics"
	"github.com/dkeye/vidtalk/internal/store"
)

const (
	devJWTSecret    = "dev-secret-please-change"
	devCookieSecret = "dev-cookie-secret-please-change"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	// Nobody is connected at startup, so leftovers from a previous run are stale.
	if err := db.ResetEphemeral(ctx); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}

	ice, err := rtc.ICEServers(cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		log.Warn().Msg("jwt_secret not set, using the development secret")
		secret = devJWTSecret
	}
	verifier := auth.NewJWTVerifier(secret)
	if cfg.Secret == "" {
		log.Warn().Msg("secret not set, using the development cookie secret")
		cfg.Secret = devCookieSecret
	}

	m := metrics.New()
	queue := store.NewQueue(db, cfg.PersistQueue, m)

	o := orch.New(db, queue, app.PolicyFor(cfg.SlowConsumer), m)
	o.LookupTimeout = cfg.LookupTimeout
	o.CheckSignal = rtc.CheckSignal
	m.Gauges(o.Rooms.Count, o.Voice.Channels)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:       o,
		Verifier:   verifier,
		ICEServers: ice,
		Metrics:    m,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The queue outlives the server so writes from the final disconnects land.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	var persist errgroup.Group
	persist.Go(func() error { return queue.Run(queueCtx) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("vidtalk server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		// Sockets are hijacked and not tracked by Shutdown; their pumps
		// close on ctx and run the disconnect path on their own.
		for o.Registry.Count() > 0 && shutdownCtx.Err() == nil {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	})

	err = g.Wait()
	stopQueue()
	if qerr := persist.Wait(); qerr != nil && err == nil {
		err = qerr
	}
	return err
}
