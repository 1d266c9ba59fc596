package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirerelay/internal/bus"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/metrics"
	transporthttp "github.com/vovakirdan/wirerelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	metrics         *metrics.Metrics
	bus             *bus.RedisBus
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
// When a redis address is configured the relay joins the cross-process bus.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	registry := core.NewRegistry(
		core.WithLogger(logger),
		core.WithPruneEmptyRooms(cfg.PruneEmptyRooms),
	)
	m := metrics.New(registry.Stats)

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		metrics:         m,
		log:             logger,
	}

	if cfg.RedisAddr != "" {
		b, err := bus.NewRedisBus(ctx, bus.Options{
			Addr:          cfg.RedisAddr,
			DB:            cfg.RedisDB,
			ChannelPrefix: cfg.RedisChannelPrefix,
			Counter:       m,
		}, registry, logger)
		if err != nil {
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		registry.SetDispatcher(b)
		a.bus = b
		logger.Info().Str("redis_addr", cfg.RedisAddr).Str("node", b.Node()).Msg("redis bus enabled")
	}

	a.server = transporthttp.NewServer(registry, m, cfg, logger)
	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler { return a.server.Handler }

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	// Hijacked websocket connections are not closed by Shutdown; they follow gctx.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.bus != nil {
		g.Go(func() error {
			return a.bus.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// cleanup closes the bus and other resources.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis bus")
		} else {
			a.log.Info().Msg("redis bus closed")
		}
	}
	st := a.registry.Stats()
	a.log.Info().Int("rooms", st.Rooms).Int("members", st.Members).Msg("relay stopped")
}
