package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/cosmichat/voicemesh/internal/adapters/http"
	wssignal "github.com/cosmichat/voicemesh/internal/adapters/signal"
	"github.com/cosmichat/voicemesh/internal/app"
	"github.com/cosmichat/voicemesh/internal/config"
	"github.com/cosmichat/voicemesh/internal/domain"
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
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	reg := app.NewRegistry(seedChannels(cfg.Channels))
	relay := app.NewRelay()
	reg.SetSink(&wssignal.Notifier{Relay: relay})

	limiter := wssignal.NewEnvelopeRateLimiter(cfg.SignalRate.Limit, cfg.SignalRate.Interval)
	signalCtl := wssignal.NewController(relay, limiter, cfg.ReadLimit, cfg.PingPeriod)

	sweeper := &app.Sweeper{
		Presence: reg,
		Relay:    relay,
		Grace:    cfg.Sweep.Grace,
		Interval: cfg.Sweep.Interval,
	}
	go sweeper.Run(ctx)

	r := router.SetupRouter(cfg, reg, signalCtl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voicemesh server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func seedChannels(seeds []config.ChannelSeed) []domain.Channel {
	now := time.Now()
	out := make([]domain.Channel, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, domain.Channel{
			ID:        domain.ChannelID(s.ID),
			Name:      s.Name,
			Type:      domain.ChannelType(s.Type),
			CreatedAt: now,
		})
	}
	return out
}
