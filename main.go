package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fv := registerFlags(fs)
	fs.Parse(os.Args[1:])

	replay := holdStartupLogs()
	cfg := loadConfig(*fv.configPath)
	fv.applyTo(&cfg)

	logFile, err := setupLogging(cfg.toLogConfig())
	if err != nil {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		replay()
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer logFile.Close()
	replay()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// run starts the server and blocks until ctx is cancelled or the listener fails.
func run(ctx context.Context, cfg AppConfig) error {
	appLog, err := NewAppLogger(cfg.toLogConfig())
	if err != nil {
		return fmt.Errorf("init app logger: %w", err)
	}
	defer appLog.Close()

	store, err := openStore(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	deps := RoomDeps{
		Clock:            clockwork.NewRealClock(),
		Store:            store,
		Narrator:         initNarrator(cfg),
		NarrativeTimeout: cfg.narrativeTimeout(),
		IdleTimeout:      cfg.idleTimeout(),
	}
	if cfg.NATSURL != "" {
		pub, err := newNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer pub.Close()
		deps.Publisher = pub
		log.Info().Str("url", cfg.NATSURL).Msg("mirroring room events to NATS")
	}

	registry := NewRegistry(deps, cfg.roomSettings())
	defer registry.Close()
	hub := newHub(registry, DefaultConnectionConfig(), appLog)
	defer hub.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newServer(cfg, registry, hub, appLog).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("dev", cfg.Dev).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
