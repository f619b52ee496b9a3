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

	"github.com/proctorwatch/backend/internal/api"
	"github.com/proctorwatch/backend/internal/archive"
	"github.com/proctorwatch/backend/internal/config"
	"github.com/proctorwatch/backend/internal/debounce"
	"github.com/proctorwatch/backend/internal/log"
	"github.com/proctorwatch/backend/internal/mock"
	"github.com/proctorwatch/backend/internal/session"
	"github.com/proctorwatch/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Replay synthetic perception signals")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log.Configure(log.Config{Level: cfg.Log.Level})
	logger := log.WithComponent("server")

	registry := session.NewRegistry(cfg.Registry.MutationTimeout)
	hub := ws.NewHub(cfg.Broadcast.BufferSize)
	registry.SetPublisher(hub)

	var arch *archive.Archive
	if cfg.Archive.Path != "" {
		arch, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Archive.Path).Msg("failed to open session archive")
		}
		defer arch.Close()
		registry.SetArchiver(arch)
	}

	params := debounce.ParamsWithOverrides(cfg.Detection.Thresholds, cfg.Detection.Cooldowns)
	tracker := debounce.NewTracker(params, nil)

	wsServer := ws.NewServer(registry, tracker, hub, cfg.Server.AuthToken, cfg.Server.AllowedOrigins)
	apiServer := api.NewServer(cfg, registry, tracker, hub, wsServer, arch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		logger.Info().Msg("starting in mock mode")
		gen := mock.NewGenerator(registry, tracker, 500*time.Millisecond)
		gen.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
