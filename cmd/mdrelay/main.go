package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"mdrelay/internal/application/usecase/relay"
	"mdrelay/internal/infrastructure/config"
	"mdrelay/internal/infrastructure/logger"
	"mdrelay/internal/infrastructure/svc"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("load .env failed")
	}

	configPath := flag.String("config", "configs/config.toml", "path to config.toml or config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("logger setup failed")
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	app := relay.NewService(relay.ServiceDeps{
		Addr:            cfg.Addr(),
		Handler:         sc.Router,
		Feed:            sc.Feed,
		Hub:             sc.Hub,
		ShutdownTimeout: cfg.App.ShutdownTimeout,
	})

	log.Info().
		Str("config", *configPath).
		Strs("symbols", cfg.Symbols()).
		Int("port", cfg.App.Port).
		Msg("mdrelay started")

	if err := app.Run(ctx); err != nil {
		sc.Close()
		log.Fatal().Err(err).Msg("relay exited")
	}
	log.Info().Msg("mdrelay stopped")
}
