package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aiproxy/internal/config"
	"aiproxy/internal/proxy"
)

func main() {
	_ = godotenv.Load()

	host := flag.String("host", "", "listen address, overrides AIPROXY_HOST")
	port := flag.String("port", "", "listen port, overrides AIPROXY_PORT")
	logLevel := flag.String("log-level", "info", "zerolog level")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != "" {
		cfg.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := proxy.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build proxy")
	}

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	// No read/write timeouts: streamed replies are long-lived by design.
	server := &http.Server{
		Addr:        addr,
		Handler:     app.Router,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("aiproxy listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
		os.Exit(1)
	}
}
