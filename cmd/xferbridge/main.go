package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xferlab/xferbridge/internal/audit"
	"github.com/xferlab/xferbridge/internal/bridge"
	"github.com/xferlab/xferbridge/internal/config"
	"github.com/xferlab/xferbridge/internal/observability"
	"github.com/xferlab/xferbridge/internal/protocol"
	"github.com/xferlab/xferbridge/internal/session"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.InitLogger("xferbridge", "")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger(cfg.Name, cfg.LogLevel)
	observability.RegisterMetrics()
	if *configPath != "" {
		log.Info().Str("path", *configPath).Msg("loaded config")
	}

	sink := audit.NewLogSink(log.Logger, 256)
	registry := session.NewRegistry(session.Config{
		SweepInterval: cfg.Session.SweepInterval.Std(),
		IdleExpiry:    cfg.Session.IdleExpiry.Std(),
		OpTimeout:     cfg.Session.OpTimeout.Std(),
		QueueDepth:    cfg.Session.QueueDepth,
	}, sink)
	prober := protocol.NewProber(protocol.ProbeConfig{
		ConnectTimeout:  cfg.Probe.ConnectTimeout.Std(),
		LivenessTimeout: cfg.Probe.LivenessTimeout.Std(),
	})
	svc := bridge.NewService(registry, prober, sink, bridge.Options{
		Retry: session.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Std(),
		},
		TransferTimeout: cfg.Session.TransferTimeout.Std(),
		UploadMaxBytes:  cfg.Upload.MaxSizeMB << 20,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CorsOrigins,
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Range"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	svc.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{Addr: cfg.Addr, Handler: r}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	log.Info().Str("addr", cfg.Addr).Msg("xferbridge listening")

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	// every live session is closed before exit
	registry.DrainAll()
	sink.Close()
	log.Info().Msg("xferbridge stopped")
}
