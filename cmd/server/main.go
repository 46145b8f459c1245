package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quantai/surveyflow/internal/api"
	"github.com/quantai/surveyflow/internal/audit"
	"github.com/quantai/surveyflow/internal/config"
	"github.com/quantai/surveyflow/internal/gate"
	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/snapshot"
	"github.com/quantai/surveyflow/internal/store"
	"github.com/quantai/surveyflow/internal/telemetry"
	"github.com/quantai/surveyflow/internal/webhook"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("APP_ENV") == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation failed")
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()

	telemetry.Init()

	tracker := quota.NewTracker(st, log)
	eligibility := gate.New(st, st, st, tracker, log)
	auditor := audit.New(nil, log)

	var hook progress.Hook
	if cfg.WebhookURL != "" {
		dispatcher := webhook.NewDispatcher(cfg.WebhookURL, cfg.WebhookSecret, log)
		dispatcher.Start()
		defer dispatcher.Close()
		hook = dispatcher
	}

	flow := progress.NewService(st, eligibility, cfg.RotationSalt, hook, auditor, log)
	snapshots := snapshot.NewCache()
	srvAPI := api.NewServer(flow, st, snapshots, cfg, log)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	log.Info().Msg("stopped")
}
