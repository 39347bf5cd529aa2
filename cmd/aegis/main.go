package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/windhoek-dev/aegis/internal/config"
	"github.com/windhoek-dev/aegis/internal/crash"
	"github.com/windhoek-dev/aegis/internal/directory"
	"github.com/windhoek-dev/aegis/internal/dispatch"
	"github.com/windhoek-dev/aegis/internal/emergency"
	"github.com/windhoek-dev/aegis/internal/engine"
	"github.com/windhoek-dev/aegis/internal/httpapi"
	"github.com/windhoek-dev/aegis/internal/observability"
	"github.com/windhoek-dev/aegis/internal/recording"
	"github.com/windhoek-dev/aegis/internal/sender"
	"github.com/windhoek-dev/aegis/internal/store"
	"github.com/windhoek-dev/aegis/internal/threat"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	dir := directory.NewDirectory(cfg.RedisAddr)
	if cfg.RedisAddr != "" {
		log.Printf("recipient directory: redis at %s", cfg.RedisAddr)
	} else {
		log.Printf("recipient directory: in-memory")
	}

	contacts := dispatch.NewInMemoryContacts()
	senders := sender.NewRegistry()
	senders.Register(sender.ChannelInApp, sender.NewInAppSender(st))
	senders.Register(sender.ChannelPush, sender.NewWebhookSender(cfg.WebhookTimeout))
	senders.Register(sender.ChannelEmail, sender.NewWebhookSender(cfg.WebhookTimeout))
	if cfg.TwilioEnabled() {
		senders.Register(sender.ChannelSMS, sender.NewTwilioSMSSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber))
		log.Printf("sms delivery: twilio from %s", cfg.TwilioFromNumber)
	} else {
		log.Printf("sms delivery: disabled (no twilio credentials)")
	}

	dispatcher := dispatch.New(dir, contacts, senders, st)

	sessions := emergency.NewManager(cfg.SessionInactivityTimeout)

	var recorder recording.Recorder = recording.NopRecorder{}
	if cfg.RecordingEnabled {
		recorder = recording.NewStoreRecorder(st)
	}

	eng := engine.New(sessions, dispatcher, st, recorder, metrics, engine.Config{
		CrashCountdown: cfg.CrashCountdown,
		CheckInterval:  cfg.ThreatCheckInterval,
		Threat: threat.Config{
			CancelThreshold: cfg.ThreatCancelThreshold,
		},
		Crash: crash.Config{
			MinSpeedKmh:   cfg.CrashMinSpeedKmh,
			StillSpeedKmh: cfg.CrashStillSpeedKmh,
			SpeedDropKmh:  cfg.CrashSpeedDropKmh,
			DropWindow:    cfg.CrashDropWindow,
			Stillness:     cfg.CrashStillness,
		},
	})
	defer eng.Close()

	api := httpapi.New(cfg, eng, sessions, st, metrics)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
