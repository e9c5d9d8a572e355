package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"announcement-engine/internal/api"
	"announcement-engine/internal/config"
	"announcement-engine/internal/engine"
	"announcement-engine/internal/listener"
	"announcement-engine/internal/observability"
	"announcement-engine/internal/storage"
	"announcement-engine/internal/suppress"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defs := storage.NewDefinitions()
	var durable api.DurableKV

	if cfg.UsePostgres() {
		store, err := storage.New(rootCtx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("init storage")
		}
		defer store.Close()

		anns, err := store.LoadActiveAnnouncements(rootCtx)
		if err != nil {
			log.Fatal().Err(err).Msg("initial definitions load")
		}
		defs.Replace(anns)
		durable = func(visitorID string) suppress.KV { return store.VisitorKV(visitorID) }

		go listener.ListenAndRefresh(rootCtx, store, defs, cfg.Listener.Channel, cfg.Backoff())
	} else if cfg.Definitions.File != "" {
		anns, err := storage.LoadFile(cfg.Definitions.File)
		if err != nil {
			log.Fatal().Err(err).Msg("load definitions file")
		}
		defs.Replace(anns)
	} else {
		log.Warn().Msg("no definitions source configured; serving empty set")
	}

	sink := engine.NewAsyncSink(observability.NewAnalyticsSink(log.Logger), 256)
	defer sink.Close()

	views := api.NewRegistry(api.RegistryConfig{
		Clock:          clockwork.NewRealClock(),
		Sink:           sink,
		Durable:        durable,
		SettleDelay:    cfg.SettleDelay(),
		TTL:            cfg.ViewTTL(),
		SessionEntries: cfg.Views.SessionEntries,
		DurableEntries: cfg.Views.DurableEntries,
		Log:            log.Logger,
	})

	// Sweep idle views in the background.
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-t.C:
				views.Sweep()
			}
		}
	}()

	h := api.NewHandler(defs, views)
	r := api.Router(h)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
