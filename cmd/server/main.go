package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/lmrate/internal/api"
	"github.com/dgallion1/lmrate/internal/config"
	"github.com/dgallion1/lmrate/internal/parser"
	"github.com/dgallion1/lmrate/internal/pathstore"
	"github.com/dgallion1/lmrate/internal/pipeline"
	"github.com/dgallion1/lmrate/internal/scorer"
	"github.com/dgallion1/lmrate/internal/scorer/loader"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	base, release, err := loader.Open(ctx, loader.Options{
		Kind:      cfg.Scorer.Kind,
		ModelPath: cfg.Scorer.ModelPath,
		URL:       cfg.Scorer.URL,
		APIKey:    cfg.Scorer.APIKey,
	})
	if err != nil {
		log.Error("initialize scorer", "error", err)
		os.Exit(1)
	}
	sc := scorer.Instrument(base, scorer.NewStats(cfg.Scorer.StatsWindow))
	ps := pathstore.NewClient(cfg.Pathstore.URL, cfg.Pathstore.APIKey)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(pipeline.Options{
		Workers:   cfg.Workers.Count,
		QueueSize: cfg.Workers.QueueSize,
		JobTTL:    cfg.Jobs.TTL,
		Parser:    parser.Options{PDFFallbackPdftotext: cfg.Parser.PDFFallbackPdftotext},
	}, sc, ps, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv, err := api.NewServer(orch, sc.Stats, log, cfg)
	if err != nil {
		log.Error("initialize api", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		release()
		ps.Close()
	}()

	log.Info("starting lmrate", "port", cfg.Server.Port, "scorer", cfg.Scorer.Kind)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
