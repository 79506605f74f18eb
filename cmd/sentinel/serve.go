package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/sentinel/capture"
	"github.com/nvr-ai/sentinel/controller"
	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/journal"
	"github.com/nvr-ai/sentinel/logging"
	"github.com/nvr-ai/sentinel/metrics"
	"github.com/nvr-ai/sentinel/segmentation"
	"github.com/nvr-ai/sentinel/server"
)

const (
	shutdownTimeout = 10 * time.Second
	recordTimeout   = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring service and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var (
		engine    *segmentation.Engine
		segmenter controller.Segmenter
		api       server.Segmenter
	)
	if cfg.Segmentation.Enabled {
		engine, err = newEngine(cfg, logger, m)
		if err != nil {
			return err
		}
		defer engine.Dispose()
		initializeEngine(ctx, engine, logger)
		segmenter, api = engine, engine
	}

	source, err := capture.Open(cfg.Capture.Options)
	if err != nil {
		return err
	}
	defer source.Close()

	gate := newGate(cfg, logger)
	defer gate.Close()

	client, err := detector.NewHTTPVisionClient(cfg.Vision, logger)
	if err != nil {
		return err
	}

	points, err := cfg.FocusPoints()
	if err != nil {
		return err
	}
	watch, err := target(cfg)
	if err != nil {
		return err
	}

	scheduler := controller.NewScheduler(source, gate, segmenter, detector.NewOrchestrator(client, logger),
		controller.Options{
			Interval:    cfg.Capture.Interval,
			Target:      watch,
			FocusPoints: points,
			Logger:      logger,
			Metrics:     m,
		})

	var events server.EventStore
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.Retention)
		if err != nil {
			return err
		}
		defer j.Close()
		events = j

		scheduler.OnDetection(func(event *detector.Event) {
			recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
			defer cancel()
			if err := j.Record(recordCtx, event); err != nil {
				logger.Warn("failed to journal detection", zap.Error(err))
			}
		})
	}

	srv := server.New(server.Options{
		Monitor:   scheduler,
		Segmenter: api,
		Events:    events,
		Metrics:   m,
		Logger:    logger,
		Context:   ctx,
	})
	defer srv.Close()
	scheduler.OnDetection(srv.Publish)

	if watch.Description != "" {
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return waitThenStop(g, scheduler)
}

type stopper interface {
	Stop()
}

// waitThenStop waits for the HTTP server to exit and then stops monitoring. serve calls it last so
// the scheduler stops before the deferred journal and hub closes run.
func waitThenStop(g *errgroup.Group, monitor stopper) error {
	err := g.Wait()
	monitor.Stop()
	return err
}
