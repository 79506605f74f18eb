package main

import (
	"context"
	"image"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/sentinel/config"
	"github.com/nvr-ai/sentinel/controller"
	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/images"
	"github.com/nvr-ai/sentinel/inference"
	"github.com/nvr-ai/sentinel/inference/providers"
	"github.com/nvr-ai/sentinel/logging"
	"github.com/nvr-ai/sentinel/metrics"
	"github.com/nvr-ai/sentinel/motion"
	"github.com/nvr-ai/sentinel/segmentation"
)

// loadConfig reads and validates the configuration and builds the logger it names.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	return cfg, logger, nil
}

func newInferenceClient(cfg *config.Config, logger *zap.Logger) (*inference.ORTClient, inference.ArtifactStore, error) {
	size, err := inference.ParseModelSize(cfg.Segmentation.ModelSize)
	if err != nil {
		return nil, nil, err
	}
	backend, err := providers.ParseBackend(cfg.Segmentation.Accelerator)
	if err != nil {
		return nil, nil, err
	}

	store := inference.NewArtifactStore(cfg.Segmentation.ModelBase, nil)
	client := inference.NewORTClient(inference.ORTConfig{
		LibraryPath:  cfg.Segmentation.LibraryPath,
		Accelerator:  backend,
		Providers:    cfg.Segmentation.Provider,
		Optimization: providers.DefaultOptimizationConfig(),
		Size:         size,
		Store:        store,
	}, logger)
	return client, store, nil
}

func newEngine(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*segmentation.Engine, error) {
	client, _, err := newInferenceClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return segmentation.NewEngine(client, segmentation.Options{
		RefineKernel: cfg.Segmentation.RefineKernel,
		Demo:         cfg.Segmentation.Demo,
		Logger:       logger,
		Metrics:      m,
	}), nil
}

// closableGate is what the scheduler needs from either motion strategy, plus cleanup.
type closableGate interface {
	controller.Gate
	io.Closer
}

func newGate(cfg *config.Config, logger *zap.Logger) closableGate {
	if cfg.Motion.Enabled && cfg.Motion.Strategy == config.StrategyBackground {
		return motion.NewBackgroundGate(cfg.Motion.Background, logger)
	}
	return motion.NewGate(cfg.Motion.Options, logger)
}

func loadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	img, _, err := images.Decode(data)
	return img, err
}

func target(cfg *config.Config) (detector.Target, error) {
	t := detector.Target{
		Description: cfg.Target.Description,
		Confidence:  cfg.Target.Confidence,
	}
	if cfg.Target.ReferenceImage != "" {
		img, err := loadImage(cfg.Target.ReferenceImage)
		if err != nil {
			return detector.Target{}, errors.Wrap(err, "target reference image")
		}
		t.ReferenceImage = img
	}
	return t, nil
}

// initializeEngine loads the model in the background so monitoring can start in demo mode.
func initializeEngine(ctx context.Context, engine *segmentation.Engine, logger *zap.Logger) {
	go func() {
		mode, err := engine.Initialize(ctx)
		if err != nil {
			logger.Error("segmentation unavailable", zap.Error(err))
			return
		}
		logger.Info("segmentation initialized", zap.String("mode", string(mode)))
	}()
}
