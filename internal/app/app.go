// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skobkin/llmsim-web/internal/annotate"
	"github.com/skobkin/llmsim-web/internal/config"
	"github.com/skobkin/llmsim-web/internal/control"
	"github.com/skobkin/llmsim-web/internal/device"
	"github.com/skobkin/llmsim-web/internal/httpserver"
	"github.com/skobkin/llmsim-web/internal/sampler"
	"github.com/skobkin/llmsim-web/internal/sim"
)

const shutdownTimeout = 10 * time.Second

// Simulation bundles the components that make up one simulated GPU.
type Simulation struct {
	Device     sim.Device
	Generator  *sim.Generator
	Controller *control.Controller
	Sampler    *sampler.Manager

	resetHistoryOnStop bool
	logger             *slog.Logger
}

// NewSimulation resolves the device and builds the generator, annotator,
// controller and sampler from cfg.
func NewSimulation(cfg config.Config, baseLogger *slog.Logger) (*Simulation, error) {
	dev, err := device.Resolve(device.Config{
		Name:        cfg.Device.Name,
		PCIID:       cfg.Device.PCIID,
		VRAMTotalGB: cfg.Device.VRAMTotalGB,
		PeakTFLOPS:  cfg.Device.PeakTFLOPS,
	}, baseLogger)
	if err != nil {
		return nil, fmt.Errorf("resolve device: %w", err)
	}

	var generatorSrc, controlSrc rand.Source
	if cfg.HasSeed {
		generatorSrc = rand.NewPCG(cfg.Seed, 1)
		controlSrc = rand.NewPCG(cfg.Seed, 2)
	}
	generator := sim.NewGenerator(dev, generatorSrc)

	annotator, err := newAnnotator(cfg.Annotate, baseLogger)
	if err != nil {
		return nil, err
	}

	controller, err := control.New(control.Config{
		StepInterval: cfg.Run.StepInterval,
		MaxSteps:     cfg.Run.MaxSteps,
	}, annotator, controlSrc, baseLogger)
	if err != nil {
		return nil, fmt.Errorf("init controller: %w", err)
	}

	samplerManager, err := sampler.NewManager(cfg.SampleInterval, cfg.HistorySize, generator, controller, baseLogger)
	if err != nil {
		return nil, fmt.Errorf("init sampler manager: %w", err)
	}

	return &Simulation{
		Device:             dev,
		Generator:          generator,
		Controller:         controller,
		Sampler:            samplerManager,
		resetHistoryOnStop: cfg.ResetHistoryOnStop,
		logger:             baseLogger.With("component", "simulation"),
	}, nil
}

func newAnnotator(cfg config.AnnotateConfig, baseLogger *slog.Logger) (*annotate.Fallback, error) {
	corpus := annotate.DefaultCorpus()
	if cfg.CorpusFile != "" {
		loaded, err := annotate.LoadCorpus(cfg.CorpusFile)
		if err != nil {
			return nil, fmt.Errorf("load annotation corpus: %w", err)
		}
		corpus = loaded
	}

	if cfg.APIKey == "" {
		baseLogger.Info("annotation model not configured, using built-in corpus")
		return annotate.NewFallback(nil, corpus, baseLogger), nil
	}

	client, err := annotate.NewClient(annotate.ClientConfig{
		Endpoint:       cfg.Endpoint,
		APIKey:         cfg.APIKey,
		TrainingModel:  cfg.TrainingModel,
		InferenceModel: cfg.InferenceModel,
		CompareModel:   cfg.CompareModel,
		Timeout:        cfg.Timeout,
		Retry:          annotate.RetryPolicy{Retries: cfg.Retries, BaseDelay: cfg.Backoff},
	})
	if err != nil {
		return nil, fmt.Errorf("init annotation client: %w", err)
	}
	return annotate.NewFallback(client, corpus, baseLogger), nil
}

// Go starts the controller, the sampler and the optional history reset hook
// on g. They stop when ctx is cancelled.
func (s *Simulation) Go(ctx context.Context, g *errgroup.Group) {
	if s.resetHistoryOnStop {
		events, unsubscribe := s.Controller.Subscribe(8)
		g.Go(func() error {
			defer unsubscribe()
			s.resetHistoryOnStopHook(ctx, events)
			return nil
		})
	}
	g.Go(func() error { return s.Controller.Run(ctx) })
	g.Go(func() error { return s.Sampler.Run(ctx) })
}

func (s *Simulation) resetHistoryOnStopHook(ctx context.Context, events <-chan control.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == control.EventStopped {
				s.logger.Debug("run stopped, clearing history")
				s.Sampler.ResetHistory()
			}
		}
	}
}

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	simulation, err := NewSimulation(cfg, baseLogger)
	if err != nil {
		return err
	}
	appLogger.Info("simulated device ready",
		"name", simulation.Device.Name,
		"pci_id", simulation.Device.PCIID,
		"vram_total_gb", simulation.Device.VRAMTotalGB,
	)

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), simulation.Sampler, simulation.Controller)

	g, gctx := errgroup.WithContext(ctx)
	simulation.Go(gctx, g)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutdown initiated", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	appLogger.Info("shutdown complete")
	return nil
}
