// Package app assembles the processing core from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentintake/internal/broadcast"
	"github.com/Lllllllleong/documentintake/internal/config"
	"github.com/Lllllllleong/documentintake/internal/extraction"
	"github.com/Lllllllleong/documentintake/internal/gcp"
	"github.com/Lllllllleong/documentintake/internal/services"
	"github.com/Lllllllleong/documentintake/internal/store"
)

// Options override components that are otherwise built from configuration.
type Options struct {
	Engine    extraction.Engine
	Bus       broadcast.Bus
	Extractor services.FieldExtractor
}

// App is a wired processing core.
type App struct {
	Config   *config.Config
	Repo     store.Repository
	Objects  store.ObjectStore
	Pool     *extraction.Pool
	Fabric   *broadcast.Fabric
	Machine  *services.StateMachine
	Pipeline *services.Pipeline

	logger  *slog.Logger
	closers []func() error
}

// New builds every component named by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			if a.Pool != nil {
				a.Pool.Shutdown(ctx)
			}
			_ = a.close()
		}
	}()

	if a.Repo, err = a.openRepository(ctx); err != nil {
		return nil, err
	}
	if a.Objects, err = a.openObjects(ctx); err != nil {
		return nil, err
	}

	bus := opts.Bus
	if bus == nil && cfg.Redis.Addr != "" {
		client, err := broadcast.NewRedisClient(ctx, broadcast.RedisConfig{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		if err != nil {
			// Local delivery still works without the bus.
			logger.Warn("Redis unavailable, events stay in-process.", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.closers = append(a.closers, client.Close)
			bus = broadcast.NewRedisBus(client, cfg.Redis.Channel, "documentintake", logger)
		}
	}
	a.Fabric = broadcast.NewFabric(broadcast.NewRegistry(), bus, logger)

	engine := opts.Engine
	if engine == nil {
		engine = extraction.NewTesseractEngine(float64(cfg.Extraction.DPI), cfg.Extraction.Languages...)
	}
	a.Pool = extraction.NewPool(engine, logger,
		extraction.WithWorkers(cfg.Extraction.Workers),
		extraction.WithQueueSize(cfg.Extraction.QueueSize),
		extraction.WithTaskTimeout(cfg.Extraction.TaskTimeout),
	)

	a.Machine = services.NewStateMachine(a.Repo, a.Fabric, cfg.Checkpoints, logger)
	orch := services.NewOrchestrator(a.Pool, services.NewPDFCPUSplitter(logger), a.Machine, services.OrchestratorConfig{
		TileThreshold: cfg.Extraction.TileThreshold,
		TileSize:      cfg.Extraction.TileSize,
	}, logger)

	deps := services.PipelineDeps{
		Repo:         a.Repo,
		Objects:      a.Objects,
		Machine:      a.Machine,
		Orchestrator: orch,
		Classifier:   services.PatternClassifier{},
		Dedupe:       cfg.Store.Dedupe,
		Logger:       logger,
	}
	if err := a.wireFieldServices(ctx, opts.Extractor, &deps); err != nil {
		return nil, err
	}
	a.Pipeline = services.NewPipeline(deps)

	logger.Info("Document intake core initialized.",
		"repository", cfg.Store.Repository, "objects", cfg.Store.Objects,
		"workers", a.Pool.Workers(), "bus", bus != nil)
	return a, nil
}

func (a *App) openRepository(ctx context.Context) (store.Repository, error) {
	cfg := a.Config
	switch cfg.Store.Repository {
	case config.BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return gcp.NewFirestoreRepository(client, cfg.Store.Collection, a.logger), nil
	case config.BackendPostgres:
		repo, err := store.OpenPostgres(ctx, store.PostgresConfig{
			DSN:             cfg.Store.DatabaseURL,
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.Store.MaxConnLifetime,
			DialTimeout:     cfg.Store.DialTimeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { repo.Close(); return nil })
		return repo, nil
	default:
		return store.NewMemoryRepository(), nil
	}
}

func (a *App) openObjects(ctx context.Context) (store.ObjectStore, error) {
	if a.Config.Store.Objects != config.BackendGCS {
		return store.NewMemoryObjectStore(), nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return gcp.NewGCSObjectStore(client, a.Config.Store.UploadsBucket, a.logger), nil
}

// wireFieldServices sets the field extractor and mapper. Mapping consumes
// extracted fields, so no mapper is wired without an extractor.
func (a *App) wireFieldServices(ctx context.Context, extractor services.FieldExtractor, deps *services.PipelineDeps) error {
	cfg := a.Config
	var vertex *gcp.VertexFieldService
	if extractor == nil && cfg.Mapping.ExtractWithVertex {
		client, err := gcp.NewVertexClient(ctx, cfg.GCP.ProjectID, cfg.GCP.Region, cfg.GCP.VertexModel)
		if err != nil {
			return fmt.Errorf("failed to create vertex client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		vertex = gcp.NewVertexFieldService(client, a.logger)
		extractor = vertex
	}

	if extractor != nil {
		deps.Extractor = extractor
		switch {
		case cfg.Mapping.ServiceURL != "":
			deps.Mapper = services.NewHTTPFieldMapper(cfg.Mapping.ServiceURL, cfg.Mapping.Timeout)
		case vertex != nil:
			deps.Mapper = vertex
		}
	} else if cfg.Mapping.ServiceURL != "" {
		a.logger.Warn("Mapping service configured without field extraction, mapping is disabled.", "url", cfg.Mapping.ServiceURL)
	}

	if cfg.GCP.WorkflowID != "" {
		handoff, err := gcp.NewWorkflowHandoff(ctx, gcp.WorkflowConfig{
			ProjectID:  cfg.GCP.ProjectID,
			Location:   cfg.GCP.WorkflowLocation,
			WorkflowID: cfg.GCP.WorkflowID,
		}, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, handoff.Close)
		deps.Handoff = handoff
	}
	return nil
}

// Shutdown drains the pipeline, then the worker pool, then closes clients.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Pipeline != nil {
		errs = append(errs, a.Pipeline.Shutdown(ctx))
	}
	if a.Pool != nil {
		a.Pool.Shutdown(ctx)
	}
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
