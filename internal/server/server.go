// Package server wires the scheduler's components together and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/api"
	"github.com/JakeFAU/visit-scheduler/internal/clock/system"
	"github.com/JakeFAU/visit-scheduler/internal/config"
	collyfetcher "github.com/JakeFAU/visit-scheduler/internal/fetcher/colly"
	"github.com/JakeFAU/visit-scheduler/internal/filter"
	"github.com/JakeFAU/visit-scheduler/internal/id/uuid"
	"github.com/JakeFAU/visit-scheduler/internal/manager"
	"github.com/JakeFAU/visit-scheduler/internal/poller"
	pgpoller "github.com/JakeFAU/visit-scheduler/internal/poller/postgres"
	"github.com/JakeFAU/visit-scheduler/internal/publisher"
	memorypublisher "github.com/JakeFAU/visit-scheduler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/visit-scheduler/internal/publisher/pubsub"
	"github.com/JakeFAU/visit-scheduler/internal/queue"
	"github.com/JakeFAU/visit-scheduler/internal/redirect"
	"github.com/JakeFAU/visit-scheduler/internal/telemetry"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     visit.Clock
	ids       visit.IDGenerator
	queue     *queue.VisitQueue
	manager   *manager.Manager
	pipeline  *filter.Chain
	index     *filter.Index
	apiServer *api.Server
	tracer    *sdktrace.TracerProvider

	store     *pgpoller.Store
	memory    *memorypublisher.Publisher
	gcp       *gcppublisher.Publisher
	workPoll  visit.WorkPoller
	publisher visit.Publisher
}

// NewApp builds every component described by cfg. Nothing runs until Run.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("poller", cfg.Poller.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.Int("workers", cfg.Manager.Workers),
	)

	qcfg, err := cfg.QueueSettings()
	if err != nil {
		return nil, fmt.Errorf("queue config: %w", err)
	}
	if a.queue, err = queue.New(qcfg, queue.WithClock(a.clock), queue.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	if a.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName); err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := a.initPoller(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err := a.initPipeline(); err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	if a.manager, err = manager.New(a.queue, a.workPoll, a.pipeline, cfg.ManagerSettings(),
		manager.WithClock(a.clock), manager.WithLogger(logger)); err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("create manager: %w", err)
	}

	a.apiServer = api.NewServer(a.queue, a.manager, a.index, a.ids, api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)
	return a, nil
}

func (a *App) initPoller(ctx context.Context) error {
	pc := a.cfg.Poller
	switch pc.Provider {
	case config.ProviderPostgres:
		store, err := pgpoller.New(ctx, pgpoller.Config{
			DSN:                    pc.Postgres.DSN,
			Table:                  pc.Postgres.Table,
			MaxConns:               pc.Postgres.MaxConns,
			MinConns:               pc.Postgres.MinConns,
			MaxConnLifetime:        pc.Postgres.MaxConnLifetime,
			Lease:                  pc.Postgres.Lease,
			RevisitAfter:           pc.Postgres.RevisitAfter,
			DomainDepthCoefficient: pc.DomainDepthCoefficient,
			MaxDomainURLs:          pc.MaxDomainURLs,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("connect postgres poller: %w", err)
		}
		a.store = store
		a.workPoll = store
		if pc.Postgres.Migrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
		}
	default:
		seeds := make([]poller.Seed, 0, len(pc.Seeds))
		for _, s := range pc.Seeds {
			typ, err := visit.ParseType(s.Type)
			if err != nil {
				return fmt.Errorf("seed %s: %w", s.URL, err)
			}
			seeds = append(seeds, poller.Seed{URL: s.URL, Type: typ, Priority: s.Priority})
		}
		static, err := poller.NewStaticFromSeeds(seeds, a.ids, pc.DomainDepthCoefficient, pc.MaxDomainURLs)
		if err != nil {
			return fmt.Errorf("static poller: %w", err)
		}
		a.workPoll = static
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case config.ProviderMemory:
		a.memory = memorypublisher.New(memorypublisher.WithLimit(10000))
		a.publisher = a.memory
	case config.ProviderPubSub:
		pub, err := gcppublisher.Connect(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("connect pubsub: %w", err)
		}
		a.gcp = pub
		a.publisher = pub
	}
	return nil
}

func (a *App) initPipeline() error {
	stages := []filter.Filter{
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Fetch.UserAgent,
			RespectRobots: a.cfg.Fetch.RespectRobots,
			Timeout:       a.cfg.Fetch.Timeout,
		}, a.clock, a.logger),
		redirect.NewFilter(a.cfg.Redirect.MaxPath, a.ids, a.logger),
	}
	if a.store != nil {
		stages = append(stages, pgpoller.NewRecorder(a.store))
	}
	if a.publisher != nil {
		stages = append(stages, publisher.NewFilter(a.publisher, a.cfg.Publisher.Topic, a.logger))
	}
	a.pipeline = filter.NewChain("pipeline", a.logger, stages...)
	a.index = filter.NewIndex()
	if err := a.index.Register(a.pipeline); err != nil {
		return fmt.Errorf("register filters: %w", err)
	}
	return nil
}

// Handler returns the diagnostics HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the manager and the diagnostics server and blocks until ctx is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	a.logger.Info("application started")
	runErr := a.manager.Run(ctx)
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	a.Close()
	return runErr
}

// Close releases external connections.
func (a *App) Close() {
	a.queue.Close()
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.gcp != nil {
		if err := a.gcp.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
		a.gcp = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}
