package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/catalog"
	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/events"
	"github.com/fyrsmithlabs/dispatchd/internal/historystore"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
	"github.com/fyrsmithlabs/dispatchd/internal/secrets"
	"github.com/fyrsmithlabs/dispatchd/internal/telemetry"
)

// app holds the wired engine and everything that must be closed with it.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	tel       *telemetry.Telemetry
	engine    *orchestrator.Engine
	executor  *orchestrator.Executor
	publisher *events.Publisher
	history   io.Closer
	watcher   *catalog.Watcher
}

// newApp initializes dependencies in order:
//  1. Logger and telemetry
//  2. History backend (memory or Redis)
//  3. NATS event publisher, when enabled
//  4. Engine, agent catalog and catalog watcher
//  5. Operation executor with output redaction
//
// Logs go to logOut.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	logCfg, err := logging.FromAppConfig(cfg.Logging, cfg.Observability.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	a.logger, err = logging.NewLoggerWithWriter(logCfg, logOut, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := a.logger.Underlying()

	a.tel, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if healthy, reason := a.tel.Health(); !healthy {
		logger.Warn("telemetry degraded", zap.String("reason", reason))
	}

	tracer := a.tel.Tracer("github.com/fyrsmithlabs/dispatchd")
	reporter := telemetry.NewErrorReporter(tracer, logger.Named("reporter"))

	engineOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Named("engine")),
		orchestrator.WithErrorReporter(reporter),
		orchestrator.WithTracer(tracer),
	}

	if cfg.History.Backend == config.HistoryBackendRedis {
		store, err := historystore.Open(ctx, cfg.History)
		if err != nil {
			return nil, err
		}
		a.history = store
		engineOpts = append(engineOpts, orchestrator.WithHistoryStore(store))
		logger.Info("using redis history", zap.String("addr", cfg.History.RedisAddr))
	}

	if cfg.Events.Enabled {
		a.publisher, err = events.Connect(cfg.Events, logger.Named("events"))
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, orchestrator.WithEventRecorder(a.publisher))
		logger.Info("publishing events", zap.String("url", cfg.Events.NATSURL))
	}

	a.engine = orchestrator.NewEngine(engineOpts...)

	if cfg.Catalog.Path != "" {
		n, err := catalog.LoadAndApply(ctx, cfg.Catalog.Path, a.engine)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent catalog: %w", err)
		}
		logger.Info("agent catalog loaded", zap.String("path", cfg.Catalog.Path), zap.Int("agents", n))

		if cfg.Catalog.Watch {
			a.watcher, err = catalog.NewWatcher(cfg.Catalog.Path, a.engine, catalog.WithWatchLogger(logger.Named("catalog")))
			if err != nil {
				return nil, err
			}
			if err := a.watcher.Start(ctx); err != nil {
				return nil, err
			}
		}
	}

	execOpts := []orchestrator.ExecutorOption{
		orchestrator.WithExecutorLogger(logger.Named("executor")),
		orchestrator.WithExecutorReporter(reporter),
	}
	if !cfg.Executor.DisableRedaction {
		redactor, err := secrets.New(secrets.WithAllowlist(cfg.Executor.RedactionAllowlist...))
		if err != nil {
			return nil, fmt.Errorf("failed to build output redactor: %w", err)
		}
		execOpts = append(execOpts, orchestrator.WithExecutorRedactor(redactor))
	}

	a.executor, err = orchestrator.NewExecutor(a.engine, nil, executorConfig(cfg.Executor), execOpts...)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func executorConfig(c config.ExecutorConfig) orchestrator.ExecutorConfig {
	return orchestrator.ExecutorConfig{
		MaxRetries:       c.MaxRetries,
		RetryDelay:       c.RetryDelay.Duration(),
		LearningEnabled:  !c.DisableLearning,
		EnforcementLevel: orchestrator.EnforcementLevel(c.EnforcementLevel),
		CostCap:          c.CostCap,
		OpsPerSecond:     c.OpsPerSecond,
		HistoryLimit:     c.HistoryLimit,
	}
}

// Close releases resources in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error

	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.publisher != nil {
		if err := a.publisher.Flush(a.cfg.Events.FlushTimeout.Duration()); err != nil && !errors.Is(err, events.ErrClosed) {
			errs = append(errs, fmt.Errorf("flush events: %w", err))
		}
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close events: %w", err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
