package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/flowsim/internal/conditions"
	"github.com/rendis/flowsim/internal/engine"
	"github.com/rendis/flowsim/internal/logging"
	"github.com/rendis/flowsim/internal/steps"
	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/internal/streaming"
	"github.com/rendis/flowsim/internal/validation"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg       *Config
	logger    *slog.Logger
	store     store.Store
	hub       *streaming.MemoryHub
	validator *validation.DefinitionValidator
	runner    *engine.Runner

	shutdownTelemetry func(context.Context) error
}

// newApp opens and migrates the configured store and wires the engine.
func newApp(ctx context.Context, cfg *Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)

	tp, shutdown, err := initTracer(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	policy := conditions.FailOpen
	if cfg.Engine.UnknownOperator == "closed" {
		policy = conditions.FailClosed
	}
	evaluator := conditions.NewEvaluator(conditions.WithUnknownOperatorPolicy(policy))
	registry := steps.NewBuiltinRegistry()

	validator, err := validation.NewDefinitionValidator(registry, evaluator)
	if err != nil {
		_ = st.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	opts := []engine.Option{
		engine.WithExecutor(steps.NewExecutor(registry,
			steps.WithDelay(cfg.Engine.StepDelay),
			steps.WithLogger(logger))),
		engine.WithEvaluator(evaluator),
		engine.WithEventHub(hub),
		engine.WithStoreRetry(storeRetry(cfg.Engine.StoreRetries)),
		engine.WithLogger(logger),
	}
	if tp != nil {
		opts = append(opts, engine.WithTracerProvider(tp))
	}

	return &app{
		cfg:               cfg,
		logger:            logger,
		store:             st,
		hub:               hub,
		validator:         validator,
		runner:            engine.NewRunner(st, opts...),
		shutdownTelemetry: shutdown,
	}, nil
}

func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case driverMemory:
		return store.NewMemoryStore(), nil
	case driverPostgres:
		return store.NewPostgresStore(ctx, cfg.DSN)
	default:
		dsn := cfg.DSN
		if !strings.Contains(dsn, ":") {
			dsn = "file:" + dsn
		}
		if strings.HasPrefix(dsn, "file:") {
			if dir := filepath.Dir(strings.TrimPrefix(dsn, "file:")); dir != "." {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return nil, err
				}
			}
		}
		return store.NewLibSQLStore(dsn)
	}
}

func storeRetry(attempts int) engine.RetryPolicy {
	p := engine.DefaultRetryPolicy()
	p.Attempts = attempts
	return p
}

func (a *app) importer() *validation.Importer {
	return validation.NewImporter(a.store, a.validator, a.logger)
}

// Close flushes telemetry and closes the store.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.shutdownTelemetry(ctx), a.store.Close())
}
