// cmd/service/app.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"repository-reconciler/internal/config"
	"repository-reconciler/internal/connector"
	"repository-reconciler/internal/database"
	"repository-reconciler/internal/descriptor"
	"repository-reconciler/internal/github"
	"repository-reconciler/internal/metrics"
	"repository-reconciler/internal/notify"
	"repository-reconciler/internal/queue"
	"repository-reconciler/internal/reconciler"
	"repository-reconciler/internal/registry"
	"repository-reconciler/internal/secrets"
	"repository-reconciler/internal/store"
	"repository-reconciler/internal/store/memory"
	"repository-reconciler/internal/syncer"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *registry.Registry
	store      store.Store
	queue      queue.Queue
	metrics    *metrics.Metrics
	reconciler *reconciler.Service

	closers []func()
}

func connectorDefinitions(cfg *config.Config, logger *slog.Logger) []registry.Definition {
	return []registry.Definition{
		{
			ID:          github.ConnectorID,
			Label:       "GitHub",
			Description: "Public and private repositories hosted on " + cfg.GithubHost + ".",
			New: func() (connector.Connector, error) {
				provider, err := secretsProvider(cfg)
				if err != nil {
					return nil, err
				}
				return github.NewConnector(provider, github.Options{
					Host:       cfg.GithubHost,
					APIBaseURL: cfg.GithubAPIURL,
					SecretName: cfg.GithubSecretName,
					RateLimit:  cfg.GithubRateLimit,
				}, logger)
			},
		},
		{
			ID:          descriptor.ConnectorID,
			Label:       "Remote .yml file",
			Description: "A YAML descriptor file served over HTTP(S).",
			New: func() (connector.Connector, error) {
				return descriptor.NewConnector(&http.Client{Timeout: cfg.FetchTimeout}, logger), nil
			},
		},
	}
}

func secretsProvider(cfg *config.Config) (secrets.Provider, error) {
	kind := secrets.ProviderType(cfg.SecretsProvider)
	location := cfg.SecretsEnvPrefix
	if kind == secrets.KeyringType {
		location = cfg.SecretsKeyringService
	}
	return secrets.NewProvider(kind, location)
}

// newApp builds the store, queue, connectors and reconciler from configuration.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	reg, err := registry.New(connectorDefinitions(cfg, logger), cfg.EnabledConnectors)
	if err != nil {
		return nil, fmt.Errorf("failed to build connector registry: %w", err)
	}
	a.registry = reg
	logger.Info("Connectors enabled", "connectors", cfg.EnabledConnectors)

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openQueue(ctx); err != nil {
		a.close()
		return nil, err
	}

	dispatcher := notify.NewDispatcher(notify.NewLogSubscriber(logger))
	a.reconciler = reconciler.New(a.store, reg, dispatcher, a.metrics, logger, reconciler.Options{
		DryRun:                 cfg.DryRun,
		FetchTimeout:           cfg.FetchTimeout,
		FetchMaxAttempts:       cfg.FetchMaxAttempts,
		DeleteOnPartialFailure: cfg.DeleteOnPartialFailure,
	})
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case "memory":
		a.logger.Warn("Using in-memory store, records are lost on exit")
		a.store = memory.New()
		return nil
	default:
		dbpool, err := pgxpool.New(ctx, a.cfg.DBURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, dbpool.Close)
		a.logger.Info("Database connection established")

		if err := database.Migrate(a.cfg.DBURL); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
		a.logger.Info("Database migrations applied successfully")
		a.store = database.NewStore(dbpool)
		return nil
	}
}

func (a *app) openQueue(ctx context.Context) error {
	if a.cfg.QueueDriver != "redis" {
		a.queue = queue.NewMemory()
		return nil
	}
	q, err := queue.NewRedis(ctx, a.cfg.RedisAddr, a.cfg.RedisQueueKey)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = q.Close() })
	a.queue = q
	return nil
}

// newSyncer builds a distributor over rec, which may be a dry-run copy of the app reconciler.
func (a *app) newSyncer(rec *reconciler.Service) (*syncer.Syncer, error) {
	return syncer.NewSyncer(rec, a.queue, a.metrics, a.logger, syncer.Options{
		Workers:  a.cfg.Workers,
		Schedule: a.cfg.SyncSchedule,
	})
}

// forRun returns the reconciler to use, honouring a --dry-run flag on top of DRY_RUN.
func (a *app) forRun(dryRun bool) *reconciler.Service {
	if dryRun {
		return a.reconciler.DryRun()
	}
	return a.reconciler
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
