package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/secretmanager/auth"
	"github.com/upb/secretmanager/config"
	"github.com/upb/secretmanager/handlers"
	"github.com/upb/secretmanager/internal/observability"
	"github.com/upb/secretmanager/keycloak"
	"github.com/upb/secretmanager/middleware"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/realtime"
	"github.com/upb/secretmanager/repositories"
	"github.com/upb/secretmanager/repositories/memory"
	"github.com/upb/secretmanager/repositories/postgres"
	"github.com/upb/secretmanager/secretstore"
	"github.com/upb/secretmanager/services/analytics"
	"github.com/upb/secretmanager/services/audit"
	"github.com/upb/secretmanager/services/ratelimit"
	"github.com/upb/secretmanager/services/workflow"
	"go.uber.org/zap"
)

const (
	auditStopTimeout        = 5 * time.Second
	rateLimitCleanupEvery   = time.Minute
	rateLimitIdleExpiration = 10 * time.Minute
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Ledger. RepoFactory is nil when the memory driver is selected.
	RepoFactory *postgres.RepositoryFactory
	Repos       *repositories.Repositories
	TxManager   repositories.TransactionManager

	// Secret store
	Store secretstore.Store

	// Services
	Recorder    *audit.Recorder
	Engine      *workflow.Engine
	Analytics   *analytics.Service
	RateLimiter *ratelimit.Service

	// Realtime
	Hub      *realtime.Hub
	Notifier *realtime.Notifier

	// Auth
	Validator      middleware.TokenValidator
	AuthFlow       *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware

	// HealthChecks backs the readiness probe
	HealthChecks map[string]handlers.HealthChecker

	stopWorkers context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      observability.NewMetrics(),
		HealthChecks: make(map[string]handlers.HealthChecker),
	}

	if err := deps.initLedger(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	if err := deps.initSecretStore(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize secret store: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("ledger", cfg.Ledger.Driver),
		zap.String("secret_store", cfg.SecretStore.Driver))
	return deps, nil
}

// initLedger opens the request ledger and runs migrations when configured to
func (d *Dependencies) initLedger(ctx context.Context, cfg *config.Config) error {
	if cfg.Ledger.Driver == config.DriverMemory {
		store := memory.NewStore()
		d.Repos = store.Repositories()
		d.TxManager = store.TransactionManager()
		d.Logger.Warn("using in-memory ledger, state is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory

	if err := factory.HealthCheck(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Ledger.MigrateOnStart {
		if err := factory.Migrate(ctx, postgres.MigrateUp); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()
	d.HealthChecks["database"] = factory

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()),
		zap.Bool("separate_audit_db", !factory.AuditSharesLedger()))
	return nil
}

// initSecretStore connects the payload store and wraps it with call metrics
func (d *Dependencies) initSecretStore(cfg *config.Config) error {
	var store secretstore.Store
	switch cfg.SecretStore.Driver {
	case config.DriverMemory:
		store = secretstore.NewMemory()
		d.Logger.Warn("using in-memory secret store, payloads are lost on restart")
	default:
		bao, err := secretstore.NewOpenBao(cfg.OpenBao, d.Logger)
		if err != nil {
			return err
		}
		store = bao
	}

	d.Store = secretstore.Instrument(store, d.Metrics)
	d.HealthChecks["secret_store"] = d.Store
	return nil
}

// initServices builds the workflow engine and the services around it
func (d *Dependencies) initServices(cfg *config.Config) error {
	sharesLedger := d.RepoFactory == nil || d.RepoFactory.AuditSharesLedger()
	d.Recorder = audit.NewRecorder(d.Repos.AuditLogs, audit.Config{
		SharesLedger: sharesLedger,
		BufferSize:   cfg.Audit.BufferSize,
		WorkerCount:  cfg.Audit.WorkerCount,
	}, d.Metrics, d.Logger)
	if err := d.Recorder.Start(); err != nil {
		return fmt.Errorf("failed to start audit recorder: %w", err)
	}

	d.Hub = realtime.NewHub(d.Metrics, d.Logger)
	d.Notifier = realtime.NewNotifier(d.Hub)

	d.Engine = workflow.NewEngine(d.Repos, d.TxManager, d.Store, d.Recorder, d.Notifier, d.Metrics, d.Logger)
	d.Analytics = analytics.NewService(d.Repos, d.Logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	d.stopWorkers = cancel
	if cfg.RateLimit.Enabled {
		d.RateLimiter = ratelimit.NewService(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, d.Logger)
		go d.RateLimiter.StartCleanupWorker(workerCtx, rateLimitCleanupEvery, rateLimitIdleExpiration)
	}
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Keycloak.URL == "" || cfg.Keycloak.Realm == "" || cfg.Keycloak.ClientID == "" {
		d.Logger.Warn("keycloak not configured, auth endpoints disabled")
		// Reject-all validator so protected routes return 401
		d.Validator = rejectAllValidator{}
		d.AuthMiddleware = middleware.NewAuthMiddleware(d.Validator, d.Logger)
		return
	}

	validator := keycloak.NewValidator(cfg.Keycloak)
	d.Validator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.AuthFlow = auth.NewHandler(cfg.Keycloak, keycloak.NewTokenExchanger(cfg.Keycloak), validator, d.Logger)
	d.HealthChecks["identity"] = validator
	d.Logger.Info("auth handler initialized", zap.String("issuer", cfg.Keycloak.IssuerURL()))
}

// rejectAllValidator rejects all tokens (used when Keycloak is not configured)
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*models.Identity, error) {
	return nil, errors.New("authentication not configured")
}

// Close gracefully shuts down all dependencies.
// Background workers stop first so queued audit entries drain before the database closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopWorkers != nil {
		d.stopWorkers()
	}

	if d.Hub != nil {
		d.Hub.Close()
	}

	if d.Recorder != nil {
		if err := d.Recorder.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit recorder: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
