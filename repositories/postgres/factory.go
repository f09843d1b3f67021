package postgres

import (
	"context"
	"fmt"

	"github.com/upb/secretmanager/config"
	"github.com/upb/secretmanager/migrations"
	"github.com/upb/secretmanager/repositories"
	"go.uber.org/zap"
)

// Migration version tables; distinct so both schemas may live on one server
const (
	LedgerMigrationsTable = "schema_migrations"
	AuditMigrationsTable  = "audit_schema_migrations"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for audit logs
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// NewRepositoryFactoryFromDB builds a factory over existing pools. auditDB may be nil.
func NewRepositoryFactoryFromDB(db, auditDB *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, auditDB: auditDB, logger: logger}
}

// Migrate moves the ledger schema, and the audit schema when it lives in its own database
func (f *RepositoryFactory) Migrate(ctx context.Context, direction MigrationDirection) error {
	if err := f.db.RunMigrations(ctx, migrations.FS, migrations.LedgerDir, LedgerMigrationsTable, direction); err != nil {
		return fmt.Errorf("ledger schema: %w", err)
	}
	if f.auditDB != nil {
		if err := f.auditDB.RunMigrations(ctx, migrations.FS, migrations.AuditDir, AuditMigrationsTable, direction); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

// SchemaVersions reports the applied version per schema
func (f *RepositoryFactory) SchemaVersions(ctx context.Context) (map[string]uint, error) {
	versions := make(map[string]uint)
	v, dirty, err := f.db.MigrationVersion(ctx, migrations.FS, migrations.LedgerDir, LedgerMigrationsTable)
	if err != nil {
		return nil, err
	}
	if dirty {
		f.logger.Warn("ledger schema is dirty", zap.Uint("version", v))
	}
	versions["ledger"] = v

	if f.auditDB != nil {
		v, dirty, err := f.auditDB.MigrationVersion(ctx, migrations.FS, migrations.AuditDir, AuditMigrationsTable)
		if err != nil {
			return nil, err
		}
		if dirty {
			f.logger.Warn("audit schema is dirty", zap.Uint("version", v))
		}
		versions["audit"] = v
	}
	return versions, nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	auditDB := f.db
	if f.auditDB != nil {
		auditDB = f.auditDB
	}
	return &repositories.Repositories{
		Users:     NewUserRepository(f.db, f.logger),
		Requests:  NewRequestRepository(f.db, f.logger),
		AuditLogs: NewAuditRepository(auditDB, f.logger),
	}
}

// GetTransactionManager returns a transaction manager over the ledger database
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// AuditSharesLedger reports whether audit entries can be written inside ledger transactions
func (f *RepositoryFactory) AuditSharesLedger() bool {
	return f.auditDB == nil
}

// HealthCheck pings every configured database
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if err := f.db.HealthCheck(ctx); err != nil {
		return err
	}
	if f.auditDB != nil {
		if err := f.auditDB.HealthCheck(ctx); err != nil {
			return fmt.Errorf("audit %w", err)
		}
	}
	return nil
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
