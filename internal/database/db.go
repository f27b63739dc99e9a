package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"pingpay/backend/internal/config"
	"pingpay/backend/internal/models"
)

const (
	driverPostgres = "postgres"
	driverMemory   = "memory"

	pgUniqueViolation = "23505"
	txHashIndex       = "idx_transfers_tx_hash"
)

// Store is the persistence surface shared by DB and MemoryStore
type Store interface {
	UpsertWallet(ctx context.Context, wallet *models.Wallet) (*models.Wallet, bool, error)
	GetWalletByHandle(ctx context.Context, handle string) (*models.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error)
	UpdateWalletChannel(ctx context.Context, handle, channel string) (*models.Wallet, error)

	InsertTransfer(ctx context.Context, transfer *models.Transfer) (*models.Transfer, bool, error)
	GetTransferByID(ctx context.Context, transferID string) (*models.Transfer, error)
	GetTransferByClaimToken(ctx context.Context, token string) (*models.Transfer, error)
	ListTransfersBySender(ctx context.Context, address string) ([]models.Transfer, error)
	ListTransfersByHandle(ctx context.Context, handle string) ([]models.Transfer, error)
	ListPendingClaims(ctx context.Context, handle string) ([]models.Transfer, error)
	ListUnverifiedTransfers(ctx context.Context, idleSince time.Time, limit int) ([]models.Transfer, error)
	AttachTxHash(ctx context.Context, transferID, txHash string) (*models.Transfer, bool, error)
	ConfirmTransfer(ctx context.Context, transferID, txHash, claimToken string) (*models.Transfer, bool, error)
	ClaimTransfer(ctx context.Context, claimToken string, claimedAt time.Time) (*models.Transfer, bool, error)
	FailTransfer(ctx context.Context, transferID, reason string) (*models.Transfer, bool, error)
	IncrementVerifyAttempts(ctx context.Context, transferID, lastError string) (int, error)

	Close() error
}

// DB wraps sqlx.DB with the transfer and wallet queries
type DB struct {
	*sqlx.DB
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open returns the store selected by cfg.Driver. PostgreSQL stores are
// migrated before they are returned.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	logger = logger.Named("database")

	switch cfg.Driver {
	case driverMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		return NewMemoryStore(), nil
	case driverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := Connect(ctx, DSN(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("Database connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName))

	if err := RunMigrations(ctx, db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Database migrations applied", zap.String("path", cfg.MigrationPath))

	return db, nil
}

// DSN builds a lib/pq connection string
func DSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
}

// Connect opens and pings a PostgreSQL connection pool
func Connect(ctx context.Context, dsn string) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, driverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &DB{DB: db}, nil
}

// RunMigrations applies the schema file. Statements are idempotent.
func RunMigrations(ctx context.Context, db *DB, migrationPath string) error {
	content, err := os.ReadFile(migrationPath)
	if err != nil {
		return fmt.Errorf("failed to load migration file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	return nil
}

// Close closes the connection pool
func (db *DB) Close() error {
	return db.DB.Close()
}

// InTransaction runs fn in a transaction, rolling back when it errors
func (db *DB) InTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// isNoRows reports whether err means a guarded statement matched nothing
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports whether err violates the named unique index
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation && pqErr.Constraint == constraint
}

// txHashInUse is returned when a transaction is already bound to another transfer
func txHashInUse(txHash string) error {
	return models.Conflictf("transaction %s is already bound to another transfer", txHash)
}
