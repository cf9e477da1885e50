// Package postgres implements the metadata store (C3) on top of
// PostgreSQL via database/sql and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/leoscope/leoscope/internal/store"
)

// PostgresStore implements store.Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	users  *UserStore
	nodes  *NodeStore
	jobs   *JobStore
	runs   *RunStore
	tasks  *TaskStore
	config *ConfigStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(cfg *Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	s.users = &UserStore{db: db, logger: logger}
	s.nodes = &NodeStore{db: db, logger: logger}
	s.jobs = &JobStore{db: db, logger: logger}
	s.runs = &RunStore{db: db, logger: logger}
	s.tasks = &TaskStore{db: db, logger: logger}
	s.config = &ConfigStore{db: db, logger: logger}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

func (s *PostgresStore) Users() store.UserStore   { return s.users }
func (s *PostgresStore) Nodes() store.NodeStore   { return s.nodes }
func (s *PostgresStore) Jobs() store.JobStore     { return s.jobs }
func (s *PostgresStore) Runs() store.RunStore     { return s.runs }
func (s *PostgresStore) Tasks() store.TaskStore   { return s.tasks }
func (s *PostgresStore) Config() store.ConfigStore { return s.config }

// WithTx executes fn against a transaction-scoped Store.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txs := &txStore{tx: tx, logger: s.logger}
	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// DB returns the underlying connection pool, for components (health
// checks, disk metrics) that need direct database access.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// txStore wraps a transaction and lazily builds transaction-scoped
// sub-stores as they are requested.
type txStore struct {
	tx     *sql.Tx
	logger *slog.Logger

	users  *UserStore
	nodes  *NodeStore
	jobs   *JobStore
	runs   *RunStore
	tasks  *TaskStore
	config *ConfigStore
}

func (s *txStore) Users() store.UserStore {
	if s.users == nil {
		s.users = &UserStore{tx: s.tx, logger: s.logger}
	}
	return s.users
}

func (s *txStore) Nodes() store.NodeStore {
	if s.nodes == nil {
		s.nodes = &NodeStore{tx: s.tx, logger: s.logger}
	}
	return s.nodes
}

func (s *txStore) Jobs() store.JobStore {
	if s.jobs == nil {
		s.jobs = &JobStore{tx: s.tx, logger: s.logger}
	}
	return s.jobs
}

func (s *txStore) Runs() store.RunStore {
	if s.runs == nil {
		s.runs = &RunStore{tx: s.tx, logger: s.logger}
	}
	return s.runs
}

func (s *txStore) Tasks() store.TaskStore {
	if s.tasks == nil {
		s.tasks = &TaskStore{tx: s.tx, logger: s.logger}
	}
	return s.tasks
}

func (s *txStore) Config() store.ConfigStore {
	if s.config == nil {
		s.config = &ConfigStore{tx: s.tx, logger: s.logger}
	}
	return s.config
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already inside a transaction; run fn against ourselves.
	return fn(s)
}

func (s *txStore) Close() error { return nil }

// queryable is satisfied by both *sql.DB and *sql.Tx, letting each
// sub-store work unmodified whether it holds a pool handle or a live
// transaction.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
