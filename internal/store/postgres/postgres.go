// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateGraph(ctx context.Context, g *model.Graph) error {
	return queryCreateGraph(ctx, s.db, g)
}

func (s *PostgresStore) GetGraph(ctx context.Context, name, version string) (*model.Graph, error) {
	return queryGetGraph(ctx, s.db, name, version)
}

func (s *PostgresStore) ListGraphs(ctx context.Context) ([]*model.GraphSummary, error) {
	return queryListGraphs(ctx, s.db)
}

func (s *PostgresStore) CreateFlowEvent(ctx context.Context, ev *model.FlowEvent) (bool, error) {
	return queryCreateFlowEvent(ctx, s.db, ev)
}

func (s *PostgresStore) UpdateFlowEvent(ctx context.Context, ev *model.FlowEvent) error {
	return queryUpdateFlowEvent(ctx, s.db, ev)
}

func (s *PostgresStore) GetFlowEvent(ctx context.Context, id string) (*model.FlowEvent, error) {
	return queryGetFlowEvent(ctx, s.db, id)
}

func (s *PostgresStore) ListFlowEvents(ctx context.Context, filter model.FlowEventFilter) ([]*model.FlowEvent, error) {
	return queryListFlowEvents(ctx, s.db, filter)
}

func (s *PostgresStore) Enqueue(ctx context.Context, msg *model.InboxMessage) (bool, error) {
	return queryEnqueue(ctx, s.db, msg)
}

func (s *PostgresStore) QueryPending(ctx context.Context, targetAdapterID string, limit int) ([]*model.InboxMessage, error) {
	return queryPending(ctx, s.db, targetAdapterID, limit)
}

func (s *PostgresStore) QueryPendingByBatch(ctx context.Context, targetAdapterID, batchID string) ([]*model.InboxMessage, error) {
	return queryPendingByBatch(ctx, s.db, targetAdapterID, batchID)
}

func (s *PostgresStore) QueryReadyBatches(ctx context.Context, targetAdapterID string, sources, limit int) ([]string, error) {
	return queryReadyBatches(ctx, s.db, targetAdapterID, sources, limit)
}

func (s *PostgresStore) CountPending(ctx context.Context, targetAdapterID string) (int64, error) {
	return queryCountPending(ctx, s.db, targetAdapterID)
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, messageID string) (int, error) {
	return queryRecordAttempt(ctx, s.db, messageID)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	return queryDeleteMessage(ctx, s.db, messageID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateGraph(ctx context.Context, g *model.Graph) error {
	return queryCreateGraph(ctx, s.tx, g)
}

func (s *txStore) GetGraph(ctx context.Context, name, version string) (*model.Graph, error) {
	return queryGetGraph(ctx, s.tx, name, version)
}

func (s *txStore) ListGraphs(ctx context.Context) ([]*model.GraphSummary, error) {
	return queryListGraphs(ctx, s.tx)
}

func (s *txStore) CreateFlowEvent(ctx context.Context, ev *model.FlowEvent) (bool, error) {
	return queryCreateFlowEvent(ctx, s.tx, ev)
}

func (s *txStore) UpdateFlowEvent(ctx context.Context, ev *model.FlowEvent) error {
	return queryUpdateFlowEvent(ctx, s.tx, ev)
}

func (s *txStore) GetFlowEvent(ctx context.Context, id string) (*model.FlowEvent, error) {
	return queryGetFlowEvent(ctx, s.tx, id)
}

func (s *txStore) ListFlowEvents(ctx context.Context, filter model.FlowEventFilter) ([]*model.FlowEvent, error) {
	return queryListFlowEvents(ctx, s.tx, filter)
}

func (s *txStore) Enqueue(ctx context.Context, msg *model.InboxMessage) (bool, error) {
	return queryEnqueue(ctx, s.tx, msg)
}

func (s *txStore) QueryPending(ctx context.Context, targetAdapterID string, limit int) ([]*model.InboxMessage, error) {
	return queryPending(ctx, s.tx, targetAdapterID, limit)
}

func (s *txStore) QueryPendingByBatch(ctx context.Context, targetAdapterID, batchID string) ([]*model.InboxMessage, error) {
	return queryPendingByBatch(ctx, s.tx, targetAdapterID, batchID)
}

func (s *txStore) QueryReadyBatches(ctx context.Context, targetAdapterID string, sources, limit int) ([]string, error) {
	return queryReadyBatches(ctx, s.tx, targetAdapterID, sources, limit)
}

func (s *txStore) CountPending(ctx context.Context, targetAdapterID string) (int64, error) {
	return queryCountPending(ctx, s.tx, targetAdapterID)
}

func (s *txStore) RecordAttempt(ctx context.Context, messageID string) (int, error) {
	return queryRecordAttempt(ctx, s.tx, messageID)
}

func (s *txStore) DeleteMessage(ctx context.Context, messageID string) error {
	return queryDeleteMessage(ctx, s.tx, messageID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
