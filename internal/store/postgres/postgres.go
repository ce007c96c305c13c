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

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store"
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

func (s *PostgresStore) InsertRawRecords(ctx context.Context, records []*model.RawRecord) (int, error) {
	return queryInsertRawRecords(ctx, s.db, records)
}

func (s *PostgresStore) ListRawRecords(ctx context.Context, batchID string) ([]*model.RawRecord, error) {
	return queryListRawRecords(ctx, s.db, batchID)
}

func (s *PostgresStore) StagingExists(ctx context.Context, eventID string) (bool, error) {
	return queryStagingExists(ctx, s.db, eventID)
}

func (s *PostgresStore) InsertStagingRecord(ctx context.Context, rec *model.StagingRecord) error {
	return queryInsertStagingRecord(ctx, s.db, rec)
}

func (s *PostgresStore) ListStagingRecords(ctx context.Context, batchID string) ([]*model.StagingRecord, error) {
	return queryListStagingRecords(ctx, s.db, batchID)
}

func (s *PostgresStore) InsertDeadLetter(ctx context.Context, dl *model.DeadLetterRecord) error {
	return queryInsertDeadLetter(ctx, s.db, dl)
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, batchID string) ([]*model.DeadLetterRecord, error) {
	return queryListDeadLetters(ctx, s.db, batchID)
}

func (s *PostgresStore) DateExists(ctx context.Context, dateKey int) (bool, error) {
	return queryDateExists(ctx, s.db, dateKey)
}

func (s *PostgresStore) EnsureDateRange(ctx context.Context, from, to time.Time) error {
	return queryEnsureDateRange(ctx, s.db, from, to)
}

func (s *PostgresStore) GetFeature(ctx context.Context, featureID string) (*model.Feature, error) {
	return queryGetFeature(ctx, s.db, featureID)
}

func (s *PostgresStore) ListFeatures(ctx context.Context) ([]*model.Feature, error) {
	return queryListFeatures(ctx, s.db)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (*model.Document, error) {
	return queryGetDocument(ctx, s.db, documentID)
}

func (s *PostgresStore) EnsureDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	return queryEnsureDocument(ctx, s.db, doc)
}

func (s *PostgresStore) CurrentUserVersion(ctx context.Context, userID string) (*model.UserVersion, error) {
	return queryCurrentUserVersion(ctx, s.db, userID)
}

func (s *PostgresStore) UserVersionAt(ctx context.Context, userID string, at time.Time) (*model.UserVersion, error) {
	return queryUserVersionAt(ctx, s.db, userID, at)
}

func (s *PostgresStore) ListUserVersions(ctx context.Context, userID string) ([]*model.UserVersion, error) {
	return queryListUserVersions(ctx, s.db, userID)
}

func (s *PostgresStore) ListAllUserVersions(ctx context.Context) ([]*model.UserVersion, error) {
	return queryListAllUserVersions(ctx, s.db)
}

func (s *PostgresStore) InsertUserVersion(ctx context.Context, v *model.UserVersion) error {
	return queryInsertUserVersion(ctx, s.db, v)
}

// SucceedUserVersion closes the open version prevSK and inserts next in a
// single transaction, preserving the one-open-version invariant under retries.
func (s *PostgresStore) SucceedUserVersion(ctx context.Context, prevSK int64, next *model.UserVersion) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.SucceedUserVersion(ctx, prevSK, next)
	})
}

func (s *PostgresStore) FactExists(ctx context.Context, eventID string) (bool, error) {
	return queryFactExists(ctx, s.db, eventID)
}

func (s *PostgresStore) InsertFactEvent(ctx context.Context, f *model.FactEvent) error {
	return queryInsertFactEvent(ctx, s.db, f)
}

func (s *PostgresStore) ListFactEvents(ctx context.Context) ([]*model.FactEvent, error) {
	return queryListFactEvents(ctx, s.db)
}

func (s *PostgresStore) CountFactEvents(ctx context.Context) (int64, error) {
	return queryCountFactEvents(ctx, s.db)
}

func (s *PostgresStore) UpsertDailyActivity(ctx context.Context, rows []*model.DailyActivity) error {
	return queryUpsertDailyActivity(ctx, s.db, rows)
}

func (s *PostgresStore) ListDailyActivity(ctx context.Context) ([]*model.DailyActivity, error) {
	return queryListDailyActivity(ctx, s.db)
}

func (s *PostgresStore) SumDailyActivityEvents(ctx context.Context) (int64, error) {
	return querySumDailyActivityEvents(ctx, s.db)
}

// The projection swaps run inside a transaction so the shadow build and the
// rename are atomic from a reader's perspective.

func (s *PostgresStore) SwapRetentionCohorts(ctx context.Context, rows []*model.RetentionCohort) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.SwapRetentionCohorts(ctx, rows)
	})
}

func (s *PostgresStore) SwapFeatureFunnel(ctx context.Context, rows []*model.FeatureFunnelRow) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.SwapFeatureFunnel(ctx, rows)
	})
}

func (s *PostgresStore) SwapChurnRisk(ctx context.Context, rows []*model.ChurnRiskScore) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.SwapChurnRisk(ctx, rows)
	})
}

func (s *PostgresStore) ListChurnRisk(ctx context.Context) ([]*model.ChurnRiskScore, error) {
	return queryListChurnRisk(ctx, s.db)
}

func (s *PostgresStore) CreateBatchRun(ctx context.Context, run *model.BatchRun) error {
	return queryCreateBatchRun(ctx, s.db, run)
}

func (s *PostgresStore) UpdateBatchRun(ctx context.Context, run *model.BatchRun) error {
	return queryUpdateBatchRun(ctx, s.db, run)
}

func (s *PostgresStore) GetBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error) {
	return queryGetBatchRun(ctx, s.db, batchID)
}

func (s *PostgresStore) ListBatchRuns(ctx context.Context, limit int) ([]*model.BatchRun, error) {
	return queryListBatchRuns(ctx, s.db, limit)
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

func (s *txStore) InsertRawRecords(ctx context.Context, records []*model.RawRecord) (int, error) {
	return queryInsertRawRecords(ctx, s.tx, records)
}

func (s *txStore) ListRawRecords(ctx context.Context, batchID string) ([]*model.RawRecord, error) {
	return queryListRawRecords(ctx, s.tx, batchID)
}

func (s *txStore) StagingExists(ctx context.Context, eventID string) (bool, error) {
	return queryStagingExists(ctx, s.tx, eventID)
}

func (s *txStore) InsertStagingRecord(ctx context.Context, rec *model.StagingRecord) error {
	return queryInsertStagingRecord(ctx, s.tx, rec)
}

func (s *txStore) ListStagingRecords(ctx context.Context, batchID string) ([]*model.StagingRecord, error) {
	return queryListStagingRecords(ctx, s.tx, batchID)
}

func (s *txStore) InsertDeadLetter(ctx context.Context, dl *model.DeadLetterRecord) error {
	return queryInsertDeadLetter(ctx, s.tx, dl)
}

func (s *txStore) ListDeadLetters(ctx context.Context, batchID string) ([]*model.DeadLetterRecord, error) {
	return queryListDeadLetters(ctx, s.tx, batchID)
}

func (s *txStore) DateExists(ctx context.Context, dateKey int) (bool, error) {
	return queryDateExists(ctx, s.tx, dateKey)
}

func (s *txStore) EnsureDateRange(ctx context.Context, from, to time.Time) error {
	return queryEnsureDateRange(ctx, s.tx, from, to)
}

func (s *txStore) GetFeature(ctx context.Context, featureID string) (*model.Feature, error) {
	return queryGetFeature(ctx, s.tx, featureID)
}

func (s *txStore) ListFeatures(ctx context.Context) ([]*model.Feature, error) {
	return queryListFeatures(ctx, s.tx)
}

func (s *txStore) GetDocument(ctx context.Context, documentID string) (*model.Document, error) {
	return queryGetDocument(ctx, s.tx, documentID)
}

func (s *txStore) EnsureDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	return queryEnsureDocument(ctx, s.tx, doc)
}

func (s *txStore) CurrentUserVersion(ctx context.Context, userID string) (*model.UserVersion, error) {
	return queryCurrentUserVersion(ctx, s.tx, userID)
}

func (s *txStore) UserVersionAt(ctx context.Context, userID string, at time.Time) (*model.UserVersion, error) {
	return queryUserVersionAt(ctx, s.tx, userID, at)
}

func (s *txStore) ListUserVersions(ctx context.Context, userID string) ([]*model.UserVersion, error) {
	return queryListUserVersions(ctx, s.tx, userID)
}

func (s *txStore) ListAllUserVersions(ctx context.Context) ([]*model.UserVersion, error) {
	return queryListAllUserVersions(ctx, s.tx)
}

func (s *txStore) InsertUserVersion(ctx context.Context, v *model.UserVersion) error {
	return queryInsertUserVersion(ctx, s.tx, v)
}

func (s *txStore) SucceedUserVersion(ctx context.Context, prevSK int64, next *model.UserVersion) error {
	return querySucceedUserVersion(ctx, s.tx, prevSK, next)
}

func (s *txStore) FactExists(ctx context.Context, eventID string) (bool, error) {
	return queryFactExists(ctx, s.tx, eventID)
}

func (s *txStore) InsertFactEvent(ctx context.Context, f *model.FactEvent) error {
	return queryInsertFactEvent(ctx, s.tx, f)
}

func (s *txStore) ListFactEvents(ctx context.Context) ([]*model.FactEvent, error) {
	return queryListFactEvents(ctx, s.tx)
}

func (s *txStore) CountFactEvents(ctx context.Context) (int64, error) {
	return queryCountFactEvents(ctx, s.tx)
}

func (s *txStore) UpsertDailyActivity(ctx context.Context, rows []*model.DailyActivity) error {
	return queryUpsertDailyActivity(ctx, s.tx, rows)
}

func (s *txStore) ListDailyActivity(ctx context.Context) ([]*model.DailyActivity, error) {
	return queryListDailyActivity(ctx, s.tx)
}

func (s *txStore) SumDailyActivityEvents(ctx context.Context) (int64, error) {
	return querySumDailyActivityEvents(ctx, s.tx)
}

func (s *txStore) SwapRetentionCohorts(ctx context.Context, rows []*model.RetentionCohort) error {
	return querySwapRetentionCohorts(ctx, s.tx, rows)
}

func (s *txStore) SwapFeatureFunnel(ctx context.Context, rows []*model.FeatureFunnelRow) error {
	return querySwapFeatureFunnel(ctx, s.tx, rows)
}

func (s *txStore) SwapChurnRisk(ctx context.Context, rows []*model.ChurnRiskScore) error {
	return querySwapChurnRisk(ctx, s.tx, rows)
}

func (s *txStore) ListChurnRisk(ctx context.Context) ([]*model.ChurnRiskScore, error) {
	return queryListChurnRisk(ctx, s.tx)
}

func (s *txStore) CreateBatchRun(ctx context.Context, run *model.BatchRun) error {
	return queryCreateBatchRun(ctx, s.tx, run)
}

func (s *txStore) UpdateBatchRun(ctx context.Context, run *model.BatchRun) error {
	return queryUpdateBatchRun(ctx, s.tx, run)
}

func (s *txStore) GetBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error) {
	return queryGetBatchRun(ctx, s.tx, batchID)
}

func (s *txStore) ListBatchRuns(ctx context.Context, limit int) ([]*model.BatchRun, error) {
	return queryListBatchRuns(ctx, s.tx, limit)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
