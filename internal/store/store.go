// Package store defines the persistence interface for the warehouse.
package store

import (
	"context"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
)

// Store is the persistence interface for the warehouse tables.
//
// Lookup methods that can miss (GetFeature, GetDocument, CurrentUserVersion,
// UserVersionAt, GetBatchRun) return (nil, nil) when no row exists; errors are
// reserved for infrastructure failures.
type Store interface {
	// Raw events (immutable once stored; insert skips duplicate event ids).
	InsertRawRecords(ctx context.Context, records []*model.RawRecord) (int, error)
	ListRawRecords(ctx context.Context, batchID string) ([]*model.RawRecord, error)

	// Staging
	StagingExists(ctx context.Context, eventID string) (bool, error)
	InsertStagingRecord(ctx context.Context, rec *model.StagingRecord) error
	ListStagingRecords(ctx context.Context, batchID string) ([]*model.StagingRecord, error)

	// Dead letters
	InsertDeadLetter(ctx context.Context, dl *model.DeadLetterRecord) error
	ListDeadLetters(ctx context.Context, batchID string) ([]*model.DeadLetterRecord, error)

	// Date dimension (pre-populated; EnsureDateRange tops up)
	DateExists(ctx context.Context, dateKey int) (bool, error)
	EnsureDateRange(ctx context.Context, from, to time.Time) error

	// Feature dimension (pre-populated from the product catalog)
	GetFeature(ctx context.Context, featureID string) (*model.Feature, error)
	ListFeatures(ctx context.Context) ([]*model.Feature, error)

	// Document dimension (created lazily on first reference)
	GetDocument(ctx context.Context, documentID string) (*model.Document, error)
	EnsureDocument(ctx context.Context, doc *model.Document) (*model.Document, error)

	// User dimension: append-only SCD2 version log. A version is current iff
	// its interval is open; a partial unique index guarantees at most one open
	// version per natural key.
	CurrentUserVersion(ctx context.Context, userID string) (*model.UserVersion, error)
	UserVersionAt(ctx context.Context, userID string, at time.Time) (*model.UserVersion, error)
	ListUserVersions(ctx context.Context, userID string) ([]*model.UserVersion, error)
	ListAllUserVersions(ctx context.Context) ([]*model.UserVersion, error)
	InsertUserVersion(ctx context.Context, v *model.UserVersion) error
	// SucceedUserVersion closes the open version prevSK at next.EffectiveFrom
	// and inserts next, in a single transaction. Returns a
	// *model.VersioningConflict if prevSK is no longer the open version.
	SucceedUserVersion(ctx context.Context, prevSK int64, next *model.UserVersion) error

	// Event-grain facts (insert-only, unique per event id)
	FactExists(ctx context.Context, eventID string) (bool, error)
	InsertFactEvent(ctx context.Context, f *model.FactEvent) error
	ListFactEvents(ctx context.Context) ([]*model.FactEvent, error)
	CountFactEvents(ctx context.Context) (int64, error)

	// Daily activity rollup: upsert replaces every measure for an existing
	// (date, user) key so re-aggregation converges instead of double-counting.
	UpsertDailyActivity(ctx context.Context, rows []*model.DailyActivity) error
	ListDailyActivity(ctx context.Context) ([]*model.DailyActivity, error)
	SumDailyActivityEvents(ctx context.Context) (int64, error)

	// Derived projections: each Swap builds into a shadow table and swaps it
	// in atomically, so readers see either the old or the new projection.
	SwapRetentionCohorts(ctx context.Context, rows []*model.RetentionCohort) error
	SwapFeatureFunnel(ctx context.Context, rows []*model.FeatureFunnelRow) error
	SwapChurnRisk(ctx context.Context, rows []*model.ChurnRiskScore) error
	ListChurnRisk(ctx context.Context) ([]*model.ChurnRiskScore, error)

	// Batch bookkeeping
	CreateBatchRun(ctx context.Context, run *model.BatchRun) error
	UpdateBatchRun(ctx context.Context, run *model.BatchRun) error
	GetBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error)
	ListBatchRuns(ctx context.Context, limit int) ([]*model.BatchRun, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
