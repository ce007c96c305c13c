// Package storetest provides an in-memory store.Store for exercising the
// pipeline stages without a database. It mirrors the Postgres schema's
// uniqueness rules: duplicate event ids are rejected, at most one user version
// per natural key may be open, and the daily-activity upsert replaces measures.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store"
)

// Fake is an in-memory store.Store.
type Fake struct {
	mu sync.Mutex

	raw         []*model.RawRecord
	staging     []*model.StagingRecord
	deadLetters []*model.DeadLetterRecord
	dates       map[int]bool
	features    map[string]*model.Feature
	documents   map[string]*model.Document
	versions    []*model.UserVersion
	facts       []*model.FactEvent
	daily       map[string]*model.DailyActivity
	cohorts     []*model.RetentionCohort
	funnel      []*model.FeatureFunnelRow
	churn       []*model.ChurnRiskScore
	batchRuns   map[string]*model.BatchRun

	nextUserSK     int64
	nextDocumentSK int64
	nextFactSK     int64
	nextDeadID     int64
	nextRunID      int64
}

// Compile-time check that Fake implements store.Store.
var _ store.Store = (*Fake)(nil)

// New returns a Fake seeded like the schema migrations: the date dimension
// covers 2024 through 2026 and the feature catalog is loaded.
func New() *Fake {
	f := &Fake{
		dates:     make(map[int]bool),
		features:  make(map[string]*model.Feature),
		documents: make(map[string]*model.Document),
		daily:     make(map[string]*model.DailyActivity),
		batchRuns: make(map[string]*model.BatchRun),
	}
	f.seedDates(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	for i, c := range [][2]string{
		{"real_time_collab", "Real-time Collaboration"},
		{"comments", "Comments"},
		{"version_history", "Version History"},
		{"export_pdf", "Export to PDF"},
		{"templates", "Templates"},
		{"cloud_storage", "Cloud Storage"},
		{"advanced_search", "Advanced Search"},
		{"team_analytics", "Team Analytics"},
	} {
		f.features[c[0]] = &model.Feature{SurrogateKey: int64(i + 1), FeatureID: c[0], Name: c[1]}
	}
	return f
}

func (f *Fake) seedDates(from, to time.Time) {
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		f.dates[model.DateKeyFor(d)] = true
	}
}

func (f *Fake) InsertRawRecords(ctx context.Context, records []*model.RawRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, r := range records {
		if f.rawByID(r.EventID) != nil {
			continue
		}
		cp := *r
		if cp.IngestedAt.IsZero() {
			cp.IngestedAt = time.Now()
		}
		f.raw = append(f.raw, &cp)
		inserted++
	}
	return inserted, nil
}

func (f *Fake) rawByID(eventID string) *model.RawRecord {
	for _, r := range f.raw {
		if r.EventID == eventID {
			return r
		}
	}
	return nil
}

func (f *Fake) ListRawRecords(ctx context.Context, batchID string) ([]*model.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.RawRecord
	for _, r := range f.raw {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *Fake) StagingExists(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.staging {
		if s.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) InsertStagingRecord(ctx context.Context, rec *model.StagingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.staging {
		if s.EventID == rec.EventID {
			return fmt.Errorf("duplicate staging event id %s", rec.EventID)
		}
	}
	cp := *rec
	f.staging = append(f.staging, &cp)
	return nil
}

func (f *Fake) ListStagingRecords(ctx context.Context, batchID string) ([]*model.StagingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.StagingRecord
	for _, s := range f.staging {
		if s.BatchID == batchID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventTimestamp.Before(out[j].EventTimestamp)
	})
	return out, nil
}

func (f *Fake) InsertDeadLetter(ctx context.Context, dl *model.DeadLetterRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.deadLetters {
		if existing.EventID == dl.EventID && existing.BatchID == dl.BatchID && existing.Stage == dl.Stage {
			dl.ID = existing.ID
			dl.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	f.nextDeadID++
	dl.ID = f.nextDeadID
	dl.CreatedAt = time.Now()
	cp := *dl
	f.deadLetters = append(f.deadLetters, &cp)
	return nil
}

func (f *Fake) ListDeadLetters(ctx context.Context, batchID string) ([]*model.DeadLetterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.DeadLetterRecord
	for _, dl := range f.deadLetters {
		if dl.BatchID == batchID {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (f *Fake) DateExists(ctx context.Context, dateKey int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dates[dateKey], nil
}

func (f *Fake) EnsureDateRange(ctx context.Context, from, to time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seedDates(from, to)
	return nil
}

func (f *Fake) GetFeature(ctx context.Context, featureID string) (*model.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.features[featureID], nil
}

func (f *Fake) ListFeatures(ctx context.Context) ([]*model.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Feature, 0, len(f.features))
	for _, ft := range f.features {
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
	return out, nil
}

func (f *Fake) GetDocument(ctx context.Context, documentID string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.documents[documentID], nil
}

func (f *Fake) EnsureDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.documents[doc.DocumentID]; ok {
		return existing, nil
	}
	f.nextDocumentSK++
	cp := *doc
	cp.SurrogateKey = f.nextDocumentSK
	f.documents[doc.DocumentID] = &cp
	return &cp, nil
}

func (f *Fake) CurrentUserVersion(ctx context.Context, userID string) (*model.UserVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openVersion(userID), nil
}

func (f *Fake) openVersion(userID string) *model.UserVersion {
	for _, v := range f.versions {
		if v.UserID == userID && v.EffectiveTo == nil {
			return v
		}
	}
	return nil
}

func (f *Fake) UserVersionAt(ctx context.Context, userID string, at time.Time) (*model.UserVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.UserVersion
	for _, v := range f.versions {
		if v.UserID != userID || !v.CoversInstant(at) {
			continue
		}
		if best == nil || v.EffectiveFrom.After(best.EffectiveFrom) {
			best = v
		}
	}
	return best, nil
}

func (f *Fake) ListUserVersions(ctx context.Context, userID string) ([]*model.UserVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.UserVersion
	for _, v := range f.versions {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveFrom.Before(out[j].EffectiveFrom) })
	return out, nil
}

func (f *Fake) ListAllUserVersions(ctx context.Context) ([]*model.UserVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.UserVersion, len(f.versions))
	copy(out, f.versions)
	return out, nil
}

func (f *Fake) InsertUserVersion(ctx context.Context, v *model.UserVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertVersionLocked(v)
}

func (f *Fake) insertVersionLocked(v *model.UserVersion) error {
	if v.EffectiveTo == nil && f.openVersion(v.UserID) != nil {
		return &model.VersioningConflict{
			UserID: v.UserID,
			Err:    fmt.Errorf("open version already exists"),
		}
	}
	f.nextUserSK++
	v.SurrogateKey = f.nextUserSK
	cp := *v
	f.versions = append(f.versions, &cp)
	return nil
}

func (f *Fake) SucceedUserVersion(ctx context.Context, prevSK int64, next *model.UserVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var prev *model.UserVersion
	for _, v := range f.versions {
		if v.SurrogateKey == prevSK && v.EffectiveTo == nil {
			prev = v
			break
		}
	}
	if prev == nil {
		return &model.VersioningConflict{
			UserID: next.UserID,
			Err:    fmt.Errorf("version %d is not the open version", prevSK),
		}
	}
	closeAt := next.EffectiveFrom
	prev.EffectiveTo = &closeAt
	if err := f.insertVersionLocked(next); err != nil {
		prev.EffectiveTo = nil
		return err
	}
	return nil
}

func (f *Fake) FactExists(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fe := range f.facts {
		if fe.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) InsertFactEvent(ctx context.Context, fe *model.FactEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.facts {
		if existing.EventID == fe.EventID {
			return fmt.Errorf("duplicate fact event id %s", fe.EventID)
		}
	}
	f.nextFactSK++
	fe.SurrogateKey = f.nextFactSK
	cp := *fe
	f.facts = append(f.facts, &cp)
	return nil
}

func (f *Fake) ListFactEvents(ctx context.Context) ([]*model.FactEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.FactEvent, len(f.facts))
	copy(out, f.facts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventTimestamp.Before(out[j].EventTimestamp)
	})
	return out, nil
}

func (f *Fake) CountFactEvents(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.facts)), nil
}

func dailyKey(date time.Time, userSK int64) string {
	return fmt.Sprintf("%s|%d", date.Format("2006-01-02"), userSK)
}

func (f *Fake) UpsertDailyActivity(ctx context.Context, rows []*model.DailyActivity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		cp := *r
		f.daily[dailyKey(r.ActivityDate, r.UserSK)] = &cp
	}
	return nil
}

func (f *Fake) ListDailyActivity(ctx context.Context) ([]*model.DailyActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.DailyActivity, 0, len(f.daily))
	for _, a := range f.daily {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ActivityDate.Equal(out[j].ActivityDate) {
			return out[i].ActivityDate.Before(out[j].ActivityDate)
		}
		return out[i].UserSK < out[j].UserSK
	})
	return out, nil
}

func (f *Fake) SumDailyActivityEvents(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.daily {
		n += int64(a.TotalEvents)
	}
	return n, nil
}

func (f *Fake) SwapRetentionCohorts(ctx context.Context, rows []*model.RetentionCohort) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cohorts = append([]*model.RetentionCohort(nil), rows...)
	return nil
}

func (f *Fake) SwapFeatureFunnel(ctx context.Context, rows []*model.FeatureFunnelRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funnel = append([]*model.FeatureFunnelRow(nil), rows...)
	return nil
}

func (f *Fake) SwapChurnRisk(ctx context.Context, rows []*model.ChurnRiskScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.churn = append([]*model.ChurnRiskScore(nil), rows...)
	return nil
}

func (f *Fake) ListChurnRisk(ctx context.Context) ([]*model.ChurnRiskScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.ChurnRiskScore, len(f.churn))
	copy(out, f.churn)
	return out, nil
}

// RetentionCohorts returns the last swapped cohort projection.
func (f *Fake) RetentionCohorts() []*model.RetentionCohort {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.RetentionCohort(nil), f.cohorts...)
}

// FeatureFunnel returns the last swapped funnel projection.
func (f *Fake) FeatureFunnel() []*model.FeatureFunnelRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.FeatureFunnelRow(nil), f.funnel...)
}

func (f *Fake) CreateBatchRun(ctx context.Context, run *model.BatchRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.batchRuns[run.BatchID]; ok {
		run.ID = existing.ID
	} else {
		f.nextRunID++
		run.ID = f.nextRunID
	}
	run.StartedAt = time.Now()
	run.FinishedAt = nil
	cp := *run
	f.batchRuns[run.BatchID] = &cp
	return nil
}

func (f *Fake) UpdateBatchRun(ctx context.Context, run *model.BatchRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.batchRuns[run.BatchID]; !ok {
		return fmt.Errorf("batch run %s not found", run.BatchID)
	}
	cp := *run
	f.batchRuns[run.BatchID] = &cp
	return nil
}

func (f *Fake) GetBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchRuns[batchID], nil
}

func (f *Fake) ListBatchRuns(ctx context.Context, limit int) ([]*model.BatchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.BatchRun, 0, len(f.batchRuns))
	for _, r := range f.batchRuns {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunInTransaction calls fn directly. The fake offers no rollback; tests that
// need transactional failure behavior use sqlmock against the real store.
func (f *Fake) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(f)
}

func (f *Fake) Close() error {
	return nil
}
