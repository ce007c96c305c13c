package dims

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stagingRecord(eventID, userID string, eventType model.EventType, ts time.Time, props string) *model.StagingRecord {
	rec := &model.StagingRecord{
		EventID:        eventID,
		EventType:      eventType,
		EventTimestamp: ts,
		UserID:         userID,
		BatchID:        "batch_20240115_test",
	}
	if props != "" {
		rec.Properties = json.RawMessage(props)
	}
	return rec
}

func TestEnsureUser_FirstSighting(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := stagingRecord("evt_1", "usr_a", model.EventUserLogin, ts, "")

	if err := r.EnsureUser(ctx, rec); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	v, err := s.CurrentUserVersion(ctx, "usr_a")
	if err != nil {
		t.Fatalf("CurrentUserVersion: %v", err)
	}
	if v == nil {
		t.Fatal("no current version after first sighting")
	}
	if !v.EffectiveFrom.Equal(ts) {
		t.Errorf("EffectiveFrom = %v, want event time %v", v.EffectiveFrom, ts)
	}
	if v.Attributes.CurrentPlan != "free" || v.Attributes.AccountStatus != "active" {
		t.Errorf("defaults = %+v, want free/active", v.Attributes)
	}
	if v.Attributes.Email != "usr_a@example.com" {
		t.Errorf("Email = %q", v.Attributes.Email)
	}
}

func TestEnsureUser_PlanChangeClosesOldVersion(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

	if err := r.EnsureUser(ctx, stagingRecord("evt_1", "usr_a", model.EventUserLogin, t1, "")); err != nil {
		t.Fatalf("first EnsureUser: %v", err)
	}
	if err := r.EnsureUser(ctx, stagingRecord("evt_2", "usr_a", model.EventSubscriptionStarted, t2,
		`{"plan":"pro","billing_cycle":"monthly"}`)); err != nil {
		t.Fatalf("second EnsureUser: %v", err)
	}

	versions, err := s.ListUserVersions(ctx, "usr_a")
	if err != nil {
		t.Fatalf("ListUserVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}

	first, second := versions[0], versions[1]
	if first.EffectiveTo == nil {
		t.Fatal("first version still open after succession")
	}
	if !first.EffectiveTo.Equal(second.EffectiveFrom) {
		t.Errorf("first.EffectiveTo = %v, want exactly second.EffectiveFrom = %v",
			*first.EffectiveTo, second.EffectiveFrom)
	}
	if !second.EffectiveFrom.Equal(t2) {
		t.Errorf("second.EffectiveFrom = %v, want %v", second.EffectiveFrom, t2)
	}
	if !second.Current() {
		t.Error("second version is not open")
	}
	if second.Attributes.CurrentPlan != "pro" {
		t.Errorf("CurrentPlan = %q, want pro", second.Attributes.CurrentPlan)
	}
}

func TestEnsureUser_UnchangedAttributesNoOp(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := r.EnsureUser(ctx, stagingRecord("evt_1", "usr_a", model.EventUserLogin, t1, "")); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	// Later events with no attribute change must not spawn versions.
	for i := 0; i < 5; i++ {
		ts := t1.Add(time.Duration(i+1) * time.Hour)
		rec := stagingRecord(fmt.Sprintf("evt_%d", i+2), "usr_a", model.EventDocumentEdited, ts, "")
		if err := r.EnsureUser(ctx, rec); err != nil {
			t.Fatalf("EnsureUser #%d: %v", i, err)
		}
	}

	versions, err := s.ListUserVersions(ctx, "usr_a")
	if err != nil {
		t.Fatalf("ListUserVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("versions = %d, want 1", len(versions))
	}
}

func TestEnsureUser_CancellationRevertsToFree(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.AddDate(0, 0, 5)
	t3 := t1.AddDate(0, 1, 0)

	r.EnsureUser(ctx, stagingRecord("evt_1", "usr_a", model.EventUserLogin, t1, ""))
	r.EnsureUser(ctx, stagingRecord("evt_2", "usr_a", model.EventSubscriptionStarted, t2, `{"plan":"enterprise"}`))
	if err := r.EnsureUser(ctx, stagingRecord("evt_3", "usr_a", model.EventSubscriptionCancelled, t3,
		`{"reason":"too_expensive"}`)); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	v, _ := s.CurrentUserVersion(ctx, "usr_a")
	if v.Attributes.CurrentPlan != "free" || v.Attributes.AccountStatus != "cancelled" {
		t.Errorf("after cancellation = %+v, want free/cancelled", v.Attributes)
	}
}

func TestEnsureUser_StaleChangeIgnored(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	t2 := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := r.EnsureUser(ctx, stagingRecord("evt_1", "usr_a", model.EventSubscriptionStarted, t2, `{"plan":"pro"}`)); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	// An older subscription change arriving late cannot rewrite history.
	if err := r.EnsureUser(ctx, stagingRecord("evt_0", "usr_a", model.EventSubscriptionCancelled, t1, "")); err != nil {
		t.Fatalf("stale EnsureUser: %v", err)
	}

	versions, _ := s.ListUserVersions(ctx, "usr_a")
	if len(versions) != 1 {
		t.Fatalf("versions = %d, want 1 (stale change skipped)", len(versions))
	}
	if versions[0].Attributes.CurrentPlan != "pro" {
		t.Errorf("CurrentPlan = %q, want pro", versions[0].Attributes.CurrentPlan)
	}
}

func TestEnsureUser_ConcurrentSingleOpenVersion(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	plans := []string{"pro", "enterprise"}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := stagingRecord(fmt.Sprintf("evt_%d", i), "usr_a", model.EventSubscriptionUpgraded,
				base.Add(time.Duration(i)*time.Hour),
				fmt.Sprintf(`{"plan":%q}`, plans[i%2]))
			if err := r.EnsureUser(ctx, rec); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent EnsureUser: %v", err)
	}

	versions, _ := s.ListUserVersions(ctx, "usr_a")
	open := 0
	for _, v := range versions {
		if v.Current() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open versions = %d, want exactly 1", open)
	}
}

func TestResolveUserAt(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	r.EnsureUser(ctx, stagingRecord("evt_1", "usr_a", model.EventUserLogin, t1, ""))
	r.EnsureUser(ctx, stagingRecord("evt_2", "usr_a", model.EventSubscriptionStarted, t2, `{"plan":"pro"}`))

	versions, _ := s.ListUserVersions(ctx, "usr_a")
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}

	// Inside the first version's interval.
	v, err := r.ResolveUserAt(ctx, "usr_a", t1.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("ResolveUserAt: %v", err)
	}
	if v.SurrogateKey != versions[0].SurrogateKey {
		t.Errorf("resolved sk %d, want first version %d", v.SurrogateKey, versions[0].SurrogateKey)
	}

	// After the succession.
	v, err = r.ResolveUserAt(ctx, "usr_a", t2.Add(time.Hour))
	if err != nil {
		t.Fatalf("ResolveUserAt: %v", err)
	}
	if v.SurrogateKey != versions[1].SurrogateKey {
		t.Errorf("resolved sk %d, want second version %d", v.SurrogateKey, versions[1].SurrogateKey)
	}

	// Before any version: falls back to the earliest.
	v, err = r.ResolveUserAt(ctx, "usr_a", t1.AddDate(0, 0, -10))
	if err != nil {
		t.Fatalf("ResolveUserAt: %v", err)
	}
	if v == nil || v.SurrogateKey != versions[0].SurrogateKey {
		t.Errorf("pre-history event resolved %+v, want earliest version", v)
	}

	// Unknown user resolves to nil.
	v, err = r.ResolveUserAt(ctx, "usr_missing", t1)
	if err != nil {
		t.Fatalf("ResolveUserAt: %v", err)
	}
	if v != nil {
		t.Errorf("unknown user resolved %+v, want nil", v)
	}
}

func TestResolveDocument_LazyCreate(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := stagingRecord("evt_1", "usr_a", model.EventDocumentCreated, ts, "")
	rec.DocumentID = "doc_1"

	sk1, err := r.ResolveDocument(ctx, rec)
	if err != nil {
		t.Fatalf("ResolveDocument: %v", err)
	}

	// A second reference reuses the row.
	later := stagingRecord("evt_2", "usr_b", model.EventDocumentEdited, ts.Add(time.Hour), "")
	later.DocumentID = "doc_1"
	sk2, err := r.ResolveDocument(ctx, later)
	if err != nil {
		t.Fatalf("ResolveDocument: %v", err)
	}
	if sk1 != sk2 {
		t.Errorf("surrogate keys differ: %d vs %d", sk1, sk2)
	}

	doc, _ := s.GetDocument(ctx, "doc_1")
	if doc.OwnerUserID != "usr_a" {
		t.Errorf("owner = %q, want first referencing user", doc.OwnerUserID)
	}
	if doc.Title != "Document doc_1" {
		t.Errorf("title = %q", doc.Title)
	}
}

func TestResolveFeature_UnknownReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())

	f, err := r.ResolveFeature(ctx, "comments")
	if err != nil {
		t.Fatalf("ResolveFeature: %v", err)
	}
	if f == nil {
		t.Fatal("catalog feature not found")
	}

	f, err = r.ResolveFeature(ctx, "hoverboard_mode")
	if err != nil {
		t.Fatalf("ResolveFeature: %v", err)
	}
	if f != nil {
		t.Errorf("unknown feature resolved %+v, want nil", f)
	}
}

func TestRun_OrdersByEventTime(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	r := New(s, testLogger())
	batchID := "batch_20240115_test"

	// Inserted out of order; the store lists them by event time.
	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	recs := []*model.StagingRecord{
		stagingRecord("evt_2", "usr_a", model.EventSubscriptionStarted, t2, `{"plan":"pro"}`),
		stagingRecord("evt_1", "usr_a", model.EventUserLogin, t1, ""),
	}
	for _, rec := range recs {
		rec.BatchID = batchID
		if err := s.InsertStagingRecord(ctx, rec); err != nil {
			t.Fatalf("seeding staging: %v", err)
		}
	}

	counts, err := r.Run(ctx, batchID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if counts.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", counts.Accepted)
	}

	versions, _ := s.ListUserVersions(ctx, "usr_a")
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2 (login first, then upgrade)", len(versions))
	}
	if !versions[0].EffectiveFrom.Equal(t1) || !versions[1].EffectiveFrom.Equal(t2) {
		t.Errorf("version order wrong: %v then %v", versions[0].EffectiveFrom, versions[1].EffectiveFrom)
	}
}

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()

	var mu sync.Mutex
	active := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("usr_%d", i%5)
			unlock := km.Lock(key)
			defer unlock()

			mu.Lock()
			active[key]++
			if active[key] > 1 {
				t.Errorf("two holders for key %s", key)
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active[key]--
			mu.Unlock()
		}(i)
	}
	wg.Wait()
}
