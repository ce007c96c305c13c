package rollup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intp(n int) *int { return &n }

func seedFacts(t *testing.T, s *storetest.Fake, facts ...*model.FactEvent) {
	t.Helper()
	ctx := context.Background()
	for i, f := range facts {
		if f.EventID == "" {
			f.EventID = fmt.Sprintf("evt_%d", i)
		}
		f.DateKey = model.DateKeyFor(f.EventTimestamp)
		f.BatchID = "batch_20240115_test"
		if err := s.InsertFactEvent(ctx, f); err != nil {
			t.Fatalf("seeding fact: %v", err)
		}
	}
}

func TestAggregate_Measures(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	sk1 := int64(10)
	featA, featB := int64(1), int64(2)

	facts := []*model.FactEvent{
		{UserSK: sk1, EventType: model.EventUserLogin, EventTimestamp: day.Add(8 * time.Hour)},
		{UserSK: sk1, EventType: model.EventDocumentEdited, EventTimestamp: day.Add(9 * time.Hour), DurationSeconds: intp(120)},
		{UserSK: sk1, EventType: model.EventDocumentEdited, EventTimestamp: day.Add(10 * time.Hour), DurationSeconds: intp(60)},
		{UserSK: sk1, EventType: model.EventDocumentCreated, EventTimestamp: day.Add(11 * time.Hour)},
		{UserSK: sk1, EventType: model.EventFeatureUsed, EventTimestamp: day.Add(12 * time.Hour), FeatureSK: &featA, DurationSeconds: intp(30)},
		{UserSK: sk1, EventType: model.EventFeatureUsed, EventTimestamp: day.Add(13 * time.Hour), FeatureSK: &featA},
		{UserSK: sk1, EventType: model.EventFeatureUsed, EventTimestamp: day.Add(14 * time.Hour), FeatureSK: &featB},
	}
	for i := range facts {
		facts[i].EventID = fmt.Sprintf("evt_%d", i)
	}

	rows := Aggregate(facts)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	g := rows[0]
	if g.TotalEvents != 7 {
		t.Errorf("TotalEvents = %d, want 7", g.TotalEvents)
	}
	if g.LoginCount != 1 {
		t.Errorf("LoginCount = %d, want 1", g.LoginCount)
	}
	if g.DocumentsEdited != 2 {
		t.Errorf("DocumentsEdited = %d, want 2", g.DocumentsEdited)
	}
	if g.DocumentsCreated != 1 {
		t.Errorf("DocumentsCreated = %d, want 1", g.DocumentsCreated)
	}
	// Null durations count as zero.
	if g.TotalActiveSeconds != 210 {
		t.Errorf("TotalActiveSeconds = %d, want 210", g.TotalActiveSeconds)
	}
	if g.DistinctFeaturesUsed != 2 {
		t.Errorf("DistinctFeaturesUsed = %d, want 2", g.DistinctFeaturesUsed)
	}
}

func TestAggregate_GroupsByDateAndUser(t *testing.T) {
	day1 := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)

	facts := []*model.FactEvent{
		{EventID: "e1", UserSK: 1, EventType: model.EventUserLogin, EventTimestamp: day1},
		{EventID: "e2", UserSK: 1, EventType: model.EventUserLogin, EventTimestamp: day2},
		{EventID: "e3", UserSK: 2, EventType: model.EventUserLogin, EventTimestamp: day1},
	}

	rows := Aggregate(facts)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 distinct (date, user) groups", len(rows))
	}
	for _, g := range rows {
		if g.TotalEvents != 1 {
			t.Errorf("group %v/%d TotalEvents = %d, want 1", g.ActivityDate, g.UserSK, g.TotalEvents)
		}
	}
}

func TestRun_RerunConverges(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	a := New(s, testLogger())

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	seedFacts(t, s,
		&model.FactEvent{UserSK: 1, EventType: model.EventUserLogin, EventTimestamp: day.Add(8 * time.Hour)},
		&model.FactEvent{UserSK: 1, EventType: model.EventDocumentEdited, EventTimestamp: day.Add(9 * time.Hour), DurationSeconds: intp(120)},
	)

	if _, err := a.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first, _ := s.ListDailyActivity(ctx)

	// Re-running over the same facts must replace, not double-count.
	if _, err := a.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second, _ := s.ListDailyActivity(ctx)

	if len(first) != len(second) {
		t.Fatalf("row count changed across re-runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].TotalEvents != second[i].TotalEvents ||
			first[i].TotalActiveSeconds != second[i].TotalActiveSeconds {
			t.Errorf("row %d diverged: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRun_PicksUpLateFacts(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	a := New(s, testLogger())

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	seedFacts(t, s,
		&model.FactEvent{EventID: "evt_a", UserSK: 1, EventType: model.EventUserLogin, EventTimestamp: day.Add(8 * time.Hour)},
	)
	if _, err := a.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A late-arriving fact for the same day is absorbed on recompute.
	seedFacts(t, s,
		&model.FactEvent{EventID: "evt_b", UserSK: 1, EventType: model.EventDocumentEdited, EventTimestamp: day.Add(9 * time.Hour)},
	)
	if _, err := a.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	rows, _ := s.ListDailyActivity(ctx)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2 after late fact", rows[0].TotalEvents)
	}
}

func TestVerify_Drift(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	a := New(s, testLogger())

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	seedFacts(t, s,
		&model.FactEvent{UserSK: 1, EventType: model.EventUserLogin, EventTimestamp: day.Add(8 * time.Hour)},
	)
	if _, err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Verify(ctx); err != nil {
		t.Fatalf("Verify on consistent state: %v", err)
	}

	// Tamper with the rollup to force a divergence.
	err := s.UpsertDailyActivity(ctx, []*model.DailyActivity{
		{ActivityDate: day, UserSK: 1, TotalEvents: 99},
	})
	if err != nil {
		t.Fatalf("tampering: %v", err)
	}

	err = a.Verify(ctx)
	if !errors.Is(err, model.ErrAggregationDrift) {
		t.Errorf("Verify error = %v, want ErrAggregationDrift", err)
	}
}
