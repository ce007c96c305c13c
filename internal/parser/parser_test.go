package parser

import (
	"context"
	"encoding/json"
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

func rawRecord(t *testing.T, payload string) *model.RawRecord {
	t.Helper()
	return &model.RawRecord{
		EventID: "evt_raw",
		Payload: json.RawMessage(payload),
		BatchID: "batch_20240115_test",
	}
}

func TestParse_Valid(t *testing.T) {
	payload := `{
		"event_id": "evt_1",
		"event_type": "document_edited",
		"event_timestamp": "2024-01-15T10:30:00Z",
		"user_id": "usr_a",
		"session_id": "ses_1",
		"properties": {"document_id": "doc_1", "edit_duration_sec": 120, "characters_added": 300},
		"context": {"platform": "web", "ip_address": "192.168.1.1", "user_agent": "Mozilla/5.0 (web)"}
	}`

	rec, err := Parse(rawRecord(t, payload))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if rec.EventID != "evt_1" {
		t.Errorf("EventID = %q, want %q", rec.EventID, "evt_1")
	}
	if rec.EventType != model.EventDocumentEdited {
		t.Errorf("EventType = %q, want document_edited", rec.EventType)
	}
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if !rec.EventTimestamp.Equal(want) {
		t.Errorf("EventTimestamp = %v, want %v", rec.EventTimestamp, want)
	}
	if rec.DocumentID != "doc_1" {
		t.Errorf("DocumentID = %q, want doc_1", rec.DocumentID)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 120 {
		t.Errorf("DurationSeconds = %v, want 120", rec.DurationSeconds)
	}
	if rec.CharactersAdded == nil || *rec.CharactersAdded != 300 {
		t.Errorf("CharactersAdded = %v, want 300", rec.CharactersAdded)
	}
	if rec.Platform != "web" {
		t.Errorf("Platform = %q, want web", rec.Platform)
	}
	if rec.DateKey() != 20240115 {
		t.Errorf("DateKey() = %d, want 20240115", rec.DateKey())
	}
}

func TestParse_DurationFallback(t *testing.T) {
	payload := `{
		"event_id": "evt_2",
		"event_type": "feature_used",
		"event_timestamp": "2024-01-15T10:30:00Z",
		"user_id": "usr_a",
		"properties": {"feature_id": "comments", "duration_sec": 45}
	}`

	rec, err := Parse(rawRecord(t, payload))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if rec.FeatureID != "comments" {
		t.Errorf("FeatureID = %q, want comments", rec.FeatureID)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 45 {
		t.Errorf("DurationSeconds = %v, want 45 (duration_sec fallback)", rec.DurationSeconds)
	}
}

func TestParse_NoDuration(t *testing.T) {
	payload := `{
		"event_id": "evt_3",
		"event_type": "user_login",
		"event_timestamp": "2024-01-15T08:00:00Z",
		"user_id": "usr_a"
	}`

	rec, err := Parse(rawRecord(t, payload))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if rec.DurationSeconds != nil {
		t.Errorf("DurationSeconds = %v, want nil", *rec.DurationSeconds)
	}
}

func TestParse_AlternateTimestampLayouts(t *testing.T) {
	for _, ts := range []string{
		"2024-01-15T10:30:00Z",
		"2024-01-15T10:30:00.123Z",
		"2024-01-15T10:30:00",
		"2024-01-15 10:30:00",
	} {
		payload := `{"event_id":"evt_ts","event_type":"user_login","event_timestamp":"` + ts + `","user_id":"usr_a"}`
		rec, err := Parse(rawRecord(t, payload))
		if err != nil {
			t.Errorf("Parse() with timestamp %q: %v", ts, err)
			continue
		}
		if rec.EventTimestamp.Year() != 2024 || rec.EventTimestamp.Hour() != 10 {
			t.Errorf("timestamp %q parsed as %v", ts, rec.EventTimestamp)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		payload string
	}{
		{"MalformedJSON", `{not json`},
		{"MissingEventID", `{"event_type":"user_login","event_timestamp":"2024-01-15T08:00:00Z","user_id":"usr_a"}`},
		{"MissingEventType", `{"event_id":"evt_x","event_timestamp":"2024-01-15T08:00:00Z","user_id":"usr_a"}`},
		{"MissingUserID", `{"event_id":"evt_x","event_type":"user_login","event_timestamp":"2024-01-15T08:00:00Z"}`},
		{"MissingTimestamp", `{"event_id":"evt_x","event_type":"user_login","user_id":"usr_a"}`},
		{"UnparsableTimestamp", `{"event_id":"evt_x","event_type":"user_login","event_timestamp":"first of may","user_id":"usr_a"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(rawRecord(t, tc.payload))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !model.IsValidation(err) {
				t.Errorf("error %v is not a ValidationError", err)
			}
		})
	}
}

func TestRun_DeadLettersInvalidRecords(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	batchID := "batch_20240115_test"

	raws := []*model.RawRecord{
		{EventID: "evt_ok", BatchID: batchID, Payload: json.RawMessage(
			`{"event_id":"evt_ok","event_type":"user_login","event_timestamp":"2024-01-15T08:00:00Z","user_id":"usr_a"}`)},
		{EventID: "evt_bad", BatchID: batchID, Payload: json.RawMessage(
			`{"event_id":"evt_bad","event_type":"user_login","user_id":"usr_a"}`)},
	}
	if _, err := s.InsertRawRecords(ctx, raws); err != nil {
		t.Fatalf("seeding raw records: %v", err)
	}

	counts, err := New(s, testLogger()).Run(ctx, batchID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if counts.Accepted != 1 || counts.DeadLettered != 1 {
		t.Errorf("counts = %+v, want 1 accepted, 1 dead-lettered", counts)
	}

	letters, err := s.ListDeadLetters(ctx, batchID)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].EventID != "evt_bad" || letters[0].Stage != "parse" {
		t.Errorf("dead letter = %+v, want evt_bad at parse stage", letters[0])
	}
}

func TestRun_Rerun(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	batchID := "batch_20240115_test"

	raws := []*model.RawRecord{
		{EventID: "evt_ok", BatchID: batchID, Payload: json.RawMessage(
			`{"event_id":"evt_ok","event_type":"user_login","event_timestamp":"2024-01-15T08:00:00Z","user_id":"usr_a"}`)},
	}
	if _, err := s.InsertRawRecords(ctx, raws); err != nil {
		t.Fatalf("seeding raw records: %v", err)
	}

	p := New(s, testLogger())
	first, err := p.Run(ctx, batchID)
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if first.Accepted != 1 {
		t.Fatalf("first run accepted = %d, want 1", first.Accepted)
	}

	second, err := p.Run(ctx, batchID)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if second.Accepted != 0 {
		t.Errorf("second run accepted = %d, want 0 (already staged)", second.Accepted)
	}

	staged, err := s.ListStagingRecords(ctx, batchID)
	if err != nil {
		t.Fatalf("ListStagingRecords: %v", err)
	}
	if len(staged) != 1 {
		t.Errorf("staging rows = %d, want exactly 1 after re-run", len(staged))
	}
}

func TestRun_RerunDoesNotGrowDeadLetters(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	batchID := "batch_20240115_test"

	raws := []*model.RawRecord{
		{EventID: "evt_bad", BatchID: batchID, Payload: json.RawMessage(
			`{"event_id":"evt_bad","event_type":"user_login","user_id":"usr_a"}`)},
	}
	if _, err := s.InsertRawRecords(ctx, raws); err != nil {
		t.Fatalf("seeding raw records: %v", err)
	}

	p := New(s, testLogger())
	for i := 0; i < 2; i++ {
		counts, err := p.Run(ctx, batchID)
		if err != nil {
			t.Fatalf("Run() %d error: %v", i+1, err)
		}
		if counts.DeadLettered != 1 {
			t.Errorf("run %d dead-lettered = %d, want 1", i+1, counts.DeadLettered)
		}
	}

	letters, err := s.ListDeadLetters(ctx, batchID)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 1 {
		t.Errorf("dead letters after two identical runs = %d, want 1", len(letters))
	}
}
