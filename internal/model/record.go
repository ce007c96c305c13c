package model

import (
	"encoding/json"
	"time"
)

// RawRecord is one ingested event exactly as received: an opaque JSON payload
// tagged with the batch that delivered it. Immutable once stored.
type RawRecord struct {
	EventID    string          `json:"event_id"`
	Payload    json.RawMessage `json:"raw_payload"`
	BatchID    string          `json:"batch_id"`
	IngestedAt time.Time       `json:"ingested_at"`
}

// StagingRecord is the typed projection of a RawRecord. One row per distinct
// event id; re-parsing the same raw record must not produce a second row.
type StagingRecord struct {
	EventID         string          `json:"event_id"`
	EventType       EventType       `json:"event_type"`
	EventTimestamp  time.Time       `json:"event_timestamp"`
	UserID          string          `json:"user_id"`
	SessionID       string          `json:"session_id,omitempty"`
	DocumentID      string          `json:"document_id,omitempty"`
	FeatureID       string          `json:"feature_id,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	CharactersAdded *int            `json:"characters_added,omitempty"`
	Platform        string          `json:"platform,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	IPAddress       string          `json:"ip_address,omitempty"`
	Properties      json.RawMessage `json:"properties,omitempty"`
	BatchID         string          `json:"batch_id"`
}

// DateKey returns the YYYYMMDD integer key for the record's event date.
func (s *StagingRecord) DateKey() int {
	return DateKeyFor(s.EventTimestamp)
}

// DateKeyFor converts a timestamp to the YYYYMMDD integer used by dim_date.
// The calendar date is taken in UTC so the key never depends on the
// timestamp's location.
func DateKeyFor(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// DeadLetterRecord is a rejected raw record retained for inspection.
type DeadLetterRecord struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id,omitempty"`
	Payload   json.RawMessage `json:"raw_payload"`
	BatchID   string          `json:"batch_id"`
	Stage     string          `json:"stage"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}
