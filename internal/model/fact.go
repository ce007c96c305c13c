package model

import "time"

// FactEvent is one event-grain fact row. The natural event id is unique and
// the row is immutable once inserted. UserSK references the user version that
// was current at the event's own timestamp; DocumentSK and FeatureSK are nil
// when the event carried no such reference.
type FactEvent struct {
	SurrogateKey    int64     `json:"event_sk"`
	EventID         string    `json:"event_id"`
	UserSK          int64     `json:"user_sk"`
	DocumentSK      *int64    `json:"document_sk,omitempty"`
	FeatureSK       *int64    `json:"feature_sk,omitempty"`
	DateKey         int       `json:"date_key"`
	EventType       EventType `json:"event_type"`
	SessionID       string    `json:"session_id,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	EventTimestamp  time.Time `json:"event_timestamp"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	CharactersAdded *int      `json:"characters_added,omitempty"`
	BatchID         string    `json:"batch_id"`
}

// DailyActivity is the (date, user) rollup of FactEvent. It is a pure
// function of the fact table: every aggregation pass replaces all measures
// with freshly computed values, so re-runs converge instead of double-count.
type DailyActivity struct {
	ActivityDate         time.Time `json:"activity_date"`
	UserSK               int64     `json:"user_sk"`
	TotalEvents          int       `json:"total_events"`
	LoginCount           int       `json:"login_count"`
	DocumentsEdited      int       `json:"documents_edited"`
	DocumentsCreated     int       `json:"documents_created"`
	TotalActiveSeconds   int       `json:"total_active_seconds"`
	DistinctFeaturesUsed int       `json:"distinct_features_used"`
}
