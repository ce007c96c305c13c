package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRawRecords(rows *sql.Rows) ([]*model.RawRecord, error) {
	var records []*model.RawRecord
	for rows.Next() {
		var r model.RawRecord
		var payload []byte
		if err := rows.Scan(&r.EventID, &payload, &r.BatchID, &r.IngestedAt); err != nil {
			return nil, err
		}
		r.Payload = json.RawMessage(payload)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// scanStagingRecord scans a row in stagingColumns order.
func scanStagingRecord(row scannable) (*model.StagingRecord, error) {
	var rec model.StagingRecord
	var (
		eventType  string
		sessionID  sql.NullString
		documentID sql.NullString
		featureID  sql.NullString
		duration   sql.NullInt64
		characters sql.NullInt64
		platform   sql.NullString
		userAgent  sql.NullString
		ipAddress  sql.NullString
		properties []byte
	)

	err := row.Scan(
		&rec.EventID,
		&eventType,
		&rec.EventTimestamp,
		&rec.UserID,
		&sessionID,
		&documentID,
		&featureID,
		&duration,
		&characters,
		&platform,
		&userAgent,
		&ipAddress,
		&properties,
		&rec.BatchID,
	)
	if err != nil {
		return nil, err
	}

	rec.EventType = model.EventType(eventType)
	rec.SessionID = sessionID.String
	rec.DocumentID = documentID.String
	rec.FeatureID = featureID.String
	rec.Platform = platform.String
	rec.UserAgent = userAgent.String
	rec.IPAddress = ipAddress.String
	rec.DurationSeconds = intPtr(duration)
	rec.CharactersAdded = intPtr(characters)
	if len(properties) > 0 {
		rec.Properties = json.RawMessage(properties)
	}

	return &rec, nil
}

func scanStagingRecords(rows *sql.Rows) ([]*model.StagingRecord, error) {
	var records []*model.StagingRecord
	for rows.Next() {
		rec, err := scanStagingRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDeadLetters(rows *sql.Rows) ([]*model.DeadLetterRecord, error) {
	var letters []*model.DeadLetterRecord
	for rows.Next() {
		var dl model.DeadLetterRecord
		var (
			eventID sql.NullString
			payload []byte
		)
		err := rows.Scan(&dl.ID, &eventID, &payload, &dl.BatchID, &dl.Stage, &dl.Reason, &dl.CreatedAt)
		if err != nil {
			return nil, err
		}
		dl.EventID = eventID.String
		if len(payload) > 0 {
			dl.Payload = json.RawMessage(payload)
		}
		letters = append(letters, &dl)
	}
	return letters, rows.Err()
}

func scanFeature(row scannable) (*model.Feature, error) {
	var f model.Feature
	err := row.Scan(&f.SurrogateKey, &f.FeatureID, &f.Name, &f.Category, &f.Premium)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var owner sql.NullString
	err := row.Scan(&d.SurrogateKey, &d.DocumentID, &d.Title, &owner, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.OwnerUserID = owner.String
	return &d, nil
}

// scanUserVersion scans a row in userVersionColumns order.
func scanUserVersion(row scannable) (*model.UserVersion, error) {
	var v model.UserVersion
	var effectiveTo sql.NullTime
	err := row.Scan(
		&v.SurrogateKey,
		&v.UserID,
		&v.Attributes.Email,
		&v.Attributes.SignupDate,
		&v.Attributes.CurrentPlan,
		&v.Attributes.AccountStatus,
		&v.EffectiveFrom,
		&effectiveTo,
	)
	if err != nil {
		return nil, err
	}
	if effectiveTo.Valid {
		t := effectiveTo.Time
		v.EffectiveTo = &t
	}
	return &v, nil
}

func scanUserVersions(rows *sql.Rows) ([]*model.UserVersion, error) {
	var versions []*model.UserVersion
	for rows.Next() {
		v, err := scanUserVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// scanFactEvent scans a row in factColumns order.
func scanFactEvent(row scannable) (*model.FactEvent, error) {
	var f model.FactEvent
	var (
		eventType  string
		documentSK sql.NullInt64
		featureSK  sql.NullInt64
		sessionID  sql.NullString
		platform   sql.NullString
		duration   sql.NullInt64
		characters sql.NullInt64
	)
	err := row.Scan(
		&f.SurrogateKey,
		&f.EventID,
		&f.UserSK,
		&documentSK,
		&featureSK,
		&f.DateKey,
		&eventType,
		&sessionID,
		&platform,
		&f.EventTimestamp,
		&duration,
		&characters,
		&f.BatchID,
	)
	if err != nil {
		return nil, err
	}
	f.EventType = model.EventType(eventType)
	f.SessionID = sessionID.String
	f.Platform = platform.String
	f.DocumentSK = int64Ptr(documentSK)
	f.FeatureSK = int64Ptr(featureSK)
	f.DurationSeconds = intPtr(duration)
	f.CharactersAdded = intPtr(characters)
	return &f, nil
}

func scanFactEvents(rows *sql.Rows) ([]*model.FactEvent, error) {
	var facts []*model.FactEvent
	for rows.Next() {
		f, err := scanFactEvent(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func scanDailyActivities(rows *sql.Rows) ([]*model.DailyActivity, error) {
	var activities []*model.DailyActivity
	for rows.Next() {
		var a model.DailyActivity
		err := rows.Scan(
			&a.ActivityDate,
			&a.UserSK,
			&a.TotalEvents,
			&a.LoginCount,
			&a.DocumentsEdited,
			&a.DocumentsCreated,
			&a.TotalActiveSeconds,
			&a.DistinctFeaturesUsed,
		)
		if err != nil {
			return nil, err
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

func scanChurnRiskScores(rows *sql.Rows) ([]*model.ChurnRiskScore, error) {
	var scores []*model.ChurnRiskScore
	for rows.Next() {
		var s model.ChurnRiskScore
		var category string
		err := rows.Scan(
			&s.UserSK,
			&s.UserID,
			&s.LastActiveDate,
			&s.DaysSinceActive,
			&s.LifetimeEvents,
			&category,
		)
		if err != nil {
			return nil, err
		}
		s.RiskCategory = model.RiskCategory(category)
		scores = append(scores, &s)
	}
	return scores, rows.Err()
}

// scanBatchRun scans a row in batchRunColumns order.
func scanBatchRun(row scannable) (*model.BatchRun, error) {
	var run model.BatchRun
	var (
		status     string
		stages     []byte
		runErr     sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.BatchID, &status, &stages, &runErr, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = model.BatchStatus(status)
	run.Error = runErr.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &run.Stages); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullIntPtr converts a *int to a sql.NullInt64.
func nullIntPtr(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// nullInt64Ptr converts a *int64 to a sql.NullInt64.
func nullInt64Ptr(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// intPtr converts a sql.NullInt64 back to a *int.
func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// int64Ptr converts a sql.NullInt64 back to a *int64.
func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
