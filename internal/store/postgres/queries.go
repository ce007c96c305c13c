package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clouddocs/warehouse/internal/model"
)

// Column lists used for SELECT statements, in scan order.
const (
	stagingColumns = `event_id, event_type, event_timestamp, user_id, session_id,
	document_id, feature_id, duration_seconds, characters_added,
	platform, user_agent, ip_address, properties, batch_id`

	userVersionColumns = `user_sk, user_id, email, signup_date, current_plan,
	account_status, effective_from, effective_to`

	factColumns = `event_sk, event_id, user_sk, document_sk, feature_sk, date_key,
	event_type, session_id, platform, event_timestamp,
	duration_seconds, characters_added, batch_id`

	batchRunColumns = `id, batch_id, status, stages, error, started_at, finished_at`
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueViolation reports whether err is a Postgres unique-index violation.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// --- raw.events ---

func queryInsertRawRecords(ctx context.Context, db executor, records []*model.RawRecord) (int, error) {
	inserted := 0
	for _, r := range records {
		res, err := db.ExecContext(ctx, `
			INSERT INTO raw.events (event_id, raw_payload, batch_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id) DO NOTHING`,
			r.EventID, jsonbBytes(r.Payload), r.BatchID,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert raw record %s: %w", r.EventID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

func queryListRawRecords(ctx context.Context, db executor, batchID string) ([]*model.RawRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT event_id, raw_payload, batch_id, ingested_at
		FROM raw.events
		WHERE batch_id = $1
		ORDER BY ingested_at, event_id`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRawRecords(rows)
}

// --- staging.events ---

func queryStagingExists(ctx context.Context, db executor, eventID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM staging.events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	return exists, err
}

func queryInsertStagingRecord(ctx context.Context, db executor, rec *model.StagingRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO staging.events (
			event_id, event_type, event_timestamp, user_id, session_id,
			document_id, feature_id, duration_seconds, characters_added,
			platform, user_agent, ip_address, properties, batch_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		rec.EventID,
		string(rec.EventType),
		rec.EventTimestamp,
		rec.UserID,
		nullString(rec.SessionID),
		nullString(rec.DocumentID),
		nullString(rec.FeatureID),
		nullIntPtr(rec.DurationSeconds),
		nullIntPtr(rec.CharactersAdded),
		nullString(rec.Platform),
		nullString(rec.UserAgent),
		nullString(rec.IPAddress),
		jsonbBytes(rec.Properties),
		rec.BatchID,
	)
	return err
}

func queryListStagingRecords(ctx context.Context, db executor, batchID string) ([]*model.StagingRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+stagingColumns+`
		FROM staging.events
		WHERE batch_id = $1
		ORDER BY event_timestamp, event_id`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStagingRecords(rows)
}

// --- staging.dead_letter_events ---

func queryInsertDeadLetter(ctx context.Context, db executor, dl *model.DeadLetterRecord) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO staging.dead_letter_events (event_id, raw_payload, batch_id, stage, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, batch_id, stage) DO NOTHING
		RETURNING id, created_at`,
		nullString(dl.EventID),
		jsonbBytes(dl.Payload),
		dl.BatchID,
		dl.Stage,
		dl.Reason,
	).Scan(&dl.ID, &dl.CreatedAt)
	if err == sql.ErrNoRows {
		// Already quarantined by an earlier run of this batch.
		return nil
	}
	return err
}

func queryListDeadLetters(ctx context.Context, db executor, batchID string) ([]*model.DeadLetterRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, event_id, raw_payload, batch_id, stage, reason, created_at
		FROM staging.dead_letter_events
		WHERE batch_id = $1
		ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeadLetters(rows)
}

// --- core.dim_date ---

func queryDateExists(ctx context.Context, db executor, dateKey int) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM core.dim_date WHERE date_key = $1)`,
		dateKey,
	).Scan(&exists)
	return exists, err
}

func queryEnsureDateRange(ctx context.Context, db executor, from, to time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO core.dim_date (date_key, full_date, year, month, day, day_of_week, is_weekend)
		SELECT
			TO_CHAR(d, 'YYYYMMDD')::INTEGER,
			d::DATE,
			EXTRACT(YEAR FROM d)::INTEGER,
			EXTRACT(MONTH FROM d)::INTEGER,
			EXTRACT(DAY FROM d)::INTEGER,
			EXTRACT(ISODOW FROM d)::INTEGER,
			EXTRACT(ISODOW FROM d)::INTEGER IN (6, 7)
		FROM generate_series($1::DATE, $2::DATE, '1 day') AS d
		ON CONFLICT (date_key) DO NOTHING`,
		from, to,
	)
	return err
}

// --- core.dim_features ---

func queryGetFeature(ctx context.Context, db executor, featureID string) (*model.Feature, error) {
	row := db.QueryRowContext(ctx, `
		SELECT feature_sk, feature_id, feature_name, category, is_premium
		FROM core.dim_features
		WHERE feature_id = $1`,
		featureID,
	)
	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func queryListFeatures(ctx context.Context, db executor) ([]*model.Feature, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT feature_sk, feature_id, feature_name, category, is_premium
		FROM core.dim_features
		ORDER BY feature_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []*model.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// --- core.dim_documents ---

func queryGetDocument(ctx context.Context, db executor, documentID string) (*model.Document, error) {
	row := db.QueryRowContext(ctx, `
		SELECT document_sk, document_id, title, owner_user_id, created_at
		FROM core.dim_documents
		WHERE document_id = $1`,
		documentID,
	)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// queryEnsureDocument lazily creates the document row on first reference.
// The conflict-skip plus re-read makes concurrent first references safe.
func queryEnsureDocument(ctx context.Context, db executor, doc *model.Document) (*model.Document, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO core.dim_documents (document_id, title, owner_user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO NOTHING`,
		doc.DocumentID,
		doc.Title,
		nullString(doc.OwnerUserID),
		doc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure document %s: %w", doc.DocumentID, err)
	}
	return queryGetDocument(ctx, db, doc.DocumentID)
}

// --- core.dim_users (SCD2 version log) ---

func queryCurrentUserVersion(ctx context.Context, db executor, userID string) (*model.UserVersion, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+userVersionColumns+`
		FROM core.dim_users
		WHERE user_id = $1 AND effective_to IS NULL`,
		userID,
	)
	v, err := scanUserVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func queryUserVersionAt(ctx context.Context, db executor, userID string, at time.Time) (*model.UserVersion, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+userVersionColumns+`
		FROM core.dim_users
		WHERE user_id = $1
		  AND effective_from <= $2
		  AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY effective_from DESC
		LIMIT 1`,
		userID, at,
	)
	v, err := scanUserVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func queryListUserVersions(ctx context.Context, db executor, userID string) ([]*model.UserVersion, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+userVersionColumns+`
		FROM core.dim_users
		WHERE user_id = $1
		ORDER BY effective_from`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserVersions(rows)
}

func queryListAllUserVersions(ctx context.Context, db executor) ([]*model.UserVersion, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+userVersionColumns+`
		FROM core.dim_users
		ORDER BY user_id, effective_from`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserVersions(rows)
}

func queryInsertUserVersion(ctx context.Context, db executor, v *model.UserVersion) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO core.dim_users (
			user_id, email, signup_date, current_plan, account_status,
			effective_from, effective_to
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING user_sk`,
		v.UserID,
		v.Attributes.Email,
		v.Attributes.SignupDate,
		v.Attributes.CurrentPlan,
		v.Attributes.AccountStatus,
		v.EffectiveFrom,
		nullTimePtr(v.EffectiveTo),
	).Scan(&v.SurrogateKey)
	if err != nil && isUniqueViolation(err) {
		return &model.VersioningConflict{UserID: v.UserID, Err: err}
	}
	return err
}

// querySucceedUserVersion closes the open version prevSK at next.EffectiveFrom
// and inserts next. Must run inside a transaction: both mutations commit
// together or not at all. If prevSK is no longer the open version (a
// concurrent writer got there first) it reports a VersioningConflict.
func querySucceedUserVersion(ctx context.Context, db executor, prevSK int64, next *model.UserVersion) error {
	res, err := db.ExecContext(ctx, `
		UPDATE core.dim_users
		SET effective_to = $2
		WHERE user_sk = $1 AND effective_to IS NULL`,
		prevSK, next.EffectiveFrom,
	)
	if err != nil {
		return fmt.Errorf("close user version %d: %w", prevSK, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &model.VersioningConflict{
			UserID: next.UserID,
			Err:    fmt.Errorf("version %d is not the open version", prevSK),
		}
	}
	return queryInsertUserVersion(ctx, db, next)
}

// --- core.fact_events ---

func queryFactExists(ctx context.Context, db executor, eventID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM core.fact_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	return exists, err
}

func queryInsertFactEvent(ctx context.Context, db executor, f *model.FactEvent) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO core.fact_events (
			event_id, user_sk, document_sk, feature_sk, date_key,
			event_type, session_id, platform, event_timestamp,
			duration_seconds, characters_added, batch_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)
		RETURNING event_sk`,
		f.EventID,
		f.UserSK,
		nullInt64Ptr(f.DocumentSK),
		nullInt64Ptr(f.FeatureSK),
		f.DateKey,
		string(f.EventType),
		nullString(f.SessionID),
		nullString(f.Platform),
		f.EventTimestamp,
		nullIntPtr(f.DurationSeconds),
		nullIntPtr(f.CharactersAdded),
		f.BatchID,
	).Scan(&f.SurrogateKey)
}

func queryListFactEvents(ctx context.Context, db executor) ([]*model.FactEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+factColumns+`
		FROM core.fact_events
		ORDER BY event_timestamp, event_sk`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFactEvents(rows)
}

func queryCountFactEvents(ctx context.Context, db executor) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM core.fact_events`).Scan(&n)
	return n, err
}

// --- core.fact_daily_user_activity ---

// queryUpsertDailyActivity replaces every measure on conflict. Replacement,
// not addition: re-running the aggregator after late facts converges to the
// correct totals instead of double-counting.
func queryUpsertDailyActivity(ctx context.Context, db executor, rows []*model.DailyActivity) error {
	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
			INSERT INTO core.fact_daily_user_activity (
				activity_date, user_sk, total_events, login_count,
				documents_edited, documents_created, total_active_seconds, distinct_features_used
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (activity_date, user_sk) DO UPDATE SET
				total_events = EXCLUDED.total_events,
				login_count = EXCLUDED.login_count,
				documents_edited = EXCLUDED.documents_edited,
				documents_created = EXCLUDED.documents_created,
				total_active_seconds = EXCLUDED.total_active_seconds,
				distinct_features_used = EXCLUDED.distinct_features_used,
				updated_at = NOW()`,
			r.ActivityDate,
			r.UserSK,
			r.TotalEvents,
			r.LoginCount,
			r.DocumentsEdited,
			r.DocumentsCreated,
			r.TotalActiveSeconds,
			r.DistinctFeaturesUsed,
		)
		if err != nil {
			return fmt.Errorf("upsert daily activity (%s, %d): %w",
				r.ActivityDate.Format("2006-01-02"), r.UserSK, err)
		}
	}
	return nil
}

func queryListDailyActivity(ctx context.Context, db executor) ([]*model.DailyActivity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT activity_date, user_sk, total_events, login_count,
			documents_edited, documents_created, total_active_seconds, distinct_features_used
		FROM core.fact_daily_user_activity
		ORDER BY activity_date, user_sk`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDailyActivities(rows)
}

func querySumDailyActivityEvents(ctx context.Context, db executor) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_events), 0) FROM core.fact_daily_user_activity`,
	).Scan(&n)
	return n, err
}

// --- analytics projections (shadow build + rename swap) ---
//
// Each rebuild writes into a _next shadow table and swaps it in with a rename,
// so a reader sees either the fully-old or fully-new projection. The swap
// queries must run inside a transaction; PostgresStore wraps them.

func querySwapRetentionCohorts(ctx context.Context, db executor, rows []*model.RetentionCohort) error {
	if err := prepareShadow(ctx, db, "analytics", "user_retention_cohorts"); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
			INSERT INTO analytics.user_retention_cohorts_next (
				cohort_month, activity_month, cohort_size, retained_users, retention_rate
			) VALUES ($1, $2, $3, $4, $5)`,
			r.CohortMonth, r.ActivityMonth, r.CohortSize, r.RetainedUsers, r.RetentionRate,
		)
		if err != nil {
			return fmt.Errorf("insert retention cohort: %w", err)
		}
	}
	return swapShadow(ctx, db, "analytics", "user_retention_cohorts")
}

func querySwapFeatureFunnel(ctx context.Context, db executor, rows []*model.FeatureFunnelRow) error {
	if err := prepareShadow(ctx, db, "analytics", "feature_adoption_funnel"); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
			INSERT INTO analytics.feature_adoption_funnel_next (
				feature_id, feature_name, unique_users, total_uses,
				avg_duration_seconds, first_used, last_used
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.FeatureID, r.FeatureName, r.UniqueUsers, r.TotalUses,
			r.AvgDurationSeconds, nullTimePtr(r.FirstUsed), nullTimePtr(r.LastUsed),
		)
		if err != nil {
			return fmt.Errorf("insert feature funnel row: %w", err)
		}
	}
	return swapShadow(ctx, db, "analytics", "feature_adoption_funnel")
}

func querySwapChurnRisk(ctx context.Context, db executor, rows []*model.ChurnRiskScore) error {
	if err := prepareShadow(ctx, db, "analytics", "churn_risk_scores"); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
			INSERT INTO analytics.churn_risk_scores_next (
				user_sk, user_id, last_active_date, days_since_active,
				lifetime_events, risk_category
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			r.UserSK, r.UserID, r.LastActiveDate, r.DaysSinceActive,
			r.LifetimeEvents, string(r.RiskCategory),
		)
		if err != nil {
			return fmt.Errorf("insert churn risk row: %w", err)
		}
	}
	return swapShadow(ctx, db, "analytics", "churn_risk_scores")
}

func prepareShadow(ctx context.Context, db executor, schema, table string) error {
	if _, err := db.ExecContext(ctx,
		fmt.Sprintf(`DROP TABLE IF EXISTS %s.%s_next`, schema, table)); err != nil {
		return fmt.Errorf("drop stale shadow for %s: %w", table, err)
	}
	if _, err := db.ExecContext(ctx,
		fmt.Sprintf(`CREATE TABLE %s.%s_next (LIKE %s.%s INCLUDING ALL)`,
			schema, table, schema, table)); err != nil {
		return fmt.Errorf("create shadow for %s: %w", table, err)
	}
	return nil
}

func swapShadow(ctx context.Context, db executor, schema, table string) error {
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s.%s RENAME TO %s_old`, schema, table, table),
		fmt.Sprintf(`ALTER TABLE %s.%s_next RENAME TO %s`, schema, table, table),
		fmt.Sprintf(`DROP TABLE %s.%s_old`, schema, table),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("swap %s: %w", table, err)
		}
	}
	return nil
}

func queryListChurnRisk(ctx context.Context, db executor) ([]*model.ChurnRiskScore, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_sk, user_id, last_active_date, days_since_active,
			lifetime_events, risk_category
		FROM analytics.churn_risk_scores
		ORDER BY days_since_active DESC, user_sk`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChurnRiskScores(rows)
}

// --- core.etl_batch_runs ---

// queryCreateBatchRun upserts on batch_id: re-running a batch resets its
// report rather than failing, since the batch id is the idempotency token.
func queryCreateBatchRun(ctx context.Context, db executor, run *model.BatchRun) error {
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stage counts: %w", err)
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO core.etl_batch_runs (batch_id, status, stages)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id) DO UPDATE SET
			status = EXCLUDED.status,
			stages = EXCLUDED.stages,
			error = NULL,
			started_at = NOW(),
			finished_at = NULL
		RETURNING id, started_at`,
		run.BatchID, string(run.Status), stages,
	).Scan(&run.ID, &run.StartedAt)
}

func queryUpdateBatchRun(ctx context.Context, db executor, run *model.BatchRun) error {
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stage counts: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE core.etl_batch_runs
		SET status = $2, stages = $3, error = $4, finished_at = $5
		WHERE batch_id = $1`,
		run.BatchID,
		string(run.Status),
		stages,
		nullString(run.Error),
		nullTimePtr(run.FinishedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func queryGetBatchRun(ctx context.Context, db executor, batchID string) (*model.BatchRun, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+batchRunColumns+`
		FROM core.etl_batch_runs
		WHERE batch_id = $1`,
		batchID,
	)
	run, err := scanBatchRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func queryListBatchRuns(ctx context.Context, db executor, limit int) ([]*model.BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+batchRunColumns+`
		FROM core.etl_batch_runs
		ORDER BY started_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.BatchRun
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
