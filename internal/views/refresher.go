// Package views rebuilds the analytics projections derived from the rollup
// and fact tables. Each projection is recomputed in full and swapped in
// atomically, so readers never observe a half-built table.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/rollup"
	"github.com/clouddocs/warehouse/internal/store"
)

// Refresher rebuilds the retention, feature funnel and churn risk projections.
type Refresher struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Refresher backed by the given store.
func New(s store.Store, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{store: s, logger: logger, now: time.Now}
}

// Run rebuilds all three projections. It first cross-checks the rollup
// against the fact table and refuses to publish projections derived from a
// drifted rollup.
func (r *Refresher) Run(ctx context.Context) error {
	if err := rollup.Verify(ctx, r.store); err != nil {
		return err
	}

	versions, err := r.store.ListAllUserVersions(ctx)
	if err != nil {
		return fmt.Errorf("list user versions: %w", err)
	}
	activity, err := r.store.ListDailyActivity(ctx)
	if err != nil {
		return fmt.Errorf("list daily activity: %w", err)
	}
	facts, err := r.store.ListFactEvents(ctx)
	if err != nil {
		return fmt.Errorf("list fact events: %w", err)
	}
	features, err := r.store.ListFeatures(ctx)
	if err != nil {
		return fmt.Errorf("list features: %w", err)
	}

	users := newUserIndex(versions)

	cohorts := BuildRetentionCohorts(activity, users)
	if err := r.store.SwapRetentionCohorts(ctx, cohorts); err != nil {
		return fmt.Errorf("swap retention cohorts: %w", err)
	}

	funnel := BuildFeatureFunnel(facts, features, users)
	if err := r.store.SwapFeatureFunnel(ctx, funnel); err != nil {
		return fmt.Errorf("swap feature funnel: %w", err)
	}

	risk := BuildChurnRisk(activity, users, r.now().UTC())
	if err := r.store.SwapChurnRisk(ctx, risk); err != nil {
		return fmt.Errorf("swap churn risk: %w", err)
	}

	r.logger.Info("refresh stage complete",
		"cohort_rows", len(cohorts), "funnel_rows", len(funnel), "risk_rows", len(risk))
	return nil
}

// userIndex resolves surrogate keys back to natural user ids and natural ids
// to their current surrogate key. Rollup and fact rows reference historical
// version keys, so projections that count users must count natural ids or a
// user would be counted once per attribute version.
type userIndex struct {
	idBySK     map[int64]string
	currentSKs map[string]int64
	orderedIDs []string
}

func newUserIndex(versions []*model.UserVersion) *userIndex {
	idx := &userIndex{
		idBySK:     make(map[int64]string, len(versions)),
		currentSKs: make(map[string]int64),
	}
	for _, v := range versions {
		if _, seen := idx.idBySK[v.SurrogateKey]; !seen {
			idx.idBySK[v.SurrogateKey] = v.UserID
		}
		if _, seen := idx.currentSKs[v.UserID]; !seen {
			idx.orderedIDs = append(idx.orderedIDs, v.UserID)
		}
		if v.Current() {
			idx.currentSKs[v.UserID] = v.SurrogateKey
		} else if _, ok := idx.currentSKs[v.UserID]; !ok {
			idx.currentSKs[v.UserID] = v.SurrogateKey
		}
	}
	return idx
}

func (idx *userIndex) userID(sk int64) (string, bool) {
	id, ok := idx.idBySK[sk]
	return id, ok
}

func monthOf(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// BuildRetentionCohorts computes monthly cohort retention from the daily
// rollup. A user's cohort is the month of their first recorded activity; a
// cohort cell counts how many of those users were active in each subsequent
// month, including the cohort month itself.
func BuildRetentionCohorts(activity []*model.DailyActivity, users *userIndex) []*model.RetentionCohort {
	firstMonth := make(map[string]time.Time)
	activeMonths := make(map[string]map[time.Time]struct{})

	for _, row := range activity {
		id, ok := users.userID(row.UserSK)
		if !ok {
			continue
		}
		month := monthOf(row.ActivityDate)
		if first, seen := firstMonth[id]; !seen || month.Before(first) {
			firstMonth[id] = month
		}
		if activeMonths[id] == nil {
			activeMonths[id] = make(map[time.Time]struct{})
		}
		activeMonths[id][month] = struct{}{}
	}

	type cellKey struct{ cohort, activity time.Time }
	cohortSize := make(map[time.Time]int)
	retained := make(map[cellKey]int)

	for id, cohort := range firstMonth {
		cohortSize[cohort]++
		for month := range activeMonths[id] {
			retained[cellKey{cohort: cohort, activity: month}]++
		}
	}

	rows := make([]*model.RetentionCohort, 0, len(retained))
	for key, count := range retained {
		size := cohortSize[key.cohort]
		rows = append(rows, &model.RetentionCohort{
			CohortMonth:   key.cohort,
			ActivityMonth: key.activity,
			CohortSize:    size,
			RetainedUsers: count,
			RetentionRate: float64(count) / float64(size),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CohortMonth.Equal(rows[j].CohortMonth) {
			return rows[i].CohortMonth.Before(rows[j].CohortMonth)
		}
		return rows[i].ActivityMonth.Before(rows[j].ActivityMonth)
	})
	return rows
}

// BuildFeatureFunnel computes per-feature adoption from the event-grain facts.
// Every catalog feature gets a row, even with zero recorded uses.
func BuildFeatureFunnel(facts []*model.FactEvent, features []*model.Feature, users *userIndex) []*model.FeatureFunnelRow {
	rowBySK := make(map[int64]*model.FeatureFunnelRow, len(features))
	userSets := make(map[int64]map[string]struct{}, len(features))
	durSum := make(map[int64]int)
	durCount := make(map[int64]int)

	ordered := make([]*model.FeatureFunnelRow, 0, len(features))
	for _, f := range features {
		row := &model.FeatureFunnelRow{FeatureID: f.FeatureID, FeatureName: f.Name}
		rowBySK[f.SurrogateKey] = row
		userSets[f.SurrogateKey] = make(map[string]struct{})
		ordered = append(ordered, row)
	}

	for _, fact := range facts {
		if fact.FeatureSK == nil {
			continue
		}
		sk := *fact.FeatureSK
		row, ok := rowBySK[sk]
		if !ok {
			continue
		}
		row.TotalUses++
		if id, ok := users.userID(fact.UserSK); ok {
			userSets[sk][id] = struct{}{}
		}
		if fact.DurationSeconds != nil {
			durSum[sk] += *fact.DurationSeconds
			durCount[sk]++
		}
		ts := fact.EventTimestamp.UTC()
		if row.FirstUsed == nil || ts.Before(*row.FirstUsed) {
			t := ts
			row.FirstUsed = &t
		}
		if row.LastUsed == nil || ts.After(*row.LastUsed) {
			t := ts
			row.LastUsed = &t
		}
	}

	for sk, row := range rowBySK {
		row.UniqueUsers = len(userSets[sk])
		if durCount[sk] > 0 {
			row.AvgDurationSeconds = float64(durSum[sk]) / float64(durCount[sk])
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].TotalUses != ordered[j].TotalUses {
			return ordered[i].TotalUses > ordered[j].TotalUses
		}
		return ordered[i].FeatureID < ordered[j].FeatureID
	})
	return ordered
}

// BuildChurnRisk scores every known user by recency of activity as of the
// given instant. Rows are keyed by the user's current version surrogate key so
// joins against the dimension always land on current attributes.
func BuildChurnRisk(activity []*model.DailyActivity, users *userIndex, asOf time.Time) []*model.ChurnRiskScore {
	lastActive := make(map[string]time.Time)
	lifetime := make(map[string]int)

	for _, row := range activity {
		id, ok := users.userID(row.UserSK)
		if !ok {
			continue
		}
		if row.ActivityDate.After(lastActive[id]) {
			lastActive[id] = row.ActivityDate
		}
		lifetime[id] += row.TotalEvents
	}

	today := asOf.Truncate(24 * time.Hour)
	rows := make([]*model.ChurnRiskScore, 0, len(lastActive))
	for _, id := range users.orderedIDs {
		last, ok := lastActive[id]
		if !ok {
			continue
		}
		days := int(today.Sub(last).Hours() / 24)
		if days < 0 {
			days = 0
		}
		rows = append(rows, &model.ChurnRiskScore{
			UserSK:          users.currentSKs[id],
			UserID:          id,
			LastActiveDate:  last,
			DaysSinceActive: days,
			LifetimeEvents:  lifetime[id],
			RiskCategory:    model.RiskFor(days),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DaysSinceActive != rows[j].DaysSinceActive {
			return rows[i].DaysSinceActive > rows[j].DaysSinceActive
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows
}
