package model

import "time"

// RetentionCohort is one cell of the monthly cohort retention projection:
// of the users whose first activity fell in CohortMonth, how many were active
// in ActivityMonth.
type RetentionCohort struct {
	CohortMonth   time.Time `json:"cohort_month"`
	ActivityMonth time.Time `json:"activity_month"`
	CohortSize    int       `json:"cohort_size"`
	RetainedUsers int       `json:"retained_users"`
	RetentionRate float64   `json:"retention_rate"`
}

// FeatureFunnelRow is the per-feature adoption projection.
type FeatureFunnelRow struct {
	FeatureID          string     `json:"feature_id"`
	FeatureName        string     `json:"feature_name"`
	UniqueUsers        int        `json:"unique_users"`
	TotalUses          int        `json:"total_uses"`
	AvgDurationSeconds float64    `json:"avg_duration_seconds"`
	FirstUsed          *time.Time `json:"first_used,omitempty"`
	LastUsed           *time.Time `json:"last_used,omitempty"`
}

// RiskCategory buckets a user by days since last activity.
type RiskCategory string

const (
	RiskActive RiskCategory = "active"
	RiskLow    RiskCategory = "low"
	RiskMedium RiskCategory = "medium"
	RiskHigh   RiskCategory = "high"
)

// RiskFor applies the fixed churn thresholds.
func RiskFor(daysSinceActive int) RiskCategory {
	switch {
	case daysSinceActive > 30:
		return RiskHigh
	case daysSinceActive > 14:
		return RiskMedium
	case daysSinceActive > 7:
		return RiskLow
	default:
		return RiskActive
	}
}

// ChurnRiskScore is the per-user churn projection.
type ChurnRiskScore struct {
	UserSK          int64        `json:"user_sk"`
	UserID          string       `json:"user_id"`
	LastActiveDate  time.Time    `json:"last_active_date"`
	DaysSinceActive int          `json:"days_since_active"`
	LifetimeEvents  int          `json:"lifetime_events"`
	RiskCategory    RiskCategory `json:"risk_category"`
}
