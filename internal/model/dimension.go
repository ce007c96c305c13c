package model

import "time"

// UserAttributes is the slowly-changing attribute set of the user dimension.
// Two versions with equal attributes are considered the same version.
type UserAttributes struct {
	Email         string    `json:"email"`
	SignupDate    time.Time `json:"signup_date"`
	CurrentPlan   string    `json:"current_plan"`
	AccountStatus string    `json:"account_status"`
}

// Equal reports whether the slowly-changing attributes match. SignupDate is
// compared by calendar date since it is stored as a DATE column.
func (a UserAttributes) Equal(b UserAttributes) bool {
	ay, am, ad := a.SignupDate.Date()
	by, bm, bd := b.SignupDate.Date()
	return a.Email == b.Email &&
		a.CurrentPlan == b.CurrentPlan &&
		a.AccountStatus == b.AccountStatus &&
		ay == by && am == bm && ad == bd
}

// UserVersion is one row of the append-only user dimension version log.
// A version is current iff EffectiveTo is nil; for any natural key the
// validity intervals [EffectiveFrom, EffectiveTo) never overlap.
type UserVersion struct {
	SurrogateKey  int64  `json:"user_sk"`
	UserID        string `json:"user_id"`
	Attributes    UserAttributes
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// Current reports whether this version's validity interval is open.
func (v *UserVersion) Current() bool {
	return v.EffectiveTo == nil
}

// CoversInstant reports whether the version was current at the given instant.
func (v *UserVersion) CoversInstant(t time.Time) bool {
	if t.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveTo == nil || t.Before(*v.EffectiveTo)
}

// Document is a static (non-versioned) dimension row, created lazily on the
// first fact that references it.
type Document struct {
	SurrogateKey int64     `json:"document_sk"`
	DocumentID   string    `json:"document_id"`
	Title        string    `json:"title"`
	OwnerUserID  string    `json:"owner_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Feature is a static dimension row, pre-populated from the product catalog.
type Feature struct {
	SurrogateKey int64  `json:"feature_sk"`
	FeatureID    string `json:"feature_id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Premium      bool   `json:"premium"`
}

// DateEntry is one pre-populated row of the date dimension.
type DateEntry struct {
	DateKey   int       `json:"date_key"`
	Date      time.Time `json:"date"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Day       int       `json:"day"`
	DayOfWeek int       `json:"day_of_week"`
	IsWeekend bool      `json:"is_weekend"`
}
