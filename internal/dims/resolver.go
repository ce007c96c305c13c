// Package dims resolves natural business keys to surrogate keys and
// maintains versioned history for the user dimension.
package dims

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store"
)

// maxVersioningRetries bounds retries after a VersioningConflict. Conflicts
// are retried, never dropped; exhausting retries fails the record's batch.
const maxVersioningRetries = 3

const (
	defaultPlan  = "free"
	statusActive = "active"
	statusClosed = "cancelled"
)

// Resolver maps natural keys onto the dimension tables.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
	keys   *keyedMutex
}

// New creates a Resolver backed by the given store.
func New(s store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: s, logger: logger, keys: newKeyedMutex()}
}

// Run executes the dimension stage for a batch: it tops up the date
// dimension to cover the batch window, applies every record's user-attribute
// candidate in event-time order, and pre-creates document rows on first
// sight. Re-running the stage is a no-op for unchanged attributes.
func (r *Resolver) Run(ctx context.Context, batchID string) (model.StageCounts, error) {
	var counts model.StageCounts

	records, err := r.store.ListStagingRecords(ctx, batchID)
	if err != nil {
		return counts, fmt.Errorf("list staging records: %w", err)
	}
	if len(records) == 0 {
		return counts, nil
	}

	// ListStagingRecords orders by event_timestamp, so the window is
	// bounded by the first and last record.
	from := records[0].EventTimestamp
	to := records[len(records)-1].EventTimestamp
	if err := r.store.EnsureDateRange(ctx, from, to); err != nil {
		return counts, fmt.Errorf("ensure date range: %w", err)
	}

	for _, rec := range records {
		if err := r.EnsureUser(ctx, rec); err != nil {
			return counts, fmt.Errorf("version user %s: %w", rec.UserID, err)
		}
		if rec.DocumentID != "" {
			if _, err := r.ResolveDocument(ctx, rec); err != nil {
				return counts, fmt.Errorf("resolve document %s: %w", rec.DocumentID, err)
			}
		}
		counts.Accepted++
	}

	r.logger.Info("dimension stage complete", "batch_id", batchID, "records", counts.Accepted)
	return counts, nil
}

// EnsureUser applies the record's candidate attribute set to the user
// dimension: open a first version, no-op when attributes are unchanged, or
// atomically close-and-succeed the open version when they differ. Work for a
// given natural key is serialized; storage-level conflicts are retried.
func (r *Resolver) EnsureUser(ctx context.Context, rec *model.StagingRecord) error {
	unlock := r.keys.Lock(rec.UserID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxVersioningRetries; attempt++ {
		current, err := r.store.CurrentUserVersion(ctx, rec.UserID)
		if err != nil {
			return err
		}

		if current == nil {
			v := &model.UserVersion{
				UserID:        rec.UserID,
				Attributes:    candidateAttributes(nil, rec),
				EffectiveFrom: rec.EventTimestamp,
			}
			err = r.store.InsertUserVersion(ctx, v)
			if err == nil {
				return nil
			}
			if model.IsVersioningConflict(err) {
				lastErr = err
				continue
			}
			return err
		}

		attrs := candidateAttributes(current, rec)
		if attrs.Equal(current.Attributes) {
			return nil
		}
		if rec.EventTimestamp.Before(current.EffectiveFrom) {
			// A change older than the open version cannot be versioned
			// without rewriting closed history; closed versions are
			// immutable, so the stale change is logged and skipped.
			r.logger.Warn("stale attribute change ignored",
				"user_id", rec.UserID,
				"event_id", rec.EventID,
				"event_time", rec.EventTimestamp,
				"open_since", current.EffectiveFrom)
			return nil
		}

		next := &model.UserVersion{
			UserID:        rec.UserID,
			Attributes:    attrs,
			EffectiveFrom: rec.EventTimestamp,
		}
		err = r.store.SucceedUserVersion(ctx, current.SurrogateKey, next)
		if err == nil {
			return nil
		}
		if model.IsVersioningConflict(err) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("versioning user %s: retries exhausted: %w", rec.UserID, lastErr)
}

// ResolveUserAt returns the surrogate key of the user version current at the
// given instant. Events older than the earliest known version resolve to
// that earliest version: the dimension knew no prior state. Returns nil when
// the user has no versions at all.
func (r *Resolver) ResolveUserAt(ctx context.Context, userID string, at time.Time) (*model.UserVersion, error) {
	v, err := r.store.UserVersionAt(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	if v != nil {
		return v, nil
	}
	versions, err := r.store.ListUserVersions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return versions[0], nil
}

// ResolveDocument lazily creates the document row on first reference and
// returns its surrogate key. The title is synthesized from the natural key;
// the first referencing record donates owner and creation time.
func (r *Resolver) ResolveDocument(ctx context.Context, rec *model.StagingRecord) (int64, error) {
	doc, err := r.store.EnsureDocument(ctx, &model.Document{
		DocumentID:  rec.DocumentID,
		Title:       "Document " + rec.DocumentID,
		OwnerUserID: rec.UserID,
		CreatedAt:   rec.EventTimestamp,
	})
	if err != nil {
		return 0, err
	}
	return doc.SurrogateKey, nil
}

// ResolveFeature looks up a feature by natural key. Features are
// pre-populated; an unknown id returns nil, never an insert.
func (r *Resolver) ResolveFeature(ctx context.Context, featureID string) (*model.Feature, error) {
	return r.store.GetFeature(ctx, featureID)
}

// candidateAttributes builds the attribute set a record implies for its
// user. The first sighting synthesizes defaults; subscription events carry
// plan and status changes.
func candidateAttributes(current *model.UserVersion, rec *model.StagingRecord) model.UserAttributes {
	var attrs model.UserAttributes
	if current != nil {
		attrs = current.Attributes
	} else {
		attrs = model.UserAttributes{
			Email:         rec.UserID + "@example.com",
			SignupDate:    rec.EventTimestamp,
			CurrentPlan:   defaultPlan,
			AccountStatus: statusActive,
		}
	}

	switch rec.EventType {
	case model.EventSubscriptionStarted, model.EventSubscriptionUpgraded:
		if plan := planProperty(rec.Properties); plan != "" {
			attrs.CurrentPlan = plan
		}
		attrs.AccountStatus = statusActive
	case model.EventSubscriptionCancelled:
		attrs.CurrentPlan = defaultPlan
		attrs.AccountStatus = statusClosed
	}
	return attrs
}

func planProperty(props json.RawMessage) string {
	if len(props) == 0 {
		return ""
	}
	var p struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(props, &p); err != nil {
		return ""
	}
	return p.Plan
}
