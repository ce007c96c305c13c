// Package facts loads staging records into the event-grain fact table.
package facts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clouddocs/warehouse/internal/dims"
	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store"
)

// Loader runs the fact stage for a batch.
type Loader struct {
	store    store.Store
	resolver *dims.Resolver
	logger   *slog.Logger
}

// New creates a Loader that resolves foreign keys through the given resolver.
func New(s store.Store, resolver *dims.Resolver, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: s, resolver: resolver, logger: logger}
}

// Run inserts one immutable fact row per staging record in the batch.
// A record whose event id is already a fact is skipped, never re-inserted or
// updated. Unresolvable mandatory references reject the record; the batch
// continues. Fact rows are never mutated after insert.
func (l *Loader) Run(ctx context.Context, batchID string) (model.StageCounts, error) {
	var counts model.StageCounts

	records, err := l.store.ListStagingRecords(ctx, batchID)
	if err != nil {
		return counts, fmt.Errorf("list staging records: %w", err)
	}

	for _, rec := range records {
		exists, err := l.store.FactExists(ctx, rec.EventID)
		if err != nil {
			return counts, fmt.Errorf("check fact for %s: %w", rec.EventID, err)
		}
		if exists {
			continue
		}

		fact, err := l.build(ctx, rec)
		if err != nil {
			if !model.IsReferential(err) {
				return counts, fmt.Errorf("build fact %s: %w", rec.EventID, err)
			}
			if dlErr := l.reject(ctx, rec, err); dlErr != nil {
				return counts, dlErr
			}
			counts.Rejected++
			continue
		}

		if err := l.store.InsertFactEvent(ctx, fact); err != nil {
			return counts, fmt.Errorf("insert fact %s: %w", rec.EventID, err)
		}
		counts.Accepted++
	}

	l.logger.Info("fact stage complete",
		"batch_id", batchID,
		"accepted", counts.Accepted,
		"rejected", counts.Rejected)
	return counts, nil
}

// build resolves the record's dimension references. User and date are
// mandatory; document and feature stay null when absent or unknown.
func (l *Loader) build(ctx context.Context, rec *model.StagingRecord) (*model.FactEvent, error) {
	userVersion, err := l.resolver.ResolveUserAt(ctx, rec.UserID, rec.EventTimestamp)
	if err != nil {
		return nil, err
	}
	if userVersion == nil {
		return nil, &model.ReferentialError{EventID: rec.EventID, Dimension: "user", NaturalKey: rec.UserID}
	}

	dateKey := rec.DateKey()
	ok, err := l.store.DateExists(ctx, dateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &model.ReferentialError{
			EventID:    rec.EventID,
			Dimension:  "date",
			NaturalKey: fmt.Sprintf("%d", dateKey),
		}
	}

	fact := &model.FactEvent{
		EventID:         rec.EventID,
		UserSK:          userVersion.SurrogateKey,
		DateKey:         dateKey,
		EventType:       rec.EventType,
		SessionID:       rec.SessionID,
		Platform:        rec.Platform,
		EventTimestamp:  rec.EventTimestamp,
		DurationSeconds: rec.DurationSeconds,
		CharactersAdded: rec.CharactersAdded,
		BatchID:         rec.BatchID,
	}

	if rec.DocumentID != "" {
		// The resolver creates the row lazily if the dimension stage never
		// saw this document, so the reference always lands.
		sk, err := l.resolver.ResolveDocument(ctx, rec)
		if err != nil {
			return nil, err
		}
		fact.DocumentSK = &sk
	}

	if rec.FeatureID != "" {
		feature, err := l.resolver.ResolveFeature(ctx, rec.FeatureID)
		if err != nil {
			return nil, err
		}
		if feature != nil {
			sk := feature.SurrogateKey
			fact.FeatureSK = &sk
		}
	}

	return fact, nil
}

func (l *Loader) reject(ctx context.Context, rec *model.StagingRecord, cause error) error {
	dl := &model.DeadLetterRecord{
		EventID: rec.EventID,
		BatchID: rec.BatchID,
		Stage:   model.StageFacts.String(),
		Reason:  cause.Error(),
	}
	if err := l.store.InsertDeadLetter(ctx, dl); err != nil {
		return fmt.Errorf("record rejection for %s: %w", rec.EventID, err)
	}
	l.logger.Warn("fact rejected", "event_id", rec.EventID, "reason", cause.Error())
	return nil
}
