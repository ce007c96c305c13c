package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clouddocs/warehouse/internal/idgen"
	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store"
)

// Loader writes generated events into the raw landing table.
type Loader struct {
	store  store.Store
	logger *slog.Logger
}

// NewLoader creates a Loader backed by the given store.
func NewLoader(s store.Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: s, logger: logger}
}

// LoadDay generates one day of events under a fresh batch id and lands them
// in raw storage. Duplicate event ids are skipped by the store, so replays
// never double-load. Returns the batch id and the number of rows stored.
func (l *Loader) LoadDay(ctx context.Context, gen *Generator, day time.Time, perDay int) (string, int, error) {
	batchID, err := idgen.NewBatchID(day)
	if err != nil {
		return "", 0, err
	}
	n, err := l.LoadEvents(ctx, gen.GenerateDay(day, perDay), batchID)
	return batchID, n, err
}

// LoadEvents lands the given events under the given batch id.
func (l *Loader) LoadEvents(ctx context.Context, events []*Event, batchID string) (int, error) {
	records := make([]*model.RawRecord, 0, len(events))
	for _, ev := range events {
		payload, err := ev.Marshal()
		if err != nil {
			return 0, err
		}
		records = append(records, &model.RawRecord{
			EventID: ev.EventID,
			Payload: payload,
			BatchID: batchID,
		})
	}

	n, err := l.store.InsertRawRecords(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("insert raw records: %w", err)
	}
	l.logger.Info("raw events loaded", "batch_id", batchID, "generated", len(records), "stored", n)
	return n, nil
}
