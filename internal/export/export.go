// Package export ships quarantined records out of the warehouse for offline
// inspection, as JSONL to an S3-compatible bucket or any other destination.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/clouddocs/warehouse/internal/store"
)

// Destination is the interface for an export target (S3, local file, etc.).
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// header is the first JSONL record written by WriteJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	BatchID     string    `json:"batch_id"`
	RecordCount int       `json:"record_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WriteJSONL writes the batch's dead letters from the store as JSONL to w.
// Rows keep their store order (insertion order within the batch).
func WriteJSONL(ctx context.Context, s store.Store, batchID string, w io.Writer) (int, error) {
	letters, err := s.ListDeadLetters(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("list dead letters: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     "1",
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		BatchID:     batchID,
		RecordCount: len(letters),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for _, dl := range letters {
		if err := enc.Encode(record{Type: "dead_letter", Data: dl}); err != nil {
			return 0, fmt.Errorf("encode dead letter %d: %w", dl.ID, err)
		}
	}

	return len(letters), nil
}

// Exporter writes per-batch dead-letter files to a destination.
type Exporter struct {
	store  store.Store
	dest   Destination
	logger *slog.Logger
}

// New creates an Exporter for the given destination.
func New(s store.Store, dest Destination, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: s, dest: dest, logger: logger}
}

// Export uploads the batch's dead letters as one JSONL object. Returns the
// number of records exported; zero records still produces a (header-only)
// object so operators can distinguish "clean batch" from "export never ran".
func (e *Exporter) Export(ctx context.Context, batchID string) (int, error) {
	var buf bytes.Buffer
	n, err := WriteJSONL(ctx, e.store, batchID, &buf)
	if err != nil {
		return 0, err
	}
	if err := e.dest.Write(ctx, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	e.logger.Info("dead letters exported", "batch_id", batchID, "records", n)
	return n, nil
}
