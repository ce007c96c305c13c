// Package parser converts raw event payloads into typed staging records.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/store"
)

// timestampLayouts are tried in order when casting event_timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// rawEvent is the wire shape of one ingested event payload.
type rawEvent struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	EventTimestamp string          `json:"event_timestamp"`
	UserID         string          `json:"user_id"`
	SessionID      string          `json:"session_id"`
	Properties     json.RawMessage `json:"properties"`
	Context        struct {
		Platform  string `json:"platform"`
		UserAgent string `json:"user_agent"`
		IPAddress string `json:"ip_address"`
	} `json:"context"`
}

// Parse validates and type-casts one raw record into a staging record.
// A malformed payload or a missing mandatory field yields a
// *model.ValidationError; the caller routes those to the dead-letter set.
func Parse(raw *model.RawRecord) (*model.StagingRecord, error) {
	var ev rawEvent
	if err := json.Unmarshal(raw.Payload, &ev); err != nil {
		return nil, &model.ValidationError{EventID: raw.EventID, Field: "raw_payload", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	if ev.EventID == "" {
		return nil, &model.ValidationError{Field: "event_id", Reason: "missing"}
	}
	if ev.EventType == "" {
		return nil, &model.ValidationError{EventID: ev.EventID, Field: "event_type", Reason: "missing"}
	}
	if ev.UserID == "" {
		return nil, &model.ValidationError{EventID: ev.EventID, Field: "user_id", Reason: "missing"}
	}
	if ev.EventTimestamp == "" {
		return nil, &model.ValidationError{EventID: ev.EventID, Field: "event_timestamp", Reason: "missing"}
	}

	ts, err := parseTimestamp(ev.EventTimestamp)
	if err != nil {
		return nil, &model.ValidationError{EventID: ev.EventID, Field: "event_timestamp", Reason: err.Error()}
	}

	props := make(map[string]any)
	if len(ev.Properties) > 0 {
		if err := json.Unmarshal(ev.Properties, &props); err != nil {
			return nil, &model.ValidationError{EventID: ev.EventID, Field: "properties", Reason: fmt.Sprintf("malformed JSON: %v", err)}
		}
	}

	rec := &model.StagingRecord{
		EventID:        ev.EventID,
		EventType:      model.EventType(ev.EventType),
		EventTimestamp: ts,
		UserID:         ev.UserID,
		SessionID:      ev.SessionID,
		DocumentID:     stringProp(props, "document_id"),
		FeatureID:      stringProp(props, "feature_id"),
		// Duration prefers the edit-specific field, falls back to the
		// generic one, and stays null when neither is present.
		DurationSeconds: firstIntProp(props, "edit_duration_sec", "duration_sec"),
		CharactersAdded: firstIntProp(props, "characters_added"),
		Platform:        ev.Context.Platform,
		UserAgent:       ev.Context.UserAgent,
		IPAddress:       ev.Context.IPAddress,
		Properties:      ev.Properties,
		BatchID:         raw.BatchID,
	}
	return rec, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// firstIntProp returns the first of the named numeric properties that is
// present, or nil when none are.
func firstIntProp(props map[string]any, keys ...string) *int {
	for _, key := range keys {
		switch v := props[key].(type) {
		case float64:
			n := int(v)
			return &n
		case json.Number:
			if i, err := v.Int64(); err == nil {
				n := int(i)
				return &n
			}
		}
	}
	return nil
}

// Parser runs the parse stage for a batch.
type Parser struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Parser backed by the given store.
func New(s store.Store, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{store: s, logger: logger}
}

// Run parses every raw record in the batch. Records that fail validation are
// dead-lettered without aborting their siblings; records whose event id is
// already staged are skipped, which is what makes a re-run a no-op.
func (p *Parser) Run(ctx context.Context, batchID string) (model.StageCounts, error) {
	var counts model.StageCounts

	raws, err := p.store.ListRawRecords(ctx, batchID)
	if err != nil {
		return counts, fmt.Errorf("list raw records: %w", err)
	}

	for _, raw := range raws {
		rec, err := Parse(raw)
		if err != nil {
			if !model.IsValidation(err) {
				return counts, fmt.Errorf("parse %s: %w", raw.EventID, err)
			}
			if dlErr := p.deadLetter(ctx, raw, err); dlErr != nil {
				return counts, dlErr
			}
			counts.DeadLettered++
			continue
		}

		exists, err := p.store.StagingExists(ctx, rec.EventID)
		if err != nil {
			return counts, fmt.Errorf("check staging for %s: %w", rec.EventID, err)
		}
		if exists {
			continue
		}

		if err := p.store.InsertStagingRecord(ctx, rec); err != nil {
			return counts, fmt.Errorf("insert staging record %s: %w", rec.EventID, err)
		}
		counts.Accepted++
	}

	p.logger.Info("parse stage complete",
		"batch_id", batchID,
		"raw", len(raws),
		"accepted", counts.Accepted,
		"dead_lettered", counts.DeadLettered)
	return counts, nil
}

func (p *Parser) deadLetter(ctx context.Context, raw *model.RawRecord, cause error) error {
	dl := &model.DeadLetterRecord{
		EventID: raw.EventID,
		Payload: raw.Payload,
		BatchID: raw.BatchID,
		Stage:   model.StageParse.String(),
		Reason:  cause.Error(),
	}
	if err := p.store.InsertDeadLetter(ctx, dl); err != nil {
		return fmt.Errorf("dead-letter %s: %w", raw.EventID, err)
	}
	p.logger.Warn("record dead-lettered", "event_id", raw.EventID, "reason", cause.Error())
	return nil
}
