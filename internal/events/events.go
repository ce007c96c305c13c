package events

import (
	"context"
	"time"

	"github.com/clouddocs/warehouse/internal/model"
)

// Event topic constants
const (
	TopicBatchStarted   = "warehouse.batch.started"
	TopicBatchCompleted = "warehouse.batch.completed"
	TopicBatchFailed    = "warehouse.batch.failed"
	TopicStageCompleted = "warehouse.stage.completed"

	// Emitted whenever a stage quarantines records (consumed by alerting).
	TopicRecordsDeadLettered = "warehouse.records.deadlettered"
)

// Event types

type BatchStarted struct {
	BatchID   string    `json:"batch_id"`
	StartedAt time.Time `json:"started_at"`
}

type BatchCompleted struct {
	Run *model.BatchRun `json:"run"`
}

type BatchFailed struct {
	BatchID string      `json:"batch_id"`
	Stage   model.Stage `json:"stage"`
	Error   string      `json:"error"`
}

type StageCompleted struct {
	BatchID string            `json:"batch_id"`
	Stage   model.Stage       `json:"stage"`
	Counts  model.StageCounts `json:"counts"`
}

type RecordsDeadLettered struct {
	BatchID string      `json:"batch_id"`
	Stage   model.Stage `json:"stage"`
	Count   int         `json:"count"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
