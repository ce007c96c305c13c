package model

import "time"

// Stage names a pipeline stage, in dependency order.
type Stage string

const (
	StageParse     Stage = "parse"
	StageDims      Stage = "dimensions"
	StageFacts     Stage = "facts"
	StageAggregate Stage = "aggregate"
	StageRefresh   Stage = "refresh"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageParse, StageDims, StageFacts, StageAggregate, StageRefresh}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// BatchStatus is the lifecycle state of a batch run.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// StageCounts reports record-level outcomes for one stage of one batch run.
type StageCounts struct {
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	DeadLettered int `json:"dead_lettered"`
}

// BatchRun is the operator-visible record of one pipeline execution.
// The batch id is the sole externally supplied idempotency token: re-running
// the same batch after a partial failure is safe at every stage.
type BatchRun struct {
	ID         int64                 `json:"id"`
	BatchID    string                `json:"batch_id"`
	Status     BatchStatus           `json:"status"`
	Stages     map[Stage]StageCounts `json:"stages,omitempty"`
	Error      string                `json:"error,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// TotalAccepted returns the records accepted by the last record-level stage,
// which is the number of rows the batch landed in the fact table.
func (b *BatchRun) TotalAccepted() int {
	return b.Stages[StageFacts].Accepted
}
