// Package pipeline sequences the warehouse stages for one batch and records
// the run in the batch bookkeeping table.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clouddocs/warehouse/internal/dims"
	"github.com/clouddocs/warehouse/internal/events"
	"github.com/clouddocs/warehouse/internal/facts"
	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/parser"
	"github.com/clouddocs/warehouse/internal/rollup"
	"github.com/clouddocs/warehouse/internal/store"
	"github.com/clouddocs/warehouse/internal/views"
)

// Runner executes the five stages in dependency order. Each stage is
// idempotent for a given batch id, so a failed run can be re-executed from
// the top without double-processing.
type Runner struct {
	store     store.Store
	parser    *parser.Parser
	resolver  *dims.Resolver
	loader    *facts.Loader
	agg       *rollup.Aggregator
	refresher *views.Refresher
	publisher events.Publisher
	logger    *slog.Logger
}

// New wires a Runner over the given store and publisher. A nil publisher
// disables event emission.
func New(s store.Store, pub events.Publisher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	resolver := dims.New(s, logger)
	return &Runner{
		store:     s,
		parser:    parser.New(s, logger),
		resolver:  resolver,
		loader:    facts.New(s, resolver, logger),
		agg:       rollup.New(s, logger),
		refresher: views.New(s, logger),
		publisher: pub,
		logger:    logger,
	}
}

// Run executes the full pipeline for one batch. The returned run reflects the
// final bookkeeping row even when an error is returned.
func (r *Runner) Run(ctx context.Context, batchID string) (*model.BatchRun, error) {
	run := &model.BatchRun{
		BatchID: batchID,
		Status:  model.BatchRunning,
		Stages:  make(map[model.Stage]model.StageCounts),
	}
	if err := r.store.CreateBatchRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create batch run: %w", err)
	}
	r.publish(ctx, events.TopicBatchStarted, events.BatchStarted{
		BatchID:   batchID,
		StartedAt: run.StartedAt,
	})
	r.logger.Info("batch started", "batch_id", batchID)

	for _, stage := range model.Stages {
		counts, err := r.runStage(ctx, stage, batchID)
		if err != nil {
			return r.fail(ctx, run, stage, err)
		}
		run.Stages[stage] = counts
		if err := r.store.UpdateBatchRun(ctx, run); err != nil {
			return r.fail(ctx, run, stage, fmt.Errorf("update batch run: %w", err))
		}
		r.publish(ctx, events.TopicStageCompleted, events.StageCompleted{
			BatchID: batchID,
			Stage:   stage,
			Counts:  counts,
		})
		if quarantined := counts.DeadLettered + counts.Rejected; quarantined > 0 {
			r.publish(ctx, events.TopicRecordsDeadLettered, events.RecordsDeadLettered{
				BatchID: batchID,
				Stage:   stage,
				Count:   quarantined,
			})
		}
	}

	now := time.Now().UTC()
	run.Status = model.BatchSucceeded
	run.FinishedAt = &now
	if err := r.store.UpdateBatchRun(ctx, run); err != nil {
		return run, fmt.Errorf("update batch run: %w", err)
	}
	r.publish(ctx, events.TopicBatchCompleted, events.BatchCompleted{Run: run})
	r.logger.Info("batch succeeded", "batch_id", batchID, "accepted", run.TotalAccepted())
	return run, nil
}

func (r *Runner) runStage(ctx context.Context, stage model.Stage, batchID string) (model.StageCounts, error) {
	switch stage {
	case model.StageParse:
		return r.parser.Run(ctx, batchID)
	case model.StageDims:
		return r.resolver.Run(ctx, batchID)
	case model.StageFacts:
		return r.loader.Run(ctx, batchID)
	case model.StageAggregate:
		rows, err := r.agg.Run(ctx)
		return model.StageCounts{Accepted: rows}, err
	case model.StageRefresh:
		return model.StageCounts{}, r.refresher.Run(ctx)
	default:
		return model.StageCounts{}, fmt.Errorf("unknown stage %q", stage)
	}
}

func (r *Runner) fail(ctx context.Context, run *model.BatchRun, stage model.Stage, cause error) (*model.BatchRun, error) {
	now := time.Now().UTC()
	run.Status = model.BatchFailed
	run.Error = cause.Error()
	run.FinishedAt = &now
	if err := r.store.UpdateBatchRun(ctx, run); err != nil {
		r.logger.Error("recording batch failure", "batch_id", run.BatchID, "error", err)
	}
	r.publish(ctx, events.TopicBatchFailed, events.BatchFailed{
		BatchID: run.BatchID,
		Stage:   stage,
		Error:   cause.Error(),
	})
	r.logger.Error("batch failed", "batch_id", run.BatchID, "stage", stage, "error", cause)
	return run, fmt.Errorf("stage %s: %w", stage, cause)
}

// publish emits best-effort: a broker outage must not fail a warehouse batch.
func (r *Runner) publish(ctx context.Context, topic string, event any) {
	if err := r.publisher.Publish(ctx, topic, event); err != nil {
		r.logger.Warn("publishing event", "topic", topic, "error", err)
	}
}
