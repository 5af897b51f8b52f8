package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// WorkOrderScanner is the slice of the work order service the sweep needs.
type WorkOrderScanner interface {
	ListOpenWorkOrderIDs(ctx context.Context) ([]int64, error)
	ScanCompletion(ctx context.Context, workOrderID int64, actorID int64) error
}

// CompletionSweepJob walks every open work order and applies the completion
// rule. A failed scan of one order is logged and does not stop the sweep.
type CompletionSweepJob struct {
	scanner WorkOrderScanner
	logger  *slog.Logger
}

// NewCompletionSweepJob constructs the job.
func NewCompletionSweepJob(scanner WorkOrderScanner, logger *slog.Logger) *CompletionSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionSweepJob{scanner: scanner, logger: logger}
}

// Handle processes TaskCompletionSweep tasks.
func (j *CompletionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CompletionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	ids, err := j.scanner.ListOpenWorkOrderIDs(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, id := range ids {
		if err := j.scanner.ScanCompletion(ctx, id, payload.ActorID); err != nil {
			failed++
			j.logger.Warn("completion sweep", slog.Int64("work_order_id", id), slog.Any("error", err))
		}
	}
	j.logger.Info("completion sweep finished",
		slog.Int("open_orders", len(ids)),
		slog.Int("failed", failed))
	return nil
}
