package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCompletionSweep re-runs the work order completion rule over all
	// open orders, catching completions the best-effort approval hooks missed.
	TaskCompletionSweep = "workorder:completion_sweep"
)

// CompletionSweepPayload parameterizes a completion sweep run.
type CompletionSweepPayload struct {
	ActorID int64 `json:"actor_id"`
}

// NewCompletionSweepTask constructs an Asynq task.
func NewCompletionSweepTask(actorID int64) (*asynq.Task, error) {
	data, err := json.Marshal(CompletionSweepPayload{ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCompletionSweep, data), nil
}
