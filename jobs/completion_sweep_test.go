package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	open    []int64
	listErr error
	failOn  map[int64]error
	scanned []int64
	actors  []int64
}

func (f *fakeScanner) ListOpenWorkOrderIDs(ctx context.Context) ([]int64, error) {
	return f.open, f.listErr
}

func (f *fakeScanner) ScanCompletion(ctx context.Context, workOrderID int64, actorID int64) error {
	f.scanned = append(f.scanned, workOrderID)
	f.actors = append(f.actors, actorID)
	return f.failOn[workOrderID]
}

func sweepTask(t *testing.T, actorID int64) *asynq.Task {
	t.Helper()
	task, err := NewCompletionSweepTask(actorID)
	require.NoError(t, err)
	return task
}

func TestCompletionSweepScansEveryOpenOrder(t *testing.T) {
	scanner := &fakeScanner{open: []int64{1, 2, 3}}
	job := NewCompletionSweepJob(scanner, nil)

	require.NoError(t, job.Handle(context.Background(), sweepTask(t, 7)))
	require.Equal(t, []int64{1, 2, 3}, scanner.scanned)
	require.Equal(t, []int64{7, 7, 7}, scanner.actors)
}

func TestCompletionSweepContinuesPastFailures(t *testing.T) {
	scanner := &fakeScanner{
		open:   []int64{1, 2, 3},
		failOn: map[int64]error{2: errors.New("scan boom")},
	}
	job := NewCompletionSweepJob(scanner, nil)

	require.NoError(t, job.Handle(context.Background(), sweepTask(t, 0)))
	require.Equal(t, []int64{1, 2, 3}, scanner.scanned, "one failed order never stops the sweep")
}

func TestCompletionSweepPropagatesListError(t *testing.T) {
	scanner := &fakeScanner{listErr: errors.New("db down")}
	job := NewCompletionSweepJob(scanner, nil)

	require.Error(t, job.Handle(context.Background(), sweepTask(t, 0)))
}

func TestCompletionSweepSkipsMalformedPayload(t *testing.T) {
	job := NewCompletionSweepJob(&fakeScanner{}, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskCompletionSweep, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
