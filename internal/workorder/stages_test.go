package workorder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func createOrderWithStages(t *testing.T, svc *Service) *WorkOrder {
	t.Helper()
	wo, err := svc.CreateFull(context.Background(), CreateInput{
		Buyer:   "PT Sandang Jaya",
		Details: []DetailInput{{VariantID: 11, QtyOrder: 100}},
	})
	require.NoError(t, err)
	require.Len(t, wo.Details[0].Stages, 5)
	return wo
}

func TestCreateStageShiftsLaterSequences(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	ctx := context.Background()
	wo := createOrderWithStages(t, svc)
	detailID := wo.Details[0].ID

	st, err := svc.CreateStage(ctx, CreateStageInput{
		DetailID: detailID,
		Name:     "embroidery",
		Seq:      3,
		ActorID:  7,
	})
	require.NoError(t, err)
	require.Equal(t, 3, st.Seq)
	require.Equal(t, StatusPending, st.Status)
	require.Equal(t, int64(7), st.AssigneeID, "assignee defaults to the actor")

	current, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	stages := current.Details[0].Stages
	require.Len(t, stages, 6)

	wantNames := []string{"cutting", "sewing", "embroidery", "finishing", "qc", "packing"}
	for i, stage := range stages {
		require.Equal(t, i+1, stage.Seq)
		require.Equal(t, wantNames[i], stage.Name)
	}
}

func TestCreateStageAppendBeyondEnd(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	wo := createOrderWithStages(t, svc)

	st, err := svc.CreateStage(context.Background(), CreateStageInput{
		DetailID: wo.Details[0].ID,
		Name:     "labeling",
		Seq:      6,
	})
	require.NoError(t, err)
	require.Equal(t, 6, st.Seq)
}

func TestCreateStageDetailMissing(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})

	_, err := svc.CreateStage(context.Background(), CreateStageInput{
		DetailID: 999,
		Name:     "embroidery",
		Seq:      1,
	})
	require.ErrorIs(t, err, ErrDetailNotFound)
}

func TestUpdateStageSeqConflict(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	ctx := context.Background()
	wo := createOrderWithStages(t, svc)
	stages := wo.Details[0].Stages

	seq := 2
	_, err := svc.UpdateStage(ctx, stages[0].ID, UpdateStageInput{Seq: &seq})
	require.ErrorIs(t, err, ErrSeqTaken)

	// Moving to a free slot works.
	free := 9
	st, err := svc.UpdateStage(ctx, stages[0].ID, UpdateStageInput{Seq: &free})
	require.NoError(t, err)
	require.Equal(t, 9, st.Seq)
}

func TestUpdateStagePartialFields(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	ctx := context.Background()
	wo := createOrderWithStages(t, svc)
	target := wo.Details[0].Stages[1]

	qtyIn := 97.0
	status := StatusInProgress
	st, err := svc.UpdateStage(ctx, target.ID, UpdateStageInput{
		QtyIn:  &qtyIn,
		Status: &status,
	})
	require.NoError(t, err)
	require.Equal(t, 97.0, st.QtyIn)
	require.Equal(t, StatusInProgress, st.Status)
	require.Equal(t, target.Name, st.Name, "untouched fields keep their values")
	require.Equal(t, target.Seq, st.Seq)
}

func TestApproveTerminalStageRecomputesCounters(t *testing.T) {
	repo, boms := seedFixture()
	approvals := &fakeApprovals{}
	svc := newTestService(repo, boms, approvals)
	ctx := context.Background()
	wo := createOrderWithStages(t, svc)
	detail := wo.Details[0]

	// Rejects happen along the pipeline; the terminal stage receives what
	// survived.
	for i, st := range detail.Stages {
		qtyIn := 100.0 - float64(i)
		var reject float64
		if i < 4 {
			reject = 1
		}
		_, err := svc.UpdateStage(ctx, st.ID, UpdateStageInput{QtyIn: &qtyIn, QtyReject: &reject})
		require.NoError(t, err)
	}

	terminal := detail.Stages[len(detail.Stages)-1]
	st, err := svc.ApproveStage(ctx, ApproveStageInput{
		StageID:  terminal.ID,
		Decision: "APPROVED",
		ActorID:  7,
	})
	require.NoError(t, err)
	require.True(t, st.IsApproved)
	require.Equal(t, StatusApproved, st.ApprovalStatus)

	current, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	d := current.Details[0]
	require.Equal(t, 96.0, d.QtyDone, "terminal qty_in becomes qty_done")
	require.Equal(t, 4.0, d.QtyReject, "rejects summed across the pipeline")
	require.Equal(t, StatusDone, d.Status, "96 done + 4 rejected covers the 100 ordered")

	require.Len(t, approvals.records, 1)
	require.Equal(t, "spk_stage", approvals.records[0].Module)
	require.Equal(t, terminal.ID, approvals.records[0].RefID)
	require.Equal(t, int64(7), approvals.records[0].ActorID)
}

func TestApproveNonTerminalStageLeavesCounters(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	ctx := context.Background()
	wo := createOrderWithStages(t, svc)
	detail := wo.Details[0]

	qtyIn := 100.0
	_, err := svc.UpdateStage(ctx, detail.Stages[0].ID, UpdateStageInput{QtyIn: &qtyIn})
	require.NoError(t, err)

	st, err := svc.ApproveStage(ctx, ApproveStageInput{
		StageID:  detail.Stages[0].ID,
		Decision: "APPROVED",
	})
	require.NoError(t, err)
	require.True(t, st.IsApproved)

	current, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	require.Zero(t, current.Details[0].QtyDone)
	require.Zero(t, current.Details[0].QtyReject)
	require.Equal(t, StatusPending, current.Details[0].Status)
}

func TestApproveStageRejection(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	ctx := context.Background()
	wo := createOrderWithStages(t, svc)
	terminal := wo.Details[0].Stages[4]

	st, err := svc.ApproveStage(ctx, ApproveStageInput{
		StageID:  terminal.ID,
		Decision: "REJECTED",
		Note:     "loose stitching",
	})
	require.NoError(t, err)
	require.False(t, st.IsApproved)
	require.Equal(t, StatusRejected, st.Status)

	// Rejection of the terminal stage never touches the detail counters.
	current, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	require.Zero(t, current.Details[0].QtyDone)
}

func TestApproveStageInvalidDecision(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	wo := createOrderWithStages(t, svc)

	_, err := svc.ApproveStage(context.Background(), ApproveStageInput{
		StageID:  wo.Details[0].Stages[0].ID,
		Decision: "MAYBE",
	})
	require.ErrorIs(t, err, ErrInvalidDecision)
}

func TestApproveStageNotFound(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})

	_, err := svc.ApproveStage(context.Background(), ApproveStageInput{
		StageID:  999,
		Decision: "APPROVED",
	})
	require.ErrorIs(t, err, ErrStageNotFound)
}

func TestInsertedStageBecomesTerminal(t *testing.T) {
	repo, boms := seedFixture()
	svc := newTestService(repo, boms, &fakeApprovals{})
	ctx := context.Background()
	wo := createOrderWithStages(t, svc)
	detail := wo.Details[0]

	// A stage appended after packing takes over the terminal role.
	final, err := svc.CreateStage(ctx, CreateStageInput{
		DetailID: detail.ID,
		Name:     "final inspection",
		Seq:      6,
		QtyIn:    100,
	})
	require.NoError(t, err)

	_, err = svc.ApproveStage(ctx, ApproveStageInput{
		StageID:  detail.Stages[4].ID, // packing, seq 5, no longer terminal
		Decision: "APPROVED",
	})
	require.NoError(t, err)
	current, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	require.Zero(t, current.Details[0].QtyDone)

	_, err = svc.ApproveStage(ctx, ApproveStageInput{
		StageID:  final.ID,
		Decision: "APPROVED",
	})
	require.NoError(t, err)
	current, err = svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, current.Details[0].QtyDone)
	require.Equal(t, StatusDone, current.Details[0].Status)
}
