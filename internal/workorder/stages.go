package workorder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garuda-mes/garuda-mes/internal/shared"
)

// CreateStageInput describes a stage insertion at an arbitrary position.
type CreateStageInput struct {
	DetailID   int64
	Name       string
	Seq        int
	QtyIn      float64
	AssigneeID int64
	Status     Status
	ActorID    int64
}

// UpdateStageInput carries the fields to change; nil fields are untouched.
type UpdateStageInput struct {
	Name      *string
	Seq       *int
	QtyIn     *float64
	QtyReject *float64
	Assignee  *int64
	Status    *Status
	StartedAt *time.Time
	EndedAt   *time.Time
	ActorID   int64
}

// ApproveStageInput carries an approval decision for one stage.
type ApproveStageInput struct {
	StageID  int64
	Decision shared.Decision
	Note     string
	ActorID  int64
}

// CreateStage inserts a stage at the requested sequence. Stages of the same
// detail with seq >= the requested one are shifted by +1 first, processed in
// descending order so no transient duplicate sequence appears.
func (s *Service) CreateStage(ctx context.Context, input CreateStageInput) (*Stage, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("workorder: stage name required")
	}
	if input.Seq <= 0 {
		return nil, fmt.Errorf("workorder: stage seq must be positive")
	}
	actor := s.actors.Resolve(input.ActorID)
	status := input.Status
	if status == "" {
		status = StatusPending
	}
	now := time.Now().UTC()

	var stageID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.DetailExists(ctx, input.DetailID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrDetailNotFound
		}

		siblings, err := tx.ListStages(ctx, input.DetailID)
		if err != nil {
			return err
		}
		var shifting []Stage
		for _, st := range siblings {
			if st.Seq >= input.Seq {
				shifting = append(shifting, st)
			}
		}
		sort.Slice(shifting, func(i, j int) bool { return shifting[i].Seq > shifting[j].Seq })
		for _, st := range shifting {
			if err := tx.SetStageSeq(ctx, st.ID, st.Seq+1); err != nil {
				return err
			}
		}

		assignee := input.AssigneeID
		if assignee == 0 {
			assignee = actor
		}
		id, err := tx.InsertStage(ctx, Stage{
			DetailID:   input.DetailID,
			Name:       input.Name,
			Seq:        input.Seq,
			QtyIn:      input.QtyIn,
			AssigneeID: assignee,
			Status:     status,
			UpdatedBy:  actor,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		stageID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	st, err := s.repo.GetStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStage applies the provided field changes. A seq change is rejected
// when another stage of the same detail already holds that sequence; unlike
// creation there is no automatic shifting.
func (s *Service) UpdateStage(ctx context.Context, id int64, input UpdateStageInput) (*Stage, error) {
	actor := s.actors.Resolve(input.ActorID)
	now := time.Now().UTC()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetStageForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if input.Seq != nil && *input.Seq != st.Seq {
			siblings, err := tx.ListStages(ctx, st.DetailID)
			if err != nil {
				return err
			}
			for _, sib := range siblings {
				if sib.ID != st.ID && sib.Seq == *input.Seq {
					return ErrSeqTaken
				}
			}
			st.Seq = *input.Seq
		}
		if input.Name != nil {
			st.Name = *input.Name
		}
		if input.QtyIn != nil {
			st.QtyIn = *input.QtyIn
		}
		if input.QtyReject != nil {
			st.QtyReject = *input.QtyReject
		}
		if input.Assignee != nil {
			st.AssigneeID = *input.Assignee
		}
		if input.Status != nil {
			st.Status = *input.Status
		}
		if input.StartedAt != nil {
			st.StartedAt = input.StartedAt
		}
		if input.EndedAt != nil {
			st.EndedAt = input.EndedAt
		}
		st.UpdatedBy = actor
		st.UpdatedAt = now
		return tx.UpdateStage(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	st, err := s.repo.GetStage(ctx, id)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ApproveStage records the decision in the approval ledger and applies it to
// the stage. Approving the terminal stage recomputes the detail's production
// counters; approving any other stage changes no counters.
func (s *Service) ApproveStage(ctx context.Context, input ApproveStageInput) (*Stage, error) {
	if !input.Decision.Valid() {
		return nil, ErrInvalidDecision
	}
	actor := s.actors.Resolve(input.ActorID)
	now := time.Now().UTC()

	if _, err := s.repo.GetStage(ctx, input.StageID); err != nil {
		return nil, err
	}

	if s.approvals != nil {
		if _, err := s.approvals.Record(ctx, shared.ApprovalRecord{
			Module:   "spk_stage",
			RefID:    input.StageID,
			Decision: input.Decision,
			Note:     input.Note,
			ActorID:  actor,
		}); err != nil {
			return nil, err
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetStageForUpdate(ctx, input.StageID)
		if err != nil {
			return err
		}
		st.Status = Status(input.Decision)
		st.IsApproved = input.Decision == shared.DecisionApproved
		st.ApprovalStatus = Status(input.Decision)
		st.UpdatedBy = actor
		st.UpdatedAt = now
		if err := tx.UpdateStage(ctx, st); err != nil {
			return err
		}

		if input.Decision != shared.DecisionApproved {
			return nil
		}
		stages, err := tx.ListStages(ctx, st.DetailID)
		if err != nil {
			return err
		}
		if st.Seq != terminalSeq(stages) {
			return nil
		}

		detail, err := tx.GetDetailForUpdate(ctx, st.DetailID)
		if err != nil {
			return err
		}
		detail.QtyDone = st.QtyIn
		reject := 0.0
		for _, sib := range stages {
			reject += sib.QtyReject
		}
		detail.QtyReject = reject
		if detailComplete(detail) {
			detail.Status = StatusDone
		}
		return tx.UpdateDetail(ctx, detail)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "STAGE_DECISION", input.StageID, map[string]any{"decision": string(input.Decision)})
	st, err := s.repo.GetStage(ctx, input.StageID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
