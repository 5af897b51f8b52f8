package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Decision enumerates approval outcomes.
type Decision string

const (
	// DecisionApproved marks an approve action.
	DecisionApproved Decision = "APPROVED"
	// DecisionRejected marks a reject action.
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether the decision is one of the known outcomes.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ApprovalRecord is a single append-only approval ledger entry. Records are
// written once and never mutated.
type ApprovalRecord struct {
	ID        int64
	Module    string
	RefID     int64
	Decision  Decision
	Note      string
	ActorID   int64
	DecidedAt time.Time
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record appends an approval entry to the ledger.
func (r *ApprovalRecorder) Record(ctx context.Context, rec ApprovalRecord) (int64, error) {
	if r == nil {
		return 0, errors.New("approval recorder not initialised")
	}
	if rec.Module == "" {
		return 0, errors.New("approval module required")
	}
	if rec.RefID == 0 {
		return 0, errors.New("approval ref id required")
	}
	if !rec.Decision.Valid() {
		return 0, errors.New("approval decision required")
	}
	if rec.ActorID == 0 {
		return 0, errors.New("approval actor required")
	}
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO approval_records (module, ref_id, decision, note, actor_id, decided_at)
VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, '0001-01-01 00:00:00+00'::timestamptz), NOW()))
RETURNING id`, rec.Module, rec.RefID, string(rec.Decision), rec.Note, rec.ActorID, rec.DecidedAt).Scan(&id)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return 0, err
	}
	return id, nil
}

// List returns approval history for a module/ref pair, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, refID int64) ([]ApprovalRecord, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, decision, note, actor_id, decided_at
FROM approval_records WHERE module=$1 AND ref_id=$2 ORDER BY decided_at ASC`, module, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []ApprovalRecord
	for rows.Next() {
		var rec ApprovalRecord
		var decision string
		if err := rows.Scan(&rec.ID, &rec.Module, &rec.RefID, &decision, &rec.Note, &rec.ActorID, &rec.DecidedAt); err != nil {
			return nil, err
		}
		rec.Decision = Decision(decision)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}
