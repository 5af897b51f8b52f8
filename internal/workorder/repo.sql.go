package workorder

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/garuda-mes/garuda-mes/internal/platform/db"
	"github.com/garuda-mes/garuda-mes/internal/stock"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. It embeds stock.TxPort so a
// stock adjustment always shares the transaction with the order writes that
// justified it.
type TxRepository interface {
	stock.TxPort

	InsertWorkOrder(ctx context.Context, wo WorkOrder) (int64, error)
	GetWorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error)
	UpdateWorkOrderHeader(ctx context.Context, wo WorkOrder) error
	SetWorkOrderStatus(ctx context.Context, id int64, status Status, actorID int64) error

	InsertDetail(ctx context.Context, d Detail) (int64, error)
	UpdateDetail(ctx context.Context, d Detail) error
	ListDetails(ctx context.Context, workOrderID int64) ([]Detail, error)
	GetDetailForUpdate(ctx context.Context, id int64) (Detail, error)
	DetailExists(ctx context.Context, id int64) (bool, error)

	InsertSnapshot(ctx context.Context, s BomSnapshot) (int64, error)
	ListSnapshots(ctx context.Context, detailID int64) ([]BomSnapshot, error)
	DeleteSnapshots(ctx context.Context, detailID int64) error

	InsertStage(ctx context.Context, st Stage) (int64, error)
	UpdateStage(ctx context.Context, st Stage) error
	ListStages(ctx context.Context, detailID int64) ([]Stage, error)
	GetStageForUpdate(ctx context.Context, id int64) (Stage, error)
	SetStageSeq(ctx context.Context, stageID int64, seq int) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetWorkOrder returns the full aggregate: header, details, snapshots, stages.
func (r *Repository) GetWorkOrder(ctx context.Context, id int64) (WorkOrder, error) {
	var wo WorkOrder
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, number, buyer, order_date, deadline, status, COALESCE(notes,''),
COALESCE(created_by,0), created_at, COALESCE(updated_by,0), updated_at
FROM work_orders WHERE id=$1`, id).Scan(&wo.ID, &wo.Number, &wo.Buyer, &wo.OrderDate, &wo.Deadline,
		&status, &wo.Notes, &wo.CreatedBy, &wo.CreatedAt, &wo.UpdatedBy, &wo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, err
	}
	wo.Status = Status(status)

	details, err := listDetails(ctx, r.pool, id)
	if err != nil {
		return WorkOrder{}, err
	}
	// Snapshots and stages per detail load concurrently; the pool is safe for
	// concurrent use.
	g, gctx := errgroup.WithContext(ctx)
	for i := range details {
		i := i
		g.Go(func() error {
			snaps, err := listSnapshots(gctx, r.pool, details[i].ID)
			if err != nil {
				return err
			}
			details[i].Snapshots = snaps
			stages, err := listStages(gctx, r.pool, details[i].ID)
			if err != nil {
				return err
			}
			details[i].Stages = stages
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WorkOrder{}, err
	}
	wo.Details = details
	return wo, nil
}

// GetStage returns one production stage.
func (r *Repository) GetStage(ctx context.Context, id int64) (Stage, error) {
	return scanStage(ctx, r.pool, id, false)
}

// ListWorkOrders returns order headers without their aggregates, newest first.
func (r *Repository) ListWorkOrders(ctx context.Context, limit, offset int) ([]WorkOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, buyer, order_date, deadline, status, COALESCE(notes,''),
COALESCE(created_by,0), created_at, COALESCE(updated_by,0), updated_at
FROM work_orders ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []WorkOrder
	for rows.Next() {
		var wo WorkOrder
		var status string
		if err := rows.Scan(&wo.ID, &wo.Number, &wo.Buyer, &wo.OrderDate, &wo.Deadline, &status,
			&wo.Notes, &wo.CreatedBy, &wo.CreatedAt, &wo.UpdatedBy, &wo.UpdatedAt); err != nil {
			return nil, err
		}
		wo.Status = Status(status)
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}

// ListOpenWorkOrderIDs returns ids of orders not yet DONE.
func (r *Repository) ListOpenWorkOrderIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM work_orders WHERE status <> 'DONE' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- transactional operations ---

func (t *txRepo) InsertWorkOrder(ctx context.Context, wo WorkOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO work_orders (number, buyer, order_date, deadline, status, notes, created_by, created_at, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		wo.Number, wo.Buyer, wo.OrderDate, wo.Deadline, string(wo.Status), wo.Notes,
		wo.CreatedBy, wo.CreatedAt, wo.UpdatedBy, wo.UpdatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) GetWorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error) {
	var wo WorkOrder
	var status string
	err := t.tx.QueryRow(ctx, `SELECT id, number, buyer, order_date, deadline, status, COALESCE(notes,''),
COALESCE(created_by,0), created_at, COALESCE(updated_by,0), updated_at
FROM work_orders WHERE id=$1 FOR UPDATE`, id).Scan(&wo.ID, &wo.Number, &wo.Buyer, &wo.OrderDate,
		&wo.Deadline, &status, &wo.Notes, &wo.CreatedBy, &wo.CreatedAt, &wo.UpdatedBy, &wo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, err
	}
	wo.Status = Status(status)
	return wo, nil
}

func (t *txRepo) UpdateWorkOrderHeader(ctx context.Context, wo WorkOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE work_orders SET buyer=$2, order_date=$3, deadline=$4, status=$5, notes=$6, updated_by=$7, updated_at=$8
WHERE id=$1`, wo.ID, wo.Buyer, wo.OrderDate, wo.Deadline, string(wo.Status), wo.Notes, wo.UpdatedBy, wo.UpdatedAt)
	return err
}

func (t *txRepo) SetWorkOrderStatus(ctx context.Context, id int64, status Status, actorID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE work_orders SET status=$2, updated_by=$3, updated_at=NOW() WHERE id=$1`,
		id, string(status), actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertDetail(ctx context.Context, d Detail) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO work_order_details (work_order_id, product_variant_id, qty_order, qty_done, qty_reject, cost_price, status)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		d.WorkOrderID, d.VariantID, d.QtyOrder, d.QtyDone, d.QtyReject, d.CostPrice, string(d.Status)).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateDetail(ctx context.Context, d Detail) error {
	tag, err := t.tx.Exec(ctx, `UPDATE work_order_details SET qty_order=$2, qty_done=$3, qty_reject=$4, cost_price=$5, status=$6
WHERE id=$1`, d.ID, d.QtyOrder, d.QtyDone, d.QtyReject, d.CostPrice, string(d.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDetailNotFound
	}
	return nil
}

func (t *txRepo) ListDetails(ctx context.Context, workOrderID int64) ([]Detail, error) {
	return listDetails(ctx, t.tx, workOrderID)
}

func (t *txRepo) GetDetailForUpdate(ctx context.Context, id int64) (Detail, error) {
	var d Detail
	var status string
	err := t.tx.QueryRow(ctx, `SELECT id, work_order_id, product_variant_id, qty_order, qty_done, qty_reject, cost_price, status
FROM work_order_details WHERE id=$1 FOR UPDATE`, id).Scan(&d.ID, &d.WorkOrderID, &d.VariantID,
		&d.QtyOrder, &d.QtyDone, &d.QtyReject, &d.CostPrice, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Detail{}, ErrDetailNotFound
		}
		return Detail{}, err
	}
	d.Status = Status(status)
	return d, nil
}

func (t *txRepo) DetailExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM work_order_details WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (t *txRepo) InsertSnapshot(ctx context.Context, s BomSnapshot) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO bom_snapshots (detail_id, material_id, qty_per_unit, qty_required, waste_pct)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		s.DetailID, s.MaterialID, s.QtyPerUnit, s.QtyRequired, s.WastePct).Scan(&id)
	return id, err
}

func (t *txRepo) ListSnapshots(ctx context.Context, detailID int64) ([]BomSnapshot, error) {
	return listSnapshots(ctx, t.tx, detailID)
}

func (t *txRepo) DeleteSnapshots(ctx context.Context, detailID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM bom_snapshots WHERE detail_id=$1`, detailID)
	return err
}

func (t *txRepo) InsertStage(ctx context.Context, st Stage) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO production_stages (detail_id, name, seq, qty_in, qty_reject, assignee_id, started_at, ended_at, status, is_approved, approval_status, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11,''), $12, $13) RETURNING id`,
		st.DetailID, st.Name, st.Seq, st.QtyIn, st.QtyReject, st.AssigneeID, st.StartedAt, st.EndedAt,
		string(st.Status), st.IsApproved, string(st.ApprovalStatus), st.UpdatedBy, st.UpdatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrSeqTaken
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) UpdateStage(ctx context.Context, st Stage) error {
	tag, err := t.tx.Exec(ctx, `UPDATE production_stages SET name=$2, seq=$3, qty_in=$4, qty_reject=$5, assignee_id=$6,
started_at=$7, ended_at=$8, status=$9, is_approved=$10, approval_status=NULLIF($11,''), updated_by=$12, updated_at=$13
WHERE id=$1`, st.ID, st.Name, st.Seq, st.QtyIn, st.QtyReject, st.AssigneeID, st.StartedAt, st.EndedAt,
		string(st.Status), st.IsApproved, string(st.ApprovalStatus), st.UpdatedBy, st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSeqTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStageNotFound
	}
	return nil
}

func (t *txRepo) ListStages(ctx context.Context, detailID int64) ([]Stage, error) {
	return listStages(ctx, t.tx, detailID)
}

func (t *txRepo) GetStageForUpdate(ctx context.Context, id int64) (Stage, error) {
	return scanStage(ctx, t.tx, id, true)
}

func (t *txRepo) SetStageSeq(ctx context.Context, stageID int64, seq int) error {
	_, err := t.tx.Exec(ctx, `UPDATE production_stages SET seq=$2 WHERE id=$1`, stageID, seq)
	return err
}

// --- stock.TxPort ---

func (t *txRepo) GetMaterialStockForUpdate(ctx context.Context, materialID int64) (stock.MaterialStock, error) {
	var s stock.MaterialStock
	err := t.tx.QueryRow(ctx, `SELECT s.material_id, m.name, s.stock_qty, COALESCE(s.updated_by,0), s.updated_at
FROM material_stocks s JOIN materials m ON m.id = s.material_id WHERE s.material_id=$1 FOR UPDATE OF s`,
		materialID).Scan(&s.MaterialID, &s.MaterialName, &s.Qty, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.MaterialStock{}, stock.ErrMaterialNotFound
		}
		return stock.MaterialStock{}, err
	}
	return s, nil
}

func (t *txRepo) SaveMaterialStock(ctx context.Context, s stock.MaterialStock) error {
	tag, err := t.tx.Exec(ctx, `UPDATE material_stocks SET stock_qty=$2, updated_by=$3, updated_at=$4 WHERE material_id=$1`,
		s.MaterialID, s.Qty, s.UpdatedBy, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return stock.ErrMaterialNotFound
	}
	return nil
}

// --- shared scan helpers ---

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listDetails(ctx context.Context, q querier, workOrderID int64) ([]Detail, error) {
	rows, err := q.Query(ctx, `SELECT id, work_order_id, product_variant_id, qty_order, qty_done, qty_reject, cost_price, status
FROM work_order_details WHERE work_order_id=$1 ORDER BY id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var details []Detail
	for rows.Next() {
		var d Detail
		var status string
		if err := rows.Scan(&d.ID, &d.WorkOrderID, &d.VariantID, &d.QtyOrder, &d.QtyDone, &d.QtyReject, &d.CostPrice, &status); err != nil {
			return nil, err
		}
		d.Status = Status(status)
		details = append(details, d)
	}
	return details, rows.Err()
}

func listSnapshots(ctx context.Context, q querier, detailID int64) ([]BomSnapshot, error) {
	rows, err := q.Query(ctx, `SELECT id, detail_id, material_id, qty_per_unit, qty_required, COALESCE(waste_pct,0)
FROM bom_snapshots WHERE detail_id=$1 ORDER BY material_id`, detailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snaps []BomSnapshot
	for rows.Next() {
		var s BomSnapshot
		if err := rows.Scan(&s.ID, &s.DetailID, &s.MaterialID, &s.QtyPerUnit, &s.QtyRequired, &s.WastePct); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

func listStages(ctx context.Context, q querier, detailID int64) ([]Stage, error) {
	rows, err := q.Query(ctx, `SELECT id, detail_id, name, seq, qty_in, qty_reject, COALESCE(assignee_id,0),
started_at, ended_at, status, is_approved, COALESCE(approval_status,''), COALESCE(updated_by,0), updated_at
FROM production_stages WHERE detail_id=$1 ORDER BY seq`, detailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stages []Stage
	for rows.Next() {
		st, err := scanStageRow(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func scanStage(ctx context.Context, q querier, id int64, forUpdate bool) (Stage, error) {
	query := `SELECT id, detail_id, name, seq, qty_in, qty_reject, COALESCE(assignee_id,0),
started_at, ended_at, status, is_approved, COALESCE(approval_status,''), COALESCE(updated_by,0), updated_at
FROM production_stages WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	st, err := scanStageRow(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stage{}, ErrStageNotFound
		}
		return Stage{}, err
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStageRow(row rowScanner) (Stage, error) {
	var st Stage
	var status, approvalStatus string
	if err := row.Scan(&st.ID, &st.DetailID, &st.Name, &st.Seq, &st.QtyIn, &st.QtyReject, &st.AssigneeID,
		&st.StartedAt, &st.EndedAt, &status, &st.IsApproved, &approvalStatus, &st.UpdatedBy, &st.UpdatedAt); err != nil {
		return Stage{}, err
	}
	st.Status = Status(status)
	st.ApprovalStatus = Status(approvalStatus)
	return st, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
