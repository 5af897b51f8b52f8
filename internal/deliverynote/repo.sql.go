package deliverynote

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garuda-mes/garuda-mes/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations, including the read side of
// the reconciliation (terminal output, shipped quantity, detail resolution).
type TxRepository interface {
	InsertNote(ctx context.Context, note DeliveryNote) (int64, error)
	GetNoteForUpdate(ctx context.Context, id int64) (DeliveryNote, error)
	UpdateNoteHeader(ctx context.Context, note DeliveryNote) error
	SetNoteStatus(ctx context.Context, id int64, status Status, actorID int64) error

	InsertLine(ctx context.Context, ln Line) (int64, error)
	UpdateLine(ctx context.Context, ln Line) error
	ListLines(ctx context.Context, noteID int64) ([]Line, error)

	GetWorkOrderDetail(ctx context.Context, id int64) (DetailRef, error)
	TerminalQtyIn(ctx context.Context, detailID int64) (float64, error)
	ShippedQty(ctx context.Context, detailID, excludeNoteID int64) (float64, error)
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

// GetNote returns the full aggregate: header plus lines.
func (r *Repository) GetNote(ctx context.Context, id int64) (DeliveryNote, error) {
	note, err := scanNote(ctx, r.pool, id, false)
	if err != nil {
		return DeliveryNote{}, err
	}
	lines, err := listLines(ctx, r.pool, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	note.Lines = lines
	return note, nil
}

// ListNotes returns note headers, newest first.
func (r *Repository) ListNotes(ctx context.Context, limit, offset int) ([]DeliveryNote, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, note_date, note_type, COALESCE(vendor_ref,''), COALESCE(destination,''),
status, COALESCE(notes,''), COALESCE(created_by,0), created_at, COALESCE(updated_by,0), updated_at
FROM delivery_notes ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []DeliveryNote
	for rows.Next() {
		note, err := scanNoteRow(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// Remaining computes terminal output minus shipped quantity outside a
// transaction, for read endpoints.
func (r *Repository) Remaining(ctx context.Context, detailID, excludeNoteID int64) (float64, error) {
	terminal, err := terminalQtyIn(ctx, r.pool, detailID)
	if err != nil {
		return 0, err
	}
	shipped, err := shippedQty(ctx, r.pool, detailID, excludeNoteID)
	if err != nil {
		return 0, err
	}
	return terminal - shipped, nil
}

// --- transactional operations ---

func (t *txRepo) InsertNote(ctx context.Context, note DeliveryNote) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO delivery_notes (number, note_date, note_type, vendor_ref, destination, status, notes, created_by, created_at, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		note.Number, note.Date, string(note.Type), note.VendorRef, note.Destination, string(note.Status),
		note.Notes, note.CreatedBy, note.CreatedAt, note.UpdatedBy, note.UpdatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) GetNoteForUpdate(ctx context.Context, id int64) (DeliveryNote, error) {
	return scanNote(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateNoteHeader(ctx context.Context, note DeliveryNote) error {
	_, err := t.tx.Exec(ctx, `UPDATE delivery_notes SET note_date=$2, note_type=$3, vendor_ref=$4, destination=$5, status=$6, notes=$7, updated_by=$8, updated_at=$9
WHERE id=$1`, note.ID, note.Date, string(note.Type), note.VendorRef, note.Destination, string(note.Status),
		note.Notes, note.UpdatedBy, note.UpdatedAt)
	return err
}

func (t *txRepo) SetNoteStatus(ctx context.Context, id int64, status Status, actorID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE delivery_notes SET status=$2, updated_by=$3, updated_at=NOW() WHERE id=$1`,
		id, string(status), actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertLine(ctx context.Context, ln Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO delivery_note_details (delivery_note_id, work_order_id, work_order_detail_id, item_kind, item_id, qty_out, qty_in, labor_cost, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		ln.NoteID, ln.WorkOrderID, ln.WorkOrderDetailID, string(ln.Item.Kind), ln.Item.ID,
		ln.QtyOut, ln.QtyIn, ln.LaborCost, string(ln.Status)).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateLine(ctx context.Context, ln Line) error {
	_, err := t.tx.Exec(ctx, `UPDATE delivery_note_details SET item_kind=$2, item_id=$3, qty_out=$4, qty_in=$5, labor_cost=$6, status=$7
WHERE id=$1`, ln.ID, string(ln.Item.Kind), ln.Item.ID, ln.QtyOut, ln.QtyIn, ln.LaborCost, string(ln.Status))
	return err
}

func (t *txRepo) ListLines(ctx context.Context, noteID int64) ([]Line, error) {
	return listLines(ctx, t.tx, noteID)
}

func (t *txRepo) GetWorkOrderDetail(ctx context.Context, id int64) (DetailRef, error) {
	var ref DetailRef
	err := t.tx.QueryRow(ctx, `SELECT id, work_order_id, product_variant_id FROM work_order_details WHERE id=$1`, id).
		Scan(&ref.ID, &ref.WorkOrderID, &ref.VariantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DetailRef{}, ErrDetailNotFound
		}
		return DetailRef{}, err
	}
	return ref, nil
}

func (t *txRepo) TerminalQtyIn(ctx context.Context, detailID int64) (float64, error) {
	return terminalQtyIn(ctx, t.tx, detailID)
}

func (t *txRepo) ShippedQty(ctx context.Context, detailID, excludeNoteID int64) (float64, error) {
	return shippedQty(ctx, t.tx, detailID, excludeNoteID)
}

// --- shared scan helpers ---

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanNote(ctx context.Context, q querier, id int64, forUpdate bool) (DeliveryNote, error) {
	query := `SELECT id, number, note_date, note_type, COALESCE(vendor_ref,''), COALESCE(destination,''),
status, COALESCE(notes,''), COALESCE(created_by,0), created_at, COALESCE(updated_by,0), updated_at
FROM delivery_notes WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	note, err := scanNoteRow(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryNote{}, ErrNotFound
		}
		return DeliveryNote{}, err
	}
	return note, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNoteRow(row rowScanner) (DeliveryNote, error) {
	var note DeliveryNote
	var noteType, status string
	if err := row.Scan(&note.ID, &note.Number, &note.Date, &noteType, &note.VendorRef, &note.Destination,
		&status, &note.Notes, &note.CreatedBy, &note.CreatedAt, &note.UpdatedBy, &note.UpdatedAt); err != nil {
		return DeliveryNote{}, err
	}
	note.Type = NoteType(noteType)
	note.Status = Status(status)
	return note, nil
}

func listLines(ctx context.Context, q querier, noteID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_note_id, COALESCE(work_order_id,0), COALESCE(work_order_detail_id,0),
item_kind, item_id, qty_out, qty_in, labor_cost, status
FROM delivery_note_details WHERE delivery_note_id=$1 ORDER BY id`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var ln Line
		var kind, status string
		if err := rows.Scan(&ln.ID, &ln.NoteID, &ln.WorkOrderID, &ln.WorkOrderDetailID,
			&kind, &ln.Item.ID, &ln.QtyOut, &ln.QtyIn, &ln.LaborCost, &status); err != nil {
			return nil, err
		}
		ln.Item.Kind = ItemKind(kind)
		ln.Status = Status(status)
		lines = append(lines, ln)
	}
	return lines, rows.Err()
}

// terminalQtyIn is the qty_in of the detail's highest-sequence stage, 0 when
// the detail has no stages.
func terminalQtyIn(ctx context.Context, q querier, detailID int64) (float64, error) {
	var qty float64
	err := q.QueryRow(ctx, `SELECT qty_in FROM production_stages WHERE detail_id=$1 ORDER BY seq DESC LIMIT 1`,
		detailID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

// shippedQty sums qty_out over PRODUCT lines of shipment-type notes for the
// detail, excluding the note being edited.
func shippedQty(ctx context.Context, q querier, detailID, excludeNoteID int64) (float64, error) {
	var qty float64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(l.qty_out), 0) FROM delivery_note_details l
JOIN delivery_notes n ON n.id = l.delivery_note_id
WHERE l.work_order_detail_id=$1 AND l.item_kind='PRODUCT' AND n.note_type='SHIPMENT' AND n.id<>$2`,
		detailID, excludeNoteID).Scan(&qty)
	return qty, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
