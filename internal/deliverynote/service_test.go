package deliverynote

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/garuda-mes/garuda-mes/internal/shared"
)

type memoryRepo struct {
	notes    map[int64]DeliveryNote
	lines    map[int64]Line
	details  map[int64]DetailRef
	terminal map[int64]float64
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		notes:    make(map[int64]DeliveryNote),
		lines:    make(map[int64]Line),
		details:  make(map[int64]DetailRef),
		terminal: make(map[int64]float64),
	}
}

func (r *memoryRepo) clone() *memoryRepo {
	c := newMemoryRepo()
	c.nextID = r.nextID
	for k, v := range r.notes {
		c.notes[k] = v
	}
	for k, v := range r.lines {
		c.lines[k] = v
	}
	for k, v := range r.details {
		c.details[k] = v
	}
	for k, v := range r.terminal {
		c.terminal[k] = v
	}
	return c
}

// WithTx snapshots state and restores it on error so atomicity holds like in
// the real repository.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := r.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.notes, r.lines, r.details = saved.notes, saved.lines, saved.details
		r.terminal, r.nextID = saved.terminal, saved.nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetNote(ctx context.Context, id int64) (DeliveryNote, error) {
	note, ok := r.notes[id]
	if !ok {
		return DeliveryNote{}, ErrNotFound
	}
	note.Lines = r.linesOf(id)
	return note, nil
}

func (r *memoryRepo) ListNotes(ctx context.Context, limit, offset int) ([]DeliveryNote, error) {
	var notes []DeliveryNote
	for _, note := range r.notes {
		notes = append(notes, note)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].ID > notes[j].ID })
	if offset >= len(notes) {
		return nil, nil
	}
	notes = notes[offset:]
	if len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

func (r *memoryRepo) Remaining(ctx context.Context, detailID, excludeNoteID int64) (float64, error) {
	tx := &memoryTx{repo: r}
	shipped, err := tx.ShippedQty(ctx, detailID, excludeNoteID)
	if err != nil {
		return 0, err
	}
	return r.terminal[detailID] - shipped, nil
}

func (r *memoryRepo) linesOf(noteID int64) []Line {
	var lines []Line
	for _, ln := range r.lines {
		if ln.NoteID == noteID {
			lines = append(lines, ln)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertNote(ctx context.Context, note DeliveryNote) (int64, error) {
	for _, existing := range t.repo.notes {
		if existing.Number == note.Number {
			return 0, ErrDuplicateNumber
		}
	}
	t.repo.nextID++
	note.ID = t.repo.nextID
	t.repo.notes[note.ID] = note
	return note.ID, nil
}

func (t *memoryTx) GetNoteForUpdate(ctx context.Context, id int64) (DeliveryNote, error) {
	note, ok := t.repo.notes[id]
	if !ok {
		return DeliveryNote{}, ErrNotFound
	}
	return note, nil
}

func (t *memoryTx) UpdateNoteHeader(ctx context.Context, note DeliveryNote) error {
	note.Lines = nil
	t.repo.notes[note.ID] = note
	return nil
}

func (t *memoryTx) SetNoteStatus(ctx context.Context, id int64, status Status, actorID int64) error {
	note, ok := t.repo.notes[id]
	if !ok {
		return ErrNotFound
	}
	note.Status = status
	note.UpdatedBy = actorID
	t.repo.notes[id] = note
	return nil
}

func (t *memoryTx) InsertLine(ctx context.Context, ln Line) (int64, error) {
	t.repo.nextID++
	ln.ID = t.repo.nextID
	t.repo.lines[ln.ID] = ln
	return ln.ID, nil
}

func (t *memoryTx) UpdateLine(ctx context.Context, ln Line) error {
	if _, ok := t.repo.lines[ln.ID]; !ok {
		return errors.New("line not found")
	}
	t.repo.lines[ln.ID] = ln
	return nil
}

func (t *memoryTx) ListLines(ctx context.Context, noteID int64) ([]Line, error) {
	return t.repo.linesOf(noteID), nil
}

func (t *memoryTx) GetWorkOrderDetail(ctx context.Context, id int64) (DetailRef, error) {
	ref, ok := t.repo.details[id]
	if !ok {
		return DetailRef{}, ErrDetailNotFound
	}
	return ref, nil
}

func (t *memoryTx) TerminalQtyIn(ctx context.Context, detailID int64) (float64, error) {
	return t.repo.terminal[detailID], nil
}

func (t *memoryTx) ShippedQty(ctx context.Context, detailID, excludeNoteID int64) (float64, error) {
	var sum float64
	for _, ln := range t.repo.lines {
		if ln.WorkOrderDetailID != detailID || ln.Item.Kind != KindProduct || ln.NoteID == excludeNoteID {
			continue
		}
		note, ok := t.repo.notes[ln.NoteID]
		if !ok || note.Type != TypeShipment {
			continue
		}
		sum += ln.QtyOut
	}
	return sum, nil
}

type fakeApprovals struct {
	records []shared.ApprovalRecord
}

func (f *fakeApprovals) Record(ctx context.Context, rec shared.ApprovalRecord) (int64, error) {
	f.records = append(f.records, rec)
	return int64(len(f.records)), nil
}

func (f *fakeApprovals) List(ctx context.Context, module string, refID int64) ([]shared.ApprovalRecord, error) {
	var out []shared.ApprovalRecord
	for _, rec := range f.records {
		if rec.Module == module && rec.RefID == refID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeCompletion struct {
	scanned []int64
	err     error
}

func (f *fakeCompletion) ScanCompletion(ctx context.Context, workOrderID int64, actorID int64) error {
	f.scanned = append(f.scanned, workOrderID)
	return f.err
}

func seedFixture() *memoryRepo {
	repo := newMemoryRepo()
	// Detail 41 of work order 4 produced 100 at the terminal stage; detail 42
	// of work order 5 produced 60.
	repo.details[41] = DetailRef{ID: 41, WorkOrderID: 4, VariantID: 11}
	repo.details[42] = DetailRef{ID: 42, WorkOrderID: 5, VariantID: 12}
	repo.terminal[41] = 100
	repo.terminal[42] = 60
	return repo
}

func newTestService(repo *memoryRepo, approvals *fakeApprovals, completion *fakeCompletion) *Service {
	return NewService(repo, approvals, nil, completion,
		shared.NewActorResolver(1), nil, slog.Default())
}

func TestCreateFullRejectsOvershipment(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})

	_, err := svc.CreateFull(context.Background(), CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 150}},
	})
	var insufficient *InsufficientGoodsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(41), insufficient.WorkOrderDetailID)
	require.Equal(t, 100.0, insufficient.Remaining)
	require.Equal(t, 150.0, insufficient.Requested)
	require.Empty(t, repo.notes, "the whole transaction aborts")
	require.Empty(t, repo.lines)
}

func TestCreateFullWithinRemaining(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Number:      "DN-0001",
		Type:        TypeShipment,
		Destination: "PT Sandang Jaya",
		ActorID:     7,
		Lines:       []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 80}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, note.Status)
	require.Len(t, note.Lines, 1)
	require.Equal(t, int64(4), note.Lines[0].WorkOrderID, "work order ref resolved from the detail")
	require.Equal(t, ProductRef(11), note.Lines[0].Item, "item id derived from the detail's variant")
	require.Equal(t, StatusPending, note.Lines[0].Status, "line status defaults from the header")

	// A second shipment sees only 20 left.
	_, err = svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 30}},
	})
	var insufficient *InsufficientGoodsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 20.0, insufficient.Remaining)

	remaining, err := svc.Remaining(ctx, 41, 0)
	require.NoError(t, err)
	require.Equal(t, 20.0, remaining)
}

func TestCreateFullCumulativeWithinOneNote(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})

	_, err := svc.CreateFull(context.Background(), CreateInput{
		Type: TypeShipment,
		Lines: []LineInput{
			{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 70},
			{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 70},
		},
	})
	var insufficient *InsufficientGoodsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 30.0, insufficient.Remaining)
}

func TestCreateFullMaterialLineSkipsReconciliation(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})

	note, err := svc.CreateFull(context.Background(), CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: MaterialRef(9), QtyOut: 9999}},
	})
	require.NoError(t, err)
	require.Equal(t, MaterialRef(9), note.Lines[0].Item)
}

func TestCreateFullTransferSkipsReconciliation(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})

	_, err := svc.CreateFull(context.Background(), CreateInput{
		Type:  TypeTransfer,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 9999}},
	})
	require.NoError(t, err)
}

func TestCreateFullValidation(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	_, err := svc.CreateFull(ctx, CreateInput{Type: TypeShipment})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: MaterialRef(0), QtyOut: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidItemRef)

	_, err = svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 999, Item: ProductRef(0), QtyOut: 1}},
	})
	require.ErrorIs(t, err, ErrDetailNotFound)
}

func TestUpdateFullRevalidatesExcludingOwnNote(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 80}},
	})
	require.NoError(t, err)

	// Raising the note's own line up to the full terminal output is fine
	// because its previous 80 is excluded from the shipped sum.
	qty := 100.0
	updated, err := svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 41, QtyOut: &qty}},
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, updated.Lines[0].QtyOut)

	over := 120.0
	_, err = svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 41, QtyOut: &over}},
	})
	var insufficient *InsufficientGoodsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 100.0, insufficient.Remaining)

	current, err := svc.GetNote(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, current.Lines[0].QtyOut, "failed update leaves the line untouched")
}

func TestUpdateFullKindSwitchRevalidates(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	// A MATERIAL line skips reconciliation on create, no matter its quantity.
	note, err := svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: MaterialRef(9), QtyOut: 500}},
	})
	require.NoError(t, err)

	// Switching it to PRODUCT must revalidate the full qty_out, even when the
	// quantity itself is left unchanged.
	item := ProductRef(11)
	_, err = svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 41, Item: &item}},
	})
	var insufficient *InsufficientGoodsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 100.0, insufficient.Remaining)
	require.Equal(t, 500.0, insufficient.Requested)

	current, err := svc.GetNote(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, MaterialRef(9), current.Lines[0].Item, "failed switch leaves the line untouched")
	require.Equal(t, 500.0, current.Lines[0].QtyOut)

	// Within the remaining output the switch goes through, and the item id
	// comes from the detail's variant rather than the payload.
	qty := 90.0
	bogus := ProductRef(999)
	updated, err := svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 41, Item: &bogus, QtyOut: &qty}},
	})
	require.NoError(t, err)
	require.Equal(t, ProductRef(11), updated.Lines[0].Item)
	require.Equal(t, 90.0, updated.Lines[0].QtyOut)
}

func TestUpdateFullRejectsInvalidItemSwitch(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 10}},
	})
	require.NoError(t, err)

	bad := MaterialRef(0)
	_, err = svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 41, Item: &bad}},
	})
	require.ErrorIs(t, err, ErrInvalidItemRef)
}

func TestUpdateFullPartialLineFields(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 80, LaborCost: 1500}},
	})
	require.NoError(t, err)

	labor := 2000.0
	updated, err := svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 41, LaborCost: &labor}},
	})
	require.NoError(t, err)
	require.Equal(t, 2000.0, updated.Lines[0].LaborCost)
	require.Equal(t, 80.0, updated.Lines[0].QtyOut, "unsupplied fields keep their values")
}

func TestUpdateFullInsertsUnmatchedLine(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 80}},
	})
	require.NoError(t, err)

	qty := 50.0
	item := ProductRef(0)
	updated, err := svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 42, Item: &item, QtyOut: &qty}},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	require.Equal(t, int64(5), updated.Lines[1].WorkOrderID)
	require.Equal(t, ProductRef(12), updated.Lines[1].Item)

	// An unmatched line without an item reference cannot be materialized.
	_, err = svc.UpdateFull(ctx, note.ID, UpdateInput{
		Lines: []LineChange{{WorkOrderDetailID: 999, QtyOut: &qty}},
	})
	require.ErrorIs(t, err, ErrInvalidItemRef)
}

func TestUpdateFullNotFound(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})

	_, err := svc.UpdateFull(context.Background(), 999, UpdateInput{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 10}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(ctx, note.ID, StatusRejected, 7))
	current, err := svc.GetNote(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, current.Status)
	require.Equal(t, int64(7), current.UpdatedBy)

	require.ErrorIs(t, svc.UpdateStatus(ctx, 999, StatusRejected, 7), ErrNotFound)
}

func TestApproveRunsCompletionScanPerWorkOrder(t *testing.T) {
	repo := seedFixture()
	approvals := &fakeApprovals{}
	completion := &fakeCompletion{}
	svc := newTestService(repo, approvals, completion)
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Type: TypeShipment,
		Lines: []LineInput{
			{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 80},
			{WorkOrderDetailID: 42, Item: ProductRef(0), QtyOut: 50},
		},
	})
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, ApproveInput{
		NoteID:   note.ID,
		Decision: "APPROVED",
		ActorID:  7,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	require.Len(t, approvals.records, 1)
	require.Equal(t, "delivery_note", approvals.records[0].Module)
	require.Equal(t, note.ID, approvals.records[0].RefID)

	require.ElementsMatch(t, []int64{4, 5}, completion.scanned)
}

func TestApproveSwallowsCompletionScanErrors(t *testing.T) {
	repo := seedFixture()
	completion := &fakeCompletion{err: errors.New("scan boom")}
	svc := newTestService(repo, &fakeApprovals{}, completion)
	ctx := context.Background()

	note, err := svc.CreateFull(ctx, CreateInput{
		Type:  TypeShipment,
		Lines: []LineInput{{WorkOrderDetailID: 41, Item: ProductRef(0), QtyOut: 10}},
	})
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, ApproveInput{NoteID: note.ID, Decision: "APPROVED"})
	require.NoError(t, err, "scan failures never roll back the approval")
	require.Equal(t, StatusApproved, approved.Status)
	require.Len(t, completion.scanned, 1)
}

func TestApproveValidation(t *testing.T) {
	repo := seedFixture()
	svc := newTestService(repo, &fakeApprovals{}, &fakeCompletion{})
	ctx := context.Background()

	_, err := svc.Approve(ctx, ApproveInput{NoteID: 1, Decision: "MAYBE"})
	require.ErrorIs(t, err, ErrInvalidDecision)

	_, err = svc.Approve(ctx, ApproveInput{NoteID: 999, Decision: "APPROVED"})
	require.ErrorIs(t, err, ErrNotFound)
}
