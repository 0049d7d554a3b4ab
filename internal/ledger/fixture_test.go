package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/store"
	"github.com/Iacob98/cometa-warehouse/internal/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeCatalog struct {
	mu sync.Mutex
	m  map[uuid.UUID]materials.Material
}

func (c *fakeCatalog) GetByID(_ context.Context, id uuid.UUID) (*materials.Material, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

type fakeDirectory struct {
	projects map[uuid.UUID]bool
	crews    map[uuid.UUID]bool
}

func (f fakeDirectory) ProjectExists(_ context.Context, id uuid.UUID) (bool, error) {
	return f.projects[id], nil
}

func (f fakeDirectory) CrewExists(_ context.Context, id uuid.UUID) (bool, error) {
	return f.crews[id], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []LowStockAlert
}

func (n *recordingNotifier) NotifyLowStock(_ context.Context, a LowStockAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type countingHooks struct {
	nopHooks
	retries atomic.Int64
	clamped atomic.Int64
}

func (h *countingHooks) IncRetry(string)             { h.retries.Add(1) }
func (h *countingHooks) IncReleaseClamped(uuid.UUID) { h.clamped.Add(1) }

// faultyStore fails the first `transient` transactions with a retryable
// error and can inject a failure into AppendMove.
type faultyStore struct {
	store.Store
	transient atomic.Int64
	calls     atomic.Int64
	failMoves atomic.Bool
}

var errInjected = errors.New("injected failure")

func (s *faultyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.calls.Add(1)
	if s.transient.Add(-1) >= 0 {
		return store.Transient(errors.New("deadlock detected"))
	}
	return s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, s: s})
	})
}

type faultyTx struct {
	store.Tx
	s *faultyStore
}

func (t *faultyTx) AppendMove(ctx context.Context, m moves.Move) error {
	if t.s.failMoves.Load() {
		return errInjected
	}
	return t.Tx.AppendMove(ctx, m)
}

type fixture struct {
	svc      *Service
	store    *faultyStore
	hooks    *countingHooks
	notifier *recordingNotifier
	catalog  *fakeCatalog
	material uuid.UUID
	p1, p2   uuid.UUID
	crew     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    &faultyStore{Store: memory.New()},
		hooks:    &countingHooks{},
		notifier: &recordingNotifier{},
		material: uuid.New(),
		p1:       uuid.New(),
		p2:       uuid.New(),
		crew:     uuid.New(),
	}
	cat := &fakeCatalog{m: map[uuid.UUID]materials.Material{
		f.material: {ID: f.material, Name: "Cement M500", Unit: materials.UnitKg, DefaultPrice: d("2.5"), Active: true},
	}}
	f.catalog = cat
	dir := fakeDirectory{
		projects: map[uuid.UUID]bool{f.p1: true, f.p2: true},
		crews:    map[uuid.UUID]bool{f.crew: true},
	}
	f.svc = New(Deps{
		Store:     f.store,
		Materials: cat,
		Consumers: dir,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Hooks:     f.hooks,
		Notifier:  f.notifier,
		Retry:     RetryConfig{Attempts: 3, BaseDelay: time.Millisecond},
	})
	return f
}

func (f *fixture) addMaterial(name string) uuid.UUID {
	id := uuid.New()
	f.catalog.mu.Lock()
	f.catalog.m[id] = materials.Material{ID: id, Name: name, Unit: materials.UnitPiece, Active: true}
	f.catalog.mu.Unlock()
	return id
}

// setReserved overwrites reserved_qty behind the service's back.
func (f *fixture) setReserved(t *testing.T, qty string) {
	t.Helper()
	err := f.store.Store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		st, err := tx.LockStock(ctx, f.material)
		if err != nil {
			return err
		}
		st.ReservedQty = d(qty)
		return tx.SaveStock(ctx, st)
	})
	if err != nil {
		t.Fatalf("set reserved: %v", err)
	}
}

func (f *fixture) receive(t *testing.T, qty string) {
	t.Helper()
	if _, err := f.svc.AdjustStock(context.Background(), AdjustInput{
		MaterialID: f.material,
		Delta:      d(qty),
		Reason:     "initial receipt",
	}); err != nil {
		t.Fatalf("receive %s: %v", qty, err)
	}
}

func (f *fixture) allocate(t *testing.T, project uuid.UUID, qty string) *allocations.Allocation {
	t.Helper()
	a, err := f.svc.CreateAllocation(context.Background(), CreateAllocationInput{
		MaterialID: f.material,
		ProjectID:  &project,
		Qty:        d(qty),
	})
	if err != nil {
		t.Fatalf("allocate %s: %v", qty, err)
	}
	return a
}

func (f *fixture) stock(t *testing.T) stock.Stock {
	t.Helper()
	st, err := f.svc.GetWarehouseStock(context.Background(), f.material)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return *st
}

func (f *fixture) assertStock(t *testing.T, total, reserved string) {
	t.Helper()
	st := f.stock(t)
	if !st.TotalQty.Equal(d(total)) || !st.ReservedQty.Equal(d(reserved)) {
		t.Fatalf("stock: want total=%s reserved=%s got total=%s reserved=%s",
			total, reserved, st.TotalQty, st.ReservedQty)
	}
}

// assertInvariants checks the relations that must hold after every operation.
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	st := f.stock(t)
	if err := st.Validate(); err != nil {
		t.Fatalf("stock invariant: %v", err)
	}
	list, err := f.svc.ListAllocations(context.Background(), store.AllocationFilter{MaterialID: &f.material})
	if err != nil {
		t.Fatalf("list allocations: %v", err)
	}
	remaining := decimal.Zero
	for _, a := range list {
		if err := a.Validate(); err != nil {
			t.Fatalf("allocation %s invariant: %v", a.ID, err)
		}
		if !a.Status.Terminal() {
			remaining = remaining.Add(a.RemainingQty())
		}
	}
	if remaining.GreaterThan(st.ReservedQty) {
		t.Fatalf("open remaining %s exceeds reserved %s", remaining, st.ReservedQty)
	}
	rep, err := f.svc.Reconcile(context.Background(), f.material)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rep.Consistent() {
		t.Fatalf("drift: total=%s reserved=%s allocations=%s",
			rep.TotalDrift, rep.ReservedDrift, rep.AllocationsDrift)
	}
}
