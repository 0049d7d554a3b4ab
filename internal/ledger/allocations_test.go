package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

func TestCreateAllocationValidation(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "10")
	unknown := uuid.New()
	p1 := f.p1

	cases := []struct {
		name string
		in   CreateAllocationInput
		code errs.Code
	}{
		{"zero qty", CreateAllocationInput{MaterialID: f.material, ProjectID: &p1, Qty: d("0")}, errs.CodeInvalidQuantity},
		{"no consumer", CreateAllocationInput{MaterialID: f.material, Qty: d("1")}, errs.CodeValidation},
		{"unknown material", CreateAllocationInput{MaterialID: uuid.New(), ProjectID: &p1, Qty: d("1")}, errs.CodeMaterialNotFound},
		{"unknown project", CreateAllocationInput{MaterialID: f.material, ProjectID: &unknown, Qty: d("1")}, errs.CodeConsumerNotFound},
		{"unknown crew", CreateAllocationInput{MaterialID: f.material, CrewID: &unknown, Qty: d("1")}, errs.CodeConsumerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateAllocation(context.Background(), tc.in)
			if !errs.IsCode(err, tc.code) {
				t.Fatalf("want=%s got=%v", tc.code, err)
			}
		})
	}
	f.assertStock(t, "10", "0")
}

func TestCrewAllocation(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "10")
	crew := f.crew

	a, err := f.svc.CreateAllocation(context.Background(), CreateAllocationInput{
		MaterialID: f.material,
		CrewID:     &crew,
		Qty:        d("4"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ProjectID != nil || a.CrewID == nil || *a.CrewID != crew {
		t.Fatalf("consumer: project=%v crew=%v", a.ProjectID, a.CrewID)
	}
	f.assertStock(t, "10", "4")
}

func TestCancelRestoresAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "50")
	before := f.stock(t).AvailableQty()

	a := f.allocate(t, f.p1, "20")
	if err := f.svc.DeleteAllocation(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.stock(t).AvailableQty(); !got.Equal(before) {
		t.Fatalf("available: want=%s got=%s", before, got)
	}
	if _, err := f.svc.GetAllocation(ctx, a.ID); !errs.IsCode(err, errs.CodeAllocationNotFound) {
		t.Fatalf("cancelled allocation must be gone, got=%v", err)
	}

	ms, err := f.svc.ListMoves(ctx, moves.Filter{AllocationID: &a.ID})
	if err != nil {
		t.Fatalf("list moves: %v", err)
	}
	if len(ms) != 2 || ms[0].Type != moves.MoveReturn || ms[1].Type != moves.MoveAllocation {
		t.Fatalf("moves: %+v", ms)
	}
	f.assertInvariants(t)
}

func TestCancelOnlyFromAllocated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "50")

	partial := f.allocate(t, f.p1, "10")
	if _, err := f.svc.RecordUsage(ctx, partial.ID, d("3"), nil); err != nil {
		t.Fatalf("usage: %v", err)
	}
	full := f.allocate(t, f.p1, "10")
	if _, err := f.svc.RecordUsage(ctx, full.ID, d("10"), nil); err != nil {
		t.Fatalf("usage: %v", err)
	}

	for _, id := range []uuid.UUID{partial.ID, full.ID} {
		if err := f.svc.DeleteAllocation(ctx, id); !errs.IsCode(err, errs.CodeAllocationInUse) {
			t.Fatalf("delete %s: want allocation_in_use got=%v", id, err)
		}
	}
	f.assertStock(t, "50", "20")

	if _, err := f.svc.ReturnAllocation(ctx, full.ID, time.Time{}); err != nil {
		t.Fatalf("return: %v", err)
	}
	if _, err := f.svc.ReturnOrCancelAllocation(ctx, full.ID, ActionCancel, nil); !errs.IsCode(err, errs.CodeAllocationInUse) {
		t.Fatalf("cancel returned: want allocation_in_use got=%v", err)
	}
	if err := f.svc.DeleteAllocation(ctx, full.ID); !errs.IsCode(err, errs.CodeAllocationInUse) {
		t.Fatalf("delete returned: want allocation_in_use got=%v", err)
	}
	if err := f.svc.DeleteAllocation(ctx, uuid.New()); !errs.IsCode(err, errs.CodeAllocationNotFound) {
		t.Fatalf("delete unknown: want allocation_not_found got=%v", err)
	}
	f.assertInvariants(t)
}

func TestRecordUsageIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "50")
	a := f.allocate(t, f.p1, "10")

	for i := 0; i < 2; i++ {
		got, err := f.svc.RecordUsage(ctx, a.ID, d("4"), nil)
		if err != nil {
			t.Fatalf("usage #%d: %v", i, err)
		}
		if got.Status != allocations.StatusPartiallyUsed || !got.UsedQty.Equal(d("4")) {
			t.Fatalf("usage #%d: status=%s used=%s", i, got.Status, got.UsedQty)
		}
	}
	mt := moves.MoveUsageAdjustment
	ms, _ := f.svc.ListMoves(ctx, moves.Filter{AllocationID: &a.ID, Type: &mt})
	if len(ms) != 1 || !ms[0].Quantity.Equal(d("4")) {
		t.Fatalf("usage moves: want one of 4 got=%+v", ms)
	}
	f.assertStock(t, "50", "10")

	if _, err := f.svc.RecordUsage(ctx, a.ID, d("10.5"), nil); !errs.IsCode(err, errs.CodeInvalidQuantity) {
		t.Fatalf("over usage: want invalid_quantity got=%v", err)
	}
	if _, err := f.svc.RecordUsage(ctx, uuid.New(), d("1"), nil); !errs.IsCode(err, errs.CodeAllocationNotFound) {
		t.Fatalf("unknown: want allocation_not_found got=%v", err)
	}
}

func TestReturnPartiallyUsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "100")
	a := f.allocate(t, f.p1, "40")
	if _, err := f.svc.RecordUsage(ctx, a.ID, d("15"), nil); err != nil {
		t.Fatalf("usage: %v", err)
	}

	if _, err := f.svc.ReturnOrCancelAllocation(ctx, a.ID, ActionReturn, nil); err != nil {
		t.Fatalf("return: %v", err)
	}
	f.assertStock(t, "85", "0")

	mt := moves.MoveReturn
	ms, _ := f.svc.ListMoves(ctx, moves.Filter{AllocationID: &a.ID, Type: &mt})
	if len(ms) != 1 {
		t.Fatalf("return moves: want=1 got=%d", len(ms))
	}
	m := ms[0]
	if !m.Quantity.Equal(d("25")) || !m.TotalDelta.Equal(d("-15")) || !m.ReservedDelta.Equal(d("-40")) {
		t.Fatalf("return move: qty=%s total=%s reserved=%s", m.Quantity, m.TotalDelta, m.ReservedDelta)
	}

	if _, err := f.svc.ReturnAllocation(ctx, a.ID, time.Time{}); !errs.IsCode(err, errs.CodeInvalidTransition) {
		t.Fatalf("second return: want invalid_transition got=%v", err)
	}
	f.assertStock(t, "85", "0")
	f.assertInvariants(t)
}

func TestUpdateAllocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "30")
	a := f.allocate(t, f.p1, "10")

	cancelled := allocations.StatusCancelled
	if _, err := f.svc.UpdateAllocation(ctx, a.ID, UpdateAllocationInput{Status: &cancelled}); !errs.IsCode(err, errs.CodeInvalidTransition) {
		t.Fatalf("status=cancelled: want invalid_transition got=%v", err)
	}
	fully := allocations.StatusFullyUsed
	if _, err := f.svc.UpdateAllocation(ctx, a.ID, UpdateAllocationInput{Status: &fully}); !errs.IsCode(err, errs.CodeInvalidTransition) {
		t.Fatalf("status=fully_used: want invalid_transition got=%v", err)
	}
	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	if _, err := f.svc.UpdateAllocation(ctx, a.ID, UpdateAllocationInput{ReturnDate: &day}); !errs.IsCode(err, errs.CodeValidation) {
		t.Fatalf("return_date alone: want validation got=%v", err)
	}

	notes := "для фундамента"
	got, err := f.svc.UpdateAllocation(ctx, a.ID, UpdateAllocationInput{Notes: &notes})
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	if got.Notes == nil || *got.Notes != notes {
		t.Fatalf("notes: got=%v", got.Notes)
	}

	returned := allocations.StatusReturned
	got, err = f.svc.UpdateAllocation(ctx, a.ID, UpdateAllocationInput{Status: &returned, ReturnDate: &day})
	if err != nil {
		t.Fatalf("status=returned: %v", err)
	}
	if got.Status != allocations.StatusReturned || got.ReturnDate == nil || !got.ReturnDate.Equal(day) {
		t.Fatalf("after return: status=%s return_date=%v", got.Status, got.ReturnDate)
	}
	f.assertStock(t, "30", "0")

	later := day.AddDate(0, 0, 3)
	got, err = f.svc.UpdateAllocation(ctx, a.ID, UpdateAllocationInput{ReturnDate: &later})
	if err != nil {
		t.Fatalf("correct return_date: %v", err)
	}
	if !got.ReturnDate.Equal(later) {
		t.Fatalf("return_date: want=%s got=%s", later, got.ReturnDate)
	}

	stored, err := f.svc.GetAllocation(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Notes == nil || *stored.Notes != notes {
		t.Fatalf("stored notes lost: %v", stored.Notes)
	}
	f.assertInvariants(t)
}

func TestGetAllocationView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "20")
	a := f.allocate(t, f.p1, "8")
	if _, err := f.svc.RecordUsage(ctx, a.ID, d("3"), nil); err != nil {
		t.Fatalf("usage: %v", err)
	}

	v, err := f.svc.GetAllocation(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !v.RemainingQty.Equal(d("5")) {
		t.Fatalf("remaining: want=5 got=%s", v.RemainingQty)
	}
	if !v.TotalCost.Equal(d("20")) {
		t.Fatalf("total cost: want=20 got=%s", v.TotalCost)
	}
	if v.Material == nil || v.Material.Name != "Cement M500" {
		t.Fatalf("material: %+v", v.Material)
	}
}

func TestListAllocationsFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "20")
	a1 := f.allocate(t, f.p1, "2")
	f.allocate(t, f.p2, "3")
	if _, err := f.svc.RecordUsage(ctx, a1.ID, d("2"), nil); err != nil {
		t.Fatalf("usage: %v", err)
	}

	p1 := f.p1
	list, err := f.svc.ListAllocations(ctx, store.AllocationFilter{ProjectID: &p1})
	if err != nil || len(list) != 1 || list[0].ID != a1.ID {
		t.Fatalf("by project: err=%v n=%d", err, len(list))
	}
	status := allocations.StatusAllocated
	list, err = f.svc.ListAllocations(ctx, store.AllocationFilter{Status: &status})
	if err != nil || len(list) != 1 || *list[0].ProjectID != f.p2 {
		t.Fatalf("by status: err=%v n=%d", err, len(list))
	}
	bad := allocations.Status("lost")
	if _, err := f.svc.ListAllocations(ctx, store.AllocationFilter{Status: &bad}); !errs.IsCode(err, errs.CodeValidation) {
		t.Fatalf("bad status: want validation got=%v", err)
	}
}

func TestProjectMaterialSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "100")
	a := f.allocate(t, f.p1, "10")
	f.allocate(t, f.p1, "6")
	f.allocate(t, f.p2, "50")
	if _, err := f.svc.RecordUsage(ctx, a.ID, d("10"), nil); err != nil {
		t.Fatalf("usage: %v", err)
	}
	if _, err := f.svc.ReturnAllocation(ctx, a.ID, time.Time{}); err != nil {
		t.Fatalf("return: %v", err)
	}

	sum, err := f.svc.ProjectMaterialSummary(ctx, f.p1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(sum) != 1 {
		t.Fatalf("materials: want=1 got=%d", len(sum))
	}
	s := sum[0]
	if s.Allocations != 2 || !s.AllocatedQty.Equal(d("16")) || !s.UsedQty.Equal(d("10")) ||
		!s.RemainingQty.Equal(d("6")) || !s.TotalCost.Equal(d("40")) {
		t.Fatalf("summary: %+v", s)
	}

	if _, err := f.svc.ProjectMaterialSummary(ctx, uuid.New()); !errs.IsCode(err, errs.CodeConsumerNotFound) {
		t.Fatalf("unknown project: want consumer_not_found got=%v", err)
	}
}

func TestFailedCreateLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "10")
	f.store.failMoves.Store(true)

	p1 := f.p1
	_, err := f.svc.CreateAllocation(ctx, CreateAllocationInput{MaterialID: f.material, ProjectID: &p1, Qty: d("5")})
	if !errs.IsCode(err, errs.CodeInternal) || !errors.Is(err, errInjected) {
		t.Fatalf("want internal wrapping injected failure got=%v", err)
	}

	f.store.failMoves.Store(false)
	f.assertStock(t, "10", "0")
	list, _ := f.svc.ListAllocations(ctx, store.AllocationFilter{})
	if len(list) != 0 {
		t.Fatalf("allocation leaked: %d", len(list))
	}
	f.assertInvariants(t)
}

func TestReleaseClampsDriftedReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel", func(t *testing.T) {
		f := newFixture(t)
		f.receive(t, "50")
		a := f.allocate(t, f.p1, "10")
		f.setReserved(t, "4")

		if err := f.svc.DeleteAllocation(ctx, a.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		f.assertStock(t, "50", "0")
		if got := f.hooks.clamped.Load(); got != 1 {
			t.Fatalf("clamped: want=1 got=%d", got)
		}
		ms, _ := f.svc.ListMoves(ctx, moves.Filter{AllocationID: &a.ID})
		if len(ms) == 0 || !ms[0].ReservedDelta.Equal(d("-4")) {
			t.Fatalf("cancel move should book only what was released: %+v", ms)
		}
	})

	t.Run("return", func(t *testing.T) {
		f := newFixture(t)
		f.receive(t, "50")
		a := f.allocate(t, f.p1, "10")
		if _, err := f.svc.RecordUsage(ctx, a.ID, d("3"), nil); err != nil {
			t.Fatalf("usage: %v", err)
		}
		f.setReserved(t, "5")

		if _, err := f.svc.ReturnAllocation(ctx, a.ID, time.Time{}); err != nil {
			t.Fatalf("return: %v", err)
		}
		f.assertStock(t, "47", "0")
		if got := f.hooks.clamped.Load(); got != 1 {
			t.Fatalf("clamped: want=1 got=%d", got)
		}
	})
}

func TestUnstorableQuantitiesAreInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "100")

	for _, q := range []string{"0.0004", "1.0004", "100000000000"} {
		_, err := f.svc.CreateAllocation(ctx, CreateAllocationInput{MaterialID: f.material, ProjectID: &f.p1, Qty: d(q)})
		if !errs.IsCode(err, errs.CodeInvalidQuantity) {
			t.Fatalf("allocate %s: want invalid_quantity got=%v", q, err)
		}
	}
	a := f.allocate(t, f.p1, "10")
	if _, err := f.svc.RecordUsage(ctx, a.ID, d("2.0005"), nil); !errs.IsCode(err, errs.CodeInvalidQuantity) {
		t.Fatalf("usage 2.0005: want invalid_quantity got=%v", err)
	}
	f.assertStock(t, "100", "10")
	f.assertInvariants(t)
}
