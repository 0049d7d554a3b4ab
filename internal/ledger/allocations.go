package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/consumers"
	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

type CreateAllocationInput struct {
	MaterialID     uuid.UUID
	ProjectID      *uuid.UUID
	CrewID         *uuid.UUID
	Qty            decimal.Decimal
	AllocationDate time.Time
	Notes          *string
	AllocatedBy    *uuid.UUID
}

func (s *Service) CreateAllocation(ctx context.Context, in CreateAllocationInput) (*allocations.Allocation, error) {
	const op = "create_allocation"

	a, err := allocations.New(allocations.NewInput{
		MaterialID:     in.MaterialID,
		Consumer:       consumers.Consumer{ProjectID: in.ProjectID, CrewID: in.CrewID},
		Qty:            in.Qty,
		AllocationDate: in.AllocationDate,
		Notes:          in.Notes,
		AllocatedBy:    in.AllocatedBy,
	}, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMaterial(ctx, op, in.MaterialID); err != nil {
		return nil, err
	}
	if in.ProjectID != nil {
		if err := s.requireProject(ctx, op, *in.ProjectID); err != nil {
			return nil, err
		}
	}
	if in.CrewID != nil {
		if err := s.requireCrew(ctx, op, *in.CrewID); err != nil {
			return nil, err
		}
	}

	err = s.run(ctx, op, func(ctx context.Context, u *unit) error {
		st, err := u.tx.LockStock(ctx, a.MaterialID)
		if err != nil {
			return err
		}
		before := st
		if err := st.Reserve(a.AllocatedQty, u.now); err != nil {
			if e, ok := err.(*errs.Error); ok {
				e.Op = op
			}
			return err
		}
		a.CreatedAt, a.UpdatedAt = u.now, u.now
		if err := u.tx.InsertAllocation(ctx, a); err != nil {
			return err
		}
		if err := s.appendMove(ctx, u, moves.Move{
			MaterialID:    a.MaterialID,
			AllocationID:  &a.ID,
			Type:          moves.MoveAllocation,
			Quantity:      a.AllocatedQty,
			TotalDelta:    decimal.Zero,
			ReservedDelta: a.AllocatedQty,
			Date:          a.AllocationDate,
			ActorID:       a.AllocatedBy,
		}); err != nil {
			return err
		}
		return s.saveStock(ctx, u, before, st)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("allocation created",
		"allocation_id", a.ID,
		"material_id", a.MaterialID,
		"qty", a.AllocatedQty.String(),
	)
	return a, nil
}

// RecordUsage sets the absolute used quantity. Repeating the same value is a
// no-op; stock is untouched until the allocation is returned.
func (s *Service) RecordUsage(ctx context.Context, id uuid.UUID, used decimal.Decimal, notes *string) (*allocations.Allocation, error) {
	const op = "record_usage"
	var out *allocations.Allocation
	err := s.run(ctx, op, func(ctx context.Context, u *unit) error {
		a, err := u.tx.LockAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return errs.AllocationNotFound(op, id)
		}
		delta, err := a.RecordUsage(used, u.now)
		if err != nil {
			return err
		}
		if notes != nil {
			a.SetNotes(*notes, u.now)
		}
		out = a
		if delta.IsZero() && notes == nil {
			return nil
		}
		if err := u.tx.UpdateAllocation(ctx, a); err != nil {
			return err
		}
		if delta.IsZero() {
			return nil
		}
		return s.appendMove(ctx, u, moves.Move{
			MaterialID:    a.MaterialID,
			AllocationID:  &a.ID,
			Type:          moves.MoveUsageAdjustment,
			Quantity:      delta,
			TotalDelta:    decimal.Zero,
			ReservedDelta: decimal.Zero,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type UpdateAllocationInput struct {
	Status     *allocations.Status
	Notes      *string
	ReturnDate *time.Time
}

func (s *Service) UpdateAllocation(ctx context.Context, id uuid.UUID, in UpdateAllocationInput) (*allocations.Allocation, error) {
	const op = "update_allocation"
	if in.Status != nil && !in.Status.Valid() {
		return nil, errs.Validation(op, "unknown status "+string(*in.Status))
	}

	var out *allocations.Allocation
	err := s.run(ctx, op, func(ctx context.Context, u *unit) error {
		a, err := u.tx.LockAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return errs.AllocationNotFound(op, id)
		}
		out = a

		status := in.Status
		if status != nil && *status == a.Status {
			status = nil
		}
		switch {
		case status == nil:
			if in.ReturnDate != nil {
				if a.Status != allocations.StatusReturned {
					return errs.Validation(op, "return_date can only be set together with status=returned")
				}
				day := time.Date(in.ReturnDate.Year(), in.ReturnDate.Month(), in.ReturnDate.Day(), 0, 0, 0, 0, in.ReturnDate.Location())
				a.ReturnDate = &day
				a.UpdatedAt = u.now
			}
		case *status == allocations.StatusCancelled:
			return errs.InvalidTransition(op, string(a.Status), string(allocations.StatusCancelled))
		case *status == allocations.StatusReturned:
			var asOf time.Time
			if in.ReturnDate != nil {
				asOf = *in.ReturnDate
			}
			if in.Notes != nil {
				a.SetNotes(*in.Notes, u.now)
			}
			return s.settle(ctx, u, op, a, asOf)
		default:
			// partially_used / fully_used follow used_qty and are never set directly
			return errs.InvalidTransition(op, string(a.Status), string(*status))
		}

		if in.Notes != nil {
			a.SetNotes(*in.Notes, u.now)
		}
		if in.Notes == nil && in.ReturnDate == nil {
			return nil
		}
		return u.tx.UpdateAllocation(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAllocation cancels an untouched allocation and removes it.
func (s *Service) DeleteAllocation(ctx context.Context, id uuid.UUID) error {
	const op = "delete_allocation"
	return s.run(ctx, op, func(ctx context.Context, u *unit) error {
		a, err := u.tx.LockAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return errs.AllocationNotFound(op, id)
		}
		return s.cancel(ctx, u, op, a)
	})
}

type Action string

const (
	ActionReturn Action = "return"
	ActionCancel Action = "cancel"
)

// ReturnOrCancelAllocation closes an allocation. For cancel the returned
// value is the last state before deletion with status cancelled.
func (s *Service) ReturnOrCancelAllocation(ctx context.Context, id uuid.UUID, action Action, returnDate *time.Time) (*allocations.Allocation, error) {
	const op = "return_or_cancel_allocation"
	if action != ActionReturn && action != ActionCancel {
		return nil, errs.Validation(op, "action must be return or cancel")
	}

	var out *allocations.Allocation
	err := s.run(ctx, op, func(ctx context.Context, u *unit) error {
		a, err := u.tx.LockAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return errs.AllocationNotFound(op, id)
		}
		out = a
		if action == ActionCancel {
			return s.cancel(ctx, u, op, a)
		}
		var asOf time.Time
		if returnDate != nil {
			asOf = *returnDate
		}
		return s.settle(ctx, u, op, a, asOf)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ReturnAllocation(ctx context.Context, id uuid.UUID, asOf time.Time) (*allocations.Allocation, error) {
	var date *time.Time
	if !asOf.IsZero() {
		date = &asOf
	}
	return s.ReturnOrCancelAllocation(ctx, id, ActionReturn, date)
}

// settle closes the allocation: the used part leaves the warehouse, the
// unused part goes back to available. Net: reserved -= allocated, total -= used.
func (s *Service) settle(ctx context.Context, u *unit, op string, a *allocations.Allocation, asOf time.Time) error {
	st, err := u.tx.LockStock(ctx, a.MaterialID)
	if err != nil {
		return err
	}
	before := st

	set, err := a.Return(asOf, u.now)
	if err != nil {
		if e, ok := err.(*errs.Error); ok {
			e.Op = op
		}
		return err
	}
	if err := st.Consume(set.Used, u.now); err != nil {
		s.log.Error("return: reservation smaller than used quantity",
			"op", op,
			"allocation_id", a.ID,
			"material_id", a.MaterialID,
			"used", set.Used.String(),
			"reserved", st.ReservedQty.String(),
		)
		e := errs.Newf(errs.CodeInternal, op, "reservation for material %s is below used quantity; reconcile stock", a.MaterialID)
		e.MaterialID = a.MaterialID
		e.Cause = err
		return e
	}
	released := s.release(u, op, &st, set.Unused)

	if err := u.tx.UpdateAllocation(ctx, a); err != nil {
		return err
	}
	if err := s.appendMove(ctx, u, moves.Move{
		MaterialID:    a.MaterialID,
		AllocationID:  &a.ID,
		Type:          moves.MoveReturn,
		Quantity:      set.Unused,
		TotalDelta:    set.Used.Neg(),
		ReservedDelta: set.Used.Add(released).Neg(),
		Date:          *a.ReturnDate,
	}); err != nil {
		return err
	}
	if err := s.saveStock(ctx, u, before, st); err != nil {
		return err
	}

	id, mat := a.ID, a.MaterialID
	u.afterCommit(func(context.Context) {
		s.log.Info("allocation returned",
			"allocation_id", id,
			"material_id", mat,
			"used", set.Used.String(),
			"released", released.String(),
		)
	})
	return nil
}

func (s *Service) cancel(ctx context.Context, u *unit, op string, a *allocations.Allocation) error {
	if err := a.CheckCancel(); err != nil {
		if e, ok := err.(*errs.Error); ok {
			e.Op = op
		}
		return err
	}
	st, err := u.tx.LockStock(ctx, a.MaterialID)
	if err != nil {
		return err
	}
	before := st
	released := s.release(u, op, &st, a.AllocatedQty)

	if err := u.tx.DeleteAllocation(ctx, a.ID); err != nil {
		return err
	}
	if err := s.appendMove(ctx, u, moves.Move{
		MaterialID:    a.MaterialID,
		AllocationID:  &a.ID,
		Type:          moves.MoveReturn,
		Quantity:      a.AllocatedQty,
		TotalDelta:    decimal.Zero,
		ReservedDelta: released.Neg(),
		Reason:        "cancelled",
	}); err != nil {
		return err
	}
	if err := s.saveStock(ctx, u, before, st); err != nil {
		return err
	}
	a.Status = allocations.StatusCancelled
	a.UpdatedAt = u.now

	id, mat := a.ID, a.MaterialID
	u.afterCommit(func(context.Context) {
		s.log.Info("allocation cancelled", "allocation_id", id, "material_id", mat)
	})
	return nil
}

// AllocationView is an allocation with its derived figures.
type AllocationView struct {
	allocations.Allocation
	RemainingQty decimal.Decimal
	TotalCost    decimal.Decimal
	Material     *materials.Material
}

func (s *Service) GetAllocation(ctx context.Context, id uuid.UUID) (*AllocationView, error) {
	const op = "get_allocation"
	a, err := s.store.GetAllocation(ctx, id)
	if err != nil {
		return nil, s.classify(op, err)
	}
	if a == nil {
		return nil, errs.AllocationNotFound(op, id)
	}
	m, err := s.materials.GetByID(ctx, a.MaterialID)
	if err != nil {
		return nil, s.classify(op, store.Transient(err))
	}
	v := &AllocationView{
		Allocation:   *a,
		RemainingQty: a.RemainingQty(),
		TotalCost:    decimal.Zero,
		Material:     m,
	}
	if m != nil {
		v.TotalCost = a.TotalCost(m.DefaultPrice)
	}
	return v, nil
}

func (s *Service) ListAllocations(ctx context.Context, f store.AllocationFilter) ([]allocations.Allocation, error) {
	const op = "list_allocations"
	if f.Status != nil && !f.Status.Valid() {
		return nil, errs.Validation(op, "unknown status "+string(*f.Status))
	}
	out, err := s.store.ListAllocations(ctx, f)
	if err != nil {
		return nil, s.classify(op, err)
	}
	return out, nil
}

// MaterialSummary aggregates one project's allocations of a material.
type MaterialSummary struct {
	Material     materials.Material
	Allocations  int
	AllocatedQty decimal.Decimal
	UsedQty      decimal.Decimal
	RemainingQty decimal.Decimal
	TotalCost    decimal.Decimal
}

// ProjectMaterialSummary groups a project's allocations by material.
// RemainingQty counts only allocations that are still open.
func (s *Service) ProjectMaterialSummary(ctx context.Context, projectID uuid.UUID) ([]MaterialSummary, error) {
	const op = "project_material_summary"
	if err := s.requireProject(ctx, op, projectID); err != nil {
		return nil, err
	}
	list, err := s.store.ListAllocations(ctx, store.AllocationFilter{ProjectID: &projectID})
	if err != nil {
		return nil, s.classify(op, err)
	}

	byMaterial := make(map[uuid.UUID]*MaterialSummary)
	for _, a := range list {
		sum, ok := byMaterial[a.MaterialID]
		if !ok {
			m, err := s.materials.GetByID(ctx, a.MaterialID)
			if err != nil {
				return nil, s.classify(op, store.Transient(err))
			}
			if m == nil {
				m = &materials.Material{ID: a.MaterialID}
			}
			sum = &MaterialSummary{Material: *m}
			byMaterial[a.MaterialID] = sum
		}
		sum.Allocations++
		sum.AllocatedQty = sum.AllocatedQty.Add(a.AllocatedQty)
		sum.UsedQty = sum.UsedQty.Add(a.UsedQty)
		if !a.Status.Terminal() {
			sum.RemainingQty = sum.RemainingQty.Add(a.RemainingQty())
		}
		sum.TotalCost = sum.TotalCost.Add(a.TotalCost(sum.Material.DefaultPrice))
	}

	out := make([]MaterialSummary, 0, len(byMaterial))
	for _, sum := range byMaterial {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Material.Name != out[j].Material.Name {
			return out[i].Material.Name < out[j].Material.Name
		}
		return out[i].Material.ID.String() < out[j].Material.ID.String()
	})
	return out, nil
}
