package allocations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/consumers"
	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
)

type Status string

const (
	StatusAllocated     Status = "allocated"
	StatusPartiallyUsed Status = "partially_used"
	StatusFullyUsed     Status = "fully_used"
	StatusReturned      Status = "returned"
	StatusCancelled     Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAllocated, StatusPartiallyUsed, StatusFullyUsed, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusCancelled
}

type Allocation struct {
	ID             uuid.UUID
	MaterialID     uuid.UUID
	ProjectID      *uuid.UUID
	CrewID         *uuid.UUID
	AllocatedQty   decimal.Decimal
	UsedQty        decimal.Decimal
	AllocationDate time.Time
	ReturnDate     *time.Time
	Status         Status
	Notes          *string
	AllocatedBy    *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type NewInput struct {
	MaterialID     uuid.UUID
	Consumer       consumers.Consumer
	Qty            decimal.Decimal
	AllocationDate time.Time
	Notes          *string
	AllocatedBy    *uuid.UUID
}

// New builds an allocation in the initial state. Stock is not touched here.
func New(in NewInput, now time.Time) (*Allocation, error) {
	const op = "allocation.create"
	if in.MaterialID == uuid.Nil {
		return nil, errs.Validation(op, "material_id is required")
	}
	if in.Consumer.Empty() {
		return nil, errs.Validation(op, "project_id or crew_id is required")
	}
	if !in.Qty.IsPositive() {
		return nil, errs.InvalidQuantity(op, "allocated quantity must be > 0")
	}
	if err := stock.CheckQuantity(op, in.Qty); err != nil {
		return nil, err
	}
	date := in.AllocationDate
	if date.IsZero() {
		date = now
	}
	return &Allocation{
		ID:             uuid.New(),
		MaterialID:     in.MaterialID,
		ProjectID:      in.Consumer.ProjectID,
		CrewID:         in.Consumer.CrewID,
		AllocatedQty:   in.Qty,
		UsedQty:        decimal.Zero,
		AllocationDate: truncateDay(date),
		Status:         StatusAllocated,
		Notes:          in.Notes,
		AllocatedBy:    in.AllocatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (a Allocation) Consumer() consumers.Consumer {
	return consumers.Consumer{ProjectID: a.ProjectID, CrewID: a.CrewID}
}

func (a Allocation) RemainingQty() decimal.Decimal {
	return a.AllocatedQty.Sub(a.UsedQty)
}

func (a Allocation) TotalCost(unitPrice decimal.Decimal) decimal.Decimal {
	return a.AllocatedQty.Mul(unitPrice)
}

// Validate checks 0 <= used <= allocated and that status agrees with usage.
func (a Allocation) Validate() error {
	const op = "allocation.validate"
	switch {
	case !a.AllocatedQty.IsPositive():
		return errs.InvalidQuantity(op, "allocated_qty must be > 0")
	case a.UsedQty.IsNegative(), a.UsedQty.GreaterThan(a.AllocatedQty):
		return errs.InvalidQuantity(op, "used_qty must be within [0, allocated_qty]")
	case a.ProjectID == nil && a.CrewID == nil:
		return errs.Validation(op, "allocation has no consumer")
	case !a.Status.Valid():
		return errs.Validation(op, "unknown status "+string(a.Status))
	}
	if err := stock.CheckQuantity(op, a.AllocatedQty); err != nil {
		return err
	}
	if err := stock.CheckQuantity(op, a.UsedQty); err != nil {
		return err
	}
	if !a.Status.Terminal() && a.Status != statusFor(a.UsedQty, a.AllocatedQty) {
		return errs.Validation(op, "status does not match used quantity")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
