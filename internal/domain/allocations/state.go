package allocations

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
)

func statusFor(used, allocated decimal.Decimal) Status {
	switch {
	case used.IsZero():
		return StatusAllocated
	case used.LessThan(allocated):
		return StatusPartiallyUsed
	default:
		return StatusFullyUsed
	}
}

// RecordUsage sets the absolute used quantity and recomputes status. It
// returns the signed change so the caller can log it; a zero delta means the
// call changed nothing.
func (a *Allocation) RecordUsage(used decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	const op = "allocation.record_usage"
	if a.Status.Terminal() {
		return decimal.Zero, errs.InvalidTransition(op, string(a.Status), "usage")
	}
	if used.IsNegative() || used.GreaterThan(a.AllocatedQty) {
		e := errs.Newf(errs.CodeInvalidQuantity, op,
			"used quantity must be between 0 and %s", a.AllocatedQty.String())
		e.MaterialID = a.MaterialID
		return decimal.Zero, e
	}
	if err := stock.CheckQuantity(op, used); err != nil {
		return decimal.Zero, err
	}
	delta := used.Sub(a.UsedQty)
	if delta.IsZero() {
		return delta, nil
	}
	a.UsedQty = used
	a.Status = statusFor(used, a.AllocatedQty)
	a.UpdatedAt = now
	return delta, nil
}

// CheckCancel reports whether the allocation may be cancelled (and deleted).
func (a Allocation) CheckCancel() error {
	const op = "allocation.cancel"
	if a.Status == StatusAllocated && a.UsedQty.IsZero() {
		return nil
	}
	return errs.AllocationInUse(op, a.ID, string(a.Status))
}

// Settlement describes how a return splits the allocation.
type Settlement struct {
	Unused decimal.Decimal // reservation handed back
	Used   decimal.Decimal // physically removed from the warehouse
}

// Return closes the allocation as of the given date.
func (a *Allocation) Return(asOf, now time.Time) (Settlement, error) {
	if a.Status.Terminal() {
		return Settlement{}, errs.InvalidTransition("allocation.return", string(a.Status), string(StatusReturned))
	}
	if asOf.IsZero() {
		asOf = now
	}
	day := truncateDay(asOf)
	a.ReturnDate = &day
	a.Status = StatusReturned
	a.UpdatedAt = now
	return Settlement{Unused: a.RemainingQty(), Used: a.UsedQty}, nil
}

// SetNotes replaces the notes; an empty string clears them.
func (a *Allocation) SetNotes(notes string, now time.Time) {
	if notes == "" {
		a.Notes = nil
	} else {
		a.Notes = &notes
	}
	a.UpdatedAt = now
}
