// Package stock holds the per-material warehouse record and the arithmetic
// that keeps 0 <= reserved <= total.
package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
)

// Quantities are stored as NUMERIC(14,3).
const QuantityScale = 3

// MaxQuantity is the first value that no longer fits a quantity column.
var MaxQuantity = decimal.New(1, 11)

// CheckQuantity rejects values the database would round or overflow.
func CheckQuantity(op string, q decimal.Decimal) error {
	if !q.Equal(q.Truncate(QuantityScale)) {
		return errs.Newf(errs.CodeInvalidQuantity, op, "quantity %s has more than %d decimal places", q.String(), QuantityScale)
	}
	if q.Abs().GreaterThanOrEqual(MaxQuantity) {
		return errs.Newf(errs.CodeInvalidQuantity, op, "quantity %s is out of range", q.String())
	}
	return nil
}

type Stock struct {
	MaterialID    uuid.UUID
	TotalQty      decimal.Decimal
	ReservedQty   decimal.Decimal
	MinStockLevel decimal.Decimal
	LastUpdated   time.Time
}

// Empty is the lazily created record for a material that never held stock.
func Empty(materialID uuid.UUID) Stock {
	return Stock{
		MaterialID:    materialID,
		TotalQty:      decimal.Zero,
		ReservedQty:   decimal.Zero,
		MinStockLevel: decimal.Zero,
	}
}

func (s Stock) AvailableQty() decimal.Decimal {
	return s.TotalQty.Sub(s.ReservedQty)
}

// IsLow reports whether available stock has reached the reorder threshold.
// A zero threshold disables the check.
func (s Stock) IsLow() bool {
	return s.MinStockLevel.IsPositive() && s.AvailableQty().LessThanOrEqual(s.MinStockLevel)
}

func (s Stock) Validate() error {
	const op = "stock.validate"
	switch {
	case s.TotalQty.IsNegative():
		return errs.InvalidQuantity(op, "total_qty must be >= 0")
	case s.ReservedQty.IsNegative():
		return errs.InvalidQuantity(op, "reserved_qty must be >= 0")
	case s.ReservedQty.GreaterThan(s.TotalQty):
		return errs.InvalidQuantity(op, "reserved_qty exceeds total_qty")
	case s.MinStockLevel.IsNegative():
		return errs.InvalidQuantity(op, "min_stock_level must be >= 0")
	}
	for _, q := range []decimal.Decimal{s.TotalQty, s.ReservedQty, s.MinStockLevel} {
		if err := CheckQuantity(op, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stock) Reserve(qty decimal.Decimal, now time.Time) error {
	const op = "stock.reserve"
	if qty.IsNegative() {
		return errs.InvalidQuantity(op, "quantity must be >= 0")
	}
	if qty.GreaterThan(s.AvailableQty()) {
		return errs.InsufficientStock(op, s.MaterialID, qty, s.AvailableQty())
	}
	s.ReservedQty = s.ReservedQty.Add(qty)
	s.LastUpdated = now
	return nil
}

// Release gives back a reservation. It never fails: when qty exceeds the
// current reservation the result is floored at zero and the uncovered part is
// returned so the caller can report the inconsistency.
func (s *Stock) Release(qty decimal.Decimal, now time.Time) (shortfall decimal.Decimal) {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	next := s.ReservedQty.Sub(qty)
	if next.IsNegative() {
		shortfall = next.Neg()
		next = decimal.Zero
	}
	s.ReservedQty = next
	s.LastUpdated = now
	return shortfall
}

// Receive books incoming stock.
func (s *Stock) Receive(qty decimal.Decimal, now time.Time) error {
	const op = "stock.receive"
	if !qty.IsPositive() {
		return errs.InvalidQuantity(op, "quantity must be > 0")
	}
	next := s.TotalQty.Add(qty)
	if err := CheckQuantity(op, qty); err != nil {
		return err
	}
	if err := CheckQuantity(op, next); err != nil {
		return err
	}
	s.TotalQty = next
	s.LastUpdated = now
	return nil
}

// Consume removes previously reserved stock from the warehouse.
func (s *Stock) Consume(qty decimal.Decimal, now time.Time) error {
	const op = "stock.consume"
	if qty.IsNegative() {
		return errs.InvalidQuantity(op, "quantity must be >= 0")
	}
	if qty.GreaterThan(s.ReservedQty) {
		return errs.InvalidQuantity(op, "cannot consume more than is reserved")
	}
	s.TotalQty = s.TotalQty.Sub(qty)
	s.ReservedQty = s.ReservedQty.Sub(qty)
	s.LastUpdated = now
	return nil
}

// Adjust applies a signed correction to total_qty. The result may not drop
// below what is already reserved.
func (s *Stock) Adjust(delta decimal.Decimal, now time.Time) error {
	const op = "stock.adjust"
	if delta.IsZero() {
		return errs.InvalidQuantity(op, "adjustment must be non-zero")
	}
	if err := CheckQuantity(op, delta); err != nil {
		return err
	}
	next := s.TotalQty.Add(delta)
	if err := CheckQuantity(op, next); err != nil {
		return err
	}
	if next.LessThan(s.ReservedQty) {
		e := errs.InvalidQuantity(op, "adjustment would leave total_qty below reserved_qty")
		e.MaterialID = s.MaterialID
		req := delta.Neg()
		avail := s.AvailableQty()
		e.Requested, e.Available = &req, &avail
		return e
	}
	s.TotalQty = next
	s.LastUpdated = now
	return nil
}

func (s *Stock) SetMinLevel(level decimal.Decimal, now time.Time) error {
	const op = "stock.min_level"
	if level.IsNegative() {
		return errs.InvalidQuantity(op, "min_stock_level must be >= 0")
	}
	if err := CheckQuantity(op, level); err != nil {
		return err
	}
	s.MinStockLevel = level
	s.LastUpdated = now
	return nil
}
