package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
)

// release hands a reservation back and reports how much was actually released.
// A shortfall means the record drifted; it is logged, never returned.
func (s *Service) release(u *unit, op string, st *stock.Stock, qty decimal.Decimal) decimal.Decimal {
	shortfall := st.Release(qty, u.now)
	if shortfall.IsPositive() {
		s.log.Warn("reservation release clamped at zero",
			"op", op,
			"material_id", st.MaterialID,
			"requested", qty.String(),
			"shortfall", shortfall.String(),
		)
		id := st.MaterialID
		u.afterCommit(func(context.Context) { s.hooks.IncReleaseClamped(id) })
	}
	return qty.Sub(shortfall)
}

// saveStock persists the record and schedules the post-commit signals for it.
func (s *Service) saveStock(ctx context.Context, u *unit, before, after stock.Stock) error {
	if err := u.tx.SaveStock(ctx, after); err != nil {
		return err
	}
	u.afterCommit(func(context.Context) { s.hooks.ObserveStock(after) })
	if !before.IsLow() && after.IsLow() {
		u.afterCommit(func(ctx context.Context) { s.notifyLow(ctx, after) })
	}
	return nil
}

func (s *Service) appendMove(ctx context.Context, u *unit, m moves.Move) error {
	m.ID = uuid.New()
	m.CreatedAt = u.now
	if m.Date.IsZero() {
		m.Date = u.now
	}
	return u.tx.AppendMove(ctx, m)
}

func (s *Service) notifyLow(ctx context.Context, st stock.Stock) {
	s.log.Warn("material reached min stock level",
		"material_id", st.MaterialID,
		"available", st.AvailableQty().String(),
		"min_stock_level", st.MinStockLevel.String(),
	)
	if s.notifier == nil {
		return
	}
	m, err := s.materials.GetByID(ctx, st.MaterialID)
	if err != nil || m == nil {
		s.log.Error("low stock alert: material lookup failed", "material_id", st.MaterialID, "err", err)
		return
	}
	if err := s.notifier.NotifyLowStock(ctx, LowStockAlert{Material: *m, Stock: st}); err != nil {
		s.log.Error("low stock alert failed", "material_id", st.MaterialID, "err", err)
	}
}
