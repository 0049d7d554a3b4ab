package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
)

// GetWarehouseStock returns the material's record, creating a zero record
// the first time a material is looked at.
func (s *Service) GetWarehouseStock(ctx context.Context, materialID uuid.UUID) (*stock.Stock, error) {
	const op = "get_warehouse_stock"
	if _, err := s.requireMaterial(ctx, op, materialID); err != nil {
		return nil, err
	}
	st, err := s.store.GetStock(ctx, materialID)
	if err != nil {
		return nil, s.classify(op, err)
	}
	if st != nil {
		return st, nil
	}

	var out stock.Stock
	err = s.run(ctx, op, func(ctx context.Context, u *unit) error {
		st, err := u.tx.LockStock(ctx, materialID)
		out = st
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type AdjustInput struct {
	MaterialID uuid.UUID
	Delta      decimal.Decimal
	Reason     string
	ActorID    *uuid.UUID
}

// AdjustStock changes total_qty by a signed delta: positive is a receipt,
// negative a write-off or correction.
func (s *Service) AdjustStock(ctx context.Context, in AdjustInput) (*stock.Stock, error) {
	const op = "adjust_stock"
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, errs.Validation(op, "reason is required")
	}
	if in.Delta.IsZero() {
		return nil, errs.InvalidQuantity(op, "adjustment must be non-zero")
	}
	if err := stock.CheckQuantity(op, in.Delta); err != nil {
		return nil, err
	}
	if _, err := s.requireMaterial(ctx, op, in.MaterialID); err != nil {
		return nil, err
	}

	var out stock.Stock
	err := s.run(ctx, op, func(ctx context.Context, u *unit) error {
		st, err := u.tx.LockStock(ctx, in.MaterialID)
		if err != nil {
			return err
		}
		out, err = s.applyDelta(ctx, u, op, st, in.Delta, reason, in.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("stock adjusted",
		"material_id", in.MaterialID,
		"delta", in.Delta.String(),
		"total", out.TotalQty.String(),
		"reason", reason,
	)
	return &out, nil
}

// applyDelta books a signed change of total_qty on a locked record: a
// receipt when positive, a manual adjustment otherwise.
func (s *Service) applyDelta(ctx context.Context, u *unit, op string, st stock.Stock, delta decimal.Decimal, reason string, actor *uuid.UUID) (stock.Stock, error) {
	before := st
	mt := moves.MoveReceipt
	var err error
	if delta.IsPositive() {
		err = st.Receive(delta, u.now)
	} else {
		mt = moves.MoveManualAdjustment
		err = st.Adjust(delta, u.now)
	}
	if err != nil {
		if e, ok := err.(*errs.Error); ok {
			e.Op = op
		}
		return before, err
	}
	if err := s.appendMove(ctx, u, moves.Move{
		MaterialID:    st.MaterialID,
		Type:          mt,
		Quantity:      delta,
		TotalDelta:    delta,
		ReservedDelta: decimal.Zero,
		Reason:        reason,
		ActorID:       actor,
	}); err != nil {
		return before, err
	}
	return st, s.saveStock(ctx, u, before, st)
}

type CountInput struct {
	MaterialID uuid.UUID
	Counted    decimal.Decimal
	Reason     string
	ActorID    *uuid.UUID
}

func (in CountInput) check(op string) (string, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return "", errs.Validation(op, "reason is required")
	}
	if in.Counted.IsNegative() {
		return "", errs.InvalidQuantity(op, "counted quantity must be >= 0")
	}
	if err := stock.CheckQuantity(op, in.Counted); err != nil {
		return "", err
	}
	return reason, nil
}

// CountStock sets total_qty to a physically counted quantity. The difference
// is booked like AdjustStock; a count equal to the record changes nothing.
func (s *Service) CountStock(ctx context.Context, in CountInput) (*stock.Stock, decimal.Decimal, error) {
	res, err := s.CountStocks(ctx, []CountInput{in})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return &res[0].Stock, res[0].Delta, nil
}

type CountResult struct {
	Stock stock.Stock
	Delta decimal.Decimal
}

// CountStocks applies a whole stocktake in one transaction: either every
// count is booked or none is. Results follow the order of counts.
func (s *Service) CountStocks(ctx context.Context, counts []CountInput) ([]CountResult, error) {
	const op = "count_stock"
	reasons := make([]string, len(counts))
	seen := make(map[uuid.UUID]struct{}, len(counts))
	for i, in := range counts {
		reason, err := in.check(op)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[in.MaterialID]; dup {
			return nil, errs.Validation(op, "material "+in.MaterialID.String()+" is counted twice")
		}
		seen[in.MaterialID] = struct{}{}
		if _, err := s.requireMaterial(ctx, op, in.MaterialID); err != nil {
			return nil, err
		}
		reasons[i] = reason
	}

	// блокируем материалы в одном порядке, чтобы параллельные инвентаризации не взаимоблокировались
	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return counts[order[a]].MaterialID.String() < counts[order[b]].MaterialID.String()
	})

	var out []CountResult
	err := s.run(ctx, op, func(ctx context.Context, u *unit) error {
		out = make([]CountResult, len(counts))
		for _, i := range order {
			in := counts[i]
			st, err := u.tx.LockStock(ctx, in.MaterialID)
			if err != nil {
				return err
			}
			delta := in.Counted.Sub(st.TotalQty)
			if !delta.IsZero() {
				if st, err = s.applyDelta(ctx, u, op, st, delta, reasons[i], in.ActorID); err != nil {
					if e, ok := err.(*errs.Error); ok && e.MaterialID == uuid.Nil {
						e.MaterialID = in.MaterialID
					}
					return err
				}
			}
			out[i] = CountResult{Stock: st, Delta: delta}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) SetMinStockLevel(ctx context.Context, materialID uuid.UUID, level decimal.Decimal) (*stock.Stock, error) {
	const op = "set_min_stock_level"
	if level.IsNegative() {
		return nil, errs.InvalidQuantity(op, "min_stock_level must be >= 0")
	}
	if err := stock.CheckQuantity(op, level); err != nil {
		return nil, err
	}
	if _, err := s.requireMaterial(ctx, op, materialID); err != nil {
		return nil, err
	}

	var out stock.Stock
	err := s.run(ctx, op, func(ctx context.Context, u *unit) error {
		st, err := u.tx.LockStock(ctx, materialID)
		if err != nil {
			return err
		}
		before := st
		if err := st.SetMinLevel(level, u.now); err != nil {
			return err
		}
		out = st
		return s.saveStock(ctx, u, before, st)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) ListStock(ctx context.Context) ([]stock.Stock, error) {
	out, err := s.store.ListStock(ctx)
	if err != nil {
		return nil, s.classify("list_stock", err)
	}
	return out, nil
}

// ListLowStock returns materials whose available quantity is at or below a
// positive min_stock_level.
func (s *Service) ListLowStock(ctx context.Context) ([]stock.Stock, error) {
	all, err := s.store.ListStock(ctx)
	if err != nil {
		return nil, s.classify("list_low_stock", err)
	}
	out := make([]stock.Stock, 0)
	for _, st := range all {
		if st.IsLow() {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Service) ListMoves(ctx context.Context, f moves.Filter) ([]moves.Move, error) {
	const op = "list_moves"
	if f.Type != nil && !f.Type.Valid() {
		return nil, errs.Validation(op, "unknown move type "+string(*f.Type))
	}
	if f.Limit < 0 {
		return nil, errs.Validation(op, "limit must be >= 0")
	}
	out, err := s.store.ListMoves(ctx, f)
	if err != nil {
		return nil, s.classify(op, err)
	}
	return out, nil
}

// ReconcileReport compares a stock record with what the move log and the open
// allocations say it should be.
type ReconcileReport struct {
	Stock            stock.Stock
	Moves            int
	LedgerTotal      decimal.Decimal
	LedgerReserved   decimal.Decimal
	OpenAllocations  int
	AllocatedOpen    decimal.Decimal
	TotalDrift       decimal.Decimal
	ReservedDrift    decimal.Decimal
	AllocationsDrift decimal.Decimal
}

func (r ReconcileReport) Consistent() bool {
	return r.TotalDrift.IsZero() && r.ReservedDrift.IsZero() && r.AllocationsDrift.IsZero()
}

// Reconcile is read-only; drift is reported, never repaired.
func (s *Service) Reconcile(ctx context.Context, materialID uuid.UUID) (*ReconcileReport, error) {
	const op = "reconcile"
	if _, err := s.requireMaterial(ctx, op, materialID); err != nil {
		return nil, err
	}

	var rep ReconcileReport
	err := s.run(ctx, op, func(ctx context.Context, u *unit) error {
		st, err := u.tx.LockStock(ctx, materialID)
		if err != nil {
			return err
		}
		tot, err := u.tx.MoveTotals(ctx, materialID)
		if err != nil {
			return err
		}
		open, err := u.tx.ActiveAllocations(ctx, materialID)
		if err != nil {
			return err
		}
		allocated := decimal.Zero
		for _, a := range open {
			allocated = allocated.Add(a.AllocatedQty)
		}
		rep = ReconcileReport{
			Stock:            st,
			Moves:            tot.Count,
			LedgerTotal:      tot.Total,
			LedgerReserved:   tot.Reserved,
			OpenAllocations:  len(open),
			AllocatedOpen:    allocated,
			TotalDrift:       st.TotalQty.Sub(tot.Total),
			ReservedDrift:    st.ReservedQty.Sub(tot.Reserved),
			AllocationsDrift: st.ReservedQty.Sub(allocated),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rep.Consistent() {
		s.log.Warn("stock drift detected",
			"material_id", materialID,
			"total_drift", rep.TotalDrift.String(),
			"reserved_drift", rep.ReservedDrift.String(),
			"allocations_drift", rep.AllocationsDrift.String(),
		)
	}
	return &rep, nil
}
