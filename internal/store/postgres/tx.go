package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

type tx struct{ tx pgx.Tx }

func (t *tx) LockStock(ctx context.Context, materialID uuid.UUID) (stock.Stock, error) {
	// запись склада создаётся лениво
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO warehouse_stock (material_id)
		VALUES ($1)
		ON CONFLICT (material_id) DO NOTHING
	`, materialID); err != nil {
		return stock.Stock{}, fmt.Errorf("ensure stock %s: %w", materialID, err)
	}
	st, err := scanStock(t.tx.QueryRow(ctx, selectStock+` WHERE material_id = $1 FOR UPDATE`, materialID))
	if err != nil {
		return stock.Stock{}, fmt.Errorf("lock stock %s: %w", materialID, err)
	}
	return *st, nil
}

func (t *tx) SaveStock(ctx context.Context, st stock.Stock) error {
	if err := st.Validate(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE warehouse_stock
		SET total_qty = $2, reserved_qty = $3, min_stock_level = $4, last_updated = $5
		WHERE material_id = $1
	`, st.MaterialID, st.TotalQty, st.ReservedQty, st.MinStockLevel, st.LastUpdated)
	if err != nil {
		return fmt.Errorf("save stock %s: %w", st.MaterialID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save stock %s: record vanished", st.MaterialID)
	}
	return nil
}

func (t *tx) LockAllocation(ctx context.Context, id uuid.UUID) (*allocations.Allocation, error) {
	var materialID uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT material_id FROM material_allocations WHERE id = $1`, id).Scan(&materialID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// порядок блокировок: сначала склад, затем распределение
	if _, err := t.LockStock(ctx, materialID); err != nil {
		return nil, err
	}
	a, err := scanAllocation(t.tx.QueryRow(ctx, selectAllocation+` WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (t *tx) InsertAllocation(ctx context.Context, a *allocations.Allocation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO material_allocations (
			id, material_id, project_id, crew_id, allocated_qty, used_qty,
			allocation_date, return_date, status, notes, allocated_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, a.ID, a.MaterialID, a.ProjectID, a.CrewID, a.AllocatedQty, a.UsedQty,
		a.AllocationDate, a.ReturnDate, string(a.Status), a.Notes, a.AllocatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (t *tx) UpdateAllocation(ctx context.Context, a *allocations.Allocation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE material_allocations
		SET used_qty = $2, return_date = $3, status = $4, notes = $5, updated_at = $6
		WHERE id = $1
	`, a.ID, a.UsedQty, a.ReturnDate, string(a.Status), a.Notes, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update allocation %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update allocation %s: not found", a.ID)
	}
	return nil
}

func (t *tx) DeleteAllocation(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM material_allocations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete allocation %s: %w", id, err)
	}
	return nil
}

func (t *tx) ActiveAllocations(ctx context.Context, materialID uuid.UUID) ([]allocations.Allocation, error) {
	rows, err := t.tx.Query(ctx, selectAllocation+`
		WHERE material_id = $1 AND status NOT IN ('returned', 'cancelled')
		ORDER BY created_at`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocations.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (t *tx) AppendMove(ctx context.Context, m moves.Move) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO material_moves (
			id, material_id, allocation_id, move_type, quantity, total_delta, reserved_delta,
			move_date, reason, actor_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, m.ID, m.MaterialID, m.AllocationID, string(m.Type), m.Quantity, m.TotalDelta, m.ReservedDelta,
		m.Date, m.Reason, m.ActorID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append move: %w", err)
	}
	return nil
}

func (t *tx) MoveTotals(ctx context.Context, materialID uuid.UUID) (store.MoveTotals, error) {
	tot := store.MoveTotals{Total: decimal.Zero, Reserved: decimal.Zero}
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_delta), 0), COALESCE(SUM(reserved_delta), 0), COUNT(*)
		FROM material_moves
		WHERE material_id = $1
	`, materialID).Scan(&tot.Total, &tot.Reserved, &tot.Count)
	if err != nil {
		return store.MoveTotals{}, fmt.Errorf("move totals %s: %w", materialID, err)
	}
	return tot, nil
}
