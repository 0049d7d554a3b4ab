// Package postgres implements the ledger store on pgx. Per-material
// serialization relies on SELECT ... FOR UPDATE of the warehouse_stock row.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

var _ store.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if s.lockTimeout > 0 {
		// SET LOCAL не принимает параметры
		ms := s.lockTimeout.Milliseconds()
		if _, err := pgtx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			return mapError(err)
		}
	}

	if err := fn(ctx, &tx{tx: pgtx}); err != nil {
		return mapError(err)
	}
	return mapError(pgtx.Commit(ctx))
}

const selectStock = `
SELECT material_id, total_qty, reserved_qty, min_stock_level, last_updated
FROM warehouse_stock`

func scanStock(row pgx.Row) (*stock.Stock, error) {
	var st stock.Stock
	if err := row.Scan(&st.MaterialID, &st.TotalQty, &st.ReservedQty, &st.MinStockLevel, &st.LastUpdated); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetStock(ctx context.Context, materialID uuid.UUID) (*stock.Stock, error) {
	st, err := scanStock(s.pool.QueryRow(ctx, selectStock+` WHERE material_id = $1`, materialID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return st, mapError(err)
}

func (s *Store) ListStock(ctx context.Context) ([]stock.Stock, error) {
	rows, err := s.pool.Query(ctx, selectStock+` ORDER BY material_id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []stock.Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, mapError(rows.Err())
}

const selectAllocation = `
SELECT id, material_id, project_id, crew_id, allocated_qty, used_qty,
       allocation_date, return_date, status, notes, allocated_by, created_at, updated_at
FROM material_allocations`

func scanAllocation(row pgx.Row) (*allocations.Allocation, error) {
	var (
		a      allocations.Allocation
		status string
	)
	if err := row.Scan(
		&a.ID, &a.MaterialID, &a.ProjectID, &a.CrewID, &a.AllocatedQty, &a.UsedQty,
		&a.AllocationDate, &a.ReturnDate, &status, &a.Notes, &a.AllocatedBy, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = allocations.Status(status)
	return &a, nil
}

func (s *Store) GetAllocation(ctx context.Context, id uuid.UUID) (*allocations.Allocation, error) {
	a, err := scanAllocation(s.pool.QueryRow(ctx, selectAllocation+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, mapError(err)
}

func (s *Store) ListAllocations(ctx context.Context, f store.AllocationFilter) ([]allocations.Allocation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.MaterialID != nil {
		add("material_id = $%d", *f.MaterialID)
	}
	if f.ProjectID != nil {
		add("project_id = $%d", *f.ProjectID)
	}
	if f.CrewID != nil {
		add("crew_id = $%d", *f.CrewID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}

	q := selectAllocation
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err)
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
	return out, mapError(rows.Err())
}

const selectMove = `
SELECT id, material_id, allocation_id, move_type, quantity, total_delta, reserved_delta,
       move_date, reason, actor_id, created_at
FROM material_moves`

func scanMove(row pgx.Row) (*moves.Move, error) {
	var (
		m  moves.Move
		mt string
	)
	if err := row.Scan(
		&m.ID, &m.MaterialID, &m.AllocationID, &mt, &m.Quantity, &m.TotalDelta, &m.ReservedDelta,
		&m.Date, &m.Reason, &m.ActorID, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	m.Type = moves.MoveType(mt)
	return &m, nil
}

func (s *Store) ListMoves(ctx context.Context, f moves.Filter) ([]moves.Move, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.MaterialID != nil {
		add("material_id = $%d", *f.MaterialID)
	}
	if f.AllocationID != nil {
		add("allocation_id = $%d", *f.AllocationID)
	}
	if f.Type != nil {
		add("move_type = $%d", string(*f.Type))
	}

	q := selectMove
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []moves.Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, mapError(rows.Err())
}
