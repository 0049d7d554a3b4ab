// Package store defines the transactional boundary the ledger runs against.
// Implementations live in store/postgres and store/memory.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
)

// ErrTransient marks lock timeouts, serialization failures and deadlocks.
// Only errors carrying it are retried.
var ErrTransient = errors.New("store: transient failure")

func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return errors.Join(ErrTransient, err)
}

type AllocationFilter struct {
	MaterialID *uuid.UUID
	ProjectID  *uuid.UUID
	CrewID     *uuid.UUID
	Status     *allocations.Status
}

// MoveTotals is the sum of a material's move deltas.
type MoveTotals struct {
	Total    decimal.Decimal
	Reserved decimal.Decimal
	Count    int
}

// Tx is one all-or-nothing unit of work. Stock rows are locked per material:
// LockStock (and LockAllocation, which locks the allocation's material) holds
// the material until the transaction ends, so check-then-write sequences on
// the same material are serialized.
type Tx interface {
	// LockStock returns the material's record, creating a zero record if none
	// exists yet.
	LockStock(ctx context.Context, materialID uuid.UUID) (stock.Stock, error)
	SaveStock(ctx context.Context, s stock.Stock) error

	// LockAllocation returns (nil, nil) when the allocation does not exist.
	LockAllocation(ctx context.Context, id uuid.UUID) (*allocations.Allocation, error)
	InsertAllocation(ctx context.Context, a *allocations.Allocation) error
	UpdateAllocation(ctx context.Context, a *allocations.Allocation) error
	DeleteAllocation(ctx context.Context, id uuid.UUID) error
	ActiveAllocations(ctx context.Context, materialID uuid.UUID) ([]allocations.Allocation, error)

	AppendMove(ctx context.Context, m moves.Move) error
	MoveTotals(ctx context.Context, materialID uuid.UUID) (MoveTotals, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetStock returns (nil, nil) when the material never held stock.
	GetStock(ctx context.Context, materialID uuid.UUID) (*stock.Stock, error)
	ListStock(ctx context.Context) ([]stock.Stock, error)
	GetAllocation(ctx context.Context, id uuid.UUID) (*allocations.Allocation, error)
	ListAllocations(ctx context.Context, f AllocationFilter) ([]allocations.Allocation, error)
	ListMoves(ctx context.Context, f moves.Filter) ([]moves.Move, error)
}
