package moves

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MoveType string

const (
	MoveAllocation       MoveType = "allocation"
	MoveUsageAdjustment  MoveType = "usage_adjustment"
	MoveReturn           MoveType = "return"
	MoveReceipt          MoveType = "receipt"
	MoveManualAdjustment MoveType = "manual_adjustment"
)

func (t MoveType) Valid() bool {
	switch t {
	case MoveAllocation, MoveUsageAdjustment, MoveReturn, MoveReceipt, MoveManualAdjustment:
		return true
	}
	return false
}

// Move is an append-only audit entry. Quantity is the amount the event is
// about (signed for usage corrections and manual adjustments); TotalDelta and
// ReservedDelta are the exact changes applied to the warehouse record, so
// summing them over a material's moves reproduces its stock.
type Move struct {
	ID            uuid.UUID
	MaterialID    uuid.UUID
	AllocationID  *uuid.UUID
	Type          MoveType
	Quantity      decimal.Decimal
	TotalDelta    decimal.Decimal
	ReservedDelta decimal.Decimal
	Date          time.Time
	Reason        string
	ActorID       *uuid.UUID
	CreatedAt     time.Time
}

type Filter struct {
	MaterialID   *uuid.UUID
	AllocationID *uuid.UUID
	Type         *MoveType
	Limit        int
}
