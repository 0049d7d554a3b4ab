package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/ledger"
)

// Date is a calendar day encoded as "2006-01-02".
type Date struct{ time.Time }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return &time.ParseError{Layout: time.DateOnly, Value: s}
	}
	t, err := time.Parse(time.DateOnly, s[1:len(s)-1])
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func datePtr(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	return &Date{*t}
}

func (d *Date) timePtr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

type allocationDTO struct {
	ID             uuid.UUID        `json:"id"`
	MaterialID     uuid.UUID        `json:"material_id"`
	ProjectID      *uuid.UUID       `json:"project_id"`
	CrewID         *uuid.UUID       `json:"crew_id"`
	AllocatedQty   decimal.Decimal  `json:"allocated_qty"`
	UsedQty        decimal.Decimal  `json:"used_qty"`
	RemainingQty   decimal.Decimal  `json:"remaining_qty"`
	TotalCost      *decimal.Decimal `json:"total_cost,omitempty"`
	AllocationDate Date             `json:"allocation_date"`
	ReturnDate     *Date            `json:"return_date"`
	Status         string           `json:"status"`
	Notes          *string          `json:"notes"`
	AllocatedBy    *uuid.UUID       `json:"allocated_by"`
	MaterialName   string           `json:"material_name,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func toAllocationDTO(a allocations.Allocation) allocationDTO {
	return allocationDTO{
		ID:             a.ID,
		MaterialID:     a.MaterialID,
		ProjectID:      a.ProjectID,
		CrewID:         a.CrewID,
		AllocatedQty:   a.AllocatedQty,
		UsedQty:        a.UsedQty,
		RemainingQty:   a.RemainingQty(),
		AllocationDate: Date{a.AllocationDate},
		ReturnDate:     datePtr(a.ReturnDate),
		Status:         string(a.Status),
		Notes:          a.Notes,
		AllocatedBy:    a.AllocatedBy,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toAllocationViewDTO(v ledger.AllocationView) allocationDTO {
	out := toAllocationDTO(v.Allocation)
	cost := v.TotalCost
	out.TotalCost = &cost
	if v.Material != nil {
		out.MaterialName = v.Material.Name
	}
	return out
}

type stockDTO struct {
	MaterialID    uuid.UUID       `json:"material_id"`
	TotalQty      decimal.Decimal `json:"total_qty"`
	ReservedQty   decimal.Decimal `json:"reserved_qty"`
	AvailableQty  decimal.Decimal `json:"available_qty"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	IsLow         bool            `json:"is_low"`
	LastUpdated   time.Time       `json:"last_updated"`
}

func toStockDTO(s stock.Stock) stockDTO {
	return stockDTO{
		MaterialID:    s.MaterialID,
		TotalQty:      s.TotalQty,
		ReservedQty:   s.ReservedQty,
		AvailableQty:  s.AvailableQty(),
		MinStockLevel: s.MinStockLevel,
		IsLow:         s.IsLow(),
		LastUpdated:   s.LastUpdated,
	}
}

type moveDTO struct {
	ID            uuid.UUID       `json:"id"`
	MaterialID    uuid.UUID       `json:"material_id"`
	AllocationID  *uuid.UUID      `json:"allocation_id"`
	Type          string          `json:"move_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	TotalDelta    decimal.Decimal `json:"total_delta"`
	ReservedDelta decimal.Decimal `json:"reserved_delta"`
	Date          Date            `json:"date"`
	Reason        string          `json:"reason,omitempty"`
	ActorID       *uuid.UUID      `json:"actor_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toMoveDTO(m moves.Move) moveDTO {
	return moveDTO{
		ID:            m.ID,
		MaterialID:    m.MaterialID,
		AllocationID:  m.AllocationID,
		Type:          string(m.Type),
		Quantity:      m.Quantity,
		TotalDelta:    m.TotalDelta,
		ReservedDelta: m.ReservedDelta,
		Date:          Date{m.Date},
		Reason:        m.Reason,
		ActorID:       m.ActorID,
		CreatedAt:     m.CreatedAt,
	}
}

type reconcileDTO struct {
	Stock            stockDTO        `json:"stock"`
	Moves            int             `json:"moves"`
	LedgerTotal      decimal.Decimal `json:"ledger_total"`
	LedgerReserved   decimal.Decimal `json:"ledger_reserved"`
	OpenAllocations  int             `json:"open_allocations"`
	AllocatedOpen    decimal.Decimal `json:"allocated_open"`
	TotalDrift       decimal.Decimal `json:"total_drift"`
	ReservedDrift    decimal.Decimal `json:"reserved_drift"`
	AllocationsDrift decimal.Decimal `json:"allocations_drift"`
	Consistent       bool            `json:"consistent"`
}

type summaryDTO struct {
	MaterialID   uuid.UUID       `json:"material_id"`
	MaterialName string          `json:"material_name"`
	Unit         string          `json:"unit"`
	Allocations  int             `json:"allocations"`
	AllocatedQty decimal.Decimal `json:"allocated_qty"`
	UsedQty      decimal.Decimal `json:"used_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

type createAllocationRequest struct {
	MaterialID     uuid.UUID       `json:"material_id"`
	ProjectID      *uuid.UUID      `json:"project_id"`
	CrewID         *uuid.UUID      `json:"crew_id"`
	AllocatedQty   decimal.Decimal `json:"allocated_qty"`
	AllocationDate *Date           `json:"allocation_date"`
	Notes          *string         `json:"notes"`
	AllocatedBy    *uuid.UUID      `json:"allocated_by"`
}

type updateAllocationRequest struct {
	Status     *string `json:"status"`
	Notes      *string `json:"notes"`
	ReturnDate *Date   `json:"return_date"`
}

type usageRequest struct {
	UsedQty *decimal.Decimal `json:"used_qty"`
	Notes   *string          `json:"notes"`
}

type returnRequest struct {
	Action     string `json:"action"`
	ReturnDate *Date  `json:"return_date"`
}

type adjustRequest struct {
	QtyDelta decimal.Decimal `json:"qty_delta"`
	Reason   string          `json:"reason"`
	ActorID  *uuid.UUID      `json:"actor_id"`
}

type minLevelRequest struct {
	MinStockLevel *decimal.Decimal `json:"min_stock_level"`
}

type importResponse struct {
	Rows       int             `json:"rows"`
	Changed    int             `json:"changed"`
	Received   decimal.Decimal `json:"received"`
	WrittenOff decimal.Decimal `json:"written_off"`
	Error      string          `json:"error,omitempty"`
}
