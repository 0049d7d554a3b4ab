package materials

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Unit string

const (
	UnitPiece  Unit = "piece"
	UnitMeter  Unit = "meter"
	UnitKg     Unit = "kg"
	UnitTon    Unit = "ton"
	UnitLiter  Unit = "liter"
	UnitCubicM Unit = "m3"
	UnitBox    Unit = "box"
	UnitPallet Unit = "pallet"
	UnitRoll   Unit = "roll"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitPiece, UnitMeter, UnitKg, UnitTon, UnitLiter, UnitCubicM, UnitBox, UnitPallet, UnitRoll:
		return true
	}
	return false
}

// Material is owned by the surrounding catalog; the ledger only reads it.
type Material struct {
	ID            uuid.UUID
	Name          string
	Unit          Unit
	DefaultPrice  decimal.Decimal // per unit
	PurchasePrice decimal.Decimal
	Active        bool
	CreatedAt     time.Time
}
