package excel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/ledger"
)

type StockCounter interface {
	CountStocks(ctx context.Context, counts []ledger.CountInput) ([]ledger.CountResult, error)
}

type ImportResult struct {
	Rows       int
	Changed    int
	Received   decimal.Decimal
	WrittenOff decimal.Decimal
}

// ImportCounts applies a stocktake sheet as one batch: a row that fails
// leaves every material untouched.
func ImportCounts(ctx context.Context, svc StockCounter, r io.Reader, actor *uuid.UUID) (ImportResult, error) {
	res := ImportResult{Received: decimal.Zero, WrittenOff: decimal.Zero}
	counts, err := ReadCounts(r)
	if err != nil {
		return res, err
	}
	in := make([]ledger.CountInput, len(counts))
	for i, c := range counts {
		in[i] = ledger.CountInput{
			MaterialID: c.MaterialID,
			Counted:    c.Counted,
			Reason:     "inventory_excel",
			ActorID:    actor,
		}
	}
	out, err := svc.CountStocks(ctx, in)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			for _, c := range counts {
				if c.MaterialID == e.MaterialID {
					return res, fmt.Errorf("строка %d (материал %s): %w", c.Row, c.MaterialID, err)
				}
			}
		}
		return res, err
	}
	for _, c := range out {
		res.Rows++
		switch {
		case c.Delta.IsPositive():
			res.Changed++
			res.Received = res.Received.Add(c.Delta)
		case c.Delta.IsNegative():
			res.Changed++
			res.WrittenOff = res.WrittenOff.Add(c.Delta.Neg())
		}
	}
	return res, nil
}
