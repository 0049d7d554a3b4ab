// Package excel exports warehouse snapshots to .xlsx and reads stocktake
// sheets back.
package excel

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
)

const (
	sheetName = "Stock"

	colMaterialID = 0
	colCounted    = 8
	minColumns    = colCounted + 1
)

var header = []interface{}{
	"material_id",
	"material_name",
	"unit",
	"total_qty",
	"reserved_qty",
	"available_qty",
	"min_stock_level",
	"last_updated",
	"Факт", // заполняется при инвентаризации
}

type StockRow struct {
	Material materials.Material
	Stock    stock.Stock
}

// Snapshot pairs every material with its stock record; materials that were
// never stocked get a zero record.
func Snapshot(mats []materials.Material, stocks []stock.Stock) []StockRow {
	byID := make(map[uuid.UUID]stock.Stock, len(stocks))
	for _, s := range stocks {
		byID[s.MaterialID] = s
	}
	rows := make([]StockRow, 0, len(mats))
	for _, m := range mats {
		st, ok := byID[m.ID]
		if !ok {
			st = stock.Empty(m.ID)
		}
		rows = append(rows, StockRow{Material: m, Stock: st})
	}
	return rows
}

// WriteStock writes one row per material; the counted column is left empty.
func WriteStock(w io.Writer, rows []StockRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(sheet, sheetName); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("header: %w", err)
	}

	for i, r := range rows {
		updated := ""
		if !r.Stock.LastUpdated.IsZero() {
			updated = r.Stock.LastUpdated.Format(time.RFC3339)
		}
		excelRow := []interface{}{
			r.Material.ID.String(),
			r.Material.Name,
			string(r.Material.Unit),
			r.Stock.TotalQty.InexactFloat64(),
			r.Stock.ReservedQty.InexactFloat64(),
			r.Stock.AvailableQty().InexactFloat64(),
			r.Stock.MinStockLevel.InexactFloat64(),
			updated,
			"",
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &excelRow); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return f.Write(w)
}

// Count is one filled-in line of a stocktake sheet.
type Count struct {
	Row        int
	MaterialID uuid.UUID
	Counted    decimal.Decimal
}

type RowError struct {
	Row int
	Msg string
}

func (e *RowError) Error() string { return fmt.Sprintf("строка %d: %s", e.Row, e.Msg) }

var (
	ErrEmptySheet = errors.New("файл не содержит строк с материалами")
	ErrBadFile    = errors.New("некорректный Excel-файл")
)

// ReadCounts parses a sheet produced by WriteStock. Rows with an empty
// counted column are skipped. Any malformed row rejects the whole file.
func ReadCounts(r io.Reader) ([]Count, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFile, err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFile, err)
	}
	if len(rows) < 2 {
		return nil, ErrEmptySheet
	}
	if len(rows[0]) < minColumns {
		return nil, fmt.Errorf("%w: ожидается минимум %d колонок", ErrBadFile, minColumns)
	}

	var out []Count
	seen := make(map[uuid.UUID]int)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		n := i + 1
		if len(row) <= colCounted {
			continue
		}
		idStr := strings.TrimSpace(row[colMaterialID])
		qtyStr := strings.TrimSpace(row[colCounted])
		if idStr == "" || qtyStr == "" {
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, &RowError{Row: n, Msg: fmt.Sprintf("некорректный material_id (%q)", idStr)}
		}
		if prev, dup := seen[id]; dup {
			return nil, &RowError{Row: n, Msg: fmt.Sprintf("материал уже указан в строке %d", prev)}
		}
		qty, err := decimal.NewFromString(strings.ReplaceAll(qtyStr, ",", "."))
		if err != nil || qty.IsNegative() {
			return nil, &RowError{Row: n, Msg: fmt.Sprintf("некорректное количество (%q), нужно неотрицательное число", qtyStr)}
		}
		seen[id] = n
		out = append(out, Count{Row: n, MaterialID: id, Counted: qty})
	}
	if len(out) == 0 {
		return nil, ErrEmptySheet
	}
	return out, nil
}
