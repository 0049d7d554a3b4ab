package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/materials"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/infra/excel"
	"github.com/Iacob98/cometa-warehouse/internal/ledger"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

type Ledger interface {
	CreateAllocation(ctx context.Context, in ledger.CreateAllocationInput) (*allocations.Allocation, error)
	GetAllocation(ctx context.Context, id uuid.UUID) (*ledger.AllocationView, error)
	ListAllocations(ctx context.Context, f store.AllocationFilter) ([]allocations.Allocation, error)
	UpdateAllocation(ctx context.Context, id uuid.UUID, in ledger.UpdateAllocationInput) (*allocations.Allocation, error)
	DeleteAllocation(ctx context.Context, id uuid.UUID) error
	RecordUsage(ctx context.Context, id uuid.UUID, used decimal.Decimal, notes *string) (*allocations.Allocation, error)
	ReturnOrCancelAllocation(ctx context.Context, id uuid.UUID, action ledger.Action, returnDate *time.Time) (*allocations.Allocation, error)
	ProjectMaterialSummary(ctx context.Context, projectID uuid.UUID) ([]ledger.MaterialSummary, error)

	GetWarehouseStock(ctx context.Context, materialID uuid.UUID) (*stock.Stock, error)
	ListStock(ctx context.Context) ([]stock.Stock, error)
	ListLowStock(ctx context.Context) ([]stock.Stock, error)
	AdjustStock(ctx context.Context, in ledger.AdjustInput) (*stock.Stock, error)
	CountStocks(ctx context.Context, counts []ledger.CountInput) ([]ledger.CountResult, error)
	SetMinStockLevel(ctx context.Context, materialID uuid.UUID, level decimal.Decimal) (*stock.Stock, error)
	Reconcile(ctx context.Context, materialID uuid.UUID) (*ledger.ReconcileReport, error)
	ListMoves(ctx context.Context, f moves.Filter) ([]moves.Move, error)
}

type MaterialLister interface {
	List(ctx context.Context, onlyActive bool) ([]materials.Material, error)
}

const maxImportSize = 10 << 20

type API struct {
	log       *slog.Logger
	ledger    Ledger
	materials MaterialLister
}

func NewAPI(log *slog.Logger, l Ledger, m MaterialLister) *API {
	return &API{log: log, ledger: l, materials: m}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/allocations", a.listAllocations)
	mux.HandleFunc("POST /api/allocations", a.createAllocation)
	mux.HandleFunc("GET /api/allocations/{id}", a.getAllocation)
	mux.HandleFunc("PUT /api/allocations/{id}", a.updateAllocation)
	mux.HandleFunc("DELETE /api/allocations/{id}", a.deleteAllocation)
	mux.HandleFunc("POST /api/allocations/{id}/usage", a.recordUsage)
	mux.HandleFunc("POST /api/allocations/{id}/return", a.returnAllocation)

	mux.HandleFunc("GET /api/stock", a.listStock)
	mux.HandleFunc("GET /api/stock/low", a.listLowStock)
	mux.HandleFunc("GET /api/stock/export.xlsx", a.exportStock)
	mux.HandleFunc("POST /api/stock/import", a.importStock)
	mux.HandleFunc("GET /api/stock/{material_id}", a.getStock)
	mux.HandleFunc("POST /api/stock/{material_id}/adjust", a.adjustStock)
	mux.HandleFunc("PUT /api/stock/{material_id}/min-level", a.setMinLevel)
	mux.HandleFunc("GET /api/stock/{material_id}/reconcile", a.reconcile)

	mux.HandleFunc("GET /api/moves", a.listMoves)
	mux.HandleFunc("GET /api/projects/{id}/materials", a.projectSummary)
}

func (a *API) listAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   store.AllocationFilter
		err error
	)
	if f.MaterialID, err = optionalUUID(q.Get("material_id")); err != nil {
		a.badRequest(w, "material_id", err)
		return
	}
	if f.ProjectID, err = optionalUUID(q.Get("project_id")); err != nil {
		a.badRequest(w, "project_id", err)
		return
	}
	if f.CrewID, err = optionalUUID(q.Get("crew_id")); err != nil {
		a.badRequest(w, "crew_id", err)
		return
	}
	if s := q.Get("status"); s != "" {
		st := allocations.Status(s)
		f.Status = &st
	}

	list, err := a.ledger.ListAllocations(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]allocationDTO, 0, len(list))
	for _, al := range list {
		out = append(out, toAllocationDTO(al))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) createAllocation(w http.ResponseWriter, r *http.Request) {
	var req createAllocationRequest
	if !a.decode(w, r, &req) {
		return
	}
	in := ledger.CreateAllocationInput{
		MaterialID:  req.MaterialID,
		ProjectID:   req.ProjectID,
		CrewID:      req.CrewID,
		Qty:         req.AllocatedQty,
		Notes:       req.Notes,
		AllocatedBy: req.AllocatedBy,
	}
	if t := req.AllocationDate.timePtr(); t != nil {
		in.AllocationDate = *t
	}
	al, err := a.ledger.CreateAllocation(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(*al))
}

func (a *API) getAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "id")
	if !ok {
		return
	}
	v, err := a.ledger.GetAllocation(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationViewDTO(*v))
}

func (a *API) updateAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateAllocationRequest
	if !a.decode(w, r, &req) {
		return
	}
	in := ledger.UpdateAllocationInput{
		Notes:      req.Notes,
		ReturnDate: req.ReturnDate.timePtr(),
	}
	if req.Status != nil {
		st := allocations.Status(*req.Status)
		in.Status = &st
	}
	al, err := a.ledger.UpdateAllocation(r.Context(), id, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*al))
}

func (a *API) deleteAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := a.ledger.DeleteAllocation(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) recordUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req usageRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.UsedQty == nil {
		a.badRequest(w, "used_qty", errors.New("is required"))
		return
	}
	al, err := a.ledger.RecordUsage(r.Context(), id, *req.UsedQty, req.Notes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*al))
}

func (a *API) returnAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req returnRequest
	if !a.decode(w, r, &req) {
		return
	}
	action := ledger.Action(req.Action)
	if action == "" {
		action = ledger.ActionReturn
	}
	al, err := a.ledger.ReturnOrCancelAllocation(r.Context(), id, action, req.ReturnDate.timePtr())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*al))
}

func (a *API) projectSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "id")
	if !ok {
		return
	}
	list, err := a.ledger.ProjectMaterialSummary(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]summaryDTO, 0, len(list))
	for _, s := range list {
		out = append(out, summaryDTO{
			MaterialID:   s.Material.ID,
			MaterialName: s.Material.Name,
			Unit:         string(s.Material.Unit),
			Allocations:  s.Allocations,
			AllocatedQty: s.AllocatedQty,
			UsedQty:      s.UsedQty,
			RemainingQty: s.RemainingQty,
			TotalCost:    s.TotalCost,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) listStock(w http.ResponseWriter, r *http.Request) {
	list, err := a.ledger.ListStock(r.Context())
	a.writeStockList(w, r, list, err)
}

func (a *API) listLowStock(w http.ResponseWriter, r *http.Request) {
	list, err := a.ledger.ListLowStock(r.Context())
	a.writeStockList(w, r, list, err)
}

func (a *API) writeStockList(w http.ResponseWriter, r *http.Request, list []stock.Stock, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]stockDTO, 0, len(list))
	for _, s := range list {
		out = append(out, toStockDTO(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getStock(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "material_id")
	if !ok {
		return
	}
	st, err := a.ledger.GetWarehouseStock(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*st))
}

func (a *API) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "material_id")
	if !ok {
		return
	}
	var req adjustRequest
	if !a.decode(w, r, &req) {
		return
	}
	st, err := a.ledger.AdjustStock(r.Context(), ledger.AdjustInput{
		MaterialID: id,
		Delta:      req.QtyDelta,
		Reason:     req.Reason,
		ActorID:    req.ActorID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*st))
}

func (a *API) setMinLevel(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "material_id")
	if !ok {
		return
	}
	var req minLevelRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.MinStockLevel == nil {
		a.badRequest(w, "min_stock_level", errors.New("is required"))
		return
	}
	st, err := a.ledger.SetMinStockLevel(r.Context(), id, *req.MinStockLevel)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*st))
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r, "material_id")
	if !ok {
		return
	}
	rep, err := a.ledger.Reconcile(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileDTO{
		Stock:            toStockDTO(rep.Stock),
		Moves:            rep.Moves,
		LedgerTotal:      rep.LedgerTotal,
		LedgerReserved:   rep.LedgerReserved,
		OpenAllocations:  rep.OpenAllocations,
		AllocatedOpen:    rep.AllocatedOpen,
		TotalDrift:       rep.TotalDrift,
		ReservedDrift:    rep.ReservedDrift,
		AllocationsDrift: rep.AllocationsDrift,
		Consistent:       rep.Consistent(),
	})
}

func (a *API) listMoves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   moves.Filter
		err error
	)
	if f.MaterialID, err = optionalUUID(q.Get("material_id")); err != nil {
		a.badRequest(w, "material_id", err)
		return
	}
	if f.AllocationID, err = optionalUUID(q.Get("allocation_id")); err != nil {
		a.badRequest(w, "allocation_id", err)
		return
	}
	if s := q.Get("type"); s != "" {
		mt := moves.MoveType(s)
		f.Type = &mt
	}
	if s := q.Get("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil {
			a.badRequest(w, "limit", err)
			return
		}
	}
	list, err := a.ledger.ListMoves(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]moveDTO, 0, len(list))
	for _, m := range list {
		out = append(out, toMoveDTO(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) exportStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mats, err := a.materials.List(ctx, true)
	if err != nil {
		a.log.Error("export: list materials failed", "err", err)
		http.Error(w, "failed to load materials", http.StatusInternalServerError)
		return
	}
	all, err := a.ledger.ListStock(ctx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rows := excel.Snapshot(mats, all)

	var buf bytes.Buffer
	if err := excel.WriteStock(&buf, rows); err != nil {
		a.log.Error("export: write xlsx failed", "err", err)
		http.Error(w, "failed to build file", http.StatusInternalServerError)
		return
	}
	name := fmt.Sprintf("stock_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write(buf.Bytes())
}

// importStock accepts a stocktake sheet either as multipart field "file" or
// as the raw request body.
func (a *API) importStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
	var src io.Reader = r.Body
	if file, _, err := r.FormFile("file"); err == nil {
		defer func() { _ = file.Close() }()
		src = file
	}
	actor, err := optionalUUID(r.URL.Query().Get("actor_id"))
	if err != nil {
		a.badRequest(w, "actor_id", err)
		return
	}

	res, err := excel.ImportCounts(r.Context(), a.ledger, src, actor)
	out := importResponse{
		Rows:       res.Rows,
		Changed:    res.Changed,
		Received:   res.Received,
		WrittenOff: res.WrittenOff,
	}
	if err != nil {
		out.Error = err.Error()
		status := statusFor(err)
		var rowErr *excel.RowError
		if errors.As(err, &rowErr) || errors.Is(err, excel.ErrEmptySheet) || errors.Is(err, excel.ErrBadFile) {
			status = http.StatusBadRequest
		}
		if status >= http.StatusInternalServerError {
			a.log.Error("stock import failed", "err", err)
			out.Error = "internal error"
		} else {
			a.log.Warn("stock import rejected", "err", err)
		}
		writeJSON(w, status, out)
		return
	}
	a.log.Info("stock import applied", "rows", res.Rows, "changed", res.Changed)
	writeJSON(w, http.StatusOK, out)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.badRequest(w, "body", err)
		return false
	}
	return true
}

func (a *API) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		a.badRequest(w, name, err)
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
