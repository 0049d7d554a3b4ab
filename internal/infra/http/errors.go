package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
)

type errorBody struct {
	Code       string           `json:"code"`
	Message    string           `json:"message"`
	MaterialID *uuid.UUID       `json:"material_id,omitempty"`
	Requested  *decimal.Decimal `json:"requested,omitempty"`
	Available  *decimal.Decimal `json:"available,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func statusFor(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeMaterialNotFound, errs.CodeConsumerNotFound, errs.CodeAllocationNotFound:
		return http.StatusNotFound
	case errs.CodeInsufficientStock, errs.CodeAllocationInUse, errs.CodeInvalidTransition:
		return http.StatusConflict
	case errs.CodeInvalidQuantity, errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Code: string(errs.CodeInternal), Message: "internal error"}

	var e *errs.Error
	if errors.As(err, &e) && e.Code != errs.CodeInternal {
		body.Code = string(e.Code)
		body.Message = e.Error()
		if e.MaterialID != uuid.Nil {
			id := e.MaterialID
			body.MaterialID = &id
		}
		body.Requested = e.Requested
		body.Available = e.Available
	}
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func (a *API) badRequest(w http.ResponseWriter, field string, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
		Code:    string(errs.CodeValidation),
		Message: field + ": " + err.Error(),
	}})
}
