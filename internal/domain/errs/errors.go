// Package errs defines the error taxonomy shared by the warehouse ledger.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Code string

const (
	CodeMaterialNotFound   Code = "material_not_found"
	CodeConsumerNotFound   Code = "consumer_not_found"
	CodeInsufficientStock  Code = "insufficient_stock"
	CodeInvalidQuantity    Code = "invalid_quantity"
	CodeAllocationNotFound Code = "allocation_not_found"
	CodeAllocationInUse    Code = "allocation_in_use"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeValidation         Code = "validation"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeInternal           Code = "internal"
)

// Error carries enough context for a caller to render a message without
// re-reading the ledger.
type Error struct {
	Code       Code
	Op         string
	Message    string
	MaterialID uuid.UUID
	Requested  *decimal.Decimal
	Available  *decimal.Decimal
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Code))
	}
	if e.Requested != nil && e.Available != nil {
		fmt.Fprintf(&b, " (requested %s, available %s)", e.Requested.String(), e.Available.String())
	}
	if e.Cause != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is a transient storage condition.
// Business-rule violations are never retried.
func (e *Error) Retryable() bool {
	return e != nil && e.Code == CodeStorageUnavailable
}

func New(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: strings.TrimSpace(msg)}
}

func Newf(code Code, op, format string, args ...any) *Error {
	return New(code, op, fmt.Sprintf(format, args...))
}

// Wrap annotates err with a code. An *Error already in the chain keeps its code.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: code, Op: strings.TrimSpace(op), Cause: err}
}

func MaterialNotFound(op string, id uuid.UUID) *Error {
	e := Newf(CodeMaterialNotFound, op, "material %s not found", id)
	e.MaterialID = id
	return e
}

func ConsumerNotFound(op, kind string, id uuid.UUID) *Error {
	return Newf(CodeConsumerNotFound, op, "%s %s not found", kind, id)
}

func InsufficientStock(op string, materialID uuid.UUID, requested, available decimal.Decimal) *Error {
	e := Newf(CodeInsufficientStock, op, "insufficient stock for material %s", materialID)
	e.MaterialID = materialID
	e.Requested = &requested
	e.Available = &available
	return e
}

func InvalidQuantity(op, msg string) *Error {
	return New(CodeInvalidQuantity, op, msg)
}

func AllocationNotFound(op string, id uuid.UUID) *Error {
	return Newf(CodeAllocationNotFound, op, "allocation %s not found", id)
}

func AllocationInUse(op string, id uuid.UUID, status string) *Error {
	return Newf(CodeAllocationInUse, op, "allocation %s is %s; return it instead", id, status)
}

func InvalidTransition(op, from, to string) *Error {
	return Newf(CodeInvalidTransition, op, "cannot move allocation from %s to %s", from, to)
}

func Validation(op, msg string) *Error {
	return New(CodeValidation, op, msg)
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
