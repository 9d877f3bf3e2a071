package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientUnits          = errors.New("insufficient units")
	ErrInvariantViolation         = errors.New("ledger invariant violation")
	ErrAuthorizationNotFound      = errors.New("authorization not found")
	ErrAuthorizationExists        = errors.New("authorization already exists")
	ErrReservationNotFound        = errors.New("reservation not found")
	ErrReservationExists          = errors.New("reservation already exists")
	ErrReservationClosed          = errors.New("reservation closed")
	ErrAuthorizationNotReservable = errors.New("authorization not reservable")
	ErrInvalidAdjustment          = errors.New("invalid adjustment")
	ErrInvalidUnits               = errors.New("invalid units")
	ErrInvalidAuthorizationID     = errors.New("invalid authorization id")
	ErrInvalidPatientID           = errors.New("invalid patient id")
	ErrInvalidAppointmentID       = errors.New("invalid appointment id")
	ErrInvalidReservationID       = errors.New("invalid reservation id")
	ErrInvalidJustification       = errors.New("invalid justification")
	ErrInvalidMetadataJSON        = errors.New("invalid metadata json")
	ErrInvalidValidityWindow      = errors.New("invalid validity window")
	ErrInvalidAuthorizationStatus = errors.New("invalid authorization status")
	ErrInvalidReservationState    = errors.New("invalid reservation state")
	ErrInvalidReleaseReason       = errors.New("invalid release reason")
	ErrInvalidServiceConfig       = errors.New("invalid service config")
	ErrInvalidReclaimerConfig     = errors.New("invalid reclaimer config")
	ErrStoreUnavailable           = errors.New("store unavailable")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
