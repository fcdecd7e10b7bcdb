package royalty

import (
	"errors"
	"fmt"
)

// Failure classes. Granular sentinels below wrap one of these so callers can
// branch on the class with errors.Is while still matching the precise cause.
var (
	ErrValidation      = errors.New("validation failed")
	ErrStateConflict   = errors.New("state conflict")
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
)

// Domain-level error values returned by the royalty service.
var (
	ErrRunNotFound       = fmt.Errorf("royalty run %w", ErrNotFound)
	ErrStatementNotFound = fmt.Errorf("royalty statement %w", ErrNotFound)

	ErrPeriodOverlap      = fmt.Errorf("%w: period overlaps an existing run", ErrValidation)
	ErrPeriodInFuture     = fmt.Errorf("%w: period end must not be in the future", ErrValidation)
	ErrTotalsMismatch     = fmt.Errorf("%w: statement totals do not reconcile with run totals", ErrValidation)
	ErrZeroAdjustment     = fmt.Errorf("%w: adjustment amount must not be zero", ErrValidation)
	ErrEmptyPaymentRef    = fmt.Errorf("%w: payment reference is required", ErrValidation)
	ErrRunLocked          = fmt.Errorf("%w: run is locked", ErrStateConflict)
	ErrDisputedStatements = fmt.Errorf("%w: run has disputed statements", ErrStateConflict)
	ErrAlreadyDisputed    = fmt.Errorf("%w: statement is already disputed", ErrStateConflict)

	ErrNotStatementOwner   = fmt.Errorf("%w: only the owning creator may dispute", ErrForbidden)
	ErrDisputeWindowClosed = fmt.Errorf("%w: dispute window has closed", ErrForbidden)
)

// Invalid-value errors returned by type constructors.
var (
	ErrInvalidAmountCents     = fmt.Errorf("%w: invalid amount cents", ErrValidation)
	ErrInvalidBasisPoints     = fmt.Errorf("%w: invalid basis points", ErrValidation)
	ErrInvalidPeriod          = fmt.Errorf("%w: invalid period", ErrValidation)
	ErrInvalidRunID           = fmt.Errorf("%w: invalid run id", ErrValidation)
	ErrInvalidStatementID     = fmt.Errorf("%w: invalid statement id", ErrValidation)
	ErrInvalidLineID          = fmt.Errorf("%w: invalid line id", ErrValidation)
	ErrInvalidCreatorID       = fmt.Errorf("%w: invalid creator id", ErrValidation)
	ErrInvalidActorID         = fmt.Errorf("%w: invalid actor id", ErrValidation)
	ErrInvalidLicenseID       = fmt.Errorf("%w: invalid license id", ErrValidation)
	ErrInvalidIPAssetID       = fmt.Errorf("%w: invalid ip asset id", ErrValidation)
	ErrInvalidDisputeReason   = fmt.Errorf("%w: invalid dispute reason", ErrValidation)
	ErrInvalidResolutionNote  = fmt.Errorf("%w: invalid resolution note", ErrValidation)
	ErrInvalidMetadataJSON    = fmt.Errorf("%w: invalid metadata json", ErrValidation)
	ErrInvalidRunStatus       = fmt.Errorf("%w: invalid run status", ErrValidation)
	ErrInvalidStatementStatus = fmt.Errorf("%w: invalid statement status", ErrValidation)
	ErrInvalidLineSource      = fmt.Errorf("%w: invalid line source", ErrValidation)
	ErrInvalidAdjustmentKind  = fmt.Errorf("%w: invalid adjustment kind", ErrValidation)
	ErrInvalidServiceConfig   = errors.New("invalid service config")
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
