package ledger

import (
	"context"
	"fmt"
	"time"
)

// CreateAuthorization records a new insurance authorization. The status is
// pending until the validity window opens and active afterwards.
func (service *Service) CreateAuthorization(ctx context.Context, patientID PatientID, totalUnits Units, startDate time.Time, endDate time.Time) (Authorization, error) {
	if patientID == (PatientID{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidPatientID)
	}
	authorizationID, err := NewAuthorizationID(service.newID())
	if err != nil {
		return Authorization{}, err
	}
	now := service.nowFn()
	authorization, err := NewAuthorization(authorizationID, patientID, totalUnits, 0, 0, AuthorizationStatusPending, startDate, endDate)
	if err != nil {
		return Authorization{}, err
	}
	if status := windowStatus(authorization, now); status != AuthorizationStatusPending {
		if status == AuthorizationStatusExpired {
			return Authorization{}, fmt.Errorf("%w: window already closed", ErrInvalidValidityWindow)
		}
		authorization, err = NewAuthorization(authorizationID, patientID, totalUnits, 0, 0, status, startDate, endDate)
		if err != nil {
			return Authorization{}, err
		}
	}
	createError := service.store.CreateAuthorization(ctx, authorization)
	service.logOperation(ctx, OperationLog{
		Operation:       operationCreate,
		AuthorizationID: authorizationID,
		UnitsDelta:      totalUnits.Int64(),
		Error:           createError,
	})
	if createError != nil {
		return Authorization{}, createError
	}
	service.recordAudit(ctx, AuditEvent{
		AuthorizationID: authorizationID,
		Kind:            AuditCreated,
		UnitsDelta:      totalUnits.Int64(),
	})
	return authorization, nil
}

// CancelAuthorization revokes an authorization. Cancellation is terminal and
// idempotent; held reservations stay releasable through the normal flow.
func (service *Service) CancelAuthorization(ctx context.Context, authorizationID AuthorizationID) error {
	if authorizationID == (AuthorizationID{}) {
		return fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	var cancelled bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		authorization, err := txStore.GetAuthorization(ctx, authorizationID)
		if err != nil {
			return err
		}
		if authorization.Status() == AuthorizationStatusCancelled {
			return nil
		}
		if err := txStore.UpdateAuthorizationStatus(ctx, authorizationID, authorization.Status(), AuthorizationStatusCancelled); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:       operationCancel,
		AuthorizationID: authorizationID,
		Error:           operationError,
	})
	if operationError != nil {
		return operationError
	}
	if cancelled {
		service.recordAudit(ctx, AuditEvent{
			AuthorizationID: authorizationID,
			Kind:            AuditCancelled,
		})
	}
	return nil
}

// AmendTotalUnits changes the granted ceiling. The new total can never fall
// below the units already used or held.
func (service *Service) AmendTotalUnits(ctx context.Context, authorizationID AuthorizationID, totalUnits Units, justification Justification) (Authorization, error) {
	if authorizationID == (AuthorizationID{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	if totalUnits <= 0 {
		return Authorization{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnits)
	}
	if justification == (Justification{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidJustification)
	}
	var (
		amended    Authorization
		unitsDelta int64
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		authorization, err := txStore.GetAuthorization(ctx, authorizationID)
		if err != nil {
			return err
		}
		if authorization.UsedUnits()+authorization.ReservedUnits() > totalUnits.Int64() {
			return fmt.Errorf("%w: new total %d below used+reserved", ErrInvalidAdjustment, totalUnits.Int64())
		}
		updated, err := txStore.SetTotalUnits(ctx, authorizationID, totalUnits)
		if err != nil {
			return err
		}
		if err := service.reconcileStatus(ctx, txStore, updated, service.nowFn()); err != nil {
			return err
		}
		amended = updated
		unitsDelta = totalUnits.Int64() - authorization.TotalUnits().Int64()
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:       operationAmend,
		AuthorizationID: authorizationID,
		UnitsDelta:      unitsDelta,
		Error:           operationError,
	})
	if operationError != nil {
		return Authorization{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		AuthorizationID: authorizationID,
		Kind:            AuditAmended,
		UnitsDelta:      unitsDelta,
		Justification:   justification.String(),
	})
	return amended, nil
}

// GetAuthorization reads the current ledger snapshot for one authorization.
func (service *Service) GetAuthorization(ctx context.Context, authorizationID AuthorizationID) (Authorization, error) {
	if authorizationID == (AuthorizationID{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	return service.store.GetAuthorization(ctx, authorizationID)
}

// ReservationForAppointment finds the held reservation backing an
// appointment; the scheduling bridge uses it to map lifecycle signals to
// commit/release calls.
func (service *Service) ReservationForAppointment(ctx context.Context, appointmentID AppointmentID) (Reservation, error) {
	if appointmentID == (AppointmentID{}) {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidAppointmentID)
	}
	return service.store.FindHeldByAppointment(ctx, appointmentID)
}

// StaleHeldBefore lists held reservations created before the cutoff. The
// reclaimer sweeps over this through the same public release path as any
// interactive caller.
func (service *Service) StaleHeldBefore(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error) {
	return service.store.ListStaleHeld(ctx, cutoff, limit)
}
