package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the reservation engine: the sole writer of reservation state
// and the sole caller of the store's guarded counter delta.
type Service struct {
	store  Store
	nowFn  func() time.Time
	newID  func() string
	audit  AuditRecorder
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Reserve places a provisional hold of units against an authorization on
// behalf of one appointment. The availability check and the reserved-units
// increment happen as one conditional update, so two concurrent reserves can
// never jointly exceed the remaining capacity.
func (service *Service) Reserve(ctx context.Context, authorizationID AuthorizationID, appointmentID AppointmentID, units Units, metadata MetadataJSON) (Reservation, error) {
	if authorizationID == (AuthorizationID{}) {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	if appointmentID == (AppointmentID{}) {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidAppointmentID)
	}
	if units <= 0 {
		return Reservation{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnits)
	}
	metadata = normalizeMetadata(metadata)

	var reservation Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		authorization, err := txStore.GetAuthorization(ctx, authorizationID)
		if err != nil {
			return err
		}
		now := service.nowFn()
		effective := authorization.EffectiveStatus(now)
		if effective != AuthorizationStatusActive {
			return fmt.Errorf("%w: status %s", ErrAuthorizationNotReservable, effective)
		}
		if effective != authorization.Status() {
			if err := txStore.UpdateAuthorizationStatus(ctx, authorizationID, authorization.Status(), effective); err != nil {
				return err
			}
		}
		if authorization.AvailableUnits() < units.Int64() {
			return ErrInsufficientUnits
		}
		reservationID, err := NewReservationID(service.newID())
		if err != nil {
			return err
		}
		created, err := NewReservation(reservationID, authorizationID, appointmentID, units, ReservationStateHeld, now, metadata)
		if err != nil {
			return err
		}
		if err := txStore.CreateReservation(ctx, created); err != nil {
			return err
		}
		if _, err := txStore.ApplyDelta(ctx, authorizationID, 0, units.Int64()); err != nil {
			if errors.Is(err, ErrInvariantViolation) {
				return ErrInsufficientUnits
			}
			return err
		}
		reservation = created
		return nil
	})
	var reservationRef *ReservationID
	if operationError == nil {
		id := reservation.ID()
		reservationRef = &id
	}
	service.logOperation(ctx, OperationLog{
		Operation:       operationReserve,
		AuthorizationID: authorizationID,
		ReservationID:   reservationRef,
		UnitsDelta:      units.Int64(),
		Error:           operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		AuthorizationID: authorizationID,
		ReservationID:   reservationRef,
		Kind:            AuditReserved,
		UnitsDelta:      units.Int64(),
		Metadata:        metadata,
	})
	return reservation, nil
}

// Commit reclassifies a held reservation's units from reserved to used. The
// net consumed capacity does not change. Committing an already-committed
// reservation is an idempotent success and touches no counters.
func (service *Service) Commit(ctx context.Context, reservationID ReservationID) error {
	if reservationID == (ReservationID{}) {
		return fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	var (
		mutated     bool
		reservation Reservation
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		stored, err := txStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		switch stored.State() {
		case ReservationStateCommitted:
			return nil
		case ReservationStateReleased:
			return fmt.Errorf("%w: already released", ErrReservationClosed)
		}
		if err := txStore.UpdateReservationState(ctx, reservationID, ReservationStateHeld, ReservationStateCommitted); err != nil {
			return err
		}
		units := stored.Units().Int64()
		updated, err := txStore.ApplyDelta(ctx, stored.AuthorizationID(), units, -units)
		if err != nil {
			return err
		}
		if err := service.reconcileStatus(ctx, txStore, updated, service.nowFn()); err != nil {
			return err
		}
		reservation = stored
		mutated = true
		return nil
	})
	reservationRef := reservationID
	service.logOperation(ctx, OperationLog{
		Operation:       operationCommit,
		AuthorizationID: reservation.AuthorizationID(),
		ReservationID:   &reservationRef,
		UnitsDelta:      reservation.Units().Int64(),
		Error:           operationError,
	})
	if operationError != nil {
		return operationError
	}
	if mutated {
		service.recordAudit(ctx, AuditEvent{
			AuthorizationID: reservation.AuthorizationID(),
			ReservationID:   &reservationRef,
			Kind:            AuditCommitted,
			UnitsDelta:      reservation.Units().Int64(),
			Metadata:        reservation.Metadata(),
		})
	}
	return nil
}

// Release returns a held reservation's units to the available pool, tagging
// the audit event with the reason. Terminal reservations yield
// ErrReservationClosed; the stale sweep treats that as a skip.
func (service *Service) Release(ctx context.Context, reservationID ReservationID, reason ReleaseReason) error {
	if reservationID == (ReservationID{}) {
		return fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	if _, err := ParseReleaseReason(reason.String()); err != nil {
		return err
	}
	var reservation Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		stored, err := txStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if stored.State().Terminal() {
			return fmt.Errorf("%w: state %s", ErrReservationClosed, stored.State())
		}
		if err := txStore.UpdateReservationState(ctx, reservationID, ReservationStateHeld, ReservationStateReleased); err != nil {
			return err
		}
		if _, err := txStore.ApplyDelta(ctx, stored.AuthorizationID(), 0, -stored.Units().Int64()); err != nil {
			return err
		}
		reservation = stored
		return nil
	})
	reservationRef := reservationID
	service.logOperation(ctx, OperationLog{
		Operation:       operationRelease,
		AuthorizationID: reservation.AuthorizationID(),
		ReservationID:   &reservationRef,
		UnitsDelta:      -reservation.Units().Int64(),
		Error:           operationError,
	})
	if operationError != nil {
		return operationError
	}
	service.recordAudit(ctx, AuditEvent{
		AuthorizationID: reservation.AuthorizationID(),
		ReservationID:   &reservationRef,
		Kind:            AuditReleased,
		UnitsDelta:      -reservation.Units().Int64(),
		Reason:          reason,
		Metadata:        reservation.Metadata(),
	})
	return nil
}

// reconcileStatus persists exhausted transitions after a counter mutation
// and revives an exhausted authorization whose used count dropped back under
// the ceiling. Runs inside the caller's transaction.
func (service *Service) reconcileStatus(ctx context.Context, txStore Store, updated Authorization, now time.Time) error {
	current := updated.Status()
	target := current
	switch {
	case current == AuthorizationStatusCancelled:
		return nil
	case updated.UsedUnits() == updated.TotalUnits().Int64():
		target = AuthorizationStatusExhausted
	case current == AuthorizationStatusExhausted:
		target = windowStatus(updated, now)
	}
	if target == current {
		return nil
	}
	return txStore.UpdateAuthorizationStatus(ctx, updated.ID(), current, target)
}

func windowStatus(authorization Authorization, at time.Time) AuthorizationStatus {
	if at.After(authorization.EndDate()) {
		return AuthorizationStatusExpired
	}
	if at.Before(authorization.StartDate()) {
		return AuthorizationStatusPending
	}
	return AuthorizationStatusActive
}

func (service *Service) recordAudit(ctx context.Context, event AuditEvent) {
	if service.audit == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = service.nowFn()
	}
	service.audit.RecordEvent(ctx, event)
}

func normalizeMetadata(metadata MetadataJSON) MetadataJSON {
	if metadata == (MetadataJSON{}) {
		normalized, _ := NewMetadataJSON("")
		return normalized
	}
	return metadata
}
