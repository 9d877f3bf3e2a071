// Package scheduling adapts lifecycle signals from the scheduling subsystem
// to reservation commits and releases. The scheduler knows appointments; the
// ledger knows reservations; the bridge resolves one to the other.
package scheduling

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/praxishealth/authledger/pkg/ledger"
)

// Bridge maps scheduling signals onto ledger operations.
type Bridge struct {
	service *ledger.Service
	logger  *zap.Logger
}

// NewBridge wires a Bridge.
func NewBridge(service *ledger.Service, logger *zap.Logger) (*Bridge, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ledger.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{service: service, logger: logger}, nil
}

// SessionCompleted converts the held reservation backing the appointment
// into used units. A session completion racing a stale reclaim can find the
// reservation already released; that is surfaced to the caller as
// ledger.ErrReservationClosed.
func (bridge *Bridge) SessionCompleted(ctx context.Context, rawAppointmentID string) error {
	appointmentID, err := ledger.NewAppointmentID(rawAppointmentID)
	if err != nil {
		return err
	}
	reservation, err := bridge.service.ReservationForAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if err := bridge.service.Commit(ctx, reservation.ID()); err != nil {
		bridge.logger.Warn("session completion commit failed",
			zap.String("appointment_id", appointmentID.String()),
			zap.String("reservation_id", reservation.ID().String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// AppointmentCancelled returns the held units to the available pool. noShow
// distinguishes a patient no-show from an ordinary cancellation in the audit
// trail. A cancellation arriving after the reservation was already closed is
// treated as settled.
func (bridge *Bridge) AppointmentCancelled(ctx context.Context, rawAppointmentID string, noShow bool) error {
	appointmentID, err := ledger.NewAppointmentID(rawAppointmentID)
	if err != nil {
		return err
	}
	reservation, err := bridge.service.ReservationForAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ledger.ErrReservationNotFound) {
			bridge.logger.Info("cancellation for appointment without live hold",
				zap.String("appointment_id", appointmentID.String()),
			)
			return nil
		}
		return err
	}
	reason := ledger.ReleaseUserCancelled
	if noShow {
		reason = ledger.ReleaseNoShow
	}
	err = bridge.service.Release(ctx, reservation.ID(), reason)
	if errors.Is(err, ledger.ErrReservationClosed) {
		return nil
	}
	return err
}
