package ledger

import (
	"context"
	"errors"
	"fmt"
)

// AdjustUsed applies a manual correction to the used-unit counter outside
// the reserve/commit flow (billing refunds and clawbacks). The delta passes
// the same guarded invariant check as every other mutation: a negative delta
// below zero used units fails with ErrInvalidAdjustment, a positive delta
// past the ceiling fails with ErrInsufficientUnits. The justification is
// mandatory and travels on the audit event.
func (service *Service) AdjustUsed(ctx context.Context, authorizationID AuthorizationID, delta int64, justification Justification) (Authorization, error) {
	if authorizationID == (AuthorizationID{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	if delta == 0 {
		return Authorization{}, fmt.Errorf("%w: zero delta", ErrInvalidAdjustment)
	}
	if justification == (Justification{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidJustification)
	}
	var adjusted Authorization
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetAuthorization(ctx, authorizationID); err != nil {
			return err
		}
		updated, err := txStore.ApplyDelta(ctx, authorizationID, delta, 0)
		if err != nil {
			if errors.Is(err, ErrInvariantViolation) {
				if delta < 0 {
					return fmt.Errorf("%w: clawback of %d exceeds used units", ErrInvalidAdjustment, -delta)
				}
				return ErrInsufficientUnits
			}
			return err
		}
		if err := service.reconcileStatus(ctx, txStore, updated, service.nowFn()); err != nil {
			return err
		}
		adjusted = updated
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:       operationAdjustUsed,
		AuthorizationID: authorizationID,
		UnitsDelta:      delta,
		Error:           operationError,
	})
	if operationError != nil {
		return Authorization{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		AuthorizationID: authorizationID,
		Kind:            AuditAdjusted,
		UnitsDelta:      delta,
		Justification:   justification.String(),
	})
	return adjusted, nil
}
