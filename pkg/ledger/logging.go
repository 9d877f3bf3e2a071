package ledger

import "context"

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one state-changing ledger operation, successful or
// not. Unlike audit events, operation logs also cover rejected requests.
type OperationLog struct {
	Operation       string
	AuthorizationID AuthorizationID
	ReservationID   *ReservationID
	UnitsDelta      int64
	Status          string
	Error           error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		entry.Status = operationStatusOK
		if entry.Error != nil {
			entry.Status = operationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}
