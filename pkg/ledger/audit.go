package ledger

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// AuditKind enumerates the audited mutation kinds.
type AuditKind string

const (
	AuditReserved  AuditKind = "reserved"
	AuditCommitted AuditKind = "committed"
	AuditReleased  AuditKind = "released"
	AuditAdjusted  AuditKind = "adjusted"
	AuditCreated   AuditKind = "created"
	AuditAmended   AuditKind = "amended"
	AuditCancelled AuditKind = "cancelled"
)

// String returns the kind value.
func (kind AuditKind) String() string {
	return string(kind)
}

// AuditEvent describes one successful ledger mutation. Exactly one event is
// emitted per counter mutation, before the operation returns to its caller.
type AuditEvent struct {
	AuthorizationID AuthorizationID
	ReservationID   *ReservationID
	Kind            AuditKind
	UnitsDelta      int64
	Reason          ReleaseReason
	Justification   string
	Metadata        MetadataJSON
	OccurredAt      time.Time
}

// AuditRecorder receives immutable events for every reservation, commit,
// release, and adjustment. The ledger writes to it and never reads back.
type AuditRecorder interface {
	RecordEvent(ctx context.Context, event AuditEvent)
}

// WithAuditRecorder wires a recorder that receives every successful mutation.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(service *Service) {
		service.audit = recorder
	}
}

// WithIDGenerator overrides the reservation/authorization id source.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}
