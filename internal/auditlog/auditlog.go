// Package auditlog ships the structured-log implementation of the ledger's
// audit contract. The real clinic platform forwards these events to an
// append-only audit service; this recorder emits the same payload through
// zap so every unit mutation is observable on its own.
package auditlog

import (
	"context"

	"go.uber.org/zap"

	"github.com/praxishealth/authledger/pkg/ledger"
)

// Recorder writes one structured log line per ledger mutation.
type Recorder struct {
	logger *zap.Logger
}

// New returns a Recorder over the given logger.
func New(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger}
}

// RecordEvent implements ledger.AuditRecorder.
func (recorder *Recorder) RecordEvent(_ context.Context, event ledger.AuditEvent) {
	fields := []zap.Field{
		zap.String("authorization_id", event.AuthorizationID.String()),
		zap.String("kind", event.Kind.String()),
		zap.Int64("units_delta", event.UnitsDelta),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.ReservationID != nil {
		fields = append(fields, zap.String("reservation_id", event.ReservationID.String()))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason.String()))
	}
	if event.Justification != "" {
		fields = append(fields, zap.String("justification", event.Justification))
	}
	if metadata := event.Metadata.String(); metadata != "" && metadata != "{}" {
		fields = append(fields, zap.String("metadata", metadata))
	}
	recorder.logger.Info("ledger event", fields...)
}
