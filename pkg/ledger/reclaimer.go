package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultReclaimBatchSize = 100

// ReclaimerConfig bounds the stale-reservation sweep. StaleTimeout and
// SweepInterval are required; there are no implicit defaults.
type ReclaimerConfig struct {
	StaleTimeout  time.Duration
	SweepInterval time.Duration
	BatchSize     int
}

// Validate checks the required settings.
func (config ReclaimerConfig) Validate() error {
	if config.StaleTimeout <= 0 {
		return fmt.Errorf("%w: stale timeout is required", ErrInvalidReclaimerConfig)
	}
	if config.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval is required", ErrInvalidReclaimerConfig)
	}
	if config.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative", ErrInvalidReclaimerConfig)
	}
	return nil
}

// Reclaimer periodically force-releases held reservations whose appointment
// never progressed within the stale timeout. It is the safety net against
// crashed clients and abandoned scheduling flows; without it, capacity held
// by forgotten reservations would leak permanently.
type Reclaimer struct {
	service *Service
	config  ReclaimerConfig
	logger  *zap.Logger
	nowFn   func() time.Time
}

// NewReclaimer wires a Reclaimer over the reservation engine.
func NewReclaimer(service *Service, config ReclaimerConfig, logger *zap.Logger) (*Reclaimer, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidReclaimerConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaultReclaimBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reclaimer{
		service: service,
		config:  config,
		logger:  logger,
		nowFn:   service.nowFn,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (reclaimer *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(reclaimer.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			reclaimer.logger.Info("stale reservation sweep stopping")
			return
		case <-ticker.C:
			reclaimed, err := reclaimer.SweepOnce(ctx)
			if err != nil {
				reclaimer.logger.Error("stale reservation sweep failed", zap.Error(err))
				continue
			}
			if reclaimed > 0 {
				reclaimer.logger.Info("stale reservations reclaimed", zap.Int("count", reclaimed))
			}
		}
	}
}

// SweepOnce releases every held reservation older than the stale timeout and
// returns how many it reclaimed. A reservation already transitioned by a
// concurrent commit, release, or sweep is skipped; errors on an individual
// candidate are logged and do not abort the sweep.
func (reclaimer *Reclaimer) SweepOnce(ctx context.Context) (int, error) {
	cutoff := reclaimer.nowFn().Add(-reclaimer.config.StaleTimeout)
	candidates, err := reclaimer.service.StaleHeldBefore(ctx, cutoff, reclaimer.config.BatchSize)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}
		err := reclaimer.service.Release(ctx, candidate.ID(), ReleaseStaleReclaim)
		if errors.Is(err, ErrReservationClosed) {
			continue
		}
		if err != nil {
			reclaimer.logger.Warn("stale reservation release failed",
				zap.String("reservation_id", candidate.ID().String()),
				zap.String("authorization_id", candidate.AuthorizationID().String()),
				zap.Error(err),
			)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}
