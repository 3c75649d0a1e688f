// Package escrow releases seller splits once their hold period elapses,
// flipping them from HELD to RELEASED/SETTLED so payouts can pick them up.
package escrow

import (
	"context"
	"log/slog"
	"time"

	"artpay/internal/common/metrics"
	"artpay/internal/payment"
)

// Store provides split escrow data access.
type Store interface {
	// ScanReleasable returns HELD splits whose hold period has elapsed,
	// oldest first.
	ScanReleasable(ctx context.Context, now time.Time, limit int) ([]*payment.Split, error)

	// Release flips one split to RELEASED/SETTLED. Returns false when the
	// split was not HELD, which makes concurrent release attempts no-ops.
	Release(ctx context.Context, splitID string) (bool, error)
}

// Config holds escrow manager configuration.
type Config struct {
	BatchSize int `envconfig:"ESCROW_BATCH_SIZE" default:"200"`
}

// Manager scans for and releases matured escrow holds.
type Manager struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a new escrow manager
func NewManager(store Store, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// RunOnce releases every matured hold found in one scan. Safe to run from
// multiple workers: releases are conditional updates.
func (m *Manager) RunOnce(ctx context.Context, now time.Time) (int, error) {
	splits, err := m.store.ScanReleasable(ctx, now, m.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, split := range splits {
		ok, err := m.store.Release(ctx, split.ID)
		if err != nil {
			m.logger.Error("failed to release split",
				"split_id", split.ID,
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}

		released++
		metrics.EscrowReleased.Inc()
		m.logger.Info("escrow released",
			"split_id", split.ID,
			"seller_id", split.SellerID,
			"net", split.NetAmount.AmountMinor,
		)
	}

	if released > 0 {
		m.logger.Info("escrow scan complete",
			"scanned", len(splits),
			"released", released,
		)
	}
	return released, nil
}
