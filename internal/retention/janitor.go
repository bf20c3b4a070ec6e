// Package retention runs the periodic housekeeping of the control plane:
// audit events past their retention window are purged and open bounties
// whose deadline passed without submissions are cancelled.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown. A failing step is logged and the
// other steps still run.
package retention

import (
	"context"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultAuditRetentionDays is the audit event retention.
const DefaultAuditRetentionDays = 30

// DefaultInterval is the time between sweeps.
const DefaultInterval = time.Hour

// BountyExpirer cancels overdue bounties.
// Implementation: internal/bounty.Ledger
type BountyExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	AuditPurged     int
	BountiesExpired int
	Errors          []error
}

// Janitor periodically purges and expires data.
type Janitor struct {
	audit         store.AuditStore
	bounties      BountyExpirer
	interval      time.Duration
	retentionDays int
	now           func() time.Time
}

// NewJanitor creates a janitor. bounties may be nil.
func NewJanitor(audit store.AuditStore, bounties BountyExpirer, interval time.Duration, retentionDays int) *Janitor {
	if interval < time.Minute {
		interval = DefaultInterval
	}
	if retentionDays <= 0 {
		retentionDays = DefaultAuditRetentionDays
	}
	return &Janitor{
		audit:         audit,
		bounties:      bounties,
		interval:      interval,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping once on start and then on
// every interval.
func (j *Janitor) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", j.interval).
		Int("audit_retention_days", j.retentionDays).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return nil
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)
	n, err := j.audit.PurgeAuditEvents(ctx, cutoff)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		log.Warn().Err(err).Msg("Retention janitor: audit purge failed")
	}
	stats.AuditPurged = n

	if j.bounties != nil {
		n, err := j.bounties.ExpireOverdue(ctx)
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			log.Warn().Err(err).Msg("Retention janitor: bounty expiry failed")
		}
		stats.BountiesExpired = n
	}

	if stats.AuditPurged > 0 || stats.BountiesExpired > 0 {
		log.Info().
			Int("purged_audit", stats.AuditPurged).
			Int("expired_bounties", stats.BountiesExpired).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}
