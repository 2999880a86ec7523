package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Drift flag names. The collapse and extreme variants feed the decision
// policy's critical_drift gate.
const (
	DriftQuarantineHigh   = "quarantine_rate_high"
	DriftPenaltyExtreme   = "penalty_extreme"
	DriftCoverageCollapse = "coverage_collapse"
)

// Recalibrator recomputes approval-rate baselines over a trailing window
// and flags drift on the engine state. A flagged run bumps the
// calibration version, which naturally invalidates calibrated cache keys.
type Recalibrator struct {
	repo   *persistence.Repository
	state  *State
	cfg    config.CalibrationConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewRecalibrator(repo *persistence.Repository, state *State, cfg config.CalibrationConfig) *Recalibrator {
	return &Recalibrator{
		repo:   repo,
		state:  state,
		cfg:    cfg,
		logger: log.With().Str("component", "recalibrate").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (r *Recalibrator) WithClock(now func() time.Time) *Recalibrator {
	r.now = now
	return r
}

// Run measures quarantine and penalty rates over the trailing window and
// updates the engine state's drift flags.
func (r *Recalibrator) Run(ctx context.Context) error {
	now := r.now()
	trailing := time.Duration(r.cfg.TrailingWindows) * time.Hour
	if trailing <= 0 {
		trailing = 96 * time.Hour
	}

	counts, err := r.repo.Verdicts.CountByClass(ctx, persistence.TimeRange{
		From: now.Add(-trailing),
		To:   now,
	})
	if err != nil {
		return fmt.Errorf("verdict distribution: %w", err)
	}

	total := counts[domain.VerdictApproved] + counts[domain.VerdictQuarantined] + counts[domain.VerdictRejected]
	if total == 0 {
		r.logger.Debug().Msg("no verdicts in trailing window, calibration unchanged")
		return nil
	}

	quarantineRate := float64(counts[domain.VerdictQuarantined]) / float64(total)
	penaltyRate := float64(counts[domain.VerdictQuarantined]+counts[domain.VerdictRejected]) / float64(total)

	var flags []string
	if r.cfg.MaxQuarantineRate > 0 && quarantineRate > r.cfg.MaxQuarantineRate {
		flags = append(flags, DriftQuarantineHigh)
	}
	if r.cfg.MaxPenaltyRate > 0 && penaltyRate > r.cfg.MaxPenaltyRate {
		flags = append(flags, DriftPenaltyExtreme)
	}
	if penaltyRate > 0.8 {
		// Nearly everything penalized means the measurement itself broke.
		flags = append(flags, DriftCoverageCollapse)
	}

	prev := r.state.Snapshot()
	r.state.SetDriftFlags(flags)

	if len(flags) > 0 {
		version := fmt.Sprintf("%s-%d", r.cfg.Version, now.Unix())
		r.state.SetCalibrationVersion(version)
		r.logger.Warn().
			Strs("flags", flags).
			Float64("quarantine_rate", quarantineRate).
			Float64("penalty_rate", penaltyRate).
			Str("calibration_version", version).
			Msg("drift detected, calibration version bumped")
	} else if len(prev.DriftFlags) > 0 {
		r.logger.Info().Msg("drift cleared")
	}
	return nil
}
