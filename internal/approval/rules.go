// Package approval classifies freshly aggregated windows before the
// snapshot builder may consume them. Every rule is a pure function over
// {previous, current}; the gate does no I/O so synthetic windows can be
// pushed through it in tests.
package approval

import (
	"fmt"
	"math/big"

	"github.com/flowhawk/flowhawk/internal/domain"
)

// Rule inspects an aggregate pair and returns nil when it passes.
type Rule func(prev, cur *domain.WindowAggregate, cfg Config) *domain.RuleResult

// Config carries the admin-tunable rule inputs.
type Config struct {
	// FlowContinuityGapRatio is the tolerated activity drop vs the
	// previous window before continuity starts charging penalty.
	FlowContinuityGapRatio float64
}

// avgVolumeBound is the per-event average above which VolumeSanity flags
// the window as implausible (10^27 wei).
var avgVolumeBound = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// ActorCoverage flags windows whose activity cannot be attributed to a
// plausible set of actors.
func ActorCoverage(_, cur *domain.WindowAggregate, _ Config) *domain.RuleResult {
	uniqueActors := cur.UniqueSenders + cur.UniqueReceivers

	if cur.EventCount > 0 && uniqueActors == 0 {
		return &domain.RuleResult{
			Name:    "ActorCoverage",
			Penalty: 60,
			Reason:  fmt.Sprintf("%d events with zero identifiable actors", cur.EventCount),
		}
	}
	if cur.EventCount > 50 && uniqueActors < 2 {
		return &domain.RuleResult{
			Name:    "ActorCoverage",
			Penalty: 55,
			Reason:  fmt.Sprintf("%d events concentrated on %d actor(s)", cur.EventCount, uniqueActors),
		}
	}
	if uniqueActors > 0 && float64(cur.EventCount)/float64(uniqueActors) > 100 {
		return &domain.RuleResult{
			Name:    "ActorCoverage",
			Penalty: 25,
			Reason:  fmt.Sprintf("%.0f events per actor", float64(cur.EventCount)/float64(uniqueActors)),
		}
	}
	return nil
}

// VolumeSanity rejects impossible flow readings outright.
func VolumeSanity(_, cur *domain.WindowAggregate, _ Config) *domain.RuleResult {
	for _, amount := range []domain.FlowAmount{cur.InflowAmount, cur.OutflowAmount} {
		sign, err := amount.Sign()
		if err != nil {
			return &domain.RuleResult{
				Name:    "VolumeSanity",
				Penalty: 100,
				Reason:  fmt.Sprintf("malformed flow amount %q", string(amount)),
			}
		}
		if sign < 0 {
			return &domain.RuleResult{
				Name:    "VolumeSanity",
				Penalty: 100,
				Reason:  "negative flow amount",
			}
		}
	}

	total, err := cur.InflowAmount.Add(cur.OutflowAmount)
	if err != nil {
		return &domain.RuleResult{Name: "VolumeSanity", Penalty: 100, Reason: "unreadable flow totals"}
	}
	if cur.EventCount == 0 && !total.IsZero() {
		return &domain.RuleResult{
			Name:    "VolumeSanity",
			Penalty: 60,
			Reason:  "non-zero volume with zero events",
		}
	}
	if cur.EventCount > 0 {
		totalBig, _ := total.BigInt()
		avg := new(big.Int).Quo(totalBig, big.NewInt(cur.EventCount))
		if avg.Cmp(avgVolumeBound) > 0 {
			return &domain.RuleResult{
				Name:    "VolumeSanity",
				Penalty: 40,
				Reason:  "average per-event volume above plausibility bound",
			}
		}
	}
	return nil
}

// FlowContinuity compares activity against the previous window and charges
// a penalty proportional to the gap, capped at 30.
func FlowContinuity(prev, cur *domain.WindowAggregate, cfg Config) *domain.RuleResult {
	if prev == nil || prev.EventCount == 0 {
		return nil
	}
	drop := 1 - float64(cur.EventCount)/float64(prev.EventCount)
	if drop <= cfg.FlowContinuityGapRatio {
		return nil
	}
	// Scale the excess gap onto 0..30.
	excess := (drop - cfg.FlowContinuityGapRatio) / (1 - cfg.FlowContinuityGapRatio)
	penalty := domain.Round(domain.Clamp(excess*30, 0, 30))
	if penalty <= 0 {
		return nil
	}
	return &domain.RuleResult{
		Name:    "FlowContinuity",
		Penalty: penalty,
		Reason:  fmt.Sprintf("activity dropped %.0f%% vs previous window", drop*100),
	}
}

// ActivityShape flags structuring-like bursts: many events but almost no
// actor spread while per-event sizes collapse onto one value. The aggregate
// does not retain individual sizes, so the shape read uses the spread of
// senders against receivers and event density.
func ActivityShape(_, cur *domain.WindowAggregate, _ Config) *domain.RuleResult {
	if cur.EventCount < 20 {
		return nil
	}
	uniqueActors := cur.UniqueSenders + cur.UniqueReceivers
	if uniqueActors < 2 {
		return nil // ActorCoverage owns single-actor concentration
	}
	density := float64(cur.EventCount) / float64(uniqueActors)
	if density < 20 {
		return nil
	}
	// 20 events/actor charges ~10, 100+ charges the cap.
	penalty := domain.Round(domain.Clamp((density-20)/80*30+10, 0, 40))
	return &domain.RuleResult{
		Name:    "ActivityShape",
		Penalty: penalty,
		Reason:  fmt.Sprintf("burst shape: %.0f events per actor across %d actors", density, uniqueActors),
	}
}

// Catalog is the ordered rule set in force.
var Catalog = []Rule{ActorCoverage, VolumeSanity, FlowContinuity, ActivityShape}
