package ranking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Gate block reasons, in evaluation order.
const (
	ReasonLowCoverage    = "low_coverage"
	ReasonHighRisk       = "high_risk"
	ReasonLowEvidence    = "low_evidence"
	ReasonProtectionMode = "protection_mode"
	ReasonCriticalDrift  = "critical_drift"
	ReasonWeakDirection  = "weak_direction"
)

// PolicyConfig carries the gating minima.
type PolicyConfig struct {
	MinCoverageToTrade   float64
	MinEvidenceToTrade   float64
	MaxRiskToTrade       float64
	MinDirectionStrength float64
	DefaultDecisionTTL   time.Duration
	DecisionTTLs         map[string]time.Duration
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinCoverageToTrade:   60,
		MinEvidenceToTrade:   65,
		MaxRiskToTrade:       60,
		MinDirectionStrength: 20,
		DefaultDecisionTTL:   4 * time.Hour,
	}
}

func (p PolicyConfig) ttl(decisionType string) time.Duration {
	if d, ok := p.DecisionTTLs[decisionType]; ok && d > 0 {
		return d
	}
	return p.DefaultDecisionTTL
}

// PolicyInputs is everything one gating evaluation reads.
type PolicyInputs struct {
	Coverage     float64
	Evidence     float64
	Risk         float64
	Direction    float64
	EngineStatus ops.Status
	DriftFlags   []string
}

// Decide applies the gate chain in order; any failing gate blocks the
// decision. Blocked decisions always carry at least one reason.
func Decide(in PolicyInputs, cfg PolicyConfig) (domain.DecisionAction, domain.ConfidenceBand, domain.Gating) {
	gating := domain.Gating{}

	check := func(name string, passed bool, value, threshold float64, desc, reason string) {
		gating.Checks = append(gating.Checks, domain.GateCheck{
			Name:        name,
			Passed:      passed,
			Value:       value,
			Threshold:   threshold,
			Description: desc,
		})
		if !passed {
			gating.Blocked = true
			gating.Reasons = append(gating.Reasons, reason)
		}
	}

	check("coverage", in.Coverage >= cfg.MinCoverageToTrade,
		in.Coverage, cfg.MinCoverageToTrade,
		fmt.Sprintf("coverage %.0f vs minimum %.0f", in.Coverage, cfg.MinCoverageToTrade),
		ReasonLowCoverage)
	check("risk", in.Risk < cfg.MaxRiskToTrade,
		in.Risk, cfg.MaxRiskToTrade,
		fmt.Sprintf("risk %.0f vs maximum %.0f", in.Risk, cfg.MaxRiskToTrade),
		ReasonHighRisk)
	check("evidence", in.Evidence >= cfg.MinEvidenceToTrade,
		in.Evidence, cfg.MinEvidenceToTrade,
		fmt.Sprintf("evidence %.0f vs minimum %.0f", in.Evidence, cfg.MinEvidenceToTrade),
		ReasonLowEvidence)

	statusOK := in.EngineStatus != ops.StatusProtectionMode && in.EngineStatus != ops.StatusCritical
	check("engine_status", statusOK, 0, 0,
		fmt.Sprintf("engine status %s", in.EngineStatus), ReasonProtectionMode)

	drift := criticalDrift(in.DriftFlags)
	check("drift", drift == "", 0, 0,
		fmt.Sprintf("drift flags: %v", in.DriftFlags), ReasonCriticalDrift)

	if gating.Blocked {
		return domain.ActionNeutral, domain.BandLow, gating
	}

	switch {
	case in.Direction >= cfg.MinDirectionStrength:
		return domain.ActionBuy, bandFor(in.Evidence), gating
	case in.Direction <= -cfg.MinDirectionStrength:
		return domain.ActionSell, bandFor(in.Evidence), gating
	default:
		gating.Blocked = true
		gating.Reasons = append(gating.Reasons, ReasonWeakDirection)
		return domain.ActionNeutral, domain.BandLow, gating
	}
}

func bandFor(evidence float64) domain.ConfidenceBand {
	if evidence >= 80 {
		return domain.BandHigh
	}
	return domain.BandMedium
}

func criticalDrift(flags []string) string {
	for _, f := range flags {
		if strings.Contains(f, "collapse") || strings.Contains(f, "extreme") {
			return f
		}
	}
	return ""
}

// DecisionEngine turns fresh rankings into persisted decisions.
type DecisionEngine struct {
	repo   *persistence.Repository
	state  *ops.State
	events *bus.Bus
	cfg    PolicyConfig
	now    func() time.Time
}

func NewDecisionEngine(repo *persistence.Repository, state *ops.State, events *bus.Bus, cfg PolicyConfig) *DecisionEngine {
	return &DecisionEngine{
		repo:   repo,
		state:  state,
		events: events,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (d *DecisionEngine) WithClock(now func() time.Time) *DecisionEngine {
	d.now = now
	return d
}

// DecideTop emits a decision per top-ranked subject for a window. Old
// decisions are never overwritten; newer rows supersede by timestamp.
func (d *DecisionEngine) DecideTop(ctx context.Context, window domain.Window, limit int) (int, []error) {
	rankings, err := d.repo.Rankings.Top(ctx, window, limit)
	if err != nil {
		return 0, []error{err}
	}

	snapshot := d.state.Snapshot()
	var decided int
	var errs []error

	for _, rank := range rankings {
		action, band, gating := Decide(PolicyInputs{
			Coverage:     rank.Coverage,
			Evidence:     rank.Evidence,
			Risk:         rank.Risk,
			Direction:    rank.Direction,
			EngineStatus: snapshot.Status,
			DriftFlags:   snapshot.DriftFlags,
		}, d.cfg)

		now := d.now()
		decisionType := "standard"
		decision := domain.Decision{
			ID:           domain.StableID("decision", string(rank.SubjectKind), rank.SubjectID, string(window), now.Format(time.RFC3339Nano)),
			SubjectKind:  rank.SubjectKind,
			SubjectID:    rank.SubjectID,
			Window:       window,
			Action:       action,
			Band:         band,
			Gating:       gating,
			Evidence:     rank.Evidence,
			Direction:    rank.Direction,
			Risk:         rank.Risk,
			Coverage:     rank.Coverage,
			DecisionType: decisionType,
			ExpiresAt:    now.Add(d.cfg.ttl(decisionType)),
			CreatedAt:    now,
		}

		if err := d.repo.Decisions.Insert(ctx, decision); err != nil {
			errs = append(errs, err)
			continue
		}
		decided++

		if action != domain.ActionNeutral && d.events != nil {
			d.events.Emit(bus.AlertNew, map[string]interface{}{
				"decision_id": decision.ID,
				"subject":     rank.SubjectID,
				"window":      string(window),
				"action":      string(action),
				"band":        string(band),
				"evidence":    rank.Evidence,
				"direction":   rank.Direction,
			})
		}
	}
	return decided, errs
}
