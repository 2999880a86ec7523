// Package confidence derives the 0..100 score behind every signal. All
// functions are pure: inputs come from the snapshot and the signal's
// metrics, and the stored trace re-derives the final score exactly.
package confidence

import (
	"fmt"
	"math"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
)

// Config carries the scoring tuning.
type Config struct {
	Weights             Weights
	DecayLambda         float64
	DecayMinFactor      float64
	DecayMaxHours       float64
	ActorGuardMinActors int
	ActorGuardCap       float64
	ClusterMinConfirm   int
	ClusterBoostMax     float64
}

// Weights are the fixed component weights; they sum to 1.
type Weights struct {
	Coverage float64
	Actors   float64
	Flow     float64
	Temporal float64
	Evidence float64
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights:             Weights{Coverage: 0.30, Actors: 0.25, Flow: 0.20, Temporal: 0.15, Evidence: 0.10},
		DecayLambda:         0.02,
		DecayMinFactor:      0.4,
		DecayMaxHours:       168,
		ActorGuardMinActors: 2,
		ActorGuardCap:       60,
		ClusterMinConfirm:   2,
		ClusterBoostMax:     1.15,
	}
}

// Inputs are everything one scoring pass needs.
type Inputs struct {
	// SnapshotCoverage is the snapshot's actor coverage percentage.
	SnapshotCoverage float64
	// Actors are the signal's participating actors from the snapshot.
	Actors []domain.SnapshotActor
	// FlowScore grades the signal's net flow magnitude, 0..100.
	FlowScore float64
	// PatternInBothWindows reports temporal persistence across the
	// current and previous snapshot.
	PatternInBothWindows bool
	// EvidenceMetricCount is how many evidence metrics the detector filled.
	EvidenceMetricCount int
	// Penalties to apply in order.
	Penalties []Penalty
	// LastTriggeredAt drives temporal decay.
	LastTriggeredAt time.Time
	Now             time.Time
	// IndependentClusters co-firing on the same subject.
	IndependentClusters int
}

// Penalty is a multiplicative haircut in (0,1].
type Penalty struct {
	Type       string
	Reason     string
	Multiplier float64
}

// Standard penalty constructors.

func LowClusterConfirmation(confirming, required int) Penalty {
	return Penalty{
		Type:       "low_cluster_confirmation",
		Reason:     fmt.Sprintf("%d of %d required clusters confirm", confirming, required),
		Multiplier: 0.85,
	}
}

func HighPenaltyRate(rate float64) Penalty {
	return Penalty{
		Type:       "high_penalty_rate",
		Reason:     fmt.Sprintf("subject penalty rate %.0f%%", rate*100),
		Multiplier: 0.8,
	}
}

func ContradictingSignals(count int) Penalty {
	return Penalty{
		Type:       "contradicting_signals",
		Reason:     fmt.Sprintf("%d opposing signal(s) on subject", count),
		Multiplier: 0.75,
	}
}

func AntiManipulation(flag string) Penalty {
	return Penalty{
		Type:       "anti_manipulation",
		Reason:     flag,
		Multiplier: 0.7,
	}
}

// ActorComponent scores the actor set 0..100, weighting each actor by its
// source level, flow share, connectivity and history.
func ActorComponent(actors []domain.SnapshotActor) float64 {
	if len(actors) == 0 {
		return 0
	}
	var score float64
	for _, a := range actors {
		connectivity := domain.Clamp01(float64(a.Connectivity) / 5)
		history := domain.Clamp01(float64(a.ActiveDays) / 7)
		score += ActorWeight(a) * (0.4 + 0.3*connectivity + 0.3*history) * 100
	}
	return domain.Clamp(score/float64(len(actors))/maxActorWeight(actors), 0, 100)
}

// ActorWeight is one actor's scoring weight: source level x flow share.
func ActorWeight(a domain.SnapshotActor) float64 {
	share := domain.Clamp01(a.FlowShare)
	if share == 0 {
		share = 0.05 // presence still counts a little
	}
	return a.SourceLevel.Weight() * share
}

func maxActorWeight(actors []domain.SnapshotActor) float64 {
	best := 0.05
	for _, a := range actors {
		if w := ActorWeight(a); w > best {
			best = w
		}
	}
	return best
}

// DecayFactor computes the temporal decay multiplier, bounded to
// [minFactor, 1] for any elapsed time.
func DecayFactor(lastTriggered, now time.Time, cfg Config) (factor, hours float64) {
	hours = math.Max(0, now.Sub(lastTriggered).Hours())
	if cfg.DecayMaxHours > 0 && hours > cfg.DecayMaxHours {
		hours = cfg.DecayMaxHours
	}
	factor = math.Max(cfg.DecayMinFactor, math.Exp(-cfg.DecayLambda*hours))
	return factor, hours
}

// Compute runs the full pipeline: weighted components, ordered penalties,
// temporal decay, actor-guard cap, cluster confirmation, explain trace.
func Compute(in Inputs, cfg Config) domain.ConfidenceTrace {
	components := map[string]float64{
		"coverage": domain.Clamp(in.SnapshotCoverage, 0, 100),
		"actors":   ActorComponent(in.Actors),
		"flow":     domain.Clamp(in.FlowScore, 0, 100),
		"temporal": 0,
		"evidence": domain.Clamp(float64(in.EvidenceMetricCount)*20, 0, 100),
	}
	if in.PatternInBothWindows {
		components["temporal"] = 100
	}

	weights := map[string]float64{
		"coverage": cfg.Weights.Coverage,
		"actors":   cfg.Weights.Actors,
		"flow":     cfg.Weights.Flow,
		"temporal": cfg.Weights.Temporal,
		"evidence": cfg.Weights.Evidence,
	}

	var weighted float64
	for name, c := range components {
		weighted += c * weights[name]
	}
	weighted = domain.Round(weighted)

	trace := domain.ConfidenceTrace{
		Components:    components,
		Weights:       weights,
		WeightedScore: weighted,
		ClusterBoost:  1,
		CreatedAt:     in.Now,
	}
	steps := []string{fmt.Sprintf("Base %.0f", weighted)}
	score := weighted

	for _, p := range in.Penalties {
		mult := domain.Clamp(p.Multiplier, 0.01, 1)
		impact := score * (1 - mult)
		score *= mult
		trace.Penalties = append(trace.Penalties, domain.PenaltyRecord{
			Type:         p.Type,
			Reason:       p.Reason,
			Multiplier:   mult,
			ImpactPoints: impact,
		})
		steps = append(steps, fmt.Sprintf("-%.0f %s", impact, p.Type))
	}

	factor, hours := DecayFactor(in.LastTriggeredAt, in.Now, cfg)
	trace.DecayFactor = factor
	trace.HoursElapsed = hours
	if factor < 1 {
		before := score
		score *= factor
		steps = append(steps, fmt.Sprintf("-%.0f decay", before-score))
	}

	if activeActors(in.Actors) < cfg.ActorGuardMinActors && score > cfg.ActorGuardCap {
		score = cfg.ActorGuardCap
		trace.CapApplied = true
		trace.CapValue = cfg.ActorGuardCap
		steps = append(steps, fmt.Sprintf("cap %.0f actor_guard", cfg.ActorGuardCap))
	}

	if cfg.ClusterMinConfirm > 0 && in.IndependentClusters >= cfg.ClusterMinConfirm {
		boost := math.Min(cfg.ClusterBoostMax,
			1+0.05*float64(in.IndependentClusters-cfg.ClusterMinConfirm+1))
		before := score
		score = math.Min(100, score*boost)
		trace.ClusterBoost = boost
		if score > before {
			steps = append(steps, fmt.Sprintf("+%.0f cluster", score-before))
		}
	}

	trace.FinalScore = domain.Clamp(domain.Round(score), 0, 100)
	trace.Label = domain.LabelForScore(trace.FinalScore)
	steps = append(steps, fmt.Sprintf("Final %.0f", trace.FinalScore))
	trace.Steps = steps
	return trace
}

func activeActors(actors []domain.SnapshotActor) int {
	var n int
	for _, a := range actors {
		if a.TxCount > 0 {
			n++
		}
	}
	return n
}
