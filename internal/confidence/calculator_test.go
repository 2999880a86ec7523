package confidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strongActors() []domain.SnapshotActor {
	return []domain.SnapshotActor{
		{ActorID: "a", SourceLevel: domain.SourceVerified, FlowShare: 0.6, TxCount: 40, Connectivity: 5, ActiveDays: 7},
		{ActorID: "b", SourceLevel: domain.SourceAttributed, FlowShare: 0.3, TxCount: 25, Connectivity: 4, ActiveDays: 6},
		{ActorID: "c", SourceLevel: domain.SourceVerified, FlowShare: 0.1, TxCount: 10, Connectivity: 3, ActiveDays: 5},
	}
}

func baseInputs() Inputs {
	return Inputs{
		SnapshotCoverage:     85,
		Actors:               strongActors(),
		FlowScore:            80,
		PatternInBothWindows: true,
		EvidenceMetricCount:  5,
		LastTriggeredAt:      now,
		Now:                  now,
	}
}

func TestDecayFactorBounds(t *testing.T) {
	cfg := DefaultConfig()

	for _, hours := range []float64{0, 1, 24, 48, 168, 1000, 100000} {
		factor, _ := DecayFactor(now.Add(-time.Duration(hours*float64(time.Hour))), now, cfg)
		assert.GreaterOrEqual(t, factor, 0.4, "hours=%v", hours)
		assert.LessOrEqual(t, factor, 1.0, "hours=%v", hours)
	}

	// Future trigger clamps to zero elapsed.
	factor, hours := DecayFactor(now.Add(time.Hour), now, cfg)
	assert.Equal(t, 1.0, factor)
	assert.Zero(t, hours)
}

func TestTemporalDecayAt48Hours(t *testing.T) {
	// exp(-0.02*48) ~= 0.383 which clamps to the 0.4 floor; a base score
	// of 80 decays to 32 and drops into the HIDDEN band.
	cfg := DefaultConfig()
	factor, hours := DecayFactor(now.Add(-48*time.Hour), now, cfg)
	assert.Equal(t, 48.0, hours)
	assert.Equal(t, 0.4, factor)

	in := baseInputs()
	in.LastTriggeredAt = now.Add(-48 * time.Hour)
	trace := Compute(in, cfg)

	require.Equal(t, 0.4, trace.DecayFactor)
	expected := domain.Round(trace.WeightedScore * 0.4)
	assert.Equal(t, expected, trace.FinalScore)
	if trace.FinalScore < 40 {
		assert.Equal(t, domain.LabelHidden, trace.Label)
	}
}

func TestLiteralDecayScenario(t *testing.T) {
	// Base confidence 80 triggered 48h ago: round(80 x 0.4) = 32, HIDDEN.
	cfg := DefaultConfig()
	factor, _ := DecayFactor(now.Add(-48*time.Hour), now, cfg)
	final := domain.Round(80 * factor)
	assert.Equal(t, 32.0, final)
	assert.Equal(t, domain.LabelHidden, domain.LabelForScore(final))
}

func TestMonotonicInCoverage(t *testing.T) {
	cfg := DefaultConfig()
	var prev float64 = -1
	for coverage := 0.0; coverage <= 100; coverage += 5 {
		in := baseInputs()
		in.SnapshotCoverage = coverage
		trace := Compute(in, cfg)
		assert.GreaterOrEqual(t, trace.FinalScore, prev,
			"raising coverage from below must never lower the score (coverage=%v)", coverage)
		prev = trace.FinalScore
	}
}

func TestPenaltiesAreOrderedAndRecorded(t *testing.T) {
	cfg := DefaultConfig()
	in := baseInputs()
	in.Penalties = []Penalty{
		LowClusterConfirmation(1, 2),
		ContradictingSignals(2),
	}

	trace := Compute(in, cfg)

	require.Len(t, trace.Penalties, 2)
	assert.Equal(t, "low_cluster_confirmation", trace.Penalties[0].Type)
	assert.Equal(t, "contradicting_signals", trace.Penalties[1].Type)

	// Re-derive: base x multipliers x decay == final (no cap, no boost).
	rederived := trace.WeightedScore
	for _, p := range trace.Penalties {
		rederived *= p.Multiplier
	}
	rederived *= trace.DecayFactor
	assert.Equal(t, domain.Clamp(domain.Round(rederived), 0, 100), trace.FinalScore)

	// Impact points match the score at the moment each penalty applied.
	assert.InDelta(t, trace.WeightedScore*(1-0.85), trace.Penalties[0].ImpactPoints, 0.001)
}

func TestActorGuardCap(t *testing.T) {
	cfg := DefaultConfig()
	in := baseInputs()
	in.Actors = []domain.SnapshotActor{
		{ActorID: "solo", SourceLevel: domain.SourceVerified, FlowShare: 1, TxCount: 100, Connectivity: 5, ActiveDays: 7},
	}

	trace := Compute(in, cfg)
	assert.True(t, trace.CapApplied)
	assert.LessOrEqual(t, trace.FinalScore, cfg.ActorGuardCap)
}

func TestClusterBoostClampsAt100(t *testing.T) {
	cfg := DefaultConfig()
	in := baseInputs()
	in.SnapshotCoverage = 100
	in.FlowScore = 100
	in.EvidenceMetricCount = 10
	in.IndependentClusters = 5

	trace := Compute(in, cfg)
	assert.Greater(t, trace.ClusterBoost, 1.0)
	assert.LessOrEqual(t, trace.ClusterBoost, cfg.ClusterBoostMax)
	assert.LessOrEqual(t, trace.FinalScore, 100.0)
}

func TestExplainTraceShape(t *testing.T) {
	cfg := DefaultConfig()
	in := baseInputs()
	in.LastTriggeredAt = now.Add(-10 * time.Hour)
	in.Penalties = []Penalty{HighPenaltyRate(0.3)}

	trace := Compute(in, cfg)

	require.NotEmpty(t, trace.Steps)
	assert.Contains(t, trace.Steps[0], "Base")
	assert.Contains(t, trace.Steps[len(trace.Steps)-1], "Final")
}

func TestMissingDataYieldsHidden(t *testing.T) {
	cfg := DefaultConfig()
	trace := Compute(Inputs{Now: now, LastTriggeredAt: now}, cfg)
	assert.Equal(t, domain.LabelHidden, trace.Label)
	assert.Less(t, trace.FinalScore, 40.0)
}
