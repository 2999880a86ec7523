package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

func TestDecideLowCoverageBlocks(t *testing.T) {
	action, band, gating := Decide(PolicyInputs{
		Coverage:     58,
		Evidence:     72,
		Risk:         45,
		Direction:    35,
		EngineStatus: ops.StatusOK,
	}, DefaultPolicyConfig())

	assert.Equal(t, domain.ActionNeutral, action)
	assert.Equal(t, domain.BandLow, band)
	assert.True(t, gating.Blocked)
	assert.Equal(t, []string{ReasonLowCoverage}, gating.Reasons)
}

func TestDecideUnblockedBuyHighBand(t *testing.T) {
	action, band, gating := Decide(PolicyInputs{
		Coverage:     75,
		Evidence:     82,
		Risk:         40,
		Direction:    45,
		EngineStatus: ops.StatusOK,
	}, DefaultPolicyConfig())

	assert.Equal(t, domain.ActionBuy, action)
	assert.Equal(t, domain.BandHigh, band)
	assert.False(t, gating.Blocked)
	assert.Empty(t, gating.Reasons)
}

func TestDecideSellOnNegativeDirection(t *testing.T) {
	action, band, _ := Decide(PolicyInputs{
		Coverage:     80,
		Evidence:     70,
		Risk:         20,
		Direction:    -55,
		EngineStatus: ops.StatusOK,
	}, DefaultPolicyConfig())

	assert.Equal(t, domain.ActionSell, action)
	assert.Equal(t, domain.BandMedium, band) // evidence 70 < 80
}

func TestDecideWeakDirectionBlocks(t *testing.T) {
	action, band, gating := Decide(PolicyInputs{
		Coverage:     80,
		Evidence:     85,
		Risk:         10,
		Direction:    5,
		EngineStatus: ops.StatusOK,
	}, DefaultPolicyConfig())

	assert.Equal(t, domain.ActionNeutral, action)
	assert.Equal(t, domain.BandLow, band)
	assert.True(t, gating.Blocked)
	assert.Contains(t, gating.Reasons, ReasonWeakDirection)
}

func TestDecideProtectionModeAndDrift(t *testing.T) {
	base := PolicyInputs{
		Coverage: 90, Evidence: 90, Risk: 10, Direction: 60,
	}

	in := base
	in.EngineStatus = ops.StatusProtectionMode
	action, _, gating := Decide(in, DefaultPolicyConfig())
	assert.Equal(t, domain.ActionNeutral, action)
	assert.Contains(t, gating.Reasons, ReasonProtectionMode)

	in = base
	in.EngineStatus = ops.StatusOK
	in.DriftFlags = []string{"coverage_collapse"}
	action, _, gating = Decide(in, DefaultPolicyConfig())
	assert.Equal(t, domain.ActionNeutral, action)
	assert.Contains(t, gating.Reasons, ReasonCriticalDrift)

	// Non-critical drift flags pass.
	in.DriftFlags = []string{"mild_shift"}
	action, _, gating = Decide(in, DefaultPolicyConfig())
	assert.Equal(t, domain.ActionBuy, action)
	assert.False(t, gating.Blocked)
}

func TestBlockedAlwaysCarriesReason(t *testing.T) {
	cases := []PolicyInputs{
		{Coverage: 10, Evidence: 90, Risk: 10, Direction: 60, EngineStatus: ops.StatusOK},
		{Coverage: 90, Evidence: 10, Risk: 10, Direction: 60, EngineStatus: ops.StatusOK},
		{Coverage: 90, Evidence: 90, Risk: 99, Direction: 60, EngineStatus: ops.StatusOK},
		{Coverage: 90, Evidence: 90, Risk: 10, Direction: 0, EngineStatus: ops.StatusOK},
		{Coverage: 90, Evidence: 90, Risk: 10, Direction: 60, EngineStatus: ops.StatusCritical},
	}
	for _, in := range cases {
		action, band, gating := Decide(in, DefaultPolicyConfig())
		if gating.Blocked {
			assert.NotEmpty(t, gating.Reasons, "blocked gating must name a reason: %+v", in)
			assert.Equal(t, domain.ActionNeutral, action)
			assert.Equal(t, domain.BandLow, band)
		}
	}
}

func TestMultipleFailuresAccumulateReasons(t *testing.T) {
	_, _, gating := Decide(PolicyInputs{
		Coverage:     10,
		Evidence:     10,
		Risk:         90,
		Direction:    0,
		EngineStatus: ops.StatusOK,
	}, DefaultPolicyConfig())

	assert.True(t, gating.Blocked)
	assert.Equal(t, []string{ReasonLowCoverage, ReasonHighRisk, ReasonLowEvidence}, gating.Reasons)
}

func TestDecideTopPersistsAndAlerts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	events := bus.New()
	state := ops.NewState(events, "v1")

	var alerts int
	events.Subscribe(func(bus.Event) { alerts++ }, bus.AlertNew)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Rankings.Insert(ctx, domain.Ranking{
		SubjectKind: domain.SubjectEntity, SubjectID: "eth:0xtok", Window: domain.Window24h,
		Coverage: 75, Evidence: 82, Risk: 40, Direction: 45, RankScore: 80,
		Bucket: domain.BucketBuy, ComputedAt: now,
	}))
	require.NoError(t, repo.Rankings.Insert(ctx, domain.Ranking{
		SubjectKind: domain.SubjectEntity, SubjectID: "eth:0xother", Window: domain.Window24h,
		Coverage: 58, Evidence: 72, Risk: 45, Direction: 35, RankScore: 50,
		Bucket: domain.BucketWatch, ComputedAt: now,
	}))

	engine := NewDecisionEngine(repo, state, events, DefaultPolicyConfig()).
		WithClock(func() time.Time { return now })

	decided, errs := engine.DecideTop(ctx, domain.Window24h, 10)
	assert.Empty(t, errs)
	assert.Equal(t, 2, decided)
	assert.Equal(t, 1, alerts, "only the non-neutral decision alerts")

	decisions, err := repo.Decisions.ListRecent(ctx, persistence.TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		switch d.SubjectID {
		case "eth:0xtok":
			assert.Equal(t, domain.ActionBuy, d.Action)
			assert.Equal(t, domain.BandHigh, d.Band)
			assert.False(t, d.Gating.Blocked)
		case "eth:0xother":
			assert.Equal(t, domain.ActionNeutral, d.Action)
			assert.Equal(t, domain.BandLow, d.Band)
			assert.Equal(t, []string{ReasonLowCoverage}, d.Gating.Reasons)
		}
		assert.Equal(t, now.Add(4*time.Hour), d.ExpiresAt)
	}
}
