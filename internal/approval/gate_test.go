package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

func agg(eventCount int64, senders, receivers int, inflow, outflow domain.FlowAmount) *domain.WindowAggregate {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.WindowAggregate{
		Chain:           "eth",
		Token:           "0xtoken",
		Window:          domain.Window1h,
		WindowStart:     start,
		WindowEnd:       start.Add(time.Hour),
		EventCount:      eventCount,
		UniqueSenders:   senders,
		UniqueReceivers: receivers,
		InflowAmount:    inflow,
		OutflowAmount:   outflow,
		NetFlowAmount:   domain.ZeroFlow,
	}
}

func TestQuarantineOnConcentratedActivity(t *testing.T) {
	// 60 events against a single sender and no receivers.
	cur := agg(60, 1, 0, domain.ZeroFlow, domain.ZeroFlow)

	verdict := Evaluate(nil, cur, Config{FlowContinuityGapRatio: 0.5}, time.Now())

	assert.Equal(t, domain.VerdictQuarantined, verdict.Verdict)
	assert.Equal(t, 55.0, verdict.TotalPenalty)
	require.Len(t, verdict.TriggeredRules, 1)
	assert.Equal(t, "ActorCoverage", verdict.TriggeredRules[0].Name)
}

func TestActivityShapeYieldsToActorCoverageOnSingleActor(t *testing.T) {
	// One sender carrying the whole burst is concentration, not shape;
	// only ActorCoverage should charge it.
	assert.Nil(t, ActivityShape(nil, agg(60, 1, 0, domain.ZeroFlow, domain.ZeroFlow), Config{}))
	assert.Nil(t, ActivityShape(nil, agg(200, 0, 1, domain.ZeroFlow, domain.ZeroFlow), Config{}))

	// With actor spread the shape read still fires on dense windows.
	res := ActivityShape(nil, agg(200, 2, 2, domain.ZeroFlow, domain.ZeroFlow), Config{})
	require.NotNil(t, res)
	assert.Equal(t, "ActivityShape", res.Name)
	assert.Greater(t, res.Penalty, 0.0)
}

func TestRejectOnNegativeVolume(t *testing.T) {
	cur := agg(5, 3, 3, domain.FlowAmount("-100"), domain.ZeroFlow)

	verdict := Evaluate(nil, cur, Config{}, time.Now())

	assert.Equal(t, domain.VerdictRejected, verdict.Verdict)
	found := false
	for _, r := range verdict.TriggeredRules {
		if r.Name == "VolumeSanity" {
			found = true
			assert.Equal(t, 100.0, r.Penalty)
		}
	}
	assert.True(t, found, "VolumeSanity should fire")
}

func TestRejectOnZeroEventsWithVolumeAndNoActors(t *testing.T) {
	// Zero events with volume charges 60; penalty alone quarantines.
	cur := agg(0, 0, 0, domain.FlowAmount("1000"), domain.ZeroFlow)

	verdict := Evaluate(nil, cur, Config{}, time.Now())

	assert.Equal(t, domain.VerdictQuarantined, verdict.Verdict)
	assert.Equal(t, 60.0, verdict.TotalPenalty)
}

func TestApproveOnHealthyWindow(t *testing.T) {
	cur := agg(40, 12, 18, domain.FlowAmount("5000000"), domain.FlowAmount("3000000"))

	verdict := Evaluate(nil, cur, Config{FlowContinuityGapRatio: 0.5}, time.Now())

	assert.Equal(t, domain.VerdictApproved, verdict.Verdict)
	assert.Empty(t, verdict.TriggeredRules)
	assert.Zero(t, verdict.TotalPenalty)
}

func TestRejectOnImplausibleAverageVolume(t *testing.T) {
	// One event carrying 10^30 wei trips the average bound at penalty 40.
	cur := agg(1, 1, 1, domain.FlowAmount("1000000000000000000000000000000"), domain.ZeroFlow)

	verdict := Evaluate(nil, cur, Config{}, time.Now())

	assert.Equal(t, domain.VerdictQuarantined, verdict.Verdict)
	var sanity *domain.RuleResult
	for i, r := range verdict.TriggeredRules {
		if r.Name == "VolumeSanity" {
			sanity = &verdict.TriggeredRules[i]
		}
	}
	require.NotNil(t, sanity)
	assert.Equal(t, 40.0, sanity.Penalty)
}

func TestFlowContinuityChargesProportionally(t *testing.T) {
	prev := agg(100, 20, 20, domain.ZeroFlow, domain.ZeroFlow)
	cfg := Config{FlowContinuityGapRatio: 0.5}

	// 95% drop: excess (0.95-0.5)/0.5 = 0.9 of the 30-point cap.
	cur := agg(5, 2, 3, domain.ZeroFlow, domain.ZeroFlow)
	res := FlowContinuity(prev, cur, cfg)
	require.NotNil(t, res)
	assert.Equal(t, 27.0, res.Penalty)

	// 40% drop stays inside tolerance.
	cur = agg(60, 15, 15, domain.ZeroFlow, domain.ZeroFlow)
	assert.Nil(t, FlowContinuity(prev, cur, cfg))
}

func TestVerdictTotality(t *testing.T) {
	// Every admitted window gets exactly one verdict class.
	cases := []*domain.WindowAggregate{
		agg(0, 0, 0, domain.ZeroFlow, domain.ZeroFlow),
		agg(60, 1, 0, domain.ZeroFlow, domain.ZeroFlow),
		agg(1000, 2, 1, domain.ZeroFlow, domain.ZeroFlow),
		agg(40, 10, 10, domain.FlowAmount("123"), domain.FlowAmount("456")),
		agg(5, 3, 3, domain.FlowAmount("-1"), domain.ZeroFlow),
	}
	for _, c := range cases {
		v := Evaluate(nil, c, Config{FlowContinuityGapRatio: 0.5}, time.Now())
		assert.Contains(t, []domain.ApprovalClass{
			domain.VerdictApproved, domain.VerdictQuarantined, domain.VerdictRejected,
		}, v.Verdict)
	}
}

func TestGateRunPersistsVerdicts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	healthy := agg(40, 12, 18, domain.FlowAmount("5000"), domain.FlowAmount("3000"))
	require.NoError(t, repo.Aggregates.Upsert(ctx, *healthy))

	gate := NewGate(repo, Config{FlowContinuityGapRatio: 0.5})
	res, err := gate.Run(ctx, domain.Window1h, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Classified)
	assert.Equal(t, 1, res.Approved)

	stored, err := repo.Verdicts.Get(ctx, healthy.Key().String())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictApproved, stored.Verdict)

	// Second pass finds nothing left to classify.
	res, err = gate.Run(ctx, domain.Window1h, 100)
	require.NoError(t, err)
	assert.Zero(t, res.Classified)
}
