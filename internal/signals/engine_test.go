package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/confidence"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/lifecycle"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

var snapshotAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testThresholds() Thresholds {
	return Thresholds{
		MinCorridorDensity:    3,
		MinCorridorConfidence: 50,
		HighDensity:           15,
		SpikeRatio:            2.0,
		HighSpikeRatio:        5.0,
		MinEventCount:         10,
		ImbalanceRatio:        0.6,
		HighImbalanceRatio:    0.85,
		MinTotalFlowUSD:       50000,
		HighNetFlowUSD:        500000,
		MinTxDeltaPct:         150,
		MinActiveDays:         3,
		MinSyncScore:          0.7,
		ClusterChangePct:      30,
	}
}

func actor(id string, tx int64, share float64) domain.SnapshotActor {
	return domain.SnapshotActor{
		ActorID:      id,
		ActorType:    domain.ActorExchange,
		SourceLevel:  domain.SourceVerified,
		Coverage:     90,
		TxCount:      tx,
		FlowShare:    share,
		Connectivity: 4,
		ActiveDays:   5,
		InflowAmount: domain.ZeroFlow, OutflowAmount: domain.ZeroFlow,
	}
}

func snap(at time.Time, edges []domain.SnapshotEdge, actors []domain.SnapshotActor, stats domain.SnapshotStats) *domain.Snapshot {
	return &domain.Snapshot{
		ID:          domain.StableID("snap", at.String()),
		Chain:       "eth",
		Token:       "0xtoken",
		Window:      domain.Window1h,
		WindowStart: at.Truncate(time.Hour),
		SnapshotAt:  at,
		Actors:      actors,
		Edges:       edges,
		Stats:       stats,
		Coverage:    domain.Coverage{ActorsPct: 85, EdgesPct: 80, TransfersPct: 90},
		Stability:   domain.Stability{Hash: domain.StableID("h", at.String()), Quality: domain.QualityHigh},
		IsViable:    true,
	}
}

func TestNewCorridorDetection(t *testing.T) {
	prev := snap(snapshotAt.Add(-time.Hour), nil, []domain.SnapshotActor{actor("a", 10, 0.5)}, domain.SnapshotStats{EventCount: 10})
	cur := snap(snapshotAt, []domain.SnapshotEdge{
		{From: "a", To: "b", Transfers: 20, Amount: "1000", USDVolume: 600000},
		{From: "a", To: "c", Transfers: 1, Amount: "10", USDVolume: 100}, // below density
	}, []domain.SnapshotActor{actor("a", 10, 0.5), actor("b", 5, 0.3)}, domain.SnapshotStats{EventCount: 21})

	found, errs := DetectNewCorridor(cur, prev, testThresholds())
	assert.Empty(t, errs)
	require.Len(t, found, 1)
	assert.Equal(t, domain.SignalNewCorridor, found[0].Type)
	assert.Equal(t, domain.SeverityHigh, found[0].Severity) // 20 >= highDensity
	assert.Equal(t, "a", found[0].PrimaryActorID)

	// The same corridor present before does not re-fire.
	prevWith := snap(snapshotAt.Add(-time.Hour), []domain.SnapshotEdge{{From: "a", To: "b", Transfers: 5, Amount: "1"}},
		nil, domain.SnapshotStats{})
	found, _ = DetectNewCorridor(cur, prevWith, testThresholds())
	assert.Empty(t, found)
}

func TestDensitySpikeSeverityBands(t *testing.T) {
	th := testThresholds()
	prev := snap(snapshotAt.Add(-time.Hour), nil, nil, domain.SnapshotStats{EventCount: 10})

	// Ratio (40-10)/10 = 3 >= 2: med.
	cur := snap(snapshotAt, nil, nil, domain.SnapshotStats{EventCount: 40, TotalFlowUSD: 100000})
	found, _ := DetectDensitySpike(cur, prev, th)
	require.Len(t, found, 1)
	assert.Equal(t, domain.SeverityMed, found[0].Severity)

	// Ratio (100-10)/10 = 9 >= 5: promoted to high.
	cur = snap(snapshotAt, nil, nil, domain.SnapshotStats{EventCount: 100, TotalFlowUSD: 100000})
	found, _ = DetectDensitySpike(cur, prev, th)
	require.Len(t, found, 1)
	assert.Equal(t, domain.SeverityHigh, found[0].Severity)
}

func TestDirectionImbalance(t *testing.T) {
	th := testThresholds()

	cur := snap(snapshotAt, nil, nil, domain.SnapshotStats{
		EventCount: 50, TotalFlowUSD: 100000, NetFlowUSD: -70000,
	})
	found, _ := DetectDirectionImbalance(cur, nil, th)
	require.Len(t, found, 1)
	assert.Equal(t, domain.DirectionOutflow, found[0].Direction)
	assert.Equal(t, domain.SeverityMed, found[0].Severity)

	// Below the flow floor stays silent.
	cur = snap(snapshotAt, nil, nil, domain.SnapshotStats{TotalFlowUSD: 10000, NetFlowUSD: 9000})
	found, _ = DetectDirectionImbalance(cur, nil, th)
	assert.Empty(t, found)
}

func TestDetectorDeterminism(t *testing.T) {
	th := testThresholds()
	prev := snap(snapshotAt.Add(-time.Hour), nil, []domain.SnapshotActor{actor("a", 10, 0.5)}, domain.SnapshotStats{EventCount: 10})
	cur := snap(snapshotAt, []domain.SnapshotEdge{{From: "a", To: "b", Transfers: 20, Amount: "1000", USDVolume: 60000}},
		[]domain.SnapshotActor{actor("a", 40, 0.6), actor("b", 5, 0.2)},
		domain.SnapshotStats{EventCount: 45, TotalFlowUSD: 120000, NetFlowUSD: 90000})

	first, _ := Evaluate(cur, prev, th)
	second, _ := Evaluate(cur, prev, th)
	assert.Equal(t, first, second, "same snapshot pair must produce identical candidates")
}

func TestEngineEmitsAndRefreshes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	mgrClock := snapshotAt
	mgr := lifecycle.NewManager(repo, nil, lifecycle.DefaultConfig()).
		WithClock(func() time.Time { return mgrClock })

	engine := NewEngine(repo, mgr, Config{
		MaxSignalsPerRun: 50,
		Thresholds:       map[string]Thresholds{"1h": testThresholds()},
		Confidence:       confidence.DefaultConfig(),
	}).WithClock(func() time.Time { return mgrClock })

	prev := snap(snapshotAt.Add(-time.Hour), nil,
		[]domain.SnapshotActor{actor("a", 10, 0.5), actor("b", 8, 0.3), actor("c", 3, 0.2)},
		domain.SnapshotStats{EventCount: 10, ActorCount: 3})
	require.NoError(t, repo.Snapshots.Insert(ctx, *prev))

	cur := snap(snapshotAt, []domain.SnapshotEdge{{From: "a", To: "b", Transfers: 25, Amount: "5000", USDVolume: 700000}},
		[]domain.SnapshotActor{actor("a", 40, 0.5), actor("b", 30, 0.3), actor("c", 5, 0.2)},
		domain.SnapshotStats{EventCount: 80, ActorCount: 3, TotalFlowUSD: 900000, NetFlowUSD: 650000})

	res, err := engine.Run(ctx, cur)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Greater(t, res.Emitted, 0)

	live, err := repo.Signals.ListByStates(ctx, domain.Window1h, nil)
	require.NoError(t, err)
	emittedCount := len(live)
	assert.Equal(t, res.Emitted, emittedCount)

	// Re-running the same snapshot pair one tick later refreshes the same
	// ids instead of duplicating.
	mgrClock = snapshotAt.Add(time.Hour)
	cur2 := *cur
	cur2.ID = domain.StableID("snap2", "x")
	cur2.SnapshotAt = mgrClock
	res, err = engine.Run(ctx, &cur2)
	require.NoError(t, err)

	live, err = repo.Signals.ListByStates(ctx, domain.Window1h, nil)
	require.NoError(t, err)
	assert.Len(t, live, emittedCount)
}

func TestEngineSkipsNonViableSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	mgr := lifecycle.NewManager(repo, nil, lifecycle.DefaultConfig())
	engine := NewEngine(repo, mgr, Config{
		Thresholds: map[string]Thresholds{"1h": testThresholds()},
		Confidence: confidence.DefaultConfig(),
	})

	cur := snap(snapshotAt, []domain.SnapshotEdge{{From: "a", To: "b", Transfers: 25, Amount: "1"}},
		nil, domain.SnapshotStats{EventCount: 80})
	cur.IsViable = false

	res, err := engine.Run(ctx, cur)
	require.NoError(t, err)
	assert.Zero(t, res.Emitted)
	assert.Zero(t, res.Candidates)
}

func TestRunBudgetDropsLowestScored(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	mgr := lifecycle.NewManager(repo, nil, lifecycle.DefaultConfig()).
		WithClock(func() time.Time { return snapshotAt })

	engine := NewEngine(repo, mgr, Config{
		MaxSignalsPerRun: 2,
		Thresholds:       map[string]Thresholds{"1h": testThresholds()},
		Confidence:       confidence.DefaultConfig(),
	}).WithClock(func() time.Time { return snapshotAt })

	// Five fresh corridors all above density.
	var edges []domain.SnapshotEdge
	var actorsList []domain.SnapshotActor
	names := []string{"a", "b", "c", "d", "e", "f"}
	for i := 0; i < 5; i++ {
		edges = append(edges, domain.SnapshotEdge{
			From: names[i], To: names[i+1], Transfers: int64(5 + i), Amount: "100", USDVolume: 10000,
		})
	}
	for _, n := range names {
		actorsList = append(actorsList, actor(n, 10, 0.15))
	}
	prev := snap(snapshotAt.Add(-time.Hour), nil, actorsList, domain.SnapshotStats{EventCount: 10, ActorCount: 6})
	require.NoError(t, repo.Snapshots.Insert(ctx, *prev))
	cur := snap(snapshotAt, edges, actorsList, domain.SnapshotStats{EventCount: 15, ActorCount: 6})

	res, err := engine.Run(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Candidates)
	assert.Equal(t, 2, res.Emitted)
	assert.Equal(t, 3, res.Dropped)
}
