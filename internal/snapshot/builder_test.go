package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/actors"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

var windowStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		StabilityThreshold:    0.3,
		TopKEntities:          50,
		MinActorsCoveragePct:  40,
		MinActorCount:         3,
		ConsumeQuarantined:    true,
		QuarantineCoverageCut: 25,
	}
}

func seedDirectory(t *testing.T, repo *persistence.Repository) *actors.Directory {
	t.Helper()
	ctx := context.Background()
	dir := actors.NewDirectory(repo.Actors, nil)

	known := []domain.Actor{
		{ActorID: "exchange-a", Name: "Exchange A", ActorType: domain.ActorExchange,
			SourceLevel: domain.SourceVerified, Coverage: 90, Addresses: []string{"0xaaa"}},
		{ActorID: "fund-b", Name: "Fund B", ActorType: domain.ActorFund,
			SourceLevel: domain.SourceAttributed, Coverage: 75, Addresses: []string{"0xbbb"}},
		{ActorID: "whale-c", ActorType: domain.ActorWhale,
			SourceLevel: domain.SourceVerified, Coverage: 85, Addresses: []string{"0xccc"}},
	}
	_, err := repo.Actors.UpsertBatch(ctx, known)
	require.NoError(t, err)
	return dir
}

func seedWindow(t *testing.T, repo *persistence.Repository, verdict domain.ApprovalClass) domain.WindowAggregate {
	t.Helper()
	ctx := context.Background()

	events := []domain.TransferEvent{
		{Chain: "eth", Token: "0xtoken", Block: 100, LogIndex: 0, From: "0xaaa", To: "0xbbb",
			Amount: "1000", USDValue: 2500, Timestamp: windowStart.Add(5 * time.Minute)},
		{Chain: "eth", Token: "0xtoken", Block: 101, LogIndex: 0, From: "0xbbb", To: "0xccc",
			Amount: "2000", USDValue: 5000, Timestamp: windowStart.Add(15 * time.Minute)},
		{Chain: "eth", Token: "0xtoken", Block: 102, LogIndex: 1, From: "0xccc", To: "0xaaa",
			Amount: "500", USDValue: 1250, Timestamp: windowStart.Add(25 * time.Minute)},
	}
	_, err := repo.Events.InsertBatch(ctx, events)
	require.NoError(t, err)

	agg := domain.WindowAggregate{
		Chain: "eth", Token: "0xtoken", Window: domain.Window1h,
		WindowStart: windowStart, WindowEnd: windowStart.Add(time.Hour),
		EventCount: 3, UniqueSenders: 3, UniqueReceivers: 3,
		InflowAmount: "3500", OutflowAmount: "3500", NetFlowAmount: "0",
		FirstBlock: 100, LastBlock: 102,
	}
	require.NoError(t, repo.Aggregates.Upsert(ctx, agg))
	require.NoError(t, repo.Verdicts.Upsert(ctx, domain.ApprovalVerdict{
		WindowKey: agg.Key().String(), Chain: agg.Chain, Token: agg.Token,
		Window: agg.Window, WindowStart: agg.WindowStart, Verdict: verdict,
	}))
	return agg
}

func TestBuildViableSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	dir := seedDirectory(t, repo)
	agg := seedWindow(t, repo, domain.VerdictApproved)

	builder := NewBuilder(repo, dir, testConfig()).
		WithClock(func() time.Time { return windowStart.Add(2 * time.Hour) })

	snap, err := builder.Build(ctx, agg)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.True(t, snap.IsViable)
	assert.Equal(t, 3, snap.Stats.ActorCount)
	assert.Equal(t, 3, snap.Stats.EdgeCount)
	assert.Equal(t, 100.0, snap.Coverage.ActorsPct)
	assert.Equal(t, 100.0, snap.Coverage.TransfersPct)
	assert.Equal(t, domain.QualityHigh, snap.Stability.Quality)
	assert.NotEmpty(t, snap.Stability.Hash)
	assert.InDelta(t, 8750, snap.Stats.TotalFlowUSD, 0.01)
}

func TestSnapshotHashIsContentStable(t *testing.T) {
	ctx := context.Background()

	build := func() string {
		repo := memory.NewRepository()
		dir := seedDirectory(t, repo)
		agg := seedWindow(t, repo, domain.VerdictApproved)
		builder := NewBuilder(repo, dir, testConfig()).
			WithClock(func() time.Time { return windowStart.Add(2 * time.Hour) })
		snap, err := builder.Build(ctx, agg)
		require.NoError(t, err)
		return snap.Stability.Hash
	}

	assert.Equal(t, build(), build(), "same inputs must reproduce the same hash")
}

func TestRejectedWindowProducesNoSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	dir := seedDirectory(t, repo)
	agg := seedWindow(t, repo, domain.VerdictRejected)

	builder := NewBuilder(repo, dir, testConfig())
	snap, err := builder.Build(ctx, agg)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestQuarantinedWindowGetsCoverageHaircut(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	dir := seedDirectory(t, repo)
	agg := seedWindow(t, repo, domain.VerdictQuarantined)

	builder := NewBuilder(repo, dir, testConfig()).
		WithClock(func() time.Time { return windowStart.Add(2 * time.Hour) })

	snap, err := builder.Build(ctx, agg)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, 75.0, snap.Coverage.ActorsPct) // 100 − 25 haircut
	assert.Equal(t, 1.0, snap.Stats.QuarantinedShare)
}

func TestUnknownActorsLowerViability(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	dir := actors.NewDirectory(repo.Actors, nil) // empty directory

	agg := seedWindow(t, repo, domain.VerdictApproved)
	builder := NewBuilder(repo, dir, testConfig()).
		WithClock(func() time.Time { return windowStart.Add(2 * time.Hour) })

	snap, err := builder.Build(ctx, agg)
	require.NoError(t, err)
	require.NotNil(t, snap)

	// Every address resolves behaviorally, so actor coverage is zero and
	// the snapshot is stored but not viable.
	assert.Zero(t, snap.Coverage.ActorsPct)
	assert.False(t, snap.IsViable)

	for _, a := range snap.Actors {
		assert.Equal(t, domain.SourceBehavioral, a.SourceLevel)
		assert.Equal(t, domain.ActorUnknown, a.ActorType)
	}
}

func TestStabilityDeltaAgainstPrevious(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	dir := seedDirectory(t, repo)
	agg := seedWindow(t, repo, domain.VerdictApproved)

	builder := NewBuilder(repo, dir, testConfig())

	builder.WithClock(func() time.Time { return windowStart.Add(2 * time.Hour) })
	first, err := builder.Build(ctx, agg)
	require.NoError(t, err)
	assert.Zero(t, first.Stability.DeltaFromPrev)

	// Identical entity set one tick later: delta stays zero, stable.
	builder.WithClock(func() time.Time { return windowStart.Add(3 * time.Hour) })
	second, err := builder.Build(ctx, agg)
	require.NoError(t, err)
	assert.Zero(t, second.Stability.DeltaFromPrev)
	assert.True(t, second.Stability.IsStable)
}
