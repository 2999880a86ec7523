package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/chain"
	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

const tokenAddr = "0xtoken"

// fakeAdapter serves canned transfer logs: one transfer per block in
// [lowest, head], deterministic content.
type fakeAdapter struct {
	head    int64
	lowest  int64
	failLog error
	calls   int
}

func (f *fakeAdapter) HeadHeight(context.Context) (int64, error) { return f.head, nil }

func (f *fakeAdapter) BlockByNumber(_ context.Context, n int64) (*chain.Block, error) {
	return &chain.Block{
		Number:    n,
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * 12 * time.Second),
	}, nil
}

func (f *fakeAdapter) LogsByRange(_ context.Context, from, to int64, _ []string, _ [][]string) ([]chain.Log, error) {
	f.calls++
	if f.failLog != nil {
		return nil, f.failLog
	}
	var logs []chain.Log
	for n := from; n <= to; n++ {
		if n < f.lowest || n > f.head {
			continue
		}
		logs = append(logs, chain.Log{
			Address: tokenAddr,
			Topics: []string{
				chain.TransferTopic,
				"0x000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
				"0x000000000000000000000000bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
			},
			Data:        "0x01",
			BlockNumber: n,
			TxHash:      fmt.Sprintf("0xtx%d", n),
			LogIndex:    0,
		})
	}
	return logs, nil
}

func (f *fakeAdapter) ReceiptByTx(context.Context, string) (*chain.Receipt, error) {
	return nil, nil
}

func testCfg() config.IngestConfig {
	return config.IngestConfig{
		Confirmations:   12,
		RewindBlocks:    25,
		RangeStart:      100,
		RangeMin:        50,
		RangeMax:        400,
		BootstrapBlocks: 200,
		RetentionDays:   90,
		Tokens: []config.WatchedToken{
			{Chain: "eth", Address: tokenAddr, Symbol: "TOK"},
		},
		KillSwitch: config.KillSwitchConfig{
			MaxErrorRatePct:  5,
			MaxRateLimitHits: 2,
			MaxDupRatePct:    50,
		},
	}
}

func TestCycleFirstRunStartsAtBootstrapWindow(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	adapter := &fakeAdapter{head: 1000, lowest: 0}

	ing := New("eth", adapter, repo, nil, testCfg())
	res, err := ing.Cycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(1000), res.Head)
	// safeHead 988, bootstrap window starts at 788, first range is 100 wide.
	assert.Equal(t, int64(100), res.BlocksScanned)
	assert.Equal(t, 100, res.Inserted)

	sr, err := repo.ScanRanges.Get(ctx, "eth", tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(887), sr.LastScannedBlock)
}

func TestCycleRewindAbsorbsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	adapter := &fakeAdapter{head: 1000, lowest: 0}
	ing := New("eth", adapter, repo, nil, testCfg())

	_, err := ing.Cycle(ctx)
	require.NoError(t, err)

	res, err := ing.Cycle(ctx)
	require.NoError(t, err)
	// Resume at 887-25=862; the 26-block rewind tail re-reads known rows.
	assert.Equal(t, 26, res.Duplicates)
	assert.Greater(t, res.Inserted, 0)

	count, err := repo.Events.Count(ctx, "eth", tokenAddr, persistence.TimeRange{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	// Every stored row is unique despite the overlap.
	sr, _ := repo.ScanRanges.Get(ctx, "eth", tokenAddr)
	assert.Equal(t, sr.LastScannedBlock-788+1, count)
}

func TestAdaptiveRangeShrinksAndGrows(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	adapter := &fakeAdapter{head: 1000, lowest: 0}
	ing := New("eth", adapter, repo, nil, testCfg())

	adapter.failLog = &chain.RPCError{HTTPStatus: 502, Message: "server error", Temporary: true}
	res, err := ing.Cycle(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, int64(50), ing.RangeSize())

	adapter.failLog = nil
	_, err = ing.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(62), ing.RangeSize(), "clean pass grows the range 25%")

	// Growth is capped at RangeMax.
	for i := 0; i < 20; i++ {
		_, err = ing.Cycle(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(400), ing.RangeSize())
}

func TestKillSwitchTripsOnRateLimitHits(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	adapter := &fakeAdapter{head: 1000, lowest: 0}
	cfg := testCfg()
	cfg.KillSwitch.MaxRateLimitHits = 1
	state := ops.NewState(nil, "v1")

	ing := New("eth", adapter, repo, state, cfg)
	adapter.failLog = &chain.RPCError{
		HTTPStatus: 429, Message: "rate limited", RateLimited: true, Temporary: true,
	}

	res, err := ing.Cycle(ctx)
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Contains(t, res.AbortReason, "rate limit")
	assert.True(t, state.Snapshot().KillSwitchTripped)

	// A clean cycle clears the trip.
	adapter.failLog = nil
	res, err = ing.Cycle(ctx)
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.False(t, state.Snapshot().KillSwitchTripped)
}

func TestBootstrapBackfillsAndReportsProgress(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	adapter := &fakeAdapter{head: 1000, lowest: 0}
	events := bus.New()

	var progress, done int
	events.Subscribe(func(bus.Event) { progress++ }, bus.BootstrapProgress)
	events.Subscribe(func(bus.Event) { done++ }, bus.BootstrapDone)

	ing := New("eth", adapter, repo, nil, testCfg()).WithBus(events)
	needs, err := ing.NeedsBootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, ing.Bootstrap(ctx))
	assert.Greater(t, progress, 0)
	assert.Equal(t, 1, done)

	sr, err := repo.ScanRanges.Get(ctx, "eth", tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(988), sr.LastScannedBlock, "caught up to the safe head")

	needs, err = ing.NeedsBootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestPruneRespectsRetention(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	adapter := &fakeAdapter{head: 1000, lowest: 0}
	ing := New("eth", adapter, repo, nil, testCfg()).
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) })

	_, err := ing.Cycle(ctx)
	require.NoError(t, err)

	removed, err := ing.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), removed, "march events fall outside the 90 day horizon")
}
