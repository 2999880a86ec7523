package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

func TestHolderIDShape(t *testing.T) {
	holder := HolderID()
	assert.Contains(t, holder, "@")
	assert.False(t, strings.HasPrefix(holder, "@"))
}

func TestLeaseExclusive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocksStore()

	first := NewLockManager(store, 120)
	second := NewLockManager(store, 120)
	second.holder = "999@elsewhere"

	lease, err := first.Acquire(ctx, "job:detect")
	require.NoError(t, err)
	require.NotNil(t, lease)
	defer lease.Release()

	other, err := second.Acquire(ctx, "job:detect")
	require.NoError(t, err)
	assert.Nil(t, other, "held lease refuses a second holder")

	// The same holder re-acquires its own lease.
	again, err := first.Acquire(ctx, "job:detect")
	require.NoError(t, err)
	require.NotNil(t, again)
	again.Release()
}

func TestStaleHolderRefreshFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocksStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return clock })

	ok, err := store.Acquire(ctx, "job:rank", "1@old", 120)
	require.NoError(t, err)
	require.True(t, ok)

	// Lease expires; a new holder takes over.
	clock = clock.Add(3 * time.Minute)
	ok, err = store.Acquire(ctx, "job:rank", "2@new", 120)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale holder's refresh must fail, never silently re-extend.
	assert.Error(t, store.Refresh(ctx, "job:rank", "1@old"))
	assert.NoError(t, store.Refresh(ctx, "job:rank", "2@new"))
}

func TestLeaseContextCancelledOnRefreshFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocksStore()

	// Sub-second TTL so the heartbeat fires fast; ttlSec=1 gives a 333ms
	// heartbeat period.
	mgr := NewLockManager(store, 1)
	lease, err := mgr.Acquire(ctx, "job:ingest")
	require.NoError(t, err)
	require.NotNil(t, lease)

	// Steal the lock out from under the lease.
	require.NoError(t, store.Release(ctx, "job:ingest", mgr.holder))
	ok, err := store.Acquire(ctx, "job:ingest", "2@thief", 120)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-lease.Context().Done():
	case <-time.After(3 * time.Second):
		t.Fatal("lease context not cancelled after refresh failure")
	}
}

func TestDispatchSkipsOverlappingRuns(t *testing.T) {
	repo := memory.NewRepository()
	mgr := NewLockManager(repo.Locks.(*memory.LocksStore), 120)
	o := NewOrchestrator(config.JobsConfig{DeadlineMin: 1, ShutdownGraceSec: 1}, mgr, repo)

	release := make(chan struct{})
	var runs int
	var mu sync.Mutex
	o.Register(Job{Name: "slow", Run: func(ctx context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
		return nil
	}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, o.Dispatch(context.Background(), "slow"))
	}()

	// Wait for the first run to start, then try to overlap.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, o.Dispatch(context.Background(), "slow"))
	mu.Lock()
	assert.Equal(t, 1, runs, "overlapping dispatch skipped")
	mu.Unlock()

	close(release)
	wg.Wait()
}

func TestDispatchUnknownJob(t *testing.T) {
	repo := memory.NewRepository()
	mgr := NewLockManager(repo.Locks.(*memory.LocksStore), 120)
	o := NewOrchestrator(config.JobsConfig{}, mgr, repo)
	assert.Error(t, o.Dispatch(context.Background(), "nope"))
}

func TestSingletonJobRunsUnderLease(t *testing.T) {
	repo := memory.NewRepository()
	mgr := NewLockManager(repo.Locks.(*memory.LocksStore), 120)
	o := NewOrchestrator(config.JobsConfig{DeadlineMin: 1}, mgr, repo)

	var ran bool
	o.Register(Job{Name: "detect", Singleton: true, Run: func(ctx context.Context) error {
		// The lease exists while the job runs.
		lock, err := repo.Locks.Get(ctx, "job:detect")
		require.NoError(t, err)
		assert.Equal(t, mgr.Holder(), lock.LockedBy)
		ran = true
		return nil
	}})

	require.NoError(t, o.Dispatch(context.Background(), "detect"))
	assert.True(t, ran)

	// Lease released after the run.
	_, err := repo.Locks.Get(context.Background(), "job:detect")
	assert.Error(t, err)
}

func TestStartupHardCheckRefuses(t *testing.T) {
	repo := memory.NewRepository()
	mgr := NewLockManager(repo.Locks.(*memory.LocksStore), 120)
	o := NewOrchestrator(config.JobsConfig{}, mgr, repo)

	o.RegisterCheck(StartupCheck{Name: "db", Hard: true, Ping: func(context.Context) error {
		return context.DeadlineExceeded
	}})
	assert.Error(t, o.Startup(context.Background()))

	o2 := NewOrchestrator(config.JobsConfig{}, mgr, repo)
	o2.RegisterCheck(StartupCheck{Name: "redis", Hard: false, Ping: func(context.Context) error {
		return context.DeadlineExceeded
	}})
	assert.NoError(t, o2.Startup(context.Background()))
}
