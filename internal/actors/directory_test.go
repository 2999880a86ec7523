package actors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

const seedYAML = `
actors:
  - id: binance
    name: Binance
    type: exchange
    source_level: verified
    coverage: 95
    addresses:
      - "0x28C6c06298d514Db089934071355E5743bf21d60"
      - "0xdfd5293d8e347dfe59e90efd55b2956a1343963d"
  - id: wintermute
    name: Wintermute
    type: market_maker
    source_level: attributed
    coverage: 80
    addresses:
      - "0x0000006daea1723962647b7e189d311d757fb793"
    cluster_id: mm-cluster-1
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSeedFromFile(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	events := bus.New()

	var resolverUpdates int
	events.Subscribe(func(bus.Event) { resolverUpdates++ }, bus.ResolverUpdated)

	dir := NewDirectory(repo.Actors, events)
	n, err := dir.SeedFromFile(ctx, writeSeed(t, seedYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, resolverUpdates)

	// Addresses are matched case-insensitively.
	actor, err := repo.Actors.GetByAddress(ctx, "0x28c6c06298d514db089934071355e5743bf21d60")
	require.NoError(t, err)
	assert.Equal(t, "binance", actor.ActorID)
	assert.Equal(t, domain.SourceVerified, actor.SourceLevel)
}

func TestSeedRejectsUnknownType(t *testing.T) {
	dir := NewDirectory(memory.NewRepository().Actors, nil)
	_, err := dir.SeedFromFile(context.Background(), writeSeed(t, `
actors:
  - id: x
    type: satellite
    source_level: verified
`))
	assert.Error(t, err)
}

func TestResolverBehavioralFallback(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	dir := NewDirectory(repo.Actors, nil)
	_, err := dir.SeedFromFile(ctx, writeSeed(t, seedYAML))
	require.NoError(t, err)

	r := dir.NewResolver()

	known, err := r.Resolve(ctx, "0x0000006DAEA1723962647b7e189d311d757Fb793")
	require.NoError(t, err)
	assert.Equal(t, "wintermute", known.ActorID)

	unknown, err := r.Resolve(ctx, "0xdeadbeef00000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceBehavioral, unknown.SourceLevel)
	assert.Equal(t, domain.ActorUnknown, unknown.ActorType)

	// Behavioral ids are stable across resolutions.
	again, err := dir.NewResolver().Resolve(ctx, "0xDEADBEEF00000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, unknown.ActorID, again.ActorID)

	ok, err := r.Known(ctx, "0xdeadbeef00000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}
