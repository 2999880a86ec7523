package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, int64(12), cfg.Ingest.Confirmations)
	assert.Equal(t, int64(25), cfg.Ingest.RewindBlocks)
	assert.Equal(t, 50, cfg.Signals.MaxSignalsPerRun)
	assert.InDelta(t, 1.0, cfg.Confidence.Weights.Sum(), 0.001)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowhawk.yaml")
	content := []byte(`
ingest:
  confirmations: 6
  tokens:
    - chain: eth
      address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
      symbol: USDC
      decimals: 6
policy:
  min_evidence_to_trade: 70
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(6), cfg.Ingest.Confirmations)
	assert.Equal(t, int64(25), cfg.Ingest.RewindBlocks, "unset fields take defaults")
	assert.Equal(t, 70.0, cfg.Policy.MinEvidenceToTrade)
	assert.Equal(t, 60.0, cfg.Policy.MinCoverageToTrade)
	require.Len(t, cfg.Ingest.Tokens, 1)
	assert.Equal(t, "USDC", cfg.Ingest.Tokens[0].Symbol)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), cfg.Ingest.RangeStart)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWHAWK_CONFIRMATIONS", "20")
	t.Setenv("CALIBRATION_VERSION", "v7")
	t.Setenv("REDIS_ADDR", "localhost:6390")
	t.Setenv("FLOWHAWK_RPC_URLS_ETH", "https://a.example , https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(20), cfg.Ingest.Confirmations)
	assert.Equal(t, "v7", cfg.Calibration.Version)
	assert.Equal(t, "localhost:6390", cfg.Redis.Addr)
	require.NotEmpty(t, cfg.Chains)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Chains[0].RPCURLs)
}

func TestValidateResolveThresholdDiscrepancy(t *testing.T) {
	cfg := Default()
	cfg.Lifecycle.ResolveBelowConfidence = 50

	_, err := cfg.Validate()
	require.Error(t, err, "deprecated 50 requires explicit confirmation")
	assert.Contains(t, err.Error(), "canonical")

	cfg.Lifecycle.ConfirmResolveThreshold = true
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "deprecated")
}

func TestValidateRejectsBrokenWeights(t *testing.T) {
	cfg := Default()
	cfg.Confidence.Weights.Coverage = 0.5

	_, err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRangeSizing(t *testing.T) {
	cfg := Default()
	cfg.Ingest.RangeMin = 6000

	_, err := cfg.Validate()
	assert.Error(t, err)
}
