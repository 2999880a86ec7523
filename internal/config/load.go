package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies environment variable
// overrides, then fills defaults for anything left unset.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(cfg)
	fillDefaults(cfg)
	applyChainEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides maps the documented environment inputs onto the tree.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWHAWK_INGEST_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ingest.Enabled = b
		}
	}
	if v := os.Getenv("FLOWHAWK_CONFIRMATIONS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.Confirmations = n
		}
	}
	if v := os.Getenv("FLOWHAWK_REWIND_BLOCKS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.RewindBlocks = n
		}
	}
	if v := os.Getenv("FLOWHAWK_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.PollIntervalSec = int(d / time.Second)
		}
	}
	if v := os.Getenv("FLOWHAWK_DECAY_LAMBDA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Confidence.DecayLambda = f
		}
	}
	if v := os.Getenv("FLOWHAWK_LIFECYCLE_ACTIVATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lifecycle.ActivateConfidence = f
		}
	}
	if v := os.Getenv("FLOWHAWK_LIFECYCLE_RESOLVE_BELOW"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lifecycle.ResolveBelowConfidence = f
		}
	}
	if v := os.Getenv("FLOWHAWK_MIN_COVERAGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.MinCoverageToTrade = f
		}
	}
	if v := os.Getenv("FLOWHAWK_MIN_EVIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.MinEvidenceToTrade = f
		}
	}
	if v := os.Getenv("FLOWHAWK_MAX_RISK"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.MaxRiskToTrade = f
		}
	}
	if v := os.Getenv("CALIBRATION_VERSION"); v != "" {
		cfg.Calibration.Version = v
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.Database.DSN = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("PG_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.Enabled = b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FLOWHAWK_MONITOR_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.Port = n
		}
	}
}

// applyChainEnvOverrides maps FLOWHAWK_RPC_URLS_ETH=url1,url2 onto the
// chain list. It runs after defaults so the override reaches the default
// chains when no file supplied any.
func applyChainEnvOverrides(cfg *Config) {
	for i := range cfg.Chains {
		key := "FLOWHAWK_RPC_URLS_" + strings.ToUpper(cfg.Chains[i].Name)
		if v := os.Getenv(key); v != "" {
			urls := strings.Split(v, ",")
			for j := range urls {
				urls[j] = strings.TrimSpace(urls[j])
			}
			cfg.Chains[i].RPCURLs = urls
		}
	}
}

// fillDefaults copies defaults into unset fields so a partial YAML file is
// usable. Slices and maps default only when absent entirely.
func fillDefaults(cfg *Config) {
	def := Default()

	if len(cfg.Chains) == 0 {
		cfg.Chains = def.Chains
	}
	for i := range cfg.Chains {
		if cfg.Chains[i].MaxLogSpan == 0 {
			cfg.Chains[i].MaxLogSpan = 2000
		}
		if cfg.Chains[i].BlockTimeSec == 0 {
			cfg.Chains[i].BlockTimeSec = 12
		}
	}

	ing := &cfg.Ingest
	if ing.Confirmations == 0 {
		ing.Confirmations = def.Ingest.Confirmations
	}
	if ing.RewindBlocks == 0 {
		ing.RewindBlocks = def.Ingest.RewindBlocks
	}
	if ing.PollIntervalSec == 0 {
		ing.PollIntervalSec = def.Ingest.PollIntervalSec
	}
	if ing.RangeStart == 0 {
		ing.RangeStart = def.Ingest.RangeStart
	}
	if ing.RangeMin == 0 {
		ing.RangeMin = def.Ingest.RangeMin
	}
	if ing.RangeMax == 0 {
		ing.RangeMax = def.Ingest.RangeMax
	}
	if ing.BootstrapBlocks == 0 {
		ing.BootstrapBlocks = def.Ingest.BootstrapBlocks
	}
	if ing.RPCTimeoutSec == 0 {
		ing.RPCTimeoutSec = def.Ingest.RPCTimeoutSec
	}
	if ing.RetentionDays == 0 {
		ing.RetentionDays = def.Ingest.RetentionDays
	}
	if ing.KillSwitch == (KillSwitchConfig{}) {
		ing.KillSwitch = def.Ingest.KillSwitch
	}

	if cfg.Approval.FlowContinuityGapRatio == 0 {
		cfg.Approval.FlowContinuityGapRatio = def.Approval.FlowContinuityGapRatio
	}

	sn := &cfg.Snapshot
	if sn.StabilityThreshold == 0 {
		sn.StabilityThreshold = def.Snapshot.StabilityThreshold
	}
	if sn.TopKEntities == 0 {
		sn.TopKEntities = def.Snapshot.TopKEntities
	}
	if sn.MinActorsCoveragePct == 0 {
		sn.MinActorsCoveragePct = def.Snapshot.MinActorsCoveragePct
	}
	if sn.MinActorCount == 0 {
		sn.MinActorCount = def.Snapshot.MinActorCount
	}
	if sn.QuarantineCoverageCut == 0 {
		sn.QuarantineCoverageCut = def.Snapshot.QuarantineCoverageCut
	}

	if cfg.Signals.MaxSignalsPerRun == 0 {
		cfg.Signals.MaxSignalsPerRun = def.Signals.MaxSignalsPerRun
	}
	if len(cfg.Signals.Thresholds) == 0 {
		cfg.Signals.Thresholds = def.Signals.Thresholds
	}

	co := &cfg.Confidence
	if co.Weights == (ConfidenceWeights{}) {
		co.Weights = def.Confidence.Weights
	}
	if co.DecayLambda == 0 {
		co.DecayLambda = def.Confidence.DecayLambda
	}
	if co.DecayMinFactor == 0 {
		co.DecayMinFactor = def.Confidence.DecayMinFactor
	}
	if co.DecayMaxHours == 0 {
		co.DecayMaxHours = def.Confidence.DecayMaxHours
	}
	if co.ActorGuardMinActors == 0 {
		co.ActorGuardMinActors = def.Confidence.ActorGuardMinActors
	}
	if co.ActorGuardCap == 0 {
		co.ActorGuardCap = def.Confidence.ActorGuardCap
	}
	if co.ClusterMinConfirm == 0 {
		co.ClusterMinConfirm = def.Confidence.ClusterMinConfirm
	}
	if co.ClusterBoostMax == 0 {
		co.ClusterBoostMax = def.Confidence.ClusterBoostMax
	}

	lc := &cfg.Lifecycle
	if lc.ActivateConfidence == 0 {
		lc.ActivateConfidence = def.Lifecycle.ActivateConfidence
	}
	if lc.ResolveBelowConfidence == 0 {
		lc.ResolveBelowConfidence = def.Lifecycle.ResolveBelowConfidence
	}
	if lc.MaxMisses == 0 {
		lc.MaxMisses = def.Lifecycle.MaxMisses
	}

	rk := &cfg.Ranking
	if rk.FreshnessHorizonHours == 0 {
		rk.FreshnessHorizonHours = def.Ranking.FreshnessHorizonHours
	}
	if len(rk.TypeWeights) == 0 {
		rk.TypeWeights = def.Ranking.TypeWeights
	}
	if rk.BucketBuyMin == 0 {
		rk.BucketBuyMin = def.Ranking.BucketBuyMin
	}
	if rk.BucketWatchMin == 0 {
		rk.BucketWatchMin = def.Ranking.BucketWatchMin
	}
	if rk.TopSignalsLimit == 0 {
		rk.TopSignalsLimit = def.Ranking.TopSignalsLimit
	}
	if rk.AntiSpamSoftCap == 0 {
		rk.AntiSpamSoftCap = def.Ranking.AntiSpamSoftCap
	}

	po := &cfg.Policy
	if po.MinCoverageToTrade == 0 {
		po.MinCoverageToTrade = def.Policy.MinCoverageToTrade
	}
	if po.MinEvidenceToTrade == 0 {
		po.MinEvidenceToTrade = def.Policy.MinEvidenceToTrade
	}
	if po.MaxRiskToTrade == 0 {
		po.MaxRiskToTrade = def.Policy.MaxRiskToTrade
	}
	if po.MinDirectionStrength == 0 {
		po.MinDirectionStrength = def.Policy.MinDirectionStrength
	}
	if po.DefaultDecisionTTLMin == 0 {
		po.DefaultDecisionTTLMin = def.Policy.DefaultDecisionTTLMin
	}

	db := &cfg.Database
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = def.Database.MaxOpenConns
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = def.Database.MaxIdleConns
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = def.Database.ConnMaxLifetime
	}
	if db.ConnMaxIdleTime == 0 {
		db.ConnMaxIdleTime = def.Database.ConnMaxIdleTime
	}
	if db.QueryTimeout == 0 {
		db.QueryTimeout = def.Database.QueryTimeout
	}

	ca := &cfg.Cache
	if ca.RawTTLSec == 0 {
		ca.RawTTLSec = def.Cache.RawTTLSec
	}
	if ca.CalibratedTTLSec == 0 {
		ca.CalibratedTTLSec = def.Cache.CalibratedTTLSec
	}
	if ca.MaxEntries == 0 {
		ca.MaxEntries = def.Cache.MaxEntries
	}

	jb := &cfg.Jobs
	if len(jb.IntervalsSec) == 0 {
		jb.IntervalsSec = def.Jobs.IntervalsSec
	}
	if jb.JitterPct == 0 {
		jb.JitterPct = def.Jobs.JitterPct
	}
	if jb.LockTTLSec == 0 {
		jb.LockTTLSec = def.Jobs.LockTTLSec
	}
	if jb.DeadlineMin == 0 {
		jb.DeadlineMin = def.Jobs.DeadlineMin
	}
	if jb.ShutdownGraceSec == 0 {
		jb.ShutdownGraceSec = def.Jobs.ShutdownGraceSec
	}

	mo := &cfg.Monitor
	if mo.Host == "" {
		mo.Host = def.Monitor.Host
	}
	if mo.Port == 0 {
		mo.Port = def.Monitor.Port
	}
	if mo.ReadTimeoutSec == 0 {
		mo.ReadTimeoutSec = def.Monitor.ReadTimeoutSec
	}
	if mo.WriteTimeoutSec == 0 {
		mo.WriteTimeoutSec = def.Monitor.WriteTimeoutSec
	}

	if cfg.Actors.SeedPath == "" {
		cfg.Actors.SeedPath = def.Actors.SeedPath
	}

	cl := &cfg.Calibration
	if cl.Version == "" {
		cl.Version = def.Calibration.Version
	}
	if cl.IntervalHours == 0 {
		cl.IntervalHours = def.Calibration.IntervalHours
	}
	if cl.TrailingWindows == 0 {
		cl.TrailingWindows = def.Calibration.TrailingWindows
	}
	if cl.MaxQuarantineRate == 0 {
		cl.MaxQuarantineRate = def.Calibration.MaxQuarantineRate
	}
	if cl.MaxPenaltyRate == 0 {
		cl.MaxPenaltyRate = def.Calibration.MaxPenaltyRate
	}
}
