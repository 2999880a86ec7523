package config

import (
	"time"
)

// Config is the full application configuration tree. Values load from YAML
// with environment overrides; zero values fall back to defaults.
type Config struct {
	Chains      []ChainConfig     `yaml:"chains"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Signals     SignalsConfig     `yaml:"signals"`
	Confidence  ConfidenceConfig  `yaml:"confidence"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Ranking     RankingConfig     `yaml:"ranking"`
	Policy      PolicyConfig      `yaml:"policy"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Cache       CacheConfig       `yaml:"cache"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Actors      ActorsConfig      `yaml:"actors"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// ChainConfig is a static chain record; chain differences are data, not code.
type ChainConfig struct {
	ChainID      int64    `yaml:"chain_id"`
	Name         string   `yaml:"name"`
	RPCURLs      []string `yaml:"rpc_urls"`
	NativeSymbol string   `yaml:"native_symbol"`
	Decimals     int      `yaml:"decimals"`
	Explorer     string   `yaml:"explorer"`
	MaxLogSpan   int64    `yaml:"max_log_span"`
	BlockTimeSec int      `yaml:"block_time_sec"`
	Enabled      bool     `yaml:"enabled"`
}

// WatchedToken is one token stream the ingestor follows.
type WatchedToken struct {
	Chain    string `yaml:"chain"`
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
}

// KillSwitchConfig aborts an ingestion cycle when any threshold trips.
type KillSwitchConfig struct {
	MaxErrorRatePct  float64 `yaml:"max_error_rate_pct"`
	MaxP95LatencyMS  int64   `yaml:"max_p95_latency_ms"`
	MaxBacklogBlocks int64   `yaml:"max_backlog_blocks"`
	MaxDupRatePct    float64 `yaml:"max_dup_rate_pct"`
	MaxMissingBlocks int64   `yaml:"max_missing_blocks"`
	MaxRateLimitHits int64   `yaml:"max_rate_limit_hits"`
}

type IngestConfig struct {
	Enabled         bool             `yaml:"enabled"`
	Confirmations   int64            `yaml:"confirmations"`
	RewindBlocks    int64            `yaml:"rewind_blocks"`
	PollIntervalSec int              `yaml:"poll_interval_sec"`
	RangeStart      int64            `yaml:"range_start"`
	RangeMin        int64            `yaml:"range_min"`
	RangeMax        int64            `yaml:"range_max"`
	BootstrapBlocks int64            `yaml:"bootstrap_blocks"`
	RPCTimeoutSec   int              `yaml:"rpc_timeout_sec"`
	RetentionDays   int              `yaml:"retention_days"`
	Tokens          []WatchedToken   `yaml:"tokens"`
	KillSwitch      KillSwitchConfig `yaml:"kill_switch"`
}

func (c IngestConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c IngestConfig) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSec) * time.Second
}

type ApprovalConfig struct {
	// FlowContinuityGapRatio is the tolerated drop vs the previous window
	// before the continuity rule starts charging penalty.
	FlowContinuityGapRatio float64 `yaml:"flow_continuity_gap_ratio"`
}

type SnapshotConfig struct {
	StabilityThreshold    float64 `yaml:"stability_threshold"`
	TopKEntities          int     `yaml:"top_k_entities"`
	MinActorsCoveragePct  float64 `yaml:"min_actors_coverage_pct"`
	MinActorCount         int     `yaml:"min_actor_count"`
	ConsumeQuarantined    bool    `yaml:"consume_quarantined"`
	QuarantineCoverageCut float64 `yaml:"quarantine_coverage_cut"`
}

// DetectorThresholds tunes one window tier of the detector catalog.
// The high* fields drive severity band promotion.
type DetectorThresholds struct {
	MinCorridorDensity    float64 `yaml:"min_corridor_density"`
	MinCorridorConfidence float64 `yaml:"min_corridor_confidence"`
	HighDensity           float64 `yaml:"high_density"`
	SpikeRatio            float64 `yaml:"spike_ratio"`
	HighSpikeRatio        float64 `yaml:"high_spike_ratio"`
	MinEventCount         int64   `yaml:"min_event_count"`
	ImbalanceRatio        float64 `yaml:"imbalance_ratio"`
	HighImbalanceRatio    float64 `yaml:"high_imbalance_ratio"`
	MinTotalFlowUSD       float64 `yaml:"min_total_flow_usd"`
	HighNetFlowUSD        float64 `yaml:"high_net_flow_usd"`
	MinTxDeltaPct         float64 `yaml:"min_tx_delta_pct"`
	MinActiveDays         int     `yaml:"min_active_days"`
	MinSyncScore          float64 `yaml:"min_sync_score"`
	ClusterChangePct      float64 `yaml:"cluster_change_pct"`
}

type SignalsConfig struct {
	MaxSignalsPerRun int                           `yaml:"max_signals_per_run"`
	Thresholds       map[string]DetectorThresholds `yaml:"thresholds"`
}

type ConfidenceWeights struct {
	Coverage float64 `yaml:"coverage"`
	Actors   float64 `yaml:"actors"`
	Flow     float64 `yaml:"flow"`
	Temporal float64 `yaml:"temporal"`
	Evidence float64 `yaml:"evidence"`
}

func (w ConfidenceWeights) Sum() float64 {
	return w.Coverage + w.Actors + w.Flow + w.Temporal + w.Evidence
}

type ConfidenceConfig struct {
	Weights             ConfidenceWeights `yaml:"weights"`
	DecayLambda         float64           `yaml:"decay_lambda"`
	DecayMinFactor      float64           `yaml:"decay_min_factor"`
	DecayMaxHours       float64           `yaml:"decay_max_hours"`
	ActorGuardMinActors int               `yaml:"actor_guard_min_actors"`
	ActorGuardCap       float64           `yaml:"actor_guard_cap"`
	ClusterMinConfirm   int               `yaml:"cluster_min_confirm"`
	ClusterBoostMax     float64           `yaml:"cluster_boost_max"`
}

type LifecycleConfig struct {
	ActivateConfidence      float64 `yaml:"activate_confidence"`
	ResolveBelowConfidence  float64 `yaml:"resolve_below_confidence"`
	MaxMisses               int     `yaml:"max_misses"`
	ConfirmResolveThreshold bool    `yaml:"confirm_resolve_threshold"`
}

type RankingConfig struct {
	FreshnessHorizonHours float64            `yaml:"freshness_horizon_hours"`
	TypeWeights           map[string]float64 `yaml:"type_weights"`
	BucketBuyMin          float64            `yaml:"bucket_buy_min"`
	BucketWatchMin        float64            `yaml:"bucket_watch_min"`
	TopSignalsLimit       int                `yaml:"top_signals_limit"`
	AntiSpamSoftCap       int                `yaml:"anti_spam_soft_cap"`
}

type PolicyConfig struct {
	MinCoverageToTrade    float64        `yaml:"min_coverage_to_trade"`
	MinEvidenceToTrade    float64        `yaml:"min_evidence_to_trade"`
	MaxRiskToTrade        float64        `yaml:"max_risk_to_trade"`
	MinDirectionStrength  float64        `yaml:"min_direction_strength"`
	DefaultDecisionTTLMin int            `yaml:"default_decision_ttl_min"`
	DecisionTTLsMin       map[string]int `yaml:"decision_ttls_min"`
}

// DecisionTTL returns the validity window for a decision type.
func (p PolicyConfig) DecisionTTL(decisionType string) time.Duration {
	if min, ok := p.DecisionTTLsMin[decisionType]; ok && min > 0 {
		return time.Duration(min) * time.Minute
	}
	return time.Duration(p.DefaultDecisionTTLMin) * time.Minute
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	Enabled         bool          `yaml:"enabled"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	RawTTLSec        int `yaml:"raw_ttl_sec"`
	CalibratedTTLSec int `yaml:"calibrated_ttl_sec"`
	MaxEntries       int `yaml:"max_entries"`
}

func (c CacheConfig) RawTTL() time.Duration {
	return time.Duration(c.RawTTLSec) * time.Second
}

func (c CacheConfig) CalibratedTTL() time.Duration {
	return time.Duration(c.CalibratedTTLSec) * time.Second
}

type JobsConfig struct {
	IntervalsSec     map[string]int `yaml:"intervals_sec"`
	JitterPct        int            `yaml:"jitter_pct"`
	LockTTLSec       int            `yaml:"lock_ttl_sec"`
	DeadlineMin      int            `yaml:"deadline_min"`
	ShutdownGraceSec int            `yaml:"shutdown_grace_sec"`
}

// Interval returns the schedule period for a job, zero when unscheduled.
func (j JobsConfig) Interval(job string) time.Duration {
	return time.Duration(j.IntervalsSec[job]) * time.Second
}

func (j JobsConfig) Deadline() time.Duration {
	return time.Duration(j.DeadlineMin) * time.Minute
}

func (j JobsConfig) ShutdownGrace() time.Duration {
	return time.Duration(j.ShutdownGraceSec) * time.Second
}

type MonitorConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
}

type ActorsConfig struct {
	SeedPath string `yaml:"seed_path"`
}

type CalibrationConfig struct {
	Version           string  `yaml:"version"`
	IntervalHours     int     `yaml:"interval_hours"`
	TrailingWindows   int     `yaml:"trailing_windows"`
	MaxQuarantineRate float64 `yaml:"max_quarantine_rate"`
	MaxPenaltyRate    float64 `yaml:"max_penalty_rate"`
}

// Default returns the documented configuration defaults.
func Default() *Config {
	return &Config{
		Chains: []ChainConfig{
			{
				ChainID:      1,
				Name:         "eth",
				RPCURLs:      []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
				NativeSymbol: "ETH",
				Decimals:     18,
				Explorer:     "https://etherscan.io",
				MaxLogSpan:   2000,
				BlockTimeSec: 12,
				Enabled:      true,
			},
		},
		Ingest: IngestConfig{
			Enabled:         true,
			Confirmations:   12,
			RewindBlocks:    25,
			PollIntervalSec: 30,
			RangeStart:      1500,
			RangeMin:        50,
			RangeMax:        5000,
			BootstrapBlocks: 50000,
			RPCTimeoutSec:   10,
			RetentionDays:   90,
			KillSwitch: KillSwitchConfig{
				MaxErrorRatePct:  5,
				MaxP95LatencyMS:  1500,
				MaxBacklogBlocks: 5000,
				MaxDupRatePct:    1,
				MaxMissingBlocks: 100,
				MaxRateLimitHits: 10,
			},
		},
		Approval: ApprovalConfig{
			FlowContinuityGapRatio: 0.5,
		},
		Snapshot: SnapshotConfig{
			StabilityThreshold:    0.3,
			TopKEntities:          50,
			MinActorsCoveragePct:  40,
			MinActorCount:         3,
			ConsumeQuarantined:    true,
			QuarantineCoverageCut: 25,
		},
		Signals: SignalsConfig{
			MaxSignalsPerRun: 50,
			Thresholds:       DefaultThresholds(),
		},
		Confidence: ConfidenceConfig{
			Weights: ConfidenceWeights{
				Coverage: 0.30,
				Actors:   0.25,
				Flow:     0.20,
				Temporal: 0.15,
				Evidence: 0.10,
			},
			DecayLambda:         0.02,
			DecayMinFactor:      0.4,
			DecayMaxHours:       168,
			ActorGuardMinActors: 2,
			ActorGuardCap:       60,
			ClusterMinConfirm:   2,
			ClusterBoostMax:     1.15,
		},
		Lifecycle: LifecycleConfig{
			ActivateConfidence:     70,
			ResolveBelowConfidence: 40,
			MaxMisses:              3,
		},
		Ranking: RankingConfig{
			FreshnessHorizonHours: 72,
			TypeWeights: map[string]float64{
				"NEW_CORRIDOR":            1.0,
				"DENSITY_SPIKE":           0.9,
				"DIRECTION_IMBALANCE":     0.85,
				"ACTOR_REGIME_CHANGE":     0.8,
				"NEW_BRIDGE":              0.9,
				"CLUSTER_RECONFIGURATION": 0.7,
			},
			BucketBuyMin:    70,
			BucketWatchMin:  45,
			TopSignalsLimit: 10,
			AntiSpamSoftCap: 15,
		},
		Policy: PolicyConfig{
			MinCoverageToTrade:    60,
			MinEvidenceToTrade:    65,
			MaxRiskToTrade:        60,
			MinDirectionStrength:  20,
			DefaultDecisionTTLMin: 240,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Redis: RedisConfig{},
		Cache: CacheConfig{
			RawTTLSec:        300,
			CalibratedTTLSec: 1800,
			MaxEntries:       10000,
		},
		Jobs: JobsConfig{
			IntervalsSec: map[string]int{
				"ingest":      30,
				"aggregate":   60,
				"approve":     60,
				"snapshot":    120,
				"detect":      120,
				"rank":        300,
				"decide":      300,
				"outcomes":    1800,
				"recalibrate": 21600,
				"prune":       86400,
			},
			JitterPct:        10,
			LockTTLSec:       120,
			DeadlineMin:      15,
			ShutdownGraceSec: 30,
		},
		Monitor: MonitorConfig{
			Host:            "0.0.0.0",
			Port:            8099,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 15,
		},
		Actors: ActorsConfig{
			SeedPath: "config/actors.yaml",
		},
		Calibration: CalibrationConfig{
			Version:           "v1",
			IntervalHours:     6,
			TrailingWindows:   96,
			MaxQuarantineRate: 0.35,
			MaxPenaltyRate:    0.25,
		},
	}
}

// DefaultThresholds returns the per-window detector tuning tiers.
func DefaultThresholds() map[string]DetectorThresholds {
	return map[string]DetectorThresholds{
		"1h": {
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
		},
		"24h": {
			MinCorridorDensity:    10,
			MinCorridorConfidence: 55,
			HighDensity:           50,
			SpikeRatio:            1.5,
			HighSpikeRatio:        3.0,
			MinEventCount:         50,
			ImbalanceRatio:        0.55,
			HighImbalanceRatio:    0.8,
			MinTotalFlowUSD:       250000,
			HighNetFlowUSD:        2500000,
			MinTxDeltaPct:         100,
			MinActiveDays:         5,
			MinSyncScore:          0.65,
			ClusterChangePct:      25,
		},
		"7d": {
			MinCorridorDensity:    25,
			MinCorridorConfidence: 60,
			HighDensity:           120,
			SpikeRatio:            1.3,
			HighSpikeRatio:        2.5,
			MinEventCount:         200,
			ImbalanceRatio:        0.5,
			HighImbalanceRatio:    0.75,
			MinTotalFlowUSD:       1000000,
			HighNetFlowUSD:        10000000,
			MinTxDeltaPct:         80,
			MinActiveDays:         7,
			MinSyncScore:          0.6,
			ClusterChangePct:      20,
		},
		"30d": {
			MinCorridorDensity:    60,
			MinCorridorConfidence: 65,
			HighDensity:           300,
			SpikeRatio:            1.2,
			HighSpikeRatio:        2.0,
			MinEventCount:         500,
			ImbalanceRatio:        0.45,
			HighImbalanceRatio:    0.7,
			MinTotalFlowUSD:       5000000,
			HighNetFlowUSD:        50000000,
			MinTxDeltaPct:         60,
			MinActiveDays:         14,
			MinSyncScore:          0.55,
			ClusterChangePct:      15,
		},
	}
}
