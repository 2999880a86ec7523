package main

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/actors"
	"github.com/flowhawk/flowhawk/internal/aggregate"
	"github.com/flowhawk/flowhawk/internal/approval"
	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/cache"
	"github.com/flowhawk/flowhawk/internal/chain"
	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/confidence"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/ingest"
	"github.com/flowhawk/flowhawk/internal/jobs"
	"github.com/flowhawk/flowhawk/internal/lifecycle"
	"github.com/flowhawk/flowhawk/internal/monitor"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
	"github.com/flowhawk/flowhawk/internal/persistence/postgres"
	"github.com/flowhawk/flowhawk/internal/ranking"
	"github.com/flowhawk/flowhawk/internal/signals"
	"github.com/flowhawk/flowhawk/internal/snapshot"
	"github.com/flowhawk/flowhawk/internal/telemetry"
)

// app is the assembled service graph. Every command builds one and tears
// it down when done.
type app struct {
	cfg     *config.Config
	events  *bus.Bus
	state   *ops.State
	repo    *persistence.Repository
	metrics *telemetry.Metrics

	db    *postgres.Manager
	redis *goredis.Client

	directory    *actors.Directory
	ingestors    []*ingest.Ingestor
	streams      []jobs.Stream
	aggregator   *aggregate.Aggregator
	gate         *approval.Gate
	builder      *snapshot.Builder
	engine       *signals.Engine
	ranker       *ranking.Ranker
	decisions    *ranking.DecisionEngine
	outcomes     *ranking.OutcomeTracker
	recalibrator *ops.Recalibrator
	snapshots    *cache.SnapshotCache

	orchestrator *jobs.Orchestrator
	monitor      *monitor.Server
}

// buildApp wires the pipeline from config. dev forces in-memory
// persistence regardless of the database section.
func buildApp(ctx context.Context, cfg *config.Config, dev bool) (*app, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	a := &app{
		cfg:     cfg,
		events:  bus.New(),
		metrics: telemetry.New(),
	}
	a.state = ops.NewState(a.events, cfg.Calibration.Version)

	if err := a.buildPersistence(ctx, dev); err != nil {
		return nil, err
	}

	a.directory = actors.NewDirectory(a.repo.Actors, a.events)
	if path := cfg.Actors.SeedPath; path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := a.directory.SeedFromFile(ctx, path); err != nil {
				return nil, err
			}
		}
	}

	a.buildChains()
	if err := a.buildPipeline(ctx); err != nil {
		return nil, err
	}
	a.buildCache()
	a.buildOrchestration()

	a.monitor = monitor.NewServer(cfg.Monitor, a.repo, a.state, a.metrics, a.events)
	a.addProbes()
	return a, nil
}

func (a *app) buildPersistence(ctx context.Context, dev bool) error {
	if dev || !a.cfg.Database.Enabled {
		a.repo = memory.NewRepository()
		log.Info().Msg("using in-memory persistence")
		return nil
	}

	manager, err := postgres.Open(a.cfg.Database)
	if err != nil {
		return err
	}
	if err := manager.EnsureSchema(ctx); err != nil {
		manager.Close()
		return fmt.Errorf("apply schema: %w", err)
	}
	a.db = manager
	a.repo = postgres.NewRepository(manager)
	log.Info().Msg("using postgres persistence")
	return nil
}

// buildChains constructs one JSON-RPC client and ingestor per enabled chain.
func (a *app) buildChains() {
	for _, ch := range a.cfg.Chains {
		if !ch.Enabled || !a.cfg.Ingest.Enabled {
			continue
		}
		client := chain.NewClient(ch.Name, ch.RPCURLs, chain.ClientConfig{
			Timeout: a.cfg.Ingest.RPCTimeout(),
		})
		adapter := chain.NewEVMAdapter(chain.Config{
			ChainID:      ch.ChainID,
			Name:         ch.Name,
			RPCURLs:      ch.RPCURLs,
			NativeSymbol: ch.NativeSymbol,
			Decimals:     ch.Decimals,
			Explorer:     ch.Explorer,
			MaxLogSpan:   ch.MaxLogSpan,
		}, client)

		ing := ingest.New(ch.Name, adapter, a.repo, a.state, a.cfg.Ingest).WithBus(a.events)
		a.ingestors = append(a.ingestors, ing)
	}

	for _, token := range a.cfg.Ingest.Tokens {
		a.streams = append(a.streams, jobs.Stream{Chain: token.Chain, Token: token.Address})
	}
}

func (a *app) buildPipeline(ctx context.Context) error {
	tracked, err := trackedAddresses(ctx, a.repo.Actors)
	if err != nil {
		return err
	}

	a.aggregator = aggregate.New(a.repo, aggregate.Config{
		Confirmations: a.cfg.Ingest.Confirmations,
		BlockTime:     a.slowestBlockTime(),
	}, tracked)

	a.gate = approval.NewGate(a.repo, approval.Config{
		FlowContinuityGapRatio: a.cfg.Approval.FlowContinuityGapRatio,
	})

	a.builder = snapshot.NewBuilder(a.repo, a.directory, snapshot.Config{
		StabilityThreshold:    a.cfg.Snapshot.StabilityThreshold,
		TopKEntities:          a.cfg.Snapshot.TopKEntities,
		MinActorsCoveragePct:  a.cfg.Snapshot.MinActorsCoveragePct,
		MinActorCount:         a.cfg.Snapshot.MinActorCount,
		ConsumeQuarantined:    a.cfg.Snapshot.ConsumeQuarantined,
		QuarantineCoverageCut: a.cfg.Snapshot.QuarantineCoverageCut,
	})

	manager := lifecycle.NewManager(a.repo, a.events, lifecycle.Config{
		ActivateConfidence:     a.cfg.Lifecycle.ActivateConfidence,
		ResolveBelowConfidence: a.cfg.Lifecycle.ResolveBelowConfidence,
		MaxMisses:              a.cfg.Lifecycle.MaxMisses,
	})

	a.engine = signals.NewEngine(a.repo, manager, signals.Config{
		MaxSignalsPerRun: a.cfg.Signals.MaxSignalsPerRun,
		Thresholds:       detectorThresholds(a.cfg.Signals.Thresholds),
		Confidence: confidence.Config{
			Weights: confidence.Weights{
				Coverage: a.cfg.Confidence.Weights.Coverage,
				Actors:   a.cfg.Confidence.Weights.Actors,
				Flow:     a.cfg.Confidence.Weights.Flow,
				Temporal: a.cfg.Confidence.Weights.Temporal,
				Evidence: a.cfg.Confidence.Weights.Evidence,
			},
			DecayLambda:         a.cfg.Confidence.DecayLambda,
			DecayMinFactor:      a.cfg.Confidence.DecayMinFactor,
			DecayMaxHours:       a.cfg.Confidence.DecayMaxHours,
			ActorGuardMinActors: a.cfg.Confidence.ActorGuardMinActors,
			ActorGuardCap:       a.cfg.Confidence.ActorGuardCap,
			ClusterMinConfirm:   a.cfg.Confidence.ClusterMinConfirm,
			ClusterBoostMax:     a.cfg.Confidence.ClusterBoostMax,
		},
	})

	a.ranker = ranking.NewRanker(ranking.Config{
		FreshnessHorizonHours: a.cfg.Ranking.FreshnessHorizonHours,
		TypeWeights:           typeWeights(a.cfg.Ranking.TypeWeights),
		BucketBuyMin:          a.cfg.Ranking.BucketBuyMin,
		BucketWatchMin:        a.cfg.Ranking.BucketWatchMin,
		TopSignalsLimit:       a.cfg.Ranking.TopSignalsLimit,
		AntiSpamSoftCap:       a.cfg.Ranking.AntiSpamSoftCap,
	})

	a.decisions = ranking.NewDecisionEngine(a.repo, a.state, a.events, ranking.PolicyConfig{
		MinCoverageToTrade:   a.cfg.Policy.MinCoverageToTrade,
		MinEvidenceToTrade:   a.cfg.Policy.MinEvidenceToTrade,
		MaxRiskToTrade:       a.cfg.Policy.MaxRiskToTrade,
		MinDirectionStrength: a.cfg.Policy.MinDirectionStrength,
		DefaultDecisionTTL:   a.cfg.Policy.DecisionTTL(""),
		DecisionTTLs:         decisionTTLs(a.cfg.Policy),
	})

	a.outcomes = ranking.NewOutcomeTracker(a.repo)
	a.recalibrator = ops.NewRecalibrator(a.repo, a.state, a.cfg.Calibration)
	return nil
}

// buildCache picks redis when configured, falling back to the in-process LRU.
func (a *app) buildCache() {
	var store cache.Store
	if addr := a.cfg.Redis.Addr; addr != "" {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		store = cache.NewRedis(a.redis)
		log.Info().Str("addr", addr).Msg("snapshot cache backed by redis")
	} else {
		store = cache.NewLRU(a.cfg.Cache.MaxEntries)
	}

	a.snapshots = cache.NewSnapshotCache(store, a.repo.Snapshots, a.cfg.Cache, func() string {
		return a.state.Snapshot().CalibrationVersion
	})
}

func (a *app) buildOrchestration() {
	locks := jobs.NewLockManager(a.repo.Locks, a.cfg.Jobs.LockTTLSec)
	a.orchestrator = jobs.NewOrchestrator(a.cfg.Jobs, locks, a.repo)
	jobs.RegisterCatalog(a.orchestrator, jobs.PipelineDeps{
		Repo:         a.repo,
		Ingestors:    a.ingestors,
		Aggregator:   a.aggregator,
		Gate:         a.gate,
		Builder:      a.builder,
		Engine:       a.engine,
		Ranker:       a.ranker,
		Decisions:    a.decisions,
		Outcomes:     a.outcomes,
		Recalibrator: a.recalibrator,
		Streams:      a.streams,
	})
}

// addProbes registers startup checks and health probes for the external
// dependencies this process actually holds.
func (a *app) addProbes() {
	if a.db != nil {
		ping := func(ctx context.Context) error { return a.db.Ping(ctx) }
		a.orchestrator.RegisterCheck(jobs.StartupCheck{Name: "postgres", Ping: ping, Hard: true})
		a.monitor.AddProbe(monitor.HealthProbe{Name: "postgres", Ping: ping})
	}
	if a.redis != nil {
		ping := func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
		a.orchestrator.RegisterCheck(jobs.StartupCheck{Name: "redis", Ping: ping, Hard: false})
		a.monitor.AddProbe(monitor.HealthProbe{Name: "redis", Ping: ping})
	}
	for _, ing := range a.ingestors {
		ing := ing
		a.orchestrator.RegisterCheck(jobs.StartupCheck{
			Name: "chain:" + ing.Chain(),
			Ping: func(ctx context.Context) error {
				_, err := ing.Head(ctx)
				return err
			},
			Hard: false,
		})
	}
}

// bootstrapIfNeeded backfills streams with no scan range yet.
func (a *app) bootstrapIfNeeded(ctx context.Context) error {
	for _, ing := range a.ingestors {
		needed, err := ing.NeedsBootstrap(ctx)
		if err != nil {
			return err
		}
		if !needed {
			continue
		}
		log.Info().Str("chain", ing.Chain()).Msg("bootstrapping streams")
		if err := ing.Bootstrap(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// slowestBlockTime keeps the aggregator's close margin safe across chains.
func (a *app) slowestBlockTime() time.Duration {
	slowest := 12 * time.Second
	for _, ch := range a.cfg.Chains {
		if ch.Enabled && time.Duration(ch.BlockTimeSec)*time.Second > slowest {
			slowest = time.Duration(ch.BlockTimeSec) * time.Second
		}
	}
	return slowest
}

func trackedAddresses(ctx context.Context, repo persistence.ActorsRepo) (map[string]bool, error) {
	entries, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]bool)
	for _, actor := range entries {
		for _, addr := range actor.Addresses {
			tracked[addr] = true
		}
	}
	return tracked, nil
}

func detectorThresholds(src map[string]config.DetectorThresholds) map[string]signals.Thresholds {
	out := make(map[string]signals.Thresholds, len(src))
	for tier, t := range src {
		out[tier] = signals.Thresholds{
			MinCorridorDensity:    t.MinCorridorDensity,
			MinCorridorConfidence: t.MinCorridorConfidence,
			HighDensity:           t.HighDensity,
			SpikeRatio:            t.SpikeRatio,
			HighSpikeRatio:        t.HighSpikeRatio,
			MinEventCount:         t.MinEventCount,
			ImbalanceRatio:        t.ImbalanceRatio,
			HighImbalanceRatio:    t.HighImbalanceRatio,
			MinTotalFlowUSD:       t.MinTotalFlowUSD,
			HighNetFlowUSD:        t.HighNetFlowUSD,
			MinTxDeltaPct:         t.MinTxDeltaPct,
			MinActiveDays:         t.MinActiveDays,
			MinSyncScore:          t.MinSyncScore,
			ClusterChangePct:      t.ClusterChangePct,
		}
	}
	return out
}

func typeWeights(src map[string]float64) map[domain.SignalType]float64 {
	out := make(map[domain.SignalType]float64, len(src))
	for name, weight := range src {
		out[domain.SignalType(name)] = weight
	}
	return out
}

func decisionTTLs(p config.PolicyConfig) map[string]time.Duration {
	out := make(map[string]time.Duration, len(p.DecisionTTLsMin))
	for decisionType, minutes := range p.DecisionTTLsMin {
		out[decisionType] = time.Duration(minutes) * time.Minute
	}
	return out
}
