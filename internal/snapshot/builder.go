// Package snapshot turns approved window aggregates plus their raw events
// into the immutable summaries every detector reads.
package snapshot

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/actors"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Config tunes coverage, stability and viability.
type Config struct {
	StabilityThreshold    float64
	TopKEntities          int
	MinActorsCoveragePct  float64
	MinActorCount         int
	ConsumeQuarantined    bool
	QuarantineCoverageCut float64
}

// Builder assembles snapshots. It never mutates a stored snapshot; rebuilds
// of the same inputs reproduce the same content hash.
type Builder struct {
	repo      *persistence.Repository
	directory *actors.Directory
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

func NewBuilder(repo *persistence.Repository, directory *actors.Directory, cfg Config) *Builder {
	if cfg.TopKEntities <= 0 {
		cfg.TopKEntities = 50
	}
	return &Builder{
		repo:      repo,
		directory: directory,
		cfg:       cfg,
		logger:    log.With().Str("component", "snapshot").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build produces and persists the snapshot for one aggregate row, keyed by
// its window and the build instant. Rejected windows are skipped; a
// quarantined window is consumed only when configured, with a coverage
// haircut and a warning marker.
func (b *Builder) Build(ctx context.Context, agg domain.WindowAggregate) (*domain.Snapshot, error) {
	verdict, err := b.repo.Verdicts.Get(ctx, agg.Key().String())
	if err == persistence.ErrNotFound {
		return nil, fmt.Errorf("window %s has no verdict", agg.Key())
	}
	if err != nil {
		return nil, err
	}

	var warnings []string
	quarantined := false
	switch verdict.Verdict {
	case domain.VerdictRejected:
		return nil, nil
	case domain.VerdictQuarantined:
		if !b.cfg.ConsumeQuarantined {
			return nil, nil
		}
		quarantined = true
		for _, r := range verdict.TriggeredRules {
			warnings = append(warnings, fmt.Sprintf("%s: %s", r.Name, r.Reason))
		}
	}

	events, err := b.collect(ctx, agg)
	if err != nil {
		return nil, err
	}

	snap, err := b.assemble(ctx, agg, events, quarantined)
	if err != nil {
		return nil, err
	}
	snap.Warnings = warnings
	snap.SnapshotAt = b.now()
	snap.ID = domain.StableID("snapshot", agg.Key().String(), snap.SnapshotAt.Format(time.RFC3339Nano))

	prev, err := b.repo.Snapshots.PreviousBefore(ctx, agg.Chain, agg.Token, agg.Window, snap.SnapshotAt)
	if err != nil && err != persistence.ErrNotFound {
		return nil, err
	}
	b.finishStability(snap, prev)
	b.finishViability(snap)

	if err := b.repo.Snapshots.Insert(ctx, *snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	b.logger.Debug().
		Str("chain", snap.Chain).
		Str("token", snap.Token).
		Str("window", string(snap.Window)).
		Bool("viable", snap.IsViable).
		Float64("actors_pct", snap.Coverage.ActorsPct).
		Msg("snapshot built")
	return snap, nil
}

func (b *Builder) collect(ctx context.Context, agg domain.WindowAggregate) ([]domain.TransferEvent, error) {
	iter, err := b.repo.Events.OpenRange(ctx, agg.Chain, agg.Token,
		persistence.TimeRange{From: agg.WindowStart, To: agg.WindowEnd}, 500)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []domain.TransferEvent
	for {
		batch, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return events, nil
		}
		events = append(events, batch...)
	}
}

type actorAccum struct {
	actor    domain.Actor
	txCount  int64
	inflow   *big.Int
	outflow  *big.Int
	peers    map[string]struct{}
	daysSeen map[string]struct{}
}

// assemble folds raw events into actor footprints and corridor edges.
func (b *Builder) assemble(ctx context.Context, agg domain.WindowAggregate, events []domain.TransferEvent, quarantined bool) (*domain.Snapshot, error) {
	resolver := b.directory.NewResolver()

	actorsAcc := make(map[string]*actorAccum)
	edges := make(map[[2]string]*domain.SnapshotEdge)
	totalFlow := big.NewInt(0)
	var totalUSD, netUSD float64
	var identifiedTransfers int64

	touch := func(a domain.Actor) *actorAccum {
		acc, ok := actorsAcc[a.ActorID]
		if !ok {
			acc = &actorAccum{
				actor:    a,
				inflow:   big.NewInt(0),
				outflow:  big.NewInt(0),
				peers:    make(map[string]struct{}),
				daysSeen: make(map[string]struct{}),
			}
			actorsAcc[a.ActorID] = acc
		}
		return acc
	}

	for _, e := range events {
		amount, err := e.Amount.BigInt()
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", e.Key(), err)
		}

		from, err := resolver.Resolve(ctx, e.From)
		if err != nil {
			return nil, err
		}
		to, err := resolver.Resolve(ctx, e.To)
		if err != nil {
			return nil, err
		}

		sender := touch(from)
		sender.txCount++
		sender.outflow.Add(sender.outflow, amount)
		sender.peers[to.ActorID] = struct{}{}
		sender.daysSeen[e.Timestamp.UTC().Format("2006-01-02")] = struct{}{}

		receiver := touch(to)
		receiver.txCount++
		receiver.inflow.Add(receiver.inflow, amount)
		receiver.peers[from.ActorID] = struct{}{}
		receiver.daysSeen[e.Timestamp.UTC().Format("2006-01-02")] = struct{}{}

		key := [2]string{from.ActorID, to.ActorID}
		edge, ok := edges[key]
		if !ok {
			edge = &domain.SnapshotEdge{From: from.ActorID, To: to.ActorID, Amount: domain.ZeroFlow}
			edges[key] = edge
		}
		edge.Transfers++
		sum, err := edge.Amount.Add(e.Amount)
		if err != nil {
			return nil, err
		}
		edge.Amount = sum
		edge.USDVolume += e.USDValue

		totalFlow.Add(totalFlow, amount)
		totalUSD += e.USDValue
		if to.SourceLevel != domain.SourceBehavioral {
			netUSD += e.USDValue
		}
		if from.SourceLevel != domain.SourceBehavioral {
			netUSD -= e.USDValue
		}
		if from.SourceLevel != domain.SourceBehavioral || to.SourceLevel != domain.SourceBehavioral {
			identifiedTransfers++
		}
	}

	snap := &domain.Snapshot{
		Chain:       agg.Chain,
		Token:       agg.Token,
		Window:      agg.Window,
		WindowStart: agg.WindowStart,
	}

	var knownActors int
	var knownEdges int
	totalFlowF := new(big.Float).SetInt(totalFlow)

	for _, acc := range actorsAcc {
		flowTotal := new(big.Int).Add(acc.inflow, acc.outflow)
		share := 0.0
		if totalFlow.Sign() > 0 {
			shareF, _ := new(big.Float).Quo(new(big.Float).SetInt(flowTotal), totalFlowF).Float64()
			// Each event contributes its amount to both endpoints.
			share = domain.Clamp01(shareF / 2)
		}
		sa := domain.SnapshotActor{
			ActorID:       acc.actor.ActorID,
			Name:          acc.actor.Name,
			ActorType:     acc.actor.ActorType,
			SourceLevel:   acc.actor.SourceLevel,
			Coverage:      acc.actor.Coverage,
			TxCount:       acc.txCount,
			InflowAmount:  domain.FlowFromBig(acc.inflow),
			OutflowAmount: domain.FlowFromBig(acc.outflow),
			FlowShare:     share,
			Connectivity:  len(acc.peers),
			ActiveDays:    len(acc.daysSeen),
			ClusterID:     acc.actor.ClusterID,
		}
		if sa.SourceLevel != domain.SourceBehavioral {
			knownActors++
		}
		snap.Actors = append(snap.Actors, sa)
	}
	sort.Slice(snap.Actors, func(i, j int) bool { return snap.Actors[i].ActorID < snap.Actors[j].ActorID })

	for _, e := range edges {
		snap.Edges = append(snap.Edges, *e)
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].From != snap.Edges[j].From {
			return snap.Edges[i].From < snap.Edges[j].From
		}
		return snap.Edges[i].To < snap.Edges[j].To
	})
	for _, e := range snap.Edges {
		if !isBehavioralID(e.From) && !isBehavioralID(e.To) {
			knownEdges++
		}
	}

	snap.Stats = domain.SnapshotStats{
		EventCount:   agg.EventCount,
		ActorCount:   len(snap.Actors),
		EdgeCount:    len(snap.Edges),
		TotalFlowUSD: totalUSD,
		NetFlowUSD:   netUSD,
	}
	if quarantined {
		snap.Stats.QuarantinedShare = 1
	}

	snap.Coverage = domain.Coverage{
		ActorsPct:    pct(knownActors, len(snap.Actors)),
		EdgesPct:     pct(knownEdges, len(snap.Edges)),
		TransfersPct: pct64(identifiedTransfers, agg.EventCount),
	}
	if quarantined {
		snap.Coverage.ActorsPct = domain.Clamp(snap.Coverage.ActorsPct-b.cfg.QuarantineCoverageCut, 0, 100)
		snap.Coverage.EdgesPct = domain.Clamp(snap.Coverage.EdgesPct-b.cfg.QuarantineCoverageCut, 0, 100)
		snap.Coverage.TransfersPct = domain.Clamp(snap.Coverage.TransfersPct-b.cfg.QuarantineCoverageCut, 0, 100)
	}
	return snap, nil
}

func isBehavioralID(id string) bool {
	return len(id) > 11 && id[:11] == "behavioral:"
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return domain.Clamp(float64(part)/float64(total)*100, 0, 100)
}

func pct64(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return domain.Clamp(float64(part)/float64(total)*100, 0, 100)
}

// finishStability hashes the sorted entity lines and compares the top-K
// entity set against the previous snapshot.
func (b *Builder) finishStability(snap, prev *domain.Snapshot) {
	lines := make([]string, 0, len(snap.Actors)+len(snap.Edges))
	for _, a := range snap.Actors {
		lines = append(lines, fmt.Sprintf("actor|%s|%d|%s|%s", a.ActorID, a.TxCount, a.InflowAmount, a.OutflowAmount))
	}
	for _, e := range snap.Edges {
		lines = append(lines, fmt.Sprintf("edge|%s|%s|%d|%s", e.From, e.To, e.Transfers, e.Amount))
	}
	snap.Stability.Hash = domain.ContentHash(lines)

	if prev == nil {
		snap.Stability.DeltaFromPrev = 0
		snap.Stability.IsStable = true
	} else {
		snap.Stability.DeltaFromPrev = domain.JaccardDelta(
			topEntities(snap, b.cfg.TopKEntities),
			topEntities(prev, b.cfg.TopKEntities),
		)
		snap.Stability.IsStable = snap.Stability.DeltaFromPrev < b.cfg.StabilityThreshold
	}

	switch {
	case snap.Coverage.ActorsPct >= 70:
		snap.Stability.Quality = domain.QualityHigh
	case snap.Coverage.ActorsPct >= 50:
		snap.Stability.Quality = domain.QualityMedium
	default:
		snap.Stability.Quality = domain.QualityLow
	}
}

func (b *Builder) finishViability(snap *domain.Snapshot) {
	snap.IsViable = snap.Coverage.ActorsPct >= b.cfg.MinActorsCoveragePct &&
		snap.Stats.ActorCount >= b.cfg.MinActorCount
}

// topEntities returns the K highest-volume actor ids plus edge corridors.
func topEntities(snap *domain.Snapshot, k int) []string {
	type ranked struct {
		id string
		tx int64
	}
	entities := make([]ranked, 0, len(snap.Actors)+len(snap.Edges))
	for _, a := range snap.Actors {
		entities = append(entities, ranked{id: "a:" + a.ActorID, tx: a.TxCount})
	}
	for _, e := range snap.Edges {
		entities = append(entities, ranked{id: "e:" + e.From + ">" + e.To, tx: e.Transfers})
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].tx != entities[j].tx {
			return entities[i].tx > entities[j].tx
		}
		return entities[i].id < entities[j].id
	})
	if len(entities) > k {
		entities = entities[:k]
	}
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.id
	}
	return out
}

// BuildPending builds snapshots for every verdict-classified aggregate in a
// window that has no snapshot yet, newest first.
func (b *Builder) BuildPending(ctx context.Context, window domain.Window, lookback time.Duration, limit int) (int, []error) {
	var built int
	var errs []error

	now := b.now()
	verdicts, err := b.listConsumable(ctx, window, persistence.TimeRange{From: now.Add(-lookback), To: now}, limit)
	if err != nil {
		return 0, []error{err}
	}

	for _, v := range verdicts {
		agg, err := b.repo.Aggregates.Get(ctx, domain.AggregateKey{
			Chain: v.Chain, Token: v.Token, Window: v.Window, WindowStart: v.WindowStart,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("aggregate for %s: %w", v.WindowKey, err))
			continue
		}

		latest, err := b.repo.Snapshots.Latest(ctx, v.Chain, v.Token, v.Window)
		if err != nil && err != persistence.ErrNotFound {
			errs = append(errs, err)
			continue
		}
		if latest != nil && !latest.WindowStart.Before(v.WindowStart) {
			continue // already snapshotted
		}

		if _, err := b.Build(ctx, *agg); err != nil {
			errs = append(errs, err)
		} else {
			built++
		}
	}
	return built, errs
}

func (b *Builder) listConsumable(ctx context.Context, window domain.Window, tr persistence.TimeRange, limit int) ([]domain.ApprovalVerdict, error) {
	verdicts, err := b.repo.Verdicts.ListByClass(ctx, domain.VerdictApproved, tr, limit)
	if err != nil {
		return nil, err
	}
	if b.cfg.ConsumeQuarantined {
		quarantined, err := b.repo.Verdicts.ListByClass(ctx, domain.VerdictQuarantined, tr, limit)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, quarantined...)
	}
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].WindowStart.Before(verdicts[j].WindowStart) })
	out := verdicts[:0]
	for _, v := range verdicts {
		if v.Window == window {
			out = append(out, v)
		}
	}
	return out, nil
}
