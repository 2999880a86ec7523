// Package ranking folds a subject's signals into the Evidence, Direction,
// Risk and Confidence axes and applies the gated decision policy.
package ranking

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Config tunes the ranking fold.
type Config struct {
	// FreshnessHorizonHours is the recency axis: impact decays linearly
	// from 1.0 at zero hours to 0.5 at the horizon. Distinct from the
	// confidence trace's 168h lifecycle decay.
	FreshnessHorizonHours float64
	TypeWeights           map[domain.SignalType]float64
	BucketBuyMin          float64
	BucketWatchMin        float64
	TopSignalsLimit       int
	// AntiSpamSoftCap dampens subjects carrying more signals than this.
	AntiSpamSoftCap int
}

func DefaultConfig() Config {
	return Config{
		FreshnessHorizonHours: 72,
		TypeWeights: map[domain.SignalType]float64{
			domain.SignalNewCorridor:            1.0,
			domain.SignalDensitySpike:           0.9,
			domain.SignalDirectionImbalance:     0.85,
			domain.SignalActorRegimeChange:      0.8,
			domain.SignalNewBridge:              0.9,
			domain.SignalClusterReconfiguration: 0.7,
		},
		BucketBuyMin:    70,
		BucketWatchMin:  45,
		TopSignalsLimit: 10,
		AntiSpamSoftCap: 15,
	}
}

// SubjectState is the per-subject context the ranker folds besides the
// signals themselves.
type SubjectState struct {
	Coverage         float64
	ClusterPassRate  float64
	AvgDominance     float64
	PenaltyRate      float64
	QuarantinedShare float64
	Instability      float64
}

// lifecycleFactor weighs a signal by where it sits in its lifecycle.
func lifecycleFactor(state domain.SignalState) float64 {
	switch state {
	case domain.StateActive:
		return 1.0
	case domain.StateCooldown:
		return 0.7
	case domain.StateResolved:
		return 0.3
	default:
		return 1.0
	}
}

// freshnessFactor decays linearly from 1.0 at zero hours to 0.5 at the
// horizon, flooring there.
func freshnessFactor(ageHours, horizon float64) float64 {
	if horizon <= 0 {
		return 1
	}
	return domain.Clamp(1-0.5*math.Min(ageHours, horizon)/horizon, 0.5, 1)
}

// Ranker computes rankings. Computation for one (subject, window) is
// serialized by the caller; rows are append-only.
type Ranker struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func NewRanker(cfg Config) *Ranker {
	if cfg.TopSignalsLimit <= 0 {
		cfg.TopSignalsLimit = 10
	}
	return &Ranker{
		cfg:    cfg,
		logger: log.With().Str("component", "ranking").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

// Compute folds the signal set into one ranking row. Pure except for the
// clock.
func (r *Ranker) Compute(kind domain.SubjectKind, subjectID string, window domain.Window, signals []domain.Signal, state SubjectState) domain.Ranking {
	now := r.now()

	rank := domain.Ranking{
		SubjectKind:     kind,
		SubjectID:       subjectID,
		Window:          window,
		Coverage:        state.Coverage,
		ClusterPassRate: state.ClusterPassRate,
		AvgDominance:    state.AvgDominance,
		PenaltyRate:     state.PenaltyRate,
		ComputedAt:      now,
	}

	clusterFactor := domain.Clamp(0.8+0.2*state.ClusterPassRate, 0.8, 1.0)
	penaltyFactor := domain.Clamp(1-state.PenaltyRate*0.5, 0.5, 1.0)
	antiSpamFactor := 1.0
	if r.cfg.AntiSpamSoftCap > 0 && len(signals) > r.cfg.AntiSpamSoftCap {
		antiSpamFactor = float64(r.cfg.AntiSpamSoftCap) / float64(len(signals))
	}

	var totalImpact, directedImpact float64
	var lifecycleSum, freshnessSum, ageSum float64
	var refs []domain.RankedSignalRef

	for _, sig := range signals {
		lf := lifecycleFactor(sig.State)
		age := math.Max(0, now.Sub(sig.LastTriggeredAt).Hours())
		ff := freshnessFactor(age, r.cfg.FreshnessHorizonHours)
		weight, ok := r.cfg.TypeWeights[sig.Type]
		if !ok {
			weight = 0.7
		}

		impact := domain.Clamp01(sig.Confidence/100) * weight * lf * ff * clusterFactor * penaltyFactor

		totalImpact += impact
		directedImpact += impact * sig.Direction.Signed()
		lifecycleSum += lf
		freshnessSum += ff
		ageSum += age

		switch sig.State {
		case domain.StateActive:
			rank.LifecycleMix.Active++
			rank.ActiveSignals++
		case domain.StateCooldown:
			rank.LifecycleMix.Cooldown++
		case domain.StateResolved:
			rank.LifecycleMix.Resolved++
		}

		refs = append(refs, domain.RankedSignalRef{SignalID: sig.ID, Type: sig.Type, Impact: impact})
	}

	n := float64(len(signals))
	if n > 0 {
		rank.AvgSignalAgeHours = ageSum / n
		rank.FreshnessFactor = freshnessSum / n
		rank.Trace.AvgLifecycleFactor = lifecycleSum / n
		rank.Trace.AvgFreshnessFactor = freshnessSum / n
	}

	rank.Evidence = domain.Round(math.Min(1, totalImpact*antiSpamFactor*1.25) * 100)
	if totalImpact > 0 {
		rank.Direction = domain.Round(domain.Clamp(directedImpact/math.Max(totalImpact, 1e-9), -1, 1) * 100)
	}
	// Risk blends penalty rate (50%), quarantine share (30%) and snapshot
	// instability (20%), scaled 0..100.
	rank.Risk = domain.Round(domain.Clamp(
		state.PenaltyRate*50+state.QuarantinedShare*30+state.Instability*20, 0, 100))
	rank.Confidence = domain.Round(domain.Clamp(
		rank.Evidence*0.6+state.Coverage*0.4, 0, 100))

	rank.Trace.BaseEvidence = rank.Evidence
	rank.Trace.ClusterFactor = clusterFactor
	rank.Trace.PenaltyFactor = penaltyFactor
	rank.Trace.AntiSpamFactor = antiSpamFactor

	score := rank.Evidence * (0.5 + 0.5*math.Abs(rank.Direction)/100)
	score *= 1 - rank.Risk/200 // full risk halves the score
	rank.RankScore = domain.Round(domain.Clamp(score, 0, 100))
	rank.Trace.ScoreRaw = score

	switch {
	case rank.RankScore >= r.cfg.BucketBuyMin && rank.Direction > 0:
		rank.Bucket = domain.BucketBuy
	case rank.RankScore >= r.cfg.BucketBuyMin && rank.Direction < 0:
		rank.Bucket = domain.BucketSell
	case rank.RankScore >= r.cfg.BucketWatchMin:
		rank.Bucket = domain.BucketWatch
	default:
		rank.Bucket = domain.BucketNeutral
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Impact > refs[j].Impact })
	if len(refs) > r.cfg.TopSignalsLimit {
		refs = refs[:r.cfg.TopSignalsLimit]
	}
	rank.TopSignals = refs
	return rank
}

// RankSubjects computes and persists a ranking for every subject carrying
// live signals in a window.
func (r *Ranker) RankSubjects(ctx context.Context, repo *persistence.Repository, window domain.Window) (int, []error) {
	live, err := repo.Signals.ListByStates(ctx, window,
		[]domain.SignalState{domain.StateNew, domain.StateActive, domain.StateCooldown, domain.StateResolved})
	if err != nil {
		return 0, []error{err}
	}

	bySubject := make(map[domain.SubjectKey][]domain.Signal)
	for _, sig := range live {
		bySubject[sig.SubjectKey] = append(bySubject[sig.SubjectKey], sig)
	}

	subjects := make([]domain.SubjectKey, 0, len(bySubject))
	for k := range bySubject {
		subjects = append(subjects, k)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i] < subjects[j] })

	var ranked int
	var errs []error
	for _, subject := range subjects {
		kind, id, err := subject.Parse()
		if err != nil {
			errs = append(errs, err)
			continue
		}

		state, err := r.subjectState(ctx, repo, kind, id, window)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		rank := r.Compute(kind, id, window, bySubject[subject], state)
		if err := repo.Rankings.Insert(ctx, rank); err != nil {
			errs = append(errs, err)
			continue
		}
		ranked++
	}
	return ranked, errs
}

// subjectState derives the risk-side context from the latest snapshot and
// the recent verdict distribution.
func (r *Ranker) subjectState(ctx context.Context, repo *persistence.Repository, kind domain.SubjectKind, id string, window domain.Window) (SubjectState, error) {
	state := SubjectState{ClusterPassRate: 1}

	if kind == domain.SubjectEntity {
		chain, token, ok := splitEntityID(id)
		if ok {
			snap, err := repo.Snapshots.Latest(ctx, chain, token, window)
			if err == nil {
				state.Coverage = snap.Coverage.ActorsPct
				state.QuarantinedShare = snap.Stats.QuarantinedShare
				state.Instability = domain.Clamp01(snap.Stability.DeltaFromPrev)
			} else if err != persistence.ErrNotFound {
				return state, err
			}
		}
	}

	now := r.now()
	counts, err := repo.Verdicts.CountByClass(ctx, persistence.TimeRange{From: now.Add(-7 * 24 * time.Hour), To: now})
	if err != nil {
		return state, err
	}
	total := counts[domain.VerdictApproved] + counts[domain.VerdictQuarantined] + counts[domain.VerdictRejected]
	if total > 0 {
		state.PenaltyRate = float64(counts[domain.VerdictQuarantined]+counts[domain.VerdictRejected]) / float64(total)
	}
	return state, nil
}

func splitEntityID(id string) (chain, token string, ok bool) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i], id[i+1:], true
		}
	}
	return "", "", false
}
