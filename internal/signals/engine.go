package signals

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/confidence"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/lifecycle"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Config tunes the engine.
type Config struct {
	MaxSignalsPerRun int
	// Thresholds per window tier ("1h", "24h", "7d", "30d").
	Thresholds map[string]Thresholds
	Confidence confidence.Config
}

// Engine evaluates the catalog against viable snapshots, scores the hits
// and hands everything to the lifecycle manager. It is deterministic for a
// fixed snapshot pair.
type Engine struct {
	repo    *persistence.Repository
	manager *lifecycle.Manager
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

func NewEngine(repo *persistence.Repository, manager *lifecycle.Manager, cfg Config) *Engine {
	if cfg.MaxSignalsPerRun <= 0 {
		cfg.MaxSignalsPerRun = 50
	}
	return &Engine{
		repo:    repo,
		manager: manager,
		cfg:     cfg,
		logger:  log.With().Str("component", "signals").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RunResult summarizes one engine pass.
type RunResult struct {
	Candidates int
	Emitted    int
	Dropped    int
	Missed     int
	Errors     []error
}

// thresholdsFor picks the tier for a window, falling back to 24h.
func (e *Engine) thresholdsFor(w domain.Window) Thresholds {
	if th, ok := e.cfg.Thresholds[string(w)]; ok {
		return th
	}
	return e.cfg.Thresholds["24h"]
}

// Evaluate runs the catalog over one snapshot pair without touching
// persistence. Exposed for tests and the scan CLI.
func Evaluate(cur, prev *domain.Snapshot, th Thresholds) ([]Candidate, []error) {
	var candidates []Candidate
	var errs []error
	for _, t := range catalogOrder {
		found, detErrs := Catalog[t](cur, prev, th)
		candidates = append(candidates, found...)
		errs = append(errs, detErrs...)
	}
	return candidates, errs
}

// Run evaluates one snapshot against its predecessor: every candidate is
// scored and emitted (refreshing existing signals), and live signals whose
// detector went quiet take a missed tick with decay-only confidence.
func (e *Engine) Run(ctx context.Context, cur *domain.Snapshot) (RunResult, error) {
	var res RunResult
	if cur == nil || !cur.IsViable {
		return res, nil
	}

	prev, err := e.repo.Snapshots.PreviousBefore(ctx, cur.Chain, cur.Token, cur.Window, cur.SnapshotAt)
	if err != nil && err != persistence.ErrNotFound {
		return res, err
	}

	th := e.thresholdsFor(cur.Window)
	candidates, errs := Evaluate(cur, prev, th)
	res.Errors = append(res.Errors, errs...)
	res.Candidates = len(candidates)

	scored := e.score(cur, candidates)

	// Budget excess signals out, lowest severity x confidence first.
	if len(scored) > e.cfg.MaxSignalsPerRun {
		sort.SliceStable(scored, func(i, j int) bool {
			si := float64(scored[i].Signal.Severity.Rank()) * scored[i].Trace.FinalScore
			sj := float64(scored[j].Signal.Severity.Rank()) * scored[j].Trace.FinalScore
			return si > sj
		})
		res.Dropped = len(scored) - e.cfg.MaxSignalsPerRun
		scored = scored[:e.cfg.MaxSignalsPerRun]
	}

	emitted := make(map[string]struct{}, len(scored))
	for _, em := range scored {
		if _, err := e.manager.RecordEmission(ctx, em); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		emitted[em.Signal.ID] = struct{}{}
		res.Emitted++
	}

	missed, missErrs := e.tickMissed(ctx, cur, emitted)
	res.Missed = missed
	res.Errors = append(res.Errors, missErrs...)

	e.logger.Debug().
		Str("chain", cur.Chain).
		Str("token", cur.Token).
		Str("window", string(cur.Window)).
		Int("candidates", res.Candidates).
		Int("emitted", res.Emitted).
		Int("missed", res.Missed).
		Msg("detector pass complete")
	return res, nil
}

// score runs the confidence pass over every candidate.
func (e *Engine) score(cur *domain.Snapshot, candidates []Candidate) []lifecycle.Emission {
	now := e.now()
	out := make([]lifecycle.Emission, 0, len(candidates))

	clusters := make(map[string]map[string]struct{})
	for _, c := range candidates {
		for _, a := range c.Actors {
			if a.ClusterID == "" {
				continue
			}
			subj := c.Subject.String()
			if clusters[subj] == nil {
				clusters[subj] = make(map[string]struct{})
			}
			clusters[subj][a.ClusterID] = struct{}{}
		}
	}

	for _, c := range candidates {
		trace := confidence.Compute(confidence.Inputs{
			SnapshotCoverage:     cur.Coverage.ActorsPct,
			Actors:               c.Actors,
			FlowScore:            c.FlowScore,
			PatternInBothWindows: c.PatternInBothWindows,
			EvidenceMetricCount:  len(c.Metrics),
			LastTriggeredAt:      now,
			Now:                  now,
			IndependentClusters:  len(clusters[c.Subject.String()]),
		}, e.cfg.Confidence)
		trace.CreatedAt = now

		sig := domain.Signal{
			ID:               domain.SignalID(c.Type, c.Subject, cur.Window),
			Type:             c.Type,
			SubjectKey:       c.Subject,
			Window:           cur.Window,
			Severity:         c.Severity,
			Confidence:       trace.FinalScore,
			ConfidenceLabel:  trace.Label,
			Direction:        c.Direction,
			PrimaryActorID:   c.PrimaryActorID,
			SecondaryActorID: c.SecondaryActorID,
			EntityIDs:        c.EntityIDs,
			Evidence:         c.Evidence,
			Metrics:          c.Metrics,
		}
		out = append(out, lifecycle.Emission{Signal: sig, Trace: trace})
	}
	return out
}

// tickMissed advances live signals for this stream that did not re-fire.
func (e *Engine) tickMissed(ctx context.Context, cur *domain.Snapshot, emitted map[string]struct{}) (int, []error) {
	var errs []error
	live, err := e.repo.Signals.ListByStates(ctx, cur.Window,
		[]domain.SignalState{domain.StateNew, domain.StateActive, domain.StateCooldown})
	if err != nil {
		return 0, []error{err}
	}

	streamSubject := cur.SubjectKey()
	now := e.now()
	var missed int
	for _, sig := range live {
		if _, ok := emitted[sig.ID]; ok {
			continue
		}
		if !e.belongsToStream(sig, streamSubject, cur) {
			continue
		}

		// Decay-only confidence from the last trigger.
		factor, _ := confidence.DecayFactor(sig.LastTriggeredAt, now, e.cfg.Confidence)
		decayed := domain.Round(sig.Confidence * factor)

		if _, err := e.manager.TickMissed(ctx, sig.ID, decayed); err != nil {
			errs = append(errs, err)
			continue
		}
		missed++
	}
	return missed, errs
}

// belongsToStream ties actor- and entity-subject signals back to the
// snapshot stream that produced them.
func (e *Engine) belongsToStream(sig domain.Signal, streamSubject domain.SubjectKey, cur *domain.Snapshot) bool {
	if sig.SubjectKey == streamSubject {
		return true
	}
	kind, id, err := sig.SubjectKey.Parse()
	if err != nil || kind == domain.SubjectEntity {
		return false
	}
	for _, a := range cur.Actors {
		if a.ActorID == id || a.ClusterID == id {
			return true
		}
	}
	// The actor left the snapshot entirely; that is still a miss.
	return sig.PrimaryActorID != "" && actorByID(cur, sig.PrimaryActorID) == nil
}
