package approval

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Evaluate runs the full catalog over one window and maps the accumulated
// penalty onto a verdict. Any single penalty of 100, or a total of 100 or
// more, rejects; totals of 40 up to 100 quarantine; anything below passes.
func Evaluate(prev, cur *domain.WindowAggregate, cfg Config, now time.Time) domain.ApprovalVerdict {
	verdict := domain.ApprovalVerdict{
		WindowKey:   cur.Key().String(),
		Chain:       cur.Chain,
		Token:       cur.Token,
		Window:      cur.Window,
		WindowStart: cur.WindowStart,
		CreatedAt:   now,
	}

	var hardReject bool
	for _, rule := range Catalog {
		res := rule(prev, cur, cfg)
		if res == nil {
			continue
		}
		verdict.TriggeredRules = append(verdict.TriggeredRules, *res)
		verdict.TotalPenalty += res.Penalty
		if res.Penalty >= 100 {
			hardReject = true
		}
	}

	switch {
	case hardReject || verdict.TotalPenalty >= 100:
		verdict.Verdict = domain.VerdictRejected
	case verdict.TotalPenalty >= 40:
		verdict.Verdict = domain.VerdictQuarantined
	default:
		verdict.Verdict = domain.VerdictApproved
	}
	return verdict
}

// Gate drives the pure rule set over unclassified aggregates and persists
// the verdicts.
type Gate struct {
	repo   *persistence.Repository
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func NewGate(repo *persistence.Repository, cfg Config) *Gate {
	return &Gate{
		repo:   repo,
		cfg:    cfg,
		logger: log.With().Str("component", "approval").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunResult summarizes one gate pass.
type RunResult struct {
	Classified  int
	Approved    int
	Quarantined int
	Rejected    int
	Errors      []error
}

// Run classifies every aggregate still missing a verdict for one window
// label. Each window is classified against its direct predecessor.
func (g *Gate) Run(ctx context.Context, window domain.Window, limit int) (RunResult, error) {
	var res RunResult

	pending, err := g.repo.Aggregates.ListWithoutVerdict(ctx, window, limit)
	if err != nil {
		return res, err
	}

	for _, agg := range pending {
		prev, err := g.repo.Aggregates.Previous(ctx, agg.Key())
		if err != nil && err != persistence.ErrNotFound {
			res.Errors = append(res.Errors, err)
			continue
		}

		verdict := Evaluate(prev, &agg, g.cfg, g.now())
		if err := g.repo.Verdicts.Upsert(ctx, verdict); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}

		res.Classified++
		switch verdict.Verdict {
		case domain.VerdictApproved:
			res.Approved++
		case domain.VerdictQuarantined:
			res.Quarantined++
			g.logger.Warn().
				Str("window_key", verdict.WindowKey).
				Float64("penalty", verdict.TotalPenalty).
				Msg("window quarantined")
		case domain.VerdictRejected:
			res.Rejected++
			g.logger.Warn().
				Str("window_key", verdict.WindowKey).
				Float64("penalty", verdict.TotalPenalty).
				Msg("window rejected")
		}
	}
	return res, nil
}
