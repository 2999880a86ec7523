package ranking

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// OutcomeTracker audits expired decisions against what the flows then
// did. Rows are append-only and idempotent per decision.
type OutcomeTracker struct {
	repo   *persistence.Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewOutcomeTracker(repo *persistence.Repository) *OutcomeTracker {
	return &OutcomeTracker{
		repo:   repo,
		logger: log.With().Str("component", "outcomes").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (t *OutcomeTracker) WithClock(now func() time.Time) *OutcomeTracker {
	t.now = now
	return t
}

// Evaluate records an outcome for every decision past its TTL that has
// none yet. The decision's direction is compared against the net flow of
// the window its TTL expired into.
func (t *OutcomeTracker) Evaluate(ctx context.Context, limit int) (int, []error) {
	now := t.now()
	expired, err := t.repo.Decisions.ListExpiredUnevaluated(ctx, now, limit)
	if err != nil {
		return 0, []error{err}
	}

	var recorded int
	var errs []error
	for _, d := range expired {
		sign, err := t.netFlowSign(ctx, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		outcome := domain.Outcome{
			DecisionID:  d.ID,
			SubjectKind: d.SubjectKind,
			SubjectID:   d.SubjectID,
			Window:      d.Window,
			Action:      d.Action,
			Agreement:   agreementFor(d.Action, sign),
			NetFlowSign: sign,
			EvaluatedAt: now,
		}
		if err := t.repo.Outcomes.Insert(ctx, outcome); err != nil {
			errs = append(errs, err)
			continue
		}
		recorded++
	}

	if recorded > 0 {
		t.logger.Info().Int("recorded", recorded).Msg("decision outcomes evaluated")
	}
	return recorded, errs
}

// netFlowSign reads the sign of the subject's aggregate for the window
// the decision expired into. A missing aggregate counts as flat.
func (t *OutcomeTracker) netFlowSign(ctx context.Context, d domain.Decision) (int, error) {
	chain, token, ok := splitEntityID(d.SubjectID)
	if !ok {
		return 0, nil // actor and cluster subjects have no single flow stream
	}

	agg, err := t.repo.Aggregates.Get(ctx, domain.AggregateKey{
		Chain:       chain,
		Token:       token,
		Window:      d.Window,
		WindowStart: d.Window.AlignStart(d.ExpiresAt),
	})
	if err == persistence.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return agg.NetFlowAmount.Sign()
}

// agreementFor maps a decision direction onto the observed flow sign.
func agreementFor(action domain.DecisionAction, sign int) domain.OutcomeAgreement {
	switch {
	case sign == 0 || action == domain.ActionNeutral:
		return domain.OutcomeFlat
	case action == domain.ActionBuy && sign > 0,
		action == domain.ActionSell && sign < 0:
		return domain.OutcomeConfirmed
	default:
		return domain.OutcomeContradicted
	}
}
