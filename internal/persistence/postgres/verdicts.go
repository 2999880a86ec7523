package postgres

import (
	"context"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// VerdictsRepo stores approval gate output.
type VerdictsRepo struct {
	m *Manager
}

type verdictRow struct {
	WindowKey    string    `db:"window_key"`
	Chain        string    `db:"chain"`
	Token        string    `db:"token"`
	Window       string    `db:"window"`
	WindowStart  time.Time `db:"window_start"`
	Verdict      string    `db:"verdict"`
	Rules        []byte    `db:"triggered_rules"`
	TotalPenalty float64   `db:"total_penalty"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r verdictRow) toDomain() (domain.ApprovalVerdict, error) {
	verdict := domain.ApprovalVerdict{
		WindowKey:    r.WindowKey,
		Chain:        r.Chain,
		Token:        r.Token,
		Window:       domain.Window(r.Window),
		WindowStart:  r.WindowStart.UTC(),
		Verdict:      domain.ApprovalClass(r.Verdict),
		TotalPenalty: r.TotalPenalty,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if len(r.Rules) > 0 {
		if err := unmarshalDoc(r.Rules, &verdict.TriggeredRules); err != nil {
			return verdict, err
		}
	}
	return verdict, nil
}

const verdictColumns = `window_key, chain, token, window, window_start, verdict, triggered_rules, total_penalty, created_at`

func (r *VerdictsRepo) Upsert(ctx context.Context, verdict domain.ApprovalVerdict) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	rules, err := marshalDoc(verdict.TriggeredRules)
	if err != nil {
		return err
	}
	_, err = r.m.db.ExecContext(ctx, `
INSERT INTO approval_verdicts (`+verdictColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (window_key) DO UPDATE SET
    verdict = EXCLUDED.verdict,
    triggered_rules = EXCLUDED.triggered_rules,
    total_penalty = EXCLUDED.total_penalty,
    created_at = EXCLUDED.created_at`,
		verdict.WindowKey, verdict.Chain, verdict.Token, string(verdict.Window),
		verdict.WindowStart.UTC(), string(verdict.Verdict), rules,
		verdict.TotalPenalty, verdict.CreatedAt.UTC())
	return err
}

func (r *VerdictsRepo) Get(ctx context.Context, windowKey string) (*domain.ApprovalVerdict, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var row verdictRow
	err := r.m.db.GetContext(ctx, &row, `
SELECT `+verdictColumns+` FROM approval_verdicts WHERE window_key = $1`, windowKey)
	if err != nil {
		return nil, mapNotFound(err)
	}
	verdict, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

func (r *VerdictsRepo) ListByClass(ctx context.Context, class domain.ApprovalClass, tr persistence.TimeRange, limit int) ([]domain.ApprovalVerdict, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []verdictRow
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT `+verdictColumns+` FROM approval_verdicts
WHERE verdict = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
LIMIT $4`, string(class), tr.From.UTC(), tr.To.UTC(), limit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ApprovalVerdict, 0, len(rows))
	for _, row := range rows {
		verdict, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, verdict)
	}
	return out, nil
}

func (r *VerdictsRepo) CountByClass(ctx context.Context, tr persistence.TimeRange) (map[domain.ApprovalClass]int64, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []struct {
		Verdict string `db:"verdict"`
		Count   int64  `db:"count"`
	}
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT verdict, count(*) AS count FROM approval_verdicts
WHERE created_at >= $1 AND created_at < $2
GROUP BY verdict`, tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.ApprovalClass]int64, len(rows))
	for _, row := range rows {
		counts[domain.ApprovalClass(row.Verdict)] = row.Count
	}
	return counts, nil
}
