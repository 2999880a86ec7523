package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// RankingsRepo stores append-only ranking rows.
type RankingsRepo struct {
	m *Manager
}

func (r *RankingsRepo) Insert(ctx context.Context, ranking domain.Ranking) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	doc, err := marshalDoc(ranking)
	if err != nil {
		return err
	}
	_, err = r.m.db.ExecContext(ctx, `
INSERT INTO rankings (subject_kind, subject_id, window, rank_score, computed_at, doc)
VALUES ($1, $2, $3, $4, $5, $6)`,
		string(ranking.SubjectKind), ranking.SubjectID, string(ranking.Window),
		ranking.RankScore, ranking.ComputedAt.UTC(), doc)
	return err
}

func (r *RankingsRepo) Latest(ctx context.Context, kind domain.SubjectKind, subjectID string, window domain.Window) (*domain.Ranking, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var doc []byte
	err := r.m.db.GetContext(ctx, &doc, `
SELECT doc FROM rankings
WHERE subject_kind = $1 AND subject_id = $2 AND window = $3
ORDER BY computed_at DESC
LIMIT 1`, string(kind), subjectID, string(window))
	if err != nil {
		return nil, mapNotFound(err)
	}
	var ranking domain.Ranking
	if err := unmarshalDoc(doc, &ranking); err != nil {
		return nil, err
	}
	return &ranking, nil
}

// Top picks each subject's newest row, then orders by score.
func (r *RankingsRepo) Top(ctx context.Context, window domain.Window, limit int) ([]domain.Ranking, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var docs [][]byte
	err := r.m.db.SelectContext(ctx, &docs, `
SELECT DISTINCT ON (subject_kind, subject_id) doc
FROM rankings
WHERE window = $1
ORDER BY subject_kind, subject_id, computed_at DESC`, string(window))
	if err != nil {
		return nil, err
	}

	out := make([]domain.Ranking, 0, len(docs))
	for _, doc := range docs {
		var ranking domain.Ranking
		if err := unmarshalDoc(doc, &ranking); err != nil {
			return nil, err
		}
		out = append(out, ranking)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RankScore > out[j].RankScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecisionsRepo stores append-only decisions.
type DecisionsRepo struct {
	m *Manager
}

func (r *DecisionsRepo) Insert(ctx context.Context, d domain.Decision) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	doc, err := marshalDoc(d)
	if err != nil {
		return err
	}
	_, err = r.m.db.ExecContext(ctx, `
INSERT INTO decisions (id, subject_kind, subject_id, window, action, expires_at, created_at, doc)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, string(d.SubjectKind), d.SubjectID, string(d.Window),
		string(d.Action), d.ExpiresAt.UTC(), d.CreatedAt.UTC(), doc)
	return err
}

func (r *DecisionsRepo) Latest(ctx context.Context, kind domain.SubjectKind, subjectID string, window domain.Window) (*domain.Decision, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var doc []byte
	err := r.m.db.GetContext(ctx, &doc, `
SELECT doc FROM decisions
WHERE subject_kind = $1 AND subject_id = $2 AND window = $3
ORDER BY created_at DESC
LIMIT 1`, string(kind), subjectID, string(window))
	if err != nil {
		return nil, mapNotFound(err)
	}
	var d domain.Decision
	if err := unmarshalDoc(doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DecisionsRepo) ListExpiredUnevaluated(ctx context.Context, now time.Time, limit int) ([]domain.Decision, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var docs [][]byte
	err := r.m.db.SelectContext(ctx, &docs, `
SELECT d.doc FROM decisions d
LEFT JOIN decision_outcomes o ON o.decision_id = d.id
WHERE d.expires_at <= $1 AND o.decision_id IS NULL
ORDER BY d.expires_at
LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return docsToDecisions(docs)
}

func (r *DecisionsRepo) ListRecent(ctx context.Context, tr persistence.TimeRange, limit int) ([]domain.Decision, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var docs [][]byte
	err := r.m.db.SelectContext(ctx, &docs, `
SELECT doc FROM decisions
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at DESC
LIMIT $3`, tr.From.UTC(), tr.To.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return docsToDecisions(docs)
}

func docsToDecisions(docs [][]byte) ([]domain.Decision, error) {
	out := make([]domain.Decision, 0, len(docs))
	for _, doc := range docs {
		var d domain.Decision
		if err := unmarshalDoc(doc, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// OutcomesRepo stores post-TTL decision audits.
type OutcomesRepo struct {
	m *Manager
}

func (r *OutcomesRepo) Insert(ctx context.Context, o domain.Outcome) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	_, err := r.m.db.ExecContext(ctx, `
INSERT INTO decision_outcomes (decision_id, subject_kind, subject_id, window, action, agreement, net_flow_sign, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (decision_id) DO NOTHING`,
		o.DecisionID, string(o.SubjectKind), o.SubjectID, string(o.Window),
		string(o.Action), string(o.Agreement), o.NetFlowSign, o.EvaluatedAt.UTC())
	return err
}

func (r *OutcomesRepo) Get(ctx context.Context, decisionID string) (*domain.Outcome, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var o domain.Outcome
	err := r.m.db.GetContext(ctx, &o, `
SELECT decision_id, subject_kind, subject_id, window, action, agreement, net_flow_sign, evaluated_at
FROM decision_outcomes
WHERE decision_id = $1`, decisionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &o, nil
}

func (r *OutcomesRepo) CountByAgreement(ctx context.Context, tr persistence.TimeRange) (map[domain.OutcomeAgreement]int64, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []struct {
		Agreement string `db:"agreement"`
		Count     int64  `db:"count"`
	}
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT agreement, count(*) AS count FROM decision_outcomes
WHERE evaluated_at >= $1 AND evaluated_at < $2
GROUP BY agreement`, tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.OutcomeAgreement]int64, len(rows))
	for _, row := range rows {
		counts[domain.OutcomeAgreement(row.Agreement)] = row.Count
	}
	return counts, nil
}
