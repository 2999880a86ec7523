package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// SignalsRepo stores signals with optimistic concurrency on Version.
type SignalsRepo struct {
	m *Manager
}

func (r *SignalsRepo) Insert(ctx context.Context, sig domain.Signal) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	doc, err := marshalDoc(sig)
	if err != nil {
		return err
	}
	_, err = r.m.db.ExecContext(ctx, `
INSERT INTO signals (id, type, subject_key, window, state, version, updated_at, doc)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, string(sig.Type), sig.SubjectKey.String(), string(sig.Window),
		string(sig.State), sig.Version, sig.UpdatedAt.UTC(), doc)
	if isUniqueViolation(err) {
		return persistence.ErrVersionConflict
	}
	return err
}

// Update persists the mutated signal iff the caller holds the current
// version, then bumps it.
func (r *SignalsRepo) Update(ctx context.Context, sig domain.Signal) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	next := sig
	next.Version = sig.Version + 1
	doc, err := marshalDoc(next)
	if err != nil {
		return err
	}

	res, err := r.m.db.ExecContext(ctx, `
UPDATE signals
SET state = $1, version = version + 1, updated_at = $2, doc = $3
WHERE id = $4 AND version = $5`,
		string(next.State), next.UpdatedAt.UTC(), doc, sig.ID, sig.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, sig.ID); err != nil {
			return err
		}
		return persistence.ErrVersionConflict
	}
	return nil
}

func (r *SignalsRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var doc []byte
	if err := r.m.db.GetContext(ctx, &doc, `SELECT doc FROM signals WHERE id = $1`, id); err != nil {
		return nil, mapNotFound(err)
	}
	var sig domain.Signal
	if err := unmarshalDoc(doc, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

func (r *SignalsRepo) ListByStates(ctx context.Context, window domain.Window, states []domain.SignalState) ([]domain.Signal, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	labels := make([]string, len(states))
	for i, s := range states {
		labels[i] = string(s)
	}

	var docs [][]byte
	err := r.m.db.SelectContext(ctx, &docs, `
SELECT doc FROM signals
WHERE window = $1 AND state = ANY($2)
ORDER BY id`, string(window), pq.StringArray(labels))
	if err != nil {
		return nil, err
	}
	return docsToSignals(docs)
}

func (r *SignalsRepo) ListBySubject(ctx context.Context, subject domain.SubjectKey, window domain.Window) ([]domain.Signal, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var docs [][]byte
	err := r.m.db.SelectContext(ctx, &docs, `
SELECT doc FROM signals
WHERE subject_key = $1 AND window = $2
ORDER BY id`, subject.String(), string(window))
	if err != nil {
		return nil, err
	}
	return docsToSignals(docs)
}

func (r *SignalsRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx, `
DELETE FROM signals WHERE state = $1 AND updated_at < $2`,
		string(domain.StateResolved), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func docsToSignals(docs [][]byte) ([]domain.Signal, error) {
	out := make([]domain.Signal, 0, len(docs))
	for _, doc := range docs {
		var sig domain.Signal
		if err := unmarshalDoc(doc, &sig); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// TracesRepo stores confidence traces and lifecycle transitions.
type TracesRepo struct {
	m *Manager
}

func (r *TracesRepo) InsertTrace(ctx context.Context, trace domain.ConfidenceTrace) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	doc, err := marshalDoc(trace)
	if err != nil {
		return err
	}
	_, err = r.m.db.ExecContext(ctx, `
INSERT INTO confidence_traces (signal_id, created_at, doc)
VALUES ($1, $2, $3)`, trace.SignalID, trace.CreatedAt.UTC(), doc)
	return err
}

func (r *TracesRepo) ListTraces(ctx context.Context, signalID string, limit int) ([]domain.ConfidenceTrace, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var docs [][]byte
	err := r.m.db.SelectContext(ctx, &docs, `
SELECT doc FROM confidence_traces
WHERE signal_id = $1
ORDER BY created_at DESC
LIMIT $2`, signalID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ConfidenceTrace, 0, len(docs))
	for _, doc := range docs {
		var trace domain.ConfidenceTrace
		if err := unmarshalDoc(doc, &trace); err != nil {
			return nil, err
		}
		out = append(out, trace)
	}
	return out, nil
}

func (r *TracesRepo) InsertTransition(ctx context.Context, tr domain.Transition) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	_, err := r.m.db.ExecContext(ctx, `
INSERT INTO signal_transitions (signal_id, from_state, to_state, reason, confidence, at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.SignalID, string(tr.FromState), string(tr.ToState), tr.Reason, tr.Confidence, tr.At.UTC())
	return err
}

func (r *TracesRepo) ListTransitions(ctx context.Context, signalID string) ([]domain.Transition, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var transitions []domain.Transition
	err := r.m.db.SelectContext(ctx, &transitions, `
SELECT signal_id, from_state, to_state, reason, confidence, at
FROM signal_transitions
WHERE signal_id = $1
ORDER BY at`, signalID)
	return transitions, err
}
