package postgres

import (
	"context"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// SnapshotsRepo stores immutable snapshots as documents keyed by id.
type SnapshotsRepo struct {
	m *Manager
}

func (r *SnapshotsRepo) Insert(ctx context.Context, snap domain.Snapshot) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	doc, err := marshalDoc(snap)
	if err != nil {
		return err
	}
	res, err := r.m.db.ExecContext(ctx, `
INSERT INTO snapshots (id, chain, token, window, window_start, snapshot_at, content_hash, is_viable, doc)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.Chain, snap.Token, string(snap.Window),
		snap.WindowStart.UTC(), snap.SnapshotAt.UTC(),
		snap.Stability.Hash, snap.IsViable, doc)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Re-insert of an existing id: a matching content hash is an
	// idempotent rebuild, anything else is a mutation attempt.
	var storedHash string
	if err := r.m.db.GetContext(ctx, &storedHash,
		`SELECT content_hash FROM snapshots WHERE id = $1`, snap.ID); err != nil {
		return mapNotFound(err)
	}
	if storedHash == snap.Stability.Hash {
		return nil
	}
	return persistence.ErrImmutable
}

func (r *SnapshotsRepo) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	return r.scanOne(ctx, `SELECT doc FROM snapshots WHERE id = $1`, id)
}

func (r *SnapshotsRepo) Latest(ctx context.Context, chain, token string, window domain.Window) (*domain.Snapshot, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	return r.scanOne(ctx, `
SELECT doc FROM snapshots
WHERE chain = $1 AND token = $2 AND window = $3
ORDER BY snapshot_at DESC
LIMIT 1`, chain, token, string(window))
}

func (r *SnapshotsRepo) PreviousBefore(ctx context.Context, chain, token string, window domain.Window, ts time.Time) (*domain.Snapshot, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	return r.scanOne(ctx, `
SELECT doc FROM snapshots
WHERE chain = $1 AND token = $2 AND window = $3 AND snapshot_at < $4
ORDER BY snapshot_at DESC
LIMIT 1`, chain, token, string(window), ts.UTC())
}

func (r *SnapshotsRepo) ListRange(ctx context.Context, chain, token string, window domain.Window, tr persistence.TimeRange) ([]domain.Snapshot, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var docs [][]byte
	err := r.m.db.SelectContext(ctx, &docs, `
SELECT doc FROM snapshots
WHERE chain = $1 AND token = $2 AND window = $3
  AND snapshot_at >= $4 AND snapshot_at < $5
ORDER BY snapshot_at`,
		chain, token, string(window), tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, err
	}

	out := make([]domain.Snapshot, 0, len(docs))
	for _, doc := range docs {
		var snap domain.Snapshot
		if err := unmarshalDoc(doc, &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *SnapshotsRepo) scanOne(ctx context.Context, query string, args ...interface{}) (*domain.Snapshot, error) {
	var doc []byte
	if err := r.m.db.GetContext(ctx, &doc, query, args...); err != nil {
		return nil, mapNotFound(err)
	}
	var snap domain.Snapshot
	if err := unmarshalDoc(doc, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
