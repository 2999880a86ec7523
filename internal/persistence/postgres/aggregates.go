package postgres

import (
	"context"
	"fmt"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// AggregatesRepo stores deterministic window folds.
type AggregatesRepo struct {
	m *Manager
}

const aggregateColumns = `chain, token, window, window_start, window_end,
inflow_count, outflow_count, inflow_amount, outflow_amount, net_flow_amount,
unique_senders, unique_receivers, event_count, first_block, last_block, created_at`

func (r *AggregatesRepo) Upsert(ctx context.Context, agg domain.WindowAggregate) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	_, err := r.m.db.ExecContext(ctx, `
INSERT INTO window_aggregates (`+aggregateColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (chain, token, window, window_start) DO UPDATE SET
    window_end = EXCLUDED.window_end,
    inflow_count = EXCLUDED.inflow_count,
    outflow_count = EXCLUDED.outflow_count,
    inflow_amount = EXCLUDED.inflow_amount,
    outflow_amount = EXCLUDED.outflow_amount,
    net_flow_amount = EXCLUDED.net_flow_amount,
    unique_senders = EXCLUDED.unique_senders,
    unique_receivers = EXCLUDED.unique_receivers,
    event_count = EXCLUDED.event_count,
    first_block = EXCLUDED.first_block,
    last_block = EXCLUDED.last_block,
    created_at = EXCLUDED.created_at`,
		agg.Chain, agg.Token, string(agg.Window), agg.WindowStart.UTC(), agg.WindowEnd.UTC(),
		agg.InflowCount, agg.OutflowCount, string(agg.InflowAmount), string(agg.OutflowAmount),
		string(agg.NetFlowAmount), agg.UniqueSenders, agg.UniqueReceivers,
		agg.EventCount, agg.FirstBlock, agg.LastBlock, agg.CreatedAt.UTC())
	return err
}

func (r *AggregatesRepo) Get(ctx context.Context, key domain.AggregateKey) (*domain.WindowAggregate, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var agg domain.WindowAggregate
	err := r.m.db.GetContext(ctx, &agg, `
SELECT `+aggregateColumns+` FROM window_aggregates
WHERE chain = $1 AND token = $2 AND window = $3 AND window_start = $4`,
		key.Chain, key.Token, string(key.Window), key.WindowStart.UTC())
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &agg, nil
}

func (r *AggregatesRepo) Previous(ctx context.Context, key domain.AggregateKey) (*domain.WindowAggregate, error) {
	prev := key
	prev.WindowStart = key.WindowStart.Add(-key.Window.Duration())
	return r.Get(ctx, prev)
}

func (r *AggregatesRepo) ListByToken(ctx context.Context, chain, token string, window domain.Window, tr persistence.TimeRange) ([]domain.WindowAggregate, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var aggs []domain.WindowAggregate
	err := r.m.db.SelectContext(ctx, &aggs, `
SELECT `+aggregateColumns+` FROM window_aggregates
WHERE chain = $1 AND token = $2 AND window = $3
  AND window_start >= $4 AND window_start < $5
ORDER BY window_start`,
		chain, token, string(window), tr.From.UTC(), tr.To.UTC())
	return aggs, err
}

// ListWithoutVerdict anti-joins against the verdict table on the derived
// window key so the gate only sees unclassified windows.
func (r *AggregatesRepo) ListWithoutVerdict(ctx context.Context, window domain.Window, limit int) ([]domain.WindowAggregate, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var aggs []domain.WindowAggregate
	err := r.m.db.SelectContext(ctx, &aggs, `
SELECT `+qualified("a", aggregateColumns)+` FROM window_aggregates a
LEFT JOIN approval_verdicts v
  ON v.chain = a.chain AND v.token = a.token
 AND v.window = a.window AND v.window_start = a.window_start
WHERE a.window = $1 AND v.window_key IS NULL
ORDER BY a.window_start
LIMIT $2`, string(window), limit)
	return aggs, err
}

// CursorsRepo stores per-stream aggregation high-water marks.
type CursorsRepo struct {
	m *Manager
}

// Upsert advances a cursor. The guarded update leaves regressions
// unwritten and they surface as an error.
func (r *CursorsRepo) Upsert(ctx context.Context, cursor domain.AggregationCursor) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx, `
INSERT INTO aggregation_cursors (chain, token, window, last_window_end, last_processed_block, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (chain, token, window) DO UPDATE SET
    last_window_end = EXCLUDED.last_window_end,
    last_processed_block = EXCLUDED.last_processed_block,
    updated_at = EXCLUDED.updated_at
WHERE aggregation_cursors.last_window_end <= EXCLUDED.last_window_end`,
		cursor.Chain, cursor.Token, string(cursor.Window),
		cursor.LastWindowEnd.UTC(), cursor.LastProcessedBlock, cursor.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cursor %s:%s:%s would regress to %s",
			cursor.Chain, cursor.Token, cursor.Window, cursor.LastWindowEnd.UTC())
	}
	return nil
}

func (r *CursorsRepo) Get(ctx context.Context, chain, token string, window domain.Window) (*domain.AggregationCursor, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var cursor domain.AggregationCursor
	err := r.m.db.GetContext(ctx, &cursor, `
SELECT chain, token, window, last_window_end, last_processed_block, updated_at
FROM aggregation_cursors
WHERE chain = $1 AND token = $2 AND window = $3`,
		chain, token, string(window))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &cursor, nil
}

func (r *CursorsRepo) List(ctx context.Context) ([]domain.AggregationCursor, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var cursors []domain.AggregationCursor
	err := r.m.db.SelectContext(ctx, &cursors, `
SELECT chain, token, window, last_window_end, last_processed_block, updated_at
FROM aggregation_cursors
ORDER BY chain, token, window`)
	return cursors, err
}

// ScanRangesRepo stores the ingestor's per-stream block high-water marks.
type ScanRangesRepo struct {
	m *Manager
}

// Upsert advances a scan range with the same regression guard as cursors.
func (r *ScanRangesRepo) Upsert(ctx context.Context, sr domain.ScanRange) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx, `
INSERT INTO scan_ranges (chain, token, last_scanned_block, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (chain, token) DO UPDATE SET
    last_scanned_block = EXCLUDED.last_scanned_block,
    updated_at = EXCLUDED.updated_at
WHERE scan_ranges.last_scanned_block <= EXCLUDED.last_scanned_block`,
		sr.Chain, sr.Token, sr.LastScannedBlock, sr.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scan range %s:%s would regress to %d",
			sr.Chain, sr.Token, sr.LastScannedBlock)
	}
	return nil
}

func (r *ScanRangesRepo) Get(ctx context.Context, chain, token string) (*domain.ScanRange, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var sr domain.ScanRange
	err := r.m.db.GetContext(ctx, &sr, `
SELECT chain, token, last_scanned_block, updated_at FROM scan_ranges
WHERE chain = $1 AND token = $2`, chain, token)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &sr, nil
}

func (r *ScanRangesRepo) List(ctx context.Context) ([]domain.ScanRange, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var ranges []domain.ScanRange
	err := r.m.db.SelectContext(ctx, &ranges, `
SELECT chain, token, last_scanned_block, updated_at FROM scan_ranges
ORDER BY chain, token`)
	return ranges, err
}
