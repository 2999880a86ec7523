package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// EventsRepo is the append-only raw transfer table.
type EventsRepo struct {
	m *Manager
}

const eventColumns = `chain, token, block, log_index, tx_hash, from_addr, to_addr, amount, ts, usd_value, tags`

const insertEventSQL = `
INSERT INTO raw_events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (chain, token, block, log_index) DO NOTHING`

type eventRow struct {
	Chain    string            `db:"chain"`
	Token    string            `db:"token"`
	Block    int64             `db:"block"`
	LogIndex int               `db:"log_index"`
	TxHash   string            `db:"tx_hash"`
	From     string            `db:"from_addr"`
	To       string            `db:"to_addr"`
	Amount   domain.FlowAmount `db:"amount"`
	TS       time.Time         `db:"ts"`
	USDValue float64           `db:"usd_value"`
	Tags     pq.StringArray    `db:"tags"`
}

func (r eventRow) toDomain() domain.TransferEvent {
	return domain.TransferEvent{
		Chain:     r.Chain,
		Token:     r.Token,
		Block:     r.Block,
		LogIndex:  r.LogIndex,
		TxHash:    r.TxHash,
		From:      r.From,
		To:        r.To,
		Amount:    r.Amount,
		Timestamp: r.TS.UTC(),
		USDValue:  r.USDValue,
		Tags:      []string(r.Tags),
	}
}

func eventArgs(e domain.TransferEvent) []interface{} {
	return []interface{}{
		e.Chain, e.Token, e.Block, e.LogIndex, e.TxHash, e.From, e.To,
		string(e.Amount), e.Timestamp.UTC(), e.USDValue, pq.StringArray(e.Tags),
	}
}

func (r *EventsRepo) Insert(ctx context.Context, event domain.TransferEvent) (bool, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx, insertEventSQL, eventArgs(event)...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertBatch appends a cycle's worth of events in one transaction so a
// partial failure never leaves a half-written scan range.
func (r *EventsRepo) InsertBatch(ctx context.Context, events []domain.TransferEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	tx, err := r.m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, event := range events {
		res, err := tx.ExecContext(ctx, insertEventSQL, eventArgs(event)...)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

func (r *EventsRepo) ListByToken(ctx context.Context, chain, token string, tr persistence.TimeRange, limit int) ([]domain.TransferEvent, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []eventRow
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT `+eventColumns+` FROM raw_events
WHERE chain = $1 AND token = $2 AND ts >= $3 AND ts < $4
ORDER BY block, log_index
LIMIT $5`, chain, token, tr.From.UTC(), tr.To.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return rowsToEvents(rows), nil
}

func (r *EventsRepo) ListByTxHash(ctx context.Context, txHash string) ([]domain.TransferEvent, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []eventRow
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT `+eventColumns+` FROM raw_events
WHERE tx_hash = $1
ORDER BY chain, token, block, log_index`, txHash)
	if err != nil {
		return nil, err
	}
	return rowsToEvents(rows), nil
}

func (r *EventsRepo) Count(ctx context.Context, chain, token string, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var count int64
	err := r.m.db.GetContext(ctx, &count, `
SELECT count(*) FROM raw_events
WHERE chain = $1 AND token = $2 AND ts >= $3 AND ts < $4`,
		chain, token, tr.From.UTC(), tr.To.UTC())
	return count, err
}

func (r *EventsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx, `DELETE FROM raw_events WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OpenRange pins the iterator to the highest (block, logIndex) present at
// open time, so events appended mid-iteration are never returned.
func (r *EventsRepo) OpenRange(ctx context.Context, chain, token string, tr persistence.TimeRange, batchSize int) (persistence.EventIterator, error) {
	openCtx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var bound struct {
		Block    int64 `db:"block"`
		LogIndex int   `db:"log_index"`
	}
	err := r.m.db.GetContext(openCtx, &bound, `
SELECT coalesce(max(block), -1) AS block, coalesce(max(log_index), 0) AS log_index
FROM raw_events
WHERE chain = $1 AND token = $2 AND ts >= $3 AND ts < $4`,
		chain, token, tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, err
	}

	if batchSize <= 0 {
		batchSize = 1000
	}
	return &eventIterator{
		repo:      r,
		chain:     chain,
		token:     token,
		tr:        tr,
		batchSize: batchSize,
		maxBlock:  bound.Block,
		maxIndex:  bound.LogIndex,
		lastBlock: -1,
		lastIndex: -1,
	}, nil
}

// eventIterator pages by keyset on (block, log_index).
type eventIterator struct {
	repo      *EventsRepo
	chain     string
	token     string
	tr        persistence.TimeRange
	batchSize int

	maxBlock int64
	maxIndex int

	lastBlock int64
	lastIndex int
	done      bool
}

func (it *eventIterator) Next(ctx context.Context) ([]domain.TransferEvent, error) {
	if it.done || it.maxBlock < 0 {
		return nil, nil
	}
	ctx, cancel := it.repo.m.withTimeout(ctx)
	defer cancel()

	var rows []eventRow
	err := it.repo.m.db.SelectContext(ctx, &rows, `
SELECT `+eventColumns+` FROM raw_events
WHERE chain = $1 AND token = $2 AND ts >= $3 AND ts < $4
  AND (block, log_index) > ($5, $6)
  AND (block, log_index) <= ($7, $8)
ORDER BY block, log_index
LIMIT $9`,
		it.chain, it.token, it.tr.From.UTC(), it.tr.To.UTC(),
		it.lastBlock, it.lastIndex, it.maxBlock, it.maxIndex, it.batchSize)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		it.done = true
		return nil, nil
	}

	last := rows[len(rows)-1]
	it.lastBlock, it.lastIndex = last.Block, last.LogIndex
	if len(rows) < it.batchSize {
		it.done = true
	}
	return rowsToEvents(rows), nil
}

func (it *eventIterator) Close() error {
	it.done = true
	return nil
}

func rowsToEvents(rows []eventRow) []domain.TransferEvent {
	out := make([]domain.TransferEvent, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out
}
