package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Config tunes the cursor loop.
type Config struct {
	// Confirmations is how many blocks the loop keeps between a window
	// end and the chain head before closing it.
	Confirmations int64
	// BlockTime approximates how long one confirmation takes.
	BlockTime time.Duration
	// MaxWindowsPerTick bounds catch-up work in one run.
	MaxWindowsPerTick int
}

// Aggregator advances one cursor per (chain, token, window) stream,
// folding closed windows into aggregate rows. Streams never share a
// cursor, so the orchestrator can fan tokens out while each stream stays
// strictly serial.
type Aggregator struct {
	repo    *persistence.Repository
	cfg     Config
	tracked map[string]bool
	logger  zerolog.Logger
	now     func() time.Time
}

func New(repo *persistence.Repository, cfg Config, tracked map[string]bool) *Aggregator {
	if cfg.MaxWindowsPerTick <= 0 {
		cfg.MaxWindowsPerTick = 24
	}
	return &Aggregator{
		repo:    repo,
		cfg:     cfg,
		tracked: tracked,
		logger:  log.With().Str("component", "aggregator").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// RunResult summarizes one aggregation tick for a stream.
type RunResult struct {
	WindowsClosed int
	EventsFolded  int64
}

// RunStream folds every window that is safely behind the head for one
// (chain, token, window) stream, then advances the cursor.
func (a *Aggregator) RunStream(ctx context.Context, chain, token string, window domain.Window) (RunResult, error) {
	var res RunResult

	cursor, err := a.repo.Cursors.Get(ctx, chain, token, window)
	if err == persistence.ErrNotFound {
		cursor = nil
	} else if err != nil {
		return res, fmt.Errorf("read cursor: %w", err)
	}

	windowStart, err := a.nextWindowStart(ctx, cursor, chain, token, window)
	if err != nil {
		return res, err
	}
	if windowStart.IsZero() {
		return res, nil // nothing ingested yet
	}

	safety := time.Duration(a.cfg.Confirmations) * a.cfg.BlockTime

	for i := 0; i < a.cfg.MaxWindowsPerTick; i++ {
		windowEnd := windowStart.Add(window.Duration())
		if windowEnd.Add(safety).After(a.now()) {
			break // window not yet safe from reorgs
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		events, err := a.collect(ctx, chain, token, windowStart, windowEnd)
		if err != nil {
			return res, fmt.Errorf("collect events: %w", err)
		}

		agg, err := Fold(chain, token, window, windowStart, events, a.tracked)
		if err != nil {
			return res, fmt.Errorf("fold window %s: %w", windowStart, err)
		}
		agg.CreatedAt = a.now()

		if err := a.repo.Aggregates.Upsert(ctx, agg); err != nil {
			return res, fmt.Errorf("upsert aggregate: %w", err)
		}

		next := domain.AggregationCursor{
			Chain:              chain,
			Token:              token,
			Window:             window,
			LastWindowEnd:      windowEnd,
			LastProcessedBlock: agg.LastBlock,
			UpdatedAt:          a.now(),
		}
		if cursor != nil && agg.LastBlock == 0 {
			next.LastProcessedBlock = cursor.LastProcessedBlock
		}
		if err := a.repo.Cursors.Upsert(ctx, next); err != nil {
			return res, fmt.Errorf("advance cursor: %w", err)
		}
		cursor = &next

		res.WindowsClosed++
		res.EventsFolded += agg.EventCount
		a.logger.Debug().
			Str("chain", chain).
			Str("token", token).
			Str("window", string(window)).
			Time("window_start", windowStart).
			Int64("events", agg.EventCount).
			Msg("window folded")

		windowStart = windowEnd
	}
	return res, nil
}

// nextWindowStart picks where to resume: the cursor's high-water mark, or
// the aligned window containing the earliest stored event on first run.
func (a *Aggregator) nextWindowStart(ctx context.Context, cursor *domain.AggregationCursor, chain, token string, window domain.Window) (time.Time, error) {
	if cursor != nil {
		return window.AlignStart(cursor.LastWindowEnd), nil
	}

	earliest, err := a.repo.Events.ListByToken(ctx, chain, token, persistence.TimeRange{
		From: time.Unix(0, 0).UTC(),
		To:   a.now(),
	}, 1)
	if err != nil {
		return time.Time{}, fmt.Errorf("find earliest event: %w", err)
	}
	if len(earliest) == 0 {
		return time.Time{}, nil
	}
	return window.AlignStart(earliest[0].Timestamp), nil
}

// collect drains a stable iterator over [from, to).
func (a *Aggregator) collect(ctx context.Context, chain, token string, from, to time.Time) ([]domain.TransferEvent, error) {
	iter, err := a.repo.Events.OpenRange(ctx, chain, token, persistence.TimeRange{From: from, To: to}, 500)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []domain.TransferEvent
	for {
		batch, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return events, nil
		}
		events = append(events, batch...)
	}
}
