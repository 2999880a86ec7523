// Package ingest pulls confirmed transfer logs from chain adapters into
// the raw event store. One Ingestor serves one chain; token streams on
// that chain share its adaptive range sizing and kill-switch accounting.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/chain"
	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Ingestor runs the scan cycle for one chain.
type Ingestor struct {
	chainName string
	adapter   chain.Adapter
	repo      *persistence.Repository
	state     *ops.State
	cfg       config.IngestConfig
	tokens    []config.WatchedToken
	events    *bus.Bus

	// rangeSize adapts between cfg.RangeMin and cfg.RangeMax: halved on
	// failure, grown 25% on a clean pass.
	rangeSize int64

	logger zerolog.Logger
	now    func() time.Time
}

func New(chainName string, adapter chain.Adapter, repo *persistence.Repository, state *ops.State, cfg config.IngestConfig) *Ingestor {
	rangeSize := cfg.RangeStart
	if rangeSize <= 0 {
		rangeSize = 1500
	}

	var tokens []config.WatchedToken
	for _, t := range cfg.Tokens {
		if t.Chain == chainName {
			tokens = append(tokens, t)
		}
	}

	return &Ingestor{
		chainName: chainName,
		adapter:   adapter,
		repo:      repo,
		state:     state,
		cfg:       cfg,
		tokens:    tokens,
		rangeSize: rangeSize,
		logger:    log.With().Str("component", "ingest").Str("chain", chainName).Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (in *Ingestor) WithClock(now func() time.Time) *Ingestor {
	in.now = now
	return in
}

// Chain names the chain this ingestor follows.
func (in *Ingestor) Chain() string { return in.chainName }

// Head exposes the adapter's head height, for startup checks.
func (in *Ingestor) Head(ctx context.Context) (int64, error) {
	return in.adapter.HeadHeight(ctx)
}

// CycleResult summarizes one ingestion pass over all token streams.
type CycleResult struct {
	Head          int64
	BlocksScanned int64
	LogsSeen      int
	Inserted      int
	Duplicates    int
	RateLimitHits int64
	Errors        []error
	Aborted       bool
	AbortReason   string
}

// Cycle scans every token stream up to head minus confirmations. The
// kill switch aborts mid-cycle when its thresholds trip; progress made so
// far stays persisted and the next cycle resumes from the stored ranges.
func (in *Ingestor) Cycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	head, err := in.adapter.HeadHeight(ctx)
	if err != nil {
		return res, fmt.Errorf("head height: %w", err)
	}
	res.Head = head
	safeHead := head - in.cfg.Confirmations
	if safeHead <= 0 {
		return res, nil
	}

	for _, token := range in.tokens {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := in.scanToken(ctx, token, safeHead, &res); err != nil {
			res.Errors = append(res.Errors, err)
			if chain.IsRateLimited(err) {
				res.RateLimitHits++
			}
			in.shrinkRange()
		}
		if reason := in.tripwire(res, safeHead); reason != "" {
			res.Aborted = true
			res.AbortReason = reason
			if in.state != nil {
				in.state.TripKillSwitch(reason)
			}
			in.logger.Error().Str("reason", reason).Msg("kill switch tripped, cycle aborted")
			return res, nil
		}
	}

	if len(res.Errors) == 0 {
		in.growRange()
		if in.state != nil {
			in.state.ResetKillSwitch()
		}
	}
	return res, nil
}

// scanToken advances one (chain, token) stream toward safeHead.
func (in *Ingestor) scanToken(ctx context.Context, token config.WatchedToken, safeHead int64, res *CycleResult) error {
	from, err := in.resumePoint(ctx, token.Address, safeHead)
	if err != nil {
		return err
	}
	if from > safeHead {
		return nil
	}

	to := from + in.rangeSize - 1
	if to > safeHead {
		to = safeHead
	}

	logs, err := in.adapter.LogsByRange(ctx, from, to,
		[]string{token.Address}, [][]string{{chain.TransferTopic}})
	if err != nil {
		return fmt.Errorf("logs %d..%d: %w", from, to, err)
	}

	events, err := in.decode(ctx, logs)
	if err != nil {
		return err
	}

	inserted, err := in.repo.Events.InsertBatch(ctx, events)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	res.BlocksScanned += to - from + 1
	res.LogsSeen += len(logs)
	res.Inserted += inserted
	res.Duplicates += len(events) - inserted

	if err := in.repo.ScanRanges.Upsert(ctx, domain.ScanRange{
		Chain:            in.chainName,
		Token:            token.Address,
		LastScannedBlock: to,
		UpdatedAt:        in.now(),
	}); err != nil {
		return fmt.Errorf("advance scan range: %w", err)
	}

	in.logger.Debug().
		Str("token", token.Symbol).
		Int64("from", from).
		Int64("to", to).
		Int("logs", len(logs)).
		Int("inserted", inserted).
		Msg("range scanned")
	return nil
}

// resumePoint picks where a stream continues: the stored mark minus the
// rewind margin, or a bootstrap window below the safe head on first run.
func (in *Ingestor) resumePoint(ctx context.Context, tokenAddr string, safeHead int64) (int64, error) {
	sr, err := in.repo.ScanRanges.Get(ctx, in.chainName, tokenAddr)
	if err == persistence.ErrNotFound {
		start := safeHead - in.cfg.BootstrapBlocks
		if start < 0 {
			start = 0
		}
		return start, nil
	}
	if err != nil {
		return 0, err
	}

	from := sr.LastScannedBlock - in.cfg.RewindBlocks
	if from < 0 {
		from = 0
	}
	return from, nil
}

// decode turns transfer logs into events, resolving block timestamps once
// per block.
func (in *Ingestor) decode(ctx context.Context, logs []chain.Log) ([]domain.TransferEvent, error) {
	blockTimes := make(map[int64]time.Time)
	blocks := make([]int64, 0, 4)
	for _, l := range logs {
		if _, ok := blockTimes[l.BlockNumber]; !ok && chain.IsTransferLog(l) {
			blockTimes[l.BlockNumber] = time.Time{}
			blocks = append(blocks, l.BlockNumber)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	for _, n := range blocks {
		b, err := in.adapter.BlockByNumber(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n, err)
		}
		blockTimes[n] = b.Timestamp
	}

	events := make([]domain.TransferEvent, 0, len(logs))
	for _, l := range logs {
		if !chain.IsTransferLog(l) {
			continue
		}
		ev, err := chain.DecodeTransfer(in.chainName, l, blockTimes[l.BlockNumber])
		if err != nil {
			in.logger.Warn().Err(err).Str("tx", l.TxHash).Msg("undecodable transfer log skipped")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// tripwire checks the kill-switch thresholds against the running cycle.
func (in *Ingestor) tripwire(res CycleResult, safeHead int64) string {
	ks := in.cfg.KillSwitch

	attempts := res.LogsSeen + len(res.Errors)
	if ks.MaxErrorRatePct > 0 && attempts > 0 {
		rate := float64(len(res.Errors)) / float64(attempts) * 100
		if rate > ks.MaxErrorRatePct && len(res.Errors) > 1 {
			return fmt.Sprintf("error rate %.1f%% over limit", rate)
		}
	}
	if ks.MaxRateLimitHits > 0 && res.RateLimitHits >= ks.MaxRateLimitHits {
		return fmt.Sprintf("rate limit hits %d over limit", res.RateLimitHits)
	}
	if ks.MaxDupRatePct > 0 && res.LogsSeen > 100 {
		dupRate := float64(res.Duplicates) / float64(res.LogsSeen) * 100
		if dupRate > ks.MaxDupRatePct {
			return fmt.Sprintf("duplicate rate %.1f%% over limit", dupRate)
		}
	}
	if ks.MaxBacklogBlocks > 0 {
		backlog := in.backlog(safeHead)
		if backlog > ks.MaxBacklogBlocks {
			return fmt.Sprintf("backlog %d blocks over limit", backlog)
		}
	}
	return ""
}

// backlog measures how far the slowest stream trails the safe head.
func (in *Ingestor) backlog(safeHead int64) int64 {
	ranges, err := in.repo.ScanRanges.List(context.Background())
	if err != nil {
		return 0
	}
	var worst int64
	for _, sr := range ranges {
		if sr.Chain != in.chainName {
			continue
		}
		if lag := safeHead - sr.LastScannedBlock; lag > worst {
			worst = lag
		}
	}
	return worst
}

func (in *Ingestor) shrinkRange() {
	in.rangeSize /= 2
	if in.rangeSize < in.cfg.RangeMin {
		in.rangeSize = in.cfg.RangeMin
	}
}

func (in *Ingestor) growRange() {
	in.rangeSize += in.rangeSize / 4
	if in.rangeSize > in.cfg.RangeMax {
		in.rangeSize = in.cfg.RangeMax
	}
}

// RangeSize exposes the current adaptive range, for ops visibility.
func (in *Ingestor) RangeSize() int64 { return in.rangeSize }

// Prune deletes raw events past the retention horizon.
func (in *Ingestor) Prune(ctx context.Context) (int64, error) {
	if in.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := in.now().AddDate(0, 0, -in.cfg.RetentionDays)
	return in.repo.Events.DeleteOlderThan(ctx, cutoff)
}
