package ingest

import (
	"context"
	"fmt"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// WithBus attaches the event bus for bootstrap progress reporting.
func (in *Ingestor) WithBus(events *bus.Bus) *Ingestor {
	in.events = events
	return in
}

// NeedsBootstrap reports whether any watched stream has no scan range yet.
func (in *Ingestor) NeedsBootstrap(ctx context.Context) (bool, error) {
	for _, token := range in.tokens {
		_, err := in.repo.ScanRanges.Get(ctx, in.chainName, token.Address)
		if err == persistence.ErrNotFound {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// Bootstrap backfills every stream from head-bootstrapBlocks up to the
// safe head, publishing progress along the way. Steady-state cycles then
// resume from the stored ranges.
func (in *Ingestor) Bootstrap(ctx context.Context) error {
	head, err := in.adapter.HeadHeight(ctx)
	if err != nil {
		in.emitFailed(err)
		return fmt.Errorf("bootstrap head height: %w", err)
	}
	safeHead := head - in.cfg.Confirmations
	if safeHead <= 0 {
		in.emitDone(0)
		return nil
	}

	start := safeHead - in.cfg.BootstrapBlocks
	if start < 0 {
		start = 0
	}
	total := (safeHead - start + 1) * int64(len(in.tokens))
	var done int64

	for _, token := range in.tokens {
		cursor := start
		for cursor <= safeHead {
			if err := ctx.Err(); err != nil {
				in.emitFailed(err)
				return err
			}

			var res CycleResult
			if err := in.scanToken(ctx, token, safeHead, &res); err != nil {
				in.shrinkRange()
				in.emitFailed(err)
				return fmt.Errorf("bootstrap %s: %w", token.Symbol, err)
			}
			if res.BlocksScanned == 0 {
				break // stream caught up
			}
			cursor += res.BlocksScanned
			done += res.BlocksScanned

			if in.events != nil && total > 0 {
				in.events.Emit(bus.BootstrapProgress, map[string]interface{}{
					"chain": in.chainName,
					"token": token.Symbol,
					"pct":   float64(done) / float64(total) * 100,
				})
			}
		}
	}

	in.emitDone(done)
	in.logger.Info().Int64("blocks", done).Msg("bootstrap complete")
	return nil
}

func (in *Ingestor) emitDone(blocks int64) {
	if in.events == nil {
		return
	}
	in.events.Emit(bus.BootstrapDone, map[string]interface{}{
		"chain":  in.chainName,
		"blocks": blocks,
	})
}

func (in *Ingestor) emitFailed(err error) {
	if in.events == nil {
		return
	}
	in.events.Emit(bus.BootstrapFailed, map[string]interface{}{
		"chain": in.chainName,
		"error": err.Error(),
	})
}
