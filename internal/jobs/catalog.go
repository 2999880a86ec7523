package jobs

import (
	"context"
	"time"

	"github.com/flowhawk/flowhawk/internal/aggregate"
	"github.com/flowhawk/flowhawk/internal/approval"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/ingest"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence"
	"github.com/flowhawk/flowhawk/internal/ranking"
	"github.com/flowhawk/flowhawk/internal/signals"
	"github.com/flowhawk/flowhawk/internal/snapshot"
)

// Stream identifies one watched (chain, token) pair.
type Stream struct {
	Chain string
	Token string
}

// PipelineDeps collects the services the job catalog drives.
type PipelineDeps struct {
	Repo         *persistence.Repository
	Ingestors    []*ingest.Ingestor
	Aggregator   *aggregate.Aggregator
	Gate         *approval.Gate
	Builder      *snapshot.Builder
	Engine       *signals.Engine
	Ranker       *ranking.Ranker
	Decisions    *ranking.DecisionEngine
	Outcomes     *ranking.OutcomeTracker
	Recalibrator *ops.Recalibrator
	Streams      []Stream
	Windows      []domain.Window
}

// RegisterCatalog wires the standard pipeline jobs into the orchestrator.
// Every job is a singleton: one leader per cluster advances each stage,
// and cursors make re-entry safe.
func RegisterCatalog(o *Orchestrator, deps PipelineDeps) {
	windows := deps.Windows
	if len(windows) == 0 {
		windows = domain.AggregationWindows
	}

	o.Register(Job{Name: "ingest", Singleton: true, Run: func(ctx context.Context) error {
		for _, ing := range deps.Ingestors {
			if _, err := ing.Cycle(ctx); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	}})

	o.Register(Job{Name: "aggregate", Singleton: true, Run: func(ctx context.Context) error {
		for _, stream := range deps.Streams {
			for _, w := range windows {
				if _, err := deps.Aggregator.RunStream(ctx, stream.Chain, stream.Token, w); err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	}})

	o.Register(Job{Name: "approve", Singleton: true, Run: func(ctx context.Context) error {
		for _, w := range windows {
			if _, err := deps.Gate.Run(ctx, w, 500); err != nil {
				return err
			}
		}
		return nil
	}})

	o.Register(Job{Name: "snapshot", Singleton: true, Run: func(ctx context.Context) error {
		for _, w := range windows {
			_, errs := deps.Builder.BuildPending(ctx, w, 48*time.Hour, 100)
			if len(errs) > 0 {
				return errs[0]
			}
		}
		return nil
	}})

	o.Register(Job{Name: "detect", Singleton: true, Run: func(ctx context.Context) error {
		for _, stream := range deps.Streams {
			for _, w := range windows {
				snap, err := deps.Repo.Snapshots.Latest(ctx, stream.Chain, stream.Token, w)
				if err == persistence.ErrNotFound {
					continue
				}
				if err != nil {
					return err
				}
				if _, err := deps.Engine.Run(ctx, snap); err != nil {
					return err
				}
			}
		}
		return nil
	}})

	o.Register(Job{Name: "rank", Singleton: true, Run: func(ctx context.Context) error {
		for _, w := range windows {
			if _, errs := deps.Ranker.RankSubjects(ctx, deps.Repo, w); len(errs) > 0 {
				return errs[0]
			}
		}
		return nil
	}})

	o.Register(Job{Name: "decide", Singleton: true, Run: func(ctx context.Context) error {
		for _, w := range windows {
			if _, errs := deps.Decisions.DecideTop(ctx, w, 20); len(errs) > 0 {
				return errs[0]
			}
		}
		return nil
	}})

	o.Register(Job{Name: "outcomes", Singleton: true, Run: func(ctx context.Context) error {
		_, errs := deps.Outcomes.Evaluate(ctx, 200)
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}})

	o.Register(Job{Name: "recalibrate", Singleton: true, Run: func(ctx context.Context) error {
		return deps.Recalibrator.Run(ctx)
	}})

	o.Register(Job{Name: "prune", Singleton: true, Run: func(ctx context.Context) error {
		for _, ing := range deps.Ingestors {
			if _, err := ing.Prune(ctx); err != nil {
				return err
			}
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -30)
		_, err := deps.Repo.Signals.DeleteResolvedBefore(ctx, cutoff)
		return err
	}})
}
