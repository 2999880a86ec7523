package jobs

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Job is one schedulable unit. Run must honor ctx cancellation at safe
// points; re-entry is safe because jobs read their cursors.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
	// Singleton jobs take the cluster lease before running.
	Singleton bool
}

// StartupCheck verifies a dependency before the orchestrator starts.
type StartupCheck struct {
	Name string
	Ping func(ctx context.Context) error
	// Hard failures refuse startup; soft ones only log.
	Hard bool
}

// Orchestrator schedules the job catalog on intervals with jitter.
type Orchestrator struct {
	cfg    config.JobsConfig
	locks  *LockManager
	repo   *persistence.Repository
	jobs   []Job
	checks []StartupCheck

	mu      sync.Mutex
	running map[string]bool

	wg     sync.WaitGroup
	logger zerolog.Logger
	rng    *rand.Rand
	now    func() time.Time
}

func NewOrchestrator(cfg config.JobsConfig, locks *LockManager, repo *persistence.Repository) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		locks:   locks,
		repo:    repo,
		running: make(map[string]bool),
		logger:  log.With().Str("component", "orchestrator").Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a job to the catalog.
func (o *Orchestrator) Register(job Job) {
	o.jobs = append(o.jobs, job)
}

// RegisterCheck adds a startup check.
func (o *Orchestrator) RegisterCheck(check StartupCheck) {
	o.checks = append(o.checks, check)
}

// Startup runs every registered check; any hard failure refuses startup.
func (o *Orchestrator) Startup(ctx context.Context) error {
	for _, check := range o.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := check.Ping(checkCtx)
		cancel()

		if err == nil {
			o.logger.Info().Str("check", check.Name).Msg("startup check passed")
			continue
		}
		if check.Hard {
			return fmt.Errorf("startup check %s: %w", check.Name, err)
		}
		o.logger.Warn().Err(err).Str("check", check.Name).Msg("startup check degraded")
	}
	return nil
}

// Run schedules the catalog until ctx is cancelled, then waits for
// in-flight jobs up to the shutdown grace period.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Startup(ctx); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, job := range o.jobs {
		interval := o.cfg.Interval(job.Name)
		if interval <= 0 {
			o.logger.Debug().Str("job", job.Name).Msg("job unscheduled")
			continue
		}
		job := job
		g.Go(func() error {
			o.schedule(groupCtx, job, interval)
			return nil
		})
	}

	g.Go(func() error {
		o.heartbeatLoop(groupCtx)
		return nil
	})

	<-ctx.Done()
	o.logger.Info().Msg("shutdown requested, draining jobs")

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		o.logger.Info().Msg("all jobs drained")
	case <-time.After(o.cfg.ShutdownGrace()):
		o.logger.Warn().Msg("shutdown grace elapsed with jobs still running")
	}

	_ = g.Wait()
	return ctx.Err()
}

// schedule runs one job on its interval, jittered so replicas do not
// stampede shared providers.
func (o *Orchestrator) schedule(ctx context.Context, job Job, interval time.Duration) {
	timer := time.NewTimer(o.jitter(interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			o.dispatch(ctx, job)
			timer.Reset(o.jitter(interval))
		}
	}
}

// Dispatch runs one job immediately, for bus-driven triggers and CLI.
func (o *Orchestrator) Dispatch(ctx context.Context, name string) error {
	for _, job := range o.jobs {
		if job.Name == name {
			o.dispatch(ctx, job)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (o *Orchestrator) dispatch(ctx context.Context, job Job) {
	o.mu.Lock()
	if o.running[job.Name] {
		o.mu.Unlock()
		o.logger.Debug().Str("job", job.Name).Msg("previous run still in flight, skipped")
		return
	}
	o.running[job.Name] = true
	o.mu.Unlock()

	o.wg.Add(1)
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		o.running[job.Name] = false
		o.mu.Unlock()
	}()

	runCtx := ctx
	if job.Singleton {
		lease, err := o.locks.Acquire(ctx, "job:"+job.Name)
		if err != nil {
			o.logger.Error().Err(err).Str("job", job.Name).Msg("lease acquisition failed")
			return
		}
		if lease == nil {
			o.logger.Debug().Str("job", job.Name).Msg("lease held elsewhere, skipped")
			return
		}
		defer lease.Release()
		runCtx = lease.Context()
	}

	deadlineCtx, cancel := context.WithTimeout(runCtx, o.cfg.Deadline())
	defer cancel()

	started := o.now()
	err := job.Run(deadlineCtx)
	elapsed := o.now().Sub(started)

	event := o.logger.Info()
	if err != nil {
		event = o.logger.Error().Err(err)
	}
	event.Str("job", job.Name).Dur("elapsed", elapsed).Msg("job finished")
}

func (o *Orchestrator) jitter(interval time.Duration) time.Duration {
	if o.cfg.JitterPct <= 0 {
		return interval
	}
	span := int64(interval) * int64(o.cfg.JitterPct) / 100
	if span <= 0 {
		return interval
	}
	o.mu.Lock()
	offset := o.rng.Int63n(2*span) - span
	o.mu.Unlock()
	return interval + time.Duration(offset)
}

// heartbeatLoop keeps this worker's liveness row fresh.
func (o *Orchestrator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			host, _ := os.Hostname()
			names := make([]string, 0, len(o.jobs))
			for _, j := range o.jobs {
				names = append(names, j.Name)
			}
			sort.Strings(names)

			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := o.repo.Heartbeats.Upsert(hbCtx, domain.Heartbeat{
				Worker:   o.locks.Holder(),
				Host:     host,
				PID:      os.Getpid(),
				Jobs:     names,
				LastSeen: o.now(),
			})
			cancel()
			if err != nil {
				o.logger.Warn().Err(err).Msg("heartbeat upsert failed")
			}
		}
	}
}
