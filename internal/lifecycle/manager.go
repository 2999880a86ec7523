package lifecycle

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

const lockStripes = 64

// Manager is the single owner of signal rows. Emissions refresh existing
// signals instead of duplicating them; ticks drive the state machine.
// Writers for the same signal id serialize on a hashed lock stripe, and
// version checks on update catch racing replicas.
type Manager struct {
	repo   *persistence.Repository
	events *bus.Bus
	cfg    Config
	locks  [lockStripes]sync.Mutex
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(repo *persistence.Repository, events *bus.Bus, cfg Config) *Manager {
	return &Manager{
		repo:   repo,
		events: events,
		cfg:    cfg,
		logger: log.With().Str("component", "lifecycle").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.locks[h.Sum32()%lockStripes]
}

// Emission is one detector hit already scored by the confidence pass.
type Emission struct {
	Signal domain.Signal
	Trace  domain.ConfidenceTrace
}

// RecordEmission inserts a new signal or refreshes the stored one with the
// latest trigger, then advances its lifecycle for this tick.
func (m *Manager) RecordEmission(ctx context.Context, em Emission) (*domain.Signal, error) {
	mu := m.lockFor(em.Signal.ID)
	mu.Lock()
	defer mu.Unlock()

	now := m.now()

	stored, err := m.repo.Signals.Get(ctx, em.Signal.ID)
	switch {
	case err == persistence.ErrNotFound:
		sig := em.Signal
		sig.State = domain.StateNew
		sig.FirstTriggeredAt = now
		sig.LastTriggeredAt = now
		sig.SnapshotsWithoutTrigger = 0
		sig.Version = 1
		sig.CreatedAt = now
		// UpdatedAt stays zero until the first tick applies, so the
		// machine evaluates the creating emission itself.

		if err := m.repo.Signals.Insert(ctx, sig); err != nil {
			return nil, fmt.Errorf("insert signal: %w", err)
		}
		m.publishNew(sig)
		stored = &sig

	case err != nil:
		return nil, err

	default:
		// Refresh, never duplicate: same id means the same observation.
		stored.Severity = em.Signal.Severity
		stored.Direction = em.Signal.Direction
		stored.Evidence = em.Signal.Evidence
		stored.Metrics = em.Signal.Metrics
		stored.EntityIDs = em.Signal.EntityIDs
	}

	em.Trace.SignalID = stored.ID
	if err := m.repo.Traces.InsertTrace(ctx, em.Trace); err != nil {
		return nil, fmt.Errorf("insert trace: %w", err)
	}

	return m.applyLocked(ctx, stored, Input{
		Triggered:  true,
		Confidence: em.Trace.FinalScore,
		Now:        now,
	})
}

// TickMissed advances a signal whose detector did not fire this snapshot.
// Confidence is recomputed decay-only from the stored score.
func (m *Manager) TickMissed(ctx context.Context, id string, confidence float64) (*domain.Signal, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sig, err := m.repo.Signals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.applyLocked(ctx, sig, Input{
		Triggered:  false,
		Confidence: confidence,
		Now:        m.now(),
	})
}

// applyLocked runs the machine and persists the outcome. Callers hold the
// id's stripe lock.
func (m *Manager) applyLocked(ctx context.Context, sig *domain.Signal, in Input) (*domain.Signal, error) {
	if sig.State.Terminal() {
		return sig, nil
	}
	before := sig.State
	res := Apply(State{
		State:           sig.State,
		Misses:          sig.SnapshotsWithoutTrigger,
		LastEvaluatedAt: sig.UpdatedAt,
	}, in, m.cfg)

	sig.State = res.State.State
	sig.SnapshotsWithoutTrigger = res.Misses
	sig.Confidence = in.Confidence
	sig.ConfidenceLabel = domain.LabelForScore(in.Confidence)
	if res.Refreshed {
		sig.LastTriggeredAt = in.Now
	}
	if res.ResolveReason != "" {
		sig.ResolveReason = res.ResolveReason
	}
	sig.UpdatedAt = in.Now

	if err := m.repo.Signals.Update(ctx, *sig); err != nil {
		if err == persistence.ErrVersionConflict {
			// Another replica advanced this signal; the next tick re-reads.
			m.logger.Warn().Str("signal", sig.ID).Msg("version conflict, tick dropped")
			return nil, err
		}
		return nil, fmt.Errorf("update signal: %w", err)
	}
	sig.Version++

	if res.Changed && sig.State != before {
		tr := domain.Transition{
			SignalID:   sig.ID,
			FromState:  before,
			ToState:    sig.State,
			Reason:     res.ResolveReason,
			Confidence: in.Confidence,
			At:         in.Now,
		}
		if err := m.repo.Traces.InsertTransition(ctx, tr); err != nil {
			return nil, fmt.Errorf("insert transition: %w", err)
		}
		m.publishTransition(tr)
	}
	return sig, nil
}

func (m *Manager) publishNew(sig domain.Signal) {
	if m.events == nil {
		return
	}
	m.events.Emit(bus.SignalNew, map[string]interface{}{
		"signal_id":  sig.ID,
		"type":       string(sig.Type),
		"subject":    sig.SubjectKey.String(),
		"window":     string(sig.Window),
		"severity":   string(sig.Severity),
		"confidence": sig.Confidence,
	})
}

func (m *Manager) publishTransition(tr domain.Transition) {
	if m.events == nil {
		return
	}
	m.events.Emit(bus.SignalStateChanged, map[string]interface{}{
		"signal_id":  tr.SignalID,
		"from":       string(tr.FromState),
		"to":         string(tr.ToState),
		"reason":     tr.Reason,
		"confidence": tr.Confidence,
	})
	m.logger.Info().
		Str("signal", tr.SignalID).
		Str("from", string(tr.FromState)).
		Str("to", string(tr.ToState)).
		Str("reason", tr.Reason).
		Msg("signal transitioned")
}
