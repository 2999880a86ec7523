// Package actors maintains the curated directory of known addresses and
// clusters, and resolves raw addresses into scored actor identities.
package actors

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// seedFile is the YAML shape of the curated directory.
type seedFile struct {
	Actors []seedActor `yaml:"actors"`
}

type seedActor struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	SourceLevel string   `yaml:"source_level"`
	Coverage    float64  `yaml:"coverage"`
	Addresses   []string `yaml:"addresses"`
	ClusterID   string   `yaml:"cluster_id"`
}

// Directory fronts the actors repository with seeding and resolution.
type Directory struct {
	repo   persistence.ActorsRepo
	events *bus.Bus
	logger zerolog.Logger
}

func NewDirectory(repo persistence.ActorsRepo, events *bus.Bus) *Directory {
	return &Directory{
		repo:   repo,
		events: events,
		logger: log.With().Str("component", "actors").Logger(),
	}
}

// SeedFromFile loads the curated directory into the repository. Existing
// entries are overwritten; a resolver.updated event fires when anything
// was written.
func (d *Directory) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read actor seed: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse actor seed: %w", err)
	}

	entries := make([]domain.Actor, 0, len(seed.Actors))
	for _, s := range seed.Actors {
		actor, err := seedToActor(s)
		if err != nil {
			return 0, err
		}
		entries = append(entries, actor)
	}

	written, err := d.repo.UpsertBatch(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("seed actors: %w", err)
	}
	if written > 0 && d.events != nil {
		d.events.Emit(bus.ResolverUpdated, map[string]interface{}{
			"source":  path,
			"written": written,
		})
	}
	d.logger.Info().Int("actors", written).Str("path", path).Msg("actor directory seeded")
	return written, nil
}

func seedToActor(s seedActor) (domain.Actor, error) {
	if s.ID == "" {
		return domain.Actor{}, fmt.Errorf("actor seed entry missing id")
	}
	actorType := domain.ActorType(s.Type)
	switch actorType {
	case domain.ActorExchange, domain.ActorMarketMaker, domain.ActorFund,
		domain.ActorWhale, domain.ActorTrader, domain.ActorUnknown:
	default:
		return domain.Actor{}, fmt.Errorf("actor %s: unknown type %q", s.ID, s.Type)
	}
	level := domain.SourceLevel(s.SourceLevel)
	switch level {
	case domain.SourceVerified, domain.SourceAttributed, domain.SourceBehavioral:
	default:
		return domain.Actor{}, fmt.Errorf("actor %s: unknown source level %q", s.ID, s.SourceLevel)
	}

	addresses := make([]string, 0, len(s.Addresses))
	for _, a := range s.Addresses {
		addresses = append(addresses, strings.ToLower(a))
	}
	return domain.Actor{
		ActorID:     s.ID,
		Name:        s.Name,
		ActorType:   actorType,
		SourceLevel: level,
		Coverage:    domain.Clamp(s.Coverage, 0, 100),
		Addresses:   addresses,
		ClusterID:   s.ClusterID,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// Resolver answers address-to-actor lookups with a behavioral fallback for
// unknown addresses. The snapshot builder holds one per build so repeated
// addresses resolve once.
type Resolver struct {
	repo  persistence.ActorsRepo
	cache map[string]domain.Actor
}

func (d *Directory) NewResolver() *Resolver {
	return &Resolver{repo: d.repo, cache: make(map[string]domain.Actor)}
}

// Resolve maps a lowercased address onto its directory entry, or fabricates
// a behavioral unknown actor. Behavioral identities are stable: the id is
// derived from the address.
func (r *Resolver) Resolve(ctx context.Context, address string) (domain.Actor, error) {
	address = strings.ToLower(address)
	if actor, ok := r.cache[address]; ok {
		return actor, nil
	}

	actor, err := r.repo.GetByAddress(ctx, address)
	switch {
	case err == persistence.ErrNotFound:
		fallback := domain.Actor{
			ActorID:     "behavioral:" + domain.StableID("actor", address),
			ActorType:   domain.ActorUnknown,
			SourceLevel: domain.SourceBehavioral,
			Addresses:   []string{address},
		}
		r.cache[address] = fallback
		return fallback, nil
	case err != nil:
		return domain.Actor{}, fmt.Errorf("resolve %s: %w", address, err)
	}

	r.cache[address] = *actor
	return *actor, nil
}

// Known reports whether an address resolves to a curated (non-behavioral)
// entry.
func (r *Resolver) Known(ctx context.Context, address string) (bool, error) {
	actor, err := r.Resolve(ctx, address)
	if err != nil {
		return false, err
	}
	return actor.SourceLevel != domain.SourceBehavioral, nil
}
