package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/flowhawk/flowhawk/internal/domain"
)

// ActorsRepo stores the actor directory. The address side table keeps
// reverse lookups indexed without scanning arrays.
type ActorsRepo struct {
	m *Manager
}

type actorRow struct {
	ActorID     string         `db:"actor_id"`
	Name        string         `db:"name"`
	ActorType   string         `db:"actor_type"`
	SourceLevel string         `db:"source_level"`
	Coverage    float64        `db:"coverage"`
	Addresses   pq.StringArray `db:"addresses"`
	ClusterID   string         `db:"cluster_id"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r actorRow) toDomain() domain.Actor {
	return domain.Actor{
		ActorID:     r.ActorID,
		Name:        r.Name,
		ActorType:   domain.ActorType(r.ActorType),
		SourceLevel: domain.SourceLevel(r.SourceLevel),
		Coverage:    r.Coverage,
		Addresses:   []string(r.Addresses),
		ClusterID:   r.ClusterID,
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

const actorColumns = `actor_id, name, actor_type, source_level, coverage, addresses, cluster_id, updated_at`

func (r *ActorsRepo) Upsert(ctx context.Context, actor domain.Actor) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	tx, err := r.m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	addresses := make([]string, len(actor.Addresses))
	for i, addr := range actor.Addresses {
		addresses[i] = strings.ToLower(addr)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO actors (`+actorColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (actor_id) DO UPDATE SET
    name = EXCLUDED.name,
    actor_type = EXCLUDED.actor_type,
    source_level = EXCLUDED.source_level,
    coverage = EXCLUDED.coverage,
    addresses = EXCLUDED.addresses,
    cluster_id = EXCLUDED.cluster_id,
    updated_at = EXCLUDED.updated_at`,
		actor.ActorID, actor.Name, string(actor.ActorType), string(actor.SourceLevel),
		actor.Coverage, pq.StringArray(addresses), actor.ClusterID, actor.UpdatedAt.UTC()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM actor_addresses WHERE actor_id = $1`, actor.ActorID); err != nil {
		return err
	}
	for _, addr := range addresses {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO actor_addresses (address, actor_id)
VALUES ($1, $2)
ON CONFLICT (address) DO UPDATE SET actor_id = EXCLUDED.actor_id`,
			addr, actor.ActorID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ActorsRepo) UpsertBatch(ctx context.Context, actors []domain.Actor) (int, error) {
	written := 0
	for _, actor := range actors {
		if err := r.Upsert(ctx, actor); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (r *ActorsRepo) GetByAddress(ctx context.Context, address string) (*domain.Actor, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var row actorRow
	err := r.m.db.GetContext(ctx, &row, `
SELECT `+qualified("a", actorColumns)+`
FROM actors a
JOIN actor_addresses aa ON aa.actor_id = a.actor_id
WHERE aa.address = $1`, strings.ToLower(address))
	if err != nil {
		return nil, mapNotFound(err)
	}
	actor := row.toDomain()
	return &actor, nil
}

func (r *ActorsRepo) List(ctx context.Context) ([]domain.Actor, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []actorRow
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT `+actorColumns+` FROM actors ORDER BY actor_id`)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Actor, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
