// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements war.Store with PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/clanwar/internal/war"
)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository implements war.Store.
type Repository struct {
	pool pool
}

// NewRepository creates a Repository.
func NewRepository(p pool) *Repository {
	return &Repository{pool: p}
}

// ListActiveWars returns every war with status ACTIVE.
func (r *Repository) ListActiveWars(ctx context.Context) ([]war.War, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggressor_clan_id, defender_clan_id, start_time, end_time_exclusivity, status
		FROM active_wars WHERE status = 'ACTIVE'
		ORDER BY start_time
	`)
	if err != nil {
		return nil, oops.With("operation", "list active wars").Wrap(err)
	}
	defer rows.Close()

	wars := make([]war.War, 0)
	for rows.Next() {
		var w war.War
		var id, aggressor, defender, status string
		if err := rows.Scan(&id, &aggressor, &defender, &w.StartTime, &w.EndTimeExclusivity, &status); err != nil {
			return nil, oops.With("operation", "scan war").Wrap(err)
		}
		if err := parseIDs(
			id, &w.ID,
			aggressor, &w.AggressorClanID,
			defender, &w.DefenderClanID,
		); err != nil {
			return nil, err
		}
		if w.Status, err = war.ParseStatus(status); err != nil {
			return nil, oops.With("operation", "parse war status").With("war_id", id).Wrap(err)
		}
		wars = append(wars, w)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate wars").Wrap(err)
	}
	return wars, nil
}

// CreateActiveWar persists a new war.
func (r *Repository) CreateActiveWar(ctx context.Context, w war.War) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO active_wars (id, aggressor_clan_id, defender_clan_id, start_time, end_time_exclusivity, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID.String(), w.AggressorClanID.String(), w.DefenderClanID.String(), w.StartTime, w.EndTimeExclusivity, w.Status.String())
	if isUniqueViolation(err) {
		return oops.Code("ALREADY_AT_WAR").
			With("aggressor_clan_id", w.AggressorClanID.String()).
			With("defender_clan_id", w.DefenderClanID.String()).
			Wrap(war.ErrConflict)
	}
	if err != nil {
		return oops.With("operation", "create war").With("war_id", w.ID.String()).Wrap(err)
	}
	return nil
}

// ConcludeWar marks a war CONCLUDED.
func (r *Repository) ConcludeWar(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE active_wars SET status = 'CONCLUDED', concluded_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
	`, id.String())
	if err != nil {
		return oops.With("operation", "conclude war").With("war_id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("WAR_NOT_FOUND").With("war_id", id.String()).Wrap(war.ErrNotFound)
	}
	return nil
}

// ListLiveSieges returns every PENDING or ACTIVE siege.
func (r *Repository) ListLiveSieges(ctx context.Context) ([]war.Siege, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, war_id, territory_id, aggressor_clan_id, defender_clan_id,
		       world, chunk_x, chunk_z, duration_seconds, started_at, status
		FROM active_sieges WHERE status IN ('PENDING', 'ACTIVE')
		ORDER BY started_at
	`)
	if err != nil {
		return nil, oops.With("operation", "list live sieges").Wrap(err)
	}
	defer rows.Close()

	sieges := make([]war.Siege, 0)
	for rows.Next() {
		var s war.Siege
		var id, warID, territoryID, aggressor, defender, status string
		var seconds int64
		if err := rows.Scan(&id, &warID, &territoryID, &aggressor, &defender,
			&s.World, &s.X, &s.Z, &seconds, &s.StartedAt, &status); err != nil {
			return nil, oops.With("operation", "scan siege").Wrap(err)
		}
		if err := parseIDs(
			id, &s.ID,
			warID, &s.WarID,
			territoryID, &s.TerritoryID,
			aggressor, &s.AggressorClanID,
			defender, &s.DefenderClanID,
		); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(seconds) * time.Second
		if s.Status, err = war.ParseSiegeStatus(status); err != nil {
			return nil, oops.With("operation", "parse siege status").With("siege_id", id).Wrap(err)
		}
		sieges = append(sieges, s)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate sieges").Wrap(err)
	}
	return sieges, nil
}

// CreateActiveSiege persists a new siege.
func (r *Repository) CreateActiveSiege(ctx context.Context, s war.Siege) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO active_sieges (id, war_id, territory_id, aggressor_clan_id, defender_clan_id,
		                           world, chunk_x, chunk_z, duration_seconds, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID.String(), s.WarID.String(), s.TerritoryID.String(), s.AggressorClanID.String(), s.DefenderClanID.String(),
		s.World, s.X, s.Z, int64(s.Duration/time.Second), s.StartedAt, s.Status.String())
	if isUniqueViolation(err) {
		return oops.Code("SIEGE_ACTIVE").With("chunk", s.Key().String()).Wrap(war.ErrConflict)
	}
	if err != nil {
		return oops.With("operation", "create siege").With("siege_id", s.ID.String()).Wrap(err)
	}
	return nil
}

// UpdateActiveSiege stores the siege's status and start time.
func (r *Repository) UpdateActiveSiege(ctx context.Context, s war.Siege) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE active_sieges SET status = $2, started_at = $3 WHERE id = $1
	`, s.ID.String(), s.Status.String(), s.StartedAt)
	if err != nil {
		return oops.With("operation", "update siege").With("siege_id", s.ID.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SIEGE_NOT_FOUND").With("siege_id", s.ID.String()).Wrap(war.ErrNotFound)
	}
	return nil
}

// CreateTruce persists a truce.
func (r *Repository) CreateTruce(ctx context.Context, t war.Truce) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO truces (id, clan_a, clan_b, start_time, end_time) VALUES ($1, $2, $3, $4, $5)
	`, t.ID.String(), t.ClanA.String(), t.ClanB.String(), t.StartTime, t.EndTime)
	if err != nil {
		return oops.With("operation", "create truce").With("truce_id", t.ID.String()).Wrap(err)
	}
	return nil
}

// HasActiveTruce reports whether a truce between a and b is in force at now.
func (r *Repository) HasActiveTruce(ctx context.Context, a, b ulid.ULID, now time.Time) (bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT 1 FROM truces
		WHERE ((clan_a = $1 AND clan_b = $2) OR (clan_a = $2 AND clan_b = $1))
		  AND start_time <= $3 AND end_time > $3
		LIMIT 1
	`, a.String(), b.String(), now)
	if err != nil {
		return false, oops.With("operation", "check truce").Wrap(err)
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, oops.With("operation", "check truce").Wrap(err)
	}
	return found, nil
}

// parseIDs takes alternating raw string and destination pairs.
func parseIDs(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		raw, _ := pairs[i].(string)
		dst, _ := pairs[i+1].(*ulid.ULID)
		id, err := ulid.Parse(raw)
		if err != nil {
			return oops.With("operation", "parse id").With("id", raw).Wrap(err)
		}
		*dst = id
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ war.Store = (*Repository)(nil)
