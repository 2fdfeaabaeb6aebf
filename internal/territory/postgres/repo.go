// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements territory.Store with PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/territory"
)

// pool is the subset of *pgxpool.Pool used here, so tests can substitute pgxmock.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements territory.Store.
type Repository struct {
	pool pool
}

// NewRepository creates a Repository.
func NewRepository(p pool) *Repository {
	return &Repository{pool: p}
}

// ListTerritories returns every claimed chunk.
func (r *Repository) ListTerritories(ctx context.Context) ([]territory.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, clan_id, world, chunk_x, chunk_z, claimed_at
		FROM territories ORDER BY claimed_at, world, chunk_x, chunk_z
	`)
	if err != nil {
		return nil, oops.With("operation", "list territories").Wrap(err)
	}
	defer rows.Close()

	chunks := make([]territory.Chunk, 0)
	for rows.Next() {
		var c territory.Chunk
		var idStr, clanStr string
		if err := rows.Scan(&idStr, &clanStr, &c.World, &c.X, &c.Z, &c.ClaimedAt); err != nil {
			return nil, oops.With("operation", "scan territory").Wrap(err)
		}
		if c.ID, err = ulid.Parse(idStr); err != nil {
			return nil, oops.With("operation", "parse territory id").With("id", idStr).Wrap(err)
		}
		if c.ClanID, err = ulid.Parse(clanStr); err != nil {
			return nil, oops.With("operation", "parse clan id").With("clan_id", clanStr).Wrap(err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate territories").Wrap(err)
	}
	return chunks, nil
}

// CreateTerritory persists a new chunk.
func (r *Repository) CreateTerritory(ctx context.Context, c territory.Chunk) error {
	return createTerritory(ctx, r.pool, c)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func createTerritory(ctx context.Context, db execer, c territory.Chunk) error {
	_, err := db.Exec(ctx, `
		INSERT INTO territories (id, clan_id, world, chunk_x, chunk_z, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID.String(), c.ClanID.String(), c.World, c.X, c.Z, c.ClaimedAt)
	if isUniqueViolation(err) {
		return oops.Code("CHUNK_ALREADY_CLAIMED").With("chunk", c.Key().String()).Wrap(territory.ErrAlreadyClaimed)
	}
	if err != nil {
		return oops.With("operation", "create territory").With("id", c.ID.String()).Wrap(err)
	}
	return nil
}

// RemoveTerritory deletes a chunk by ID.
func (r *Repository) RemoveTerritory(ctx context.Context, id ulid.ULID) error {
	return removeTerritory(ctx, r.pool, id)
}

func removeTerritory(ctx context.Context, db execer, id ulid.ULID) error {
	result, err := db.Exec(ctx, `DELETE FROM territories WHERE id = $1`, id.String())
	if err != nil {
		return oops.With("operation", "remove territory").With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TERRITORY_NOT_FOUND").With("id", id.String()).Wrap(territory.ErrNotFound)
	}
	return nil
}

// ReplaceTerritory deletes oldID and inserts next in one transaction.
func (r *Repository) ReplaceTerritory(ctx context.Context, oldID ulid.ULID, next territory.Chunk) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := removeTerritory(ctx, tx, oldID); err != nil {
		return err
	}
	if err := createTerritory(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// GetClanBank returns a clan's bank, with a zero balance if none exists.
func (r *Repository) GetClanBank(ctx context.Context, clanID ulid.ULID) (territory.Bank, error) {
	var balance string
	err := r.pool.QueryRow(ctx,
		`SELECT balance::text FROM clan_banks WHERE clan_id = $1`, clanID.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return territory.Bank{ClanID: clanID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return territory.Bank{}, oops.With("operation", "get clan bank").With("clan_id", clanID.String()).Wrap(err)
	}
	return parseBank(clanID, balance)
}

// DepositToClanBank credits amount and returns the new balance.
func (r *Repository) DepositToClanBank(ctx context.Context, clanID ulid.ULID, amount decimal.Decimal) (territory.Bank, error) {
	var balance string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO clan_banks (clan_id, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (clan_id) DO UPDATE SET balance = clan_banks.balance + EXCLUDED.balance
		RETURNING balance::text
	`, clanID.String(), amount.String()).Scan(&balance)
	if err != nil {
		return territory.Bank{}, oops.With("operation", "deposit to clan bank").With("clan_id", clanID.String()).Wrap(err)
	}
	return parseBank(clanID, balance)
}

// WithdrawFromClanBank debits amount only if the balance covers it.
func (r *Repository) WithdrawFromClanBank(ctx context.Context, clanID ulid.ULID, amount decimal.Decimal) (territory.Bank, error) {
	var balance string
	err := r.pool.QueryRow(ctx, `
		UPDATE clan_banks SET balance = balance - $2::numeric
		WHERE clan_id = $1 AND balance >= $2::numeric
		RETURNING balance::text
	`, clanID.String(), amount.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return territory.Bank{}, oops.Code("INSUFFICIENT_FUNDS").
			With("clan_id", clanID.String()).
			With("amount", amount.String()).
			Wrap(territory.ErrInsufficientFunds)
	}
	if err != nil {
		return territory.Bank{}, oops.With("operation", "withdraw from clan bank").With("clan_id", clanID.String()).Wrap(err)
	}
	return parseBank(clanID, balance)
}

func parseBank(clanID ulid.ULID, balance string) (territory.Bank, error) {
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return territory.Bank{}, oops.With("operation", "parse balance").With("balance", balance).Wrap(err)
	}
	return territory.Bank{ClanID: clanID, Balance: d}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ territory.Store = (*Repository)(nil)
