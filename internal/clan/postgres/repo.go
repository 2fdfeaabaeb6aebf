// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the clan collaborators over PostgreSQL so the
// engines can run without an external game server.
package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/clan"
)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements clan.Service, clan.Economy and clan.Identity.
type Repository struct {
	pool pool
}

// NewRepository creates a Repository.
func NewRepository(p pool) *Repository {
	return &Repository{pool: p}
}

// FactionOf returns the actor's clan membership.
func (r *Repository) FactionOf(ctx context.Context, actor clan.ActorID) (*clan.Membership, error) {
	var id, name, leader string
	var perms int64
	err := r.pool.QueryRow(ctx, `
		SELECT c.id, c.name, c.leader_id, m.permissions
		FROM clan_members m JOIN clans c ON c.id = m.clan_id
		WHERE m.actor_id = $1
	`, actor.String()).Scan(&id, &name, &leader, &perms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("NO_CLAN").With("actor_id", actor.String()).Wrap(clan.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get faction").With("actor_id", actor.String()).Wrap(err)
	}
	c, err := buildClan(id, name, leader)
	if err != nil {
		return nil, err
	}
	return &clan.Membership{Clan: *c, Permissions: clan.Permission(perms)}, nil
}

// ByID returns a clan by ID.
func (r *Repository) ByID(ctx context.Context, id ulid.ULID) (*clan.Clan, error) {
	return r.getClan(ctx, `SELECT id, name, leader_id FROM clans WHERE id = $1`, id.String())
}

// ByName returns a clan by case-insensitive name.
func (r *Repository) ByName(ctx context.Context, name string) (*clan.Clan, error) {
	return r.getClan(ctx, `SELECT id, name, leader_id FROM clans WHERE lower(name) = lower($1)`, name)
}

func (r *Repository) getClan(ctx context.Context, sql, arg string) (*clan.Clan, error) {
	var id, name, leader string
	err := r.pool.QueryRow(ctx, sql, arg).Scan(&id, &name, &leader)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CLAN_NOT_FOUND").With("clan", arg).Wrap(clan.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get clan").With("clan", arg).Wrap(err)
	}
	return buildClan(id, name, leader)
}

// Moral returns the clan's stored moral.
func (r *Repository) Moral(ctx context.Context, id ulid.ULID) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT moral::text FROM clans WHERE id = $1`, id.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, oops.Code("CLAN_NOT_FOUND").With("clan_id", id.String()).Wrap(clan.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, oops.With("operation", "get moral").With("clan_id", id.String()).Wrap(err)
	}
	return parseAmount(raw)
}

// SetMoral overwrites the clan's stored moral.
func (r *Repository) SetMoral(ctx context.Context, id ulid.ULID, moral decimal.Decimal) error {
	result, err := r.pool.Exec(ctx, `UPDATE clans SET moral = $2::numeric WHERE id = $1`, id.String(), moral.String())
	if err != nil {
		return oops.With("operation", "set moral").With("clan_id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CLAN_NOT_FOUND").With("clan_id", id.String()).Wrap(clan.ErrNotFound)
	}
	return nil
}

// Balance returns the actor's wallet. An actor without a wallet row has zero.
func (r *Repository) Balance(ctx context.Context, actor clan.ActorID) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT balance::text FROM actor_balances WHERE actor_id = $1`, actor.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, oops.With("operation", "get balance").With("actor_id", actor.String()).Wrap(err)
	}
	return parseAmount(raw)
}

// Withdraw debits the actor if the balance covers amount.
func (r *Repository) Withdraw(ctx context.Context, actor clan.ActorID, amount decimal.Decimal, reason string) (bool, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `
		UPDATE actor_balances SET balance = balance - $2::numeric
		WHERE actor_id = $1 AND balance >= $2::numeric
		RETURNING balance::text
	`, actor.String(), amount.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, oops.With("operation", "withdraw").With("actor_id", actor.String()).With("reason", reason).Wrap(err)
	}
	slog.Debug("actor debited", "actor_id", actor.String(), "amount", amount.String(), "balance", raw, "reason", reason)
	return true, nil
}

// Deposit credits the actor, creating the wallet if needed.
func (r *Repository) Deposit(ctx context.Context, actor clan.ActorID, amount decimal.Decimal, reason string) error {
	var raw string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO actor_balances (actor_id, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (actor_id) DO UPDATE SET balance = actor_balances.balance + EXCLUDED.balance
		RETURNING balance::text
	`, actor.String(), amount.String()).Scan(&raw)
	if err != nil {
		return oops.With("operation", "deposit").With("actor_id", actor.String()).With("reason", reason).Wrap(err)
	}
	slog.Debug("actor credited", "actor_id", actor.String(), "amount", amount.String(), "balance", raw, "reason", reason)
	return nil
}

// Resolve returns the actor with the given case-insensitive name.
func (r *Repository) Resolve(ctx context.Context, name string) (clan.ActorID, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT id FROM actors WHERE lower(name) = lower($1)`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return clan.ActorID{}, oops.Code("ACTOR_NOT_FOUND").With("name", name).Wrap(clan.ErrNotFound)
	}
	if err != nil {
		return clan.ActorID{}, oops.With("operation", "resolve actor").With("name", name).Wrap(err)
	}
	id, err := ulid.Parse(raw)
	if err != nil {
		return clan.ActorID{}, oops.With("operation", "parse actor id").With("id", raw).Wrap(err)
	}
	return id, nil
}

// Name returns the actor's display name.
func (r *Repository) Name(ctx context.Context, actor clan.ActorID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM actors WHERE id = $1`, actor.String()).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("ACTOR_NOT_FOUND").With("actor_id", actor.String()).Wrap(clan.ErrNotFound)
	}
	if err != nil {
		return "", oops.With("operation", "get actor name").With("actor_id", actor.String()).Wrap(err)
	}
	return name, nil
}

// CreateActor registers a new actor.
func (r *Repository) CreateActor(ctx context.Context, name string) (clan.ActorID, error) {
	id := ulid.Make()
	_, err := r.pool.Exec(ctx, `INSERT INTO actors (id, name) VALUES ($1, $2)`, id.String(), name)
	if isUniqueViolation(err) {
		return clan.ActorID{}, oops.Code("ACTOR_EXISTS").With("name", name).Errorf("actor %q already exists", name)
	}
	if err != nil {
		return clan.ActorID{}, oops.With("operation", "create actor").With("name", name).Wrap(err)
	}
	return id, nil
}

// CreateClan founds a clan led by leader, who joins it with every right.
func (r *Repository) CreateClan(ctx context.Context, name string, leader clan.ActorID) (*clan.Clan, error) {
	c := &clan.Clan{ID: ulid.Make(), Name: name, LeaderID: leader}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("TX_BEGIN_FAILED").With("operation", "create clan").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `INSERT INTO clans (id, name, leader_id) VALUES ($1, $2, $3)`,
		c.ID.String(), name, leader.String())
	if isUniqueViolation(err) {
		return nil, oops.Code("CLAN_EXISTS").With("name", name).Errorf("clan %q already exists", name)
	}
	if err != nil {
		return nil, oops.With("operation", "create clan").With("name", name).Wrap(err)
	}
	if err := addMember(ctx, tx, c.ID, leader, clan.PermAll); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("TX_COMMIT_FAILED").With("operation", "create clan").Wrap(err)
	}
	return c, nil
}

// AddMember puts actor in clanID with the given rights.
func (r *Repository) AddMember(ctx context.Context, clanID ulid.ULID, actor clan.ActorID, perms clan.Permission) error {
	return addMember(ctx, r.pool, clanID, actor, perms)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func addMember(ctx context.Context, db execer, clanID ulid.ULID, actor clan.ActorID, perms clan.Permission) error {
	_, err := db.Exec(ctx, `INSERT INTO clan_members (actor_id, clan_id, permissions) VALUES ($1, $2, $3)`,
		actor.String(), clanID.String(), int64(perms))
	if isUniqueViolation(err) {
		return oops.Code("ALREADY_IN_CLAN").With("actor_id", actor.String()).Errorf("actor already belongs to a clan")
	}
	if err != nil {
		return oops.With("operation", "add member").With("clan_id", clanID.String()).With("actor_id", actor.String()).Wrap(err)
	}
	return nil
}

func buildClan(id, name, leader string) (*clan.Clan, error) {
	clanID, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.With("operation", "parse clan id").With("id", id).Wrap(err)
	}
	leaderID, err := ulid.Parse(leader)
	if err != nil {
		return nil, oops.With("operation", "parse leader id").With("id", leader).Wrap(err)
	}
	return &clan.Clan{ID: clanID, Name: name, LeaderID: leaderID}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, oops.With("operation", "parse amount").With("value", raw).Wrap(err)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var (
	_ clan.Service  = (*Repository)(nil)
	_ clan.Economy  = (*Repository)(nil)
	_ clan.Identity = (*Repository)(nil)
)
