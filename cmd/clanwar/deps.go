// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/clan"
	clanpg "github.com/holomush/clanwar/internal/clan/postgres"
	"github.com/holomush/clanwar/internal/config"
	"github.com/holomush/clanwar/internal/observability"
	"github.com/holomush/clanwar/internal/store"
	"github.com/holomush/clanwar/internal/territory"
	territorypg "github.com/holomush/clanwar/internal/territory/postgres"
	"github.com/holomush/clanwar/internal/war"
	warpg "github.com/holomush/clanwar/internal/war/postgres"
)

// Deps contains injectable dependencies for every command.
// Nil fields use their default implementations.
type Deps struct {
	// BackendFactory opens persistence and the clan collaborators.
	// Default: postgresBackend
	BackendFactory func(ctx context.Context, cfg config.Config) (*Backend, error)

	// MigratorFactory opens a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.BackendFactory == nil {
		out.BackendFactory = postgresBackend
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, ready, registrars...)
		}
	}
	return &out
}

// Backend bundles the stores and collaborators the engines run on.
type Backend struct {
	Territories territory.Store
	Wars        war.Store
	Clans       clan.Service
	Economy     clan.Economy
	Identity    clan.Identity

	// Admin manages clans and actors. Nil if the backend cannot.
	Admin ClanAdmin

	// Lock claims exclusive ownership of the stores for one engine. ok is
	// false while another engine holds it. Nil means no exclusion.
	Lock func(ctx context.Context) (release func(), ok bool, err error)

	// Close releases the backend. May be nil.
	Close func()
}

// ClanAdmin creates clans and actors for a standalone deployment.
type ClanAdmin interface {
	CreateActor(ctx context.Context, name string) (clan.ActorID, error)
	CreateClan(ctx context.Context, name string, leader clan.ActorID) (*clan.Clan, error)
	AddMember(ctx context.Context, clanID ulid.ULID, actor clan.ActorID, perms clan.Permission) error
	SetMoral(ctx context.Context, clanID ulid.ULID, moral decimal.Decimal) error
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func postgresBackend(ctx context.Context, cfg config.Config) (*Backend, error) {
	if cfg.DatabaseURL == "" {
		return nil, errNoDatabase
	}
	pool, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultConnectOptions)
	if err != nil {
		return nil, err
	}
	clans := clanpg.NewRepository(pool)
	return &Backend{
		Territories: territorypg.NewRepository(pool),
		Wars:        warpg.NewRepository(pool),
		Clans:       clans,
		Economy:     clans,
		Identity:    clans,
		Admin:       clans,
		Lock: func(ctx context.Context) (func(), bool, error) {
			return store.AcquireEngineLock(ctx, pool)
		},
		Close: pool.Close,
	}, nil
}
