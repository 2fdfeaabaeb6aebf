// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

// Package integration_test runs the repositories and engines against a real
// PostgreSQL.
package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcwait "github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/clanwar/internal/clan"
	clanpg "github.com/holomush/clanwar/internal/clan/postgres"
	"github.com/holomush/clanwar/internal/store"
	territorypg "github.com/holomush/clanwar/internal/territory/postgres"
	warpg "github.com/holomush/clanwar/internal/war/postgres"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Clanwar Integration Suite")
}

// testEnv holds the database and the repositories under test.
type testEnv struct {
	ctx       context.Context
	connStr   string
	pool      *pgxpool.Pool
	container testcontainers.Container

	Clans       *clanpg.Repository
	Territories *territorypg.Repository
	Wars        *warpg.Repository
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("clanwar_test"),
		postgres.WithUsername("clanwar"),
		postgres.WithPassword("clanwar"),
		testcontainers.WithWaitStrategy(
			tcwait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	upErr := migrator.Up()
	closeErr := migrator.Close()
	if upErr != nil || closeErr != nil {
		_ = container.Terminate(ctx)
		if upErr != nil {
			return nil, upErr
		}
		return nil, closeErr
	}

	pool, err := store.Open(ctx, connStr, store.DefaultConnectOptions)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{
		ctx:         ctx,
		connStr:     connStr,
		pool:        pool,
		container:   container,
		Clans:       clanpg.NewRepository(pool),
		Territories: territorypg.NewRepository(pool),
		Wars:        warpg.NewRepository(pool),
	}, nil
}

func (e *testEnv) cleanup() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

// resetDatabase empties every table between specs.
func resetDatabase(ctx context.Context) {
	_, err := env.pool.Exec(ctx, `
		TRUNCATE truces, active_sieges, active_wars, clan_banks, territories,
			actor_balances, clan_members, clans, actors`)
	Expect(err).NotTo(HaveOccurred())
}

// createClan founds a clan with the given moral led by a fresh actor
// holding every right, and returns the clan and its leader.
func createClan(ctx context.Context, name string, moral int64) (*clan.Clan, clan.ActorID) {
	leader, err := env.Clans.CreateActor(ctx, name+"-leader")
	Expect(err).NotTo(HaveOccurred())
	c, err := env.Clans.CreateClan(ctx, name, leader)
	Expect(err).NotTo(HaveOccurred())
	Expect(env.Clans.SetMoral(ctx, c.ID, decimal.NewFromInt(moral))).To(Succeed())
	return c, leader
}

func newID() ulid.ULID {
	return ulid.Make()
}
