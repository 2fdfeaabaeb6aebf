// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/clan"
	"github.com/holomush/clanwar/internal/store"
	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/internal/war"
)

var _ = Describe("Migrations", func() {
	It("leaves nothing pending", func() {
		m, err := store.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		pending, err := m.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())

		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		versions, err := store.Versions()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(versions[len(versions)-1]))
	})
})

var _ = Describe("engine lock", func() {
	It("admits one holder at a time", func() {
		ctx := context.Background()
		release, ok, err := store.AcquireEngineLock(ctx, env.pool)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		other, err := store.Open(ctx, env.connStr, store.DefaultConnectOptions)
		Expect(err).NotTo(HaveOccurred())
		defer other.Close()

		_, ok, err = store.AcquireEngineLock(ctx, other)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		release()

		again, ok, err := store.AcquireEngineLock(ctx, other)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		again()
	})
})

var _ = Describe("clan Repository", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx)
	})

	It("founds a clan with its leader as a full member", func() {
		ravens, leader := createClan(ctx, "Ravens", 3)

		m, err := env.Clans.FactionOf(ctx, leader)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Clan.ID).To(Equal(ravens.ID))
		Expect(m.Clan.LeaderID).To(Equal(leader))
		Expect(m.Permissions).To(Equal(clan.PermAll))

		byName, err := env.Clans.ByName(ctx, "RAVENS")
		Expect(err).NotTo(HaveOccurred())
		Expect(byName.ID).To(Equal(ravens.ID))

		moral, err := env.Clans.Moral(ctx, ravens.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(moral.Equal(decimal.NewFromInt(3))).To(BeTrue())
	})

	It("rejects duplicate names and second memberships", func() {
		ravens, leader := createClan(ctx, "Ravens", 1)

		_, err := env.Clans.CreateActor(ctx, "ravens-LEADER")
		Expect(err).To(HaveOccurred())

		_, err = env.Clans.CreateClan(ctx, "ravens", leader)
		Expect(err).To(HaveOccurred())

		wolves, _ := createClan(ctx, "Wolves", 1)
		Expect(env.Clans.AddMember(ctx, wolves.ID, leader, clan.PermClaim)).NotTo(Succeed())

		m, err := env.Clans.FactionOf(ctx, leader)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Clan.ID).To(Equal(ravens.ID))
	})

	It("reports loners as clanless", func() {
		loner, err := env.Clans.CreateActor(ctx, "bob")
		Expect(err).NotTo(HaveOccurred())

		_, err = env.Clans.FactionOf(ctx, loner)
		Expect(err).To(MatchError(clan.ErrNotFound))

		id, err := env.Clans.Resolve(ctx, "Bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(loner))
		name, err := env.Clans.Name(ctx, loner)
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("bob"))
	})

	It("debits wallets only when covered", func() {
		actor, err := env.Clans.CreateActor(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Clans.Deposit(ctx, actor, decimal.NewFromInt(100), "test")).To(Succeed())

		ok, err := env.Clans.Withdraw(ctx, actor, decimal.NewFromInt(150), "test")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		ok, err = env.Clans.Withdraw(ctx, actor, decimal.RequireFromString("99.5"), "test")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		balance, err := env.Clans.Balance(ctx, actor)
		Expect(err).NotTo(HaveOccurred())
		Expect(balance.String()).To(Equal("0.5"))
	})
})

var _ = Describe("territory Repository", func() {
	var ctx context.Context
	var ravens, wolves *clan.Clan

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx)
		ravens, _ = createClan(ctx, "Ravens", 5)
		wolves, _ = createClan(ctx, "Wolves", 5)
	})

	chunk := func(owner *clan.Clan, x, z int) territory.Chunk {
		return territory.Chunk{
			ID:        newID(),
			ClanID:    owner.ID,
			World:     "overworld",
			X:         x,
			Z:         z,
			ClaimedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
	}

	It("enforces one owner per grid cell", func() {
		first := chunk(ravens, 0, 0)
		Expect(env.Territories.CreateTerritory(ctx, first)).To(Succeed())
		Expect(env.Territories.CreateTerritory(ctx, chunk(wolves, 0, 0))).To(MatchError(territory.ErrAlreadyClaimed))

		all, err := env.Territories.ListTerritories(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
		Expect(all[0].ID).To(Equal(first.ID))
		Expect(all[0].ClaimedAt.Equal(first.ClaimedAt)).To(BeTrue())
	})

	It("replaces ownership atomically", func() {
		old := chunk(wolves, 3, -2)
		Expect(env.Territories.CreateTerritory(ctx, old)).To(Succeed())

		next := chunk(ravens, 3, -2)
		Expect(env.Territories.ReplaceTerritory(ctx, old.ID, next)).To(Succeed())
		Expect(env.Territories.RemoveTerritory(ctx, old.ID)).To(MatchError(territory.ErrNotFound))

		all, err := env.Territories.ListTerritories(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
		Expect(all[0].ClanID).To(Equal(ravens.ID))
	})

	It("keeps clan banks non-negative", func() {
		bank, err := env.Territories.GetClanBank(ctx, ravens.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(bank.Balance.IsZero()).To(BeTrue())

		bank, err = env.Territories.DepositToClanBank(ctx, ravens.ID, decimal.NewFromInt(250))
		Expect(err).NotTo(HaveOccurred())
		Expect(bank.Balance.Equal(decimal.NewFromInt(250))).To(BeTrue())

		_, err = env.Territories.WithdrawFromClanBank(ctx, ravens.ID, decimal.NewFromInt(300))
		Expect(err).To(MatchError(territory.ErrInsufficientFunds))

		bank, err = env.Territories.WithdrawFromClanBank(ctx, ravens.ID, decimal.NewFromInt(100))
		Expect(err).NotTo(HaveOccurred())
		Expect(bank.Balance.Equal(decimal.NewFromInt(150))).To(BeTrue())
	})
})

var _ = Describe("war Repository", func() {
	var ctx context.Context
	var ravens, wolves *clan.Clan
	var now time.Time

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx)
		ravens, _ = createClan(ctx, "Ravens", 5)
		wolves, _ = createClan(ctx, "Wolves", 1)
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	declare := func(aggressor, defender *clan.Clan) war.War {
		return war.War{
			ID:                 newID(),
			AggressorClanID:    aggressor.ID,
			DefenderClanID:     defender.ID,
			StartTime:          now,
			EndTimeExclusivity: now.Add(time.Hour),
			Status:             war.StatusActive,
		}
	}

	It("allows one active war per pair in either direction", func() {
		w := declare(ravens, wolves)
		Expect(env.Wars.CreateActiveWar(ctx, w)).To(Succeed())
		Expect(env.Wars.CreateActiveWar(ctx, declare(wolves, ravens))).To(MatchError(war.ErrConflict))

		Expect(env.Wars.ConcludeWar(ctx, w.ID)).To(Succeed())
		Expect(env.Wars.ConcludeWar(ctx, w.ID)).To(MatchError(war.ErrNotFound))

		wars, err := env.Wars.ListActiveWars(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(wars).To(BeEmpty())

		Expect(env.Wars.CreateActiveWar(ctx, declare(wolves, ravens))).To(Succeed())
	})

	It("tracks live sieges until they reach a terminal state", func() {
		w := declare(ravens, wolves)
		Expect(env.Wars.CreateActiveWar(ctx, w)).To(Succeed())
		s := war.Siege{
			ID:              newID(),
			WarID:           w.ID,
			TerritoryID:     newID(),
			AggressorClanID: ravens.ID,
			DefenderClanID:  wolves.ID,
			World:           "overworld",
			X:               4,
			Z:               -1,
			Duration:        30 * time.Minute,
			StartedAt:       now,
			Status:          war.SiegeActive,
		}
		Expect(env.Wars.CreateActiveSiege(ctx, s)).To(Succeed())

		dup := s
		dup.ID = newID()
		Expect(env.Wars.CreateActiveSiege(ctx, dup)).To(MatchError(war.ErrConflict))

		live, err := env.Wars.ListLiveSieges(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(live).To(HaveLen(1))
		Expect(live[0].Duration).To(Equal(30 * time.Minute))
		Expect(live[0].Key()).To(Equal(s.Key()))

		s.Status = war.SiegeDefenderWin
		Expect(env.Wars.UpdateActiveSiege(ctx, s)).To(Succeed())
		live, err = env.Wars.ListLiveSieges(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(live).To(BeEmpty())

		Expect(env.Wars.CreateActiveSiege(ctx, dup)).To(Succeed())
	})

	It("finds truces in either clan order while they last", func() {
		t := war.Truce{ID: newID(), ClanA: ravens.ID, ClanB: wolves.ID, StartTime: now, EndTime: now.Add(time.Hour)}
		Expect(env.Wars.CreateTruce(ctx, t)).To(Succeed())

		active, err := env.Wars.HasActiveTruce(ctx, wolves.ID, ravens.ID, now.Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeTrue())

		active, err = env.Wars.HasActiveTruce(ctx, ravens.ID, wolves.ID, now.Add(2*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeFalse())
	})
})
