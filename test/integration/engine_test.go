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

	"github.com/holomush/clanwar/internal/loop"
	"github.com/holomush/clanwar/internal/notify"
	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/internal/war"
)

// engine is both managers over the suite's repositories.
type engine struct {
	loop      *loop.Loop
	events    *notify.Broadcaster
	territory *territory.Manager
	wars      *war.Manager
	stop      context.CancelFunc
}

func startEngine(ctx context.Context) *engine {
	l := loop.New(loop.Config{Workers: 4})
	events := notify.NewBroadcaster(nil)

	tm, err := territory.NewManager(territory.ManagerConfig{
		Loop:     l,
		Store:    env.Territories,
		Clans:    env.Clans,
		Economy:  env.Clans,
		Events:   events,
		Settings: territory.DefaultSettings(),
	})
	Expect(err).NotTo(HaveOccurred())

	settings := war.DefaultSettings()
	settings.SiegeDuration = time.Hour
	wm, err := war.NewManager(war.ManagerConfig{
		Loop:      l,
		Store:     env.Wars,
		Territory: tm,
		Clans:     env.Clans,
		Economy:   env.Clans,
		Events:    events,
		Settings:  settings,
	})
	Expect(err).NotTo(HaveOccurred())

	runCtx, stop := context.WithCancel(context.Background())
	go func() { _ = l.Run(runCtx) }()
	Eventually(l.Ready()).Should(BeClosed())

	Expect(tm.Load(ctx)).To(Succeed())
	Expect(wm.Load(ctx)).To(Succeed())
	return &engine{loop: l, events: events, territory: tm, wars: wm, stop: stop}
}

func (e *engine) close() {
	e.wars.Close()
	e.stop()
	<-e.loop.Stopped()
}

func wait[T any](f *loop.Future[T]) T {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	Expect(err).NotTo(HaveOccurred())
	return v
}

func at(x, z float64) territory.Position {
	return territory.Position{World: "overworld", X: x, Y: 64, Z: z}
}

var _ = Describe("Engine", func() {
	var ctx context.Context
	var e *engine

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx)
		e = startEngine(ctx)
	})

	AfterEach(func() {
		e.close()
	})

	It("runs a war from claim to transferred territory across a restart", func() {
		ravens, alice := createClan(ctx, "Ravens", 5)
		wolves, wolfLeader := createClan(ctx, "Wolves", 3)

		for _, pos := range []territory.Position{at(0, 0), at(16, 0)} {
			out := wait(e.territory.ClaimTerritory(ctx, wolfLeader, pos))
			Expect(out.Result).To(Equal(territory.ClaimSuccess), "err: %v", out.Err)
		}
		Expect(env.Clans.SetMoral(ctx, wolves.ID, decimal.NewFromInt(1))).To(Succeed())

		Expect(env.Clans.Deposit(ctx, alice, decimal.NewFromInt(1500), "test")).To(Succeed())
		bank := wait(e.territory.ContributeToClanBank(ctx, alice, decimal.NewFromInt(1500)))
		Expect(bank.Result).To(Equal(territory.BankSuccess))

		declared := wait(e.wars.DeclareWar(ctx, alice, "wolves"))
		Expect(declared.Result).To(Equal(war.DeclareSuccess), "err: %v", declared.Err)
		balance, err := e.territory.FetchClanBalance(ctx, ravens.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(balance.Equal(decimal.NewFromInt(500))).To(BeTrue())

		started := wait(e.wars.StartSiege(ctx, alice, at(5, 5)))
		Expect(started.Result).To(Equal(war.SiegeSuccess), "err: %v", started.Err)

		e.close()
		e = startEngine(ctx)

		siege, ok := e.wars.GetActiveSiege(at(0, 0))
		Expect(ok).To(BeTrue(), "siege is re-armed from the database")
		Expect(siege.ID).To(Equal(started.Siege.ID))
		Expect(e.wars.IsWarzone(at(16, 0))).To(BeTrue())

		resolved := wait(e.wars.EndSiege(ctx, siege, ravens.ID))
		Expect(resolved.Err).NotTo(HaveOccurred())
		Expect(resolved.Siege.Status).To(Equal(war.SiegeAttackerWin))

		owner, ok := e.territory.GetOwningClan(at(0, 0))
		Expect(ok).To(BeTrue())
		Expect(owner).To(Equal(ravens.ID))

		chunks, err := env.Territories.ListTerritories(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(HaveLen(2))
		wars, err := env.Wars.ListActiveWars(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(wars).To(BeEmpty(), "resolution concludes the war")
	})

	It("rejects claims beyond moral and keeps the database unchanged", func() {
		_, leader := createClan(ctx, "Ravens", 1)

		first := wait(e.territory.ClaimTerritory(ctx, leader, at(0, 0)))
		Expect(first.Result).To(Equal(territory.ClaimSuccess))
		second := wait(e.territory.ClaimTerritory(ctx, leader, at(32, 0)))
		Expect(second.Result).To(Equal(territory.ClaimInsufficientMoral))

		chunks, err := env.Territories.ListTerritories(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(HaveLen(1))
	})

	It("resolves concurrent claims on one chunk to a single owner", func() {
		_, ravensLeader := createClan(ctx, "Ravens", 5)
		_, wolvesLeader := createClan(ctx, "Wolves", 5)

		a := e.territory.ClaimTerritory(ctx, ravensLeader, at(1, 1))
		b := e.territory.ClaimTerritory(ctx, wolvesLeader, at(2, 2))
		results := []territory.ClaimResult{wait(a).Result, wait(b).Result}
		Expect(results).To(ConsistOf(territory.ClaimSuccess, territory.ClaimAlreadyClaimed))

		chunks, err := env.Territories.ListTerritories(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(HaveLen(1))
	})

	It("signs truces that outlive a restart", func() {
		ravens, _ := createClan(ctx, "Ravens", 5)
		wolves, _ := createClan(ctx, "Wolves", 5)

		out := wait(e.wars.SignTruce(ctx, ravens.ID, wolves.ID))
		Expect(out.Err).NotTo(HaveOccurred())
		Expect(out.Concluded).To(BeNil())

		active, err := env.Wars.HasActiveTruce(ctx, wolves.ID, ravens.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeTrue())
	})
})
