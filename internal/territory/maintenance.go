// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/loop"
	"github.com/holomush/clanwar/internal/notify"
	"github.com/holomush/clanwar/pkg/errutil"
)

// GetMaintenanceCost returns clanID's upkeep per pass:
// base * scale^(count-1) for a clan holding count >= 1 chunks, else zero.
func (m *Manager) GetMaintenanceCost(clanID ulid.ULID) decimal.Decimal {
	return MaintenanceCost(m.settings, m.GetTerritoryCount(clanID))
}

// MaintenanceCost computes upkeep for a clan holding count chunks.
func MaintenanceCost(s Settings, count int) decimal.Decimal {
	if count < 1 {
		return decimal.Zero
	}
	return s.MaintenanceBaseCost.Mul(s.MaintenanceScale.Pow(decimal.NewFromInt(int64(count - 1))))
}

// MaintenanceReport summarizes one upkeep pass.
type MaintenanceReport struct {
	// Paid maps each clan that covered upkeep to the amount debited.
	Paid map[ulid.ULID]decimal.Decimal

	// Decayed lists chunks removed because their clan could not pay.
	Decayed []Chunk

	// Failures maps clans that could not be processed to the cause.
	Failures map[ulid.ULID]error
}

// DecayNotice is the payload of a territory_decayed event.
type DecayNotice struct {
	ClanID string `json:"clan_id"`
	World  string `json:"world"`
	ChunkX int    `json:"chunk_x"`
	ChunkZ int    `json:"chunk_z"`
	Cost   string `json:"cost"`
}

// maintenancePass tracks one RunMaintenance call. Loop-confined.
type maintenancePass struct {
	report    MaintenanceReport
	remaining int
	fut       *loop.Future[MaintenanceReport]
}

func (p *maintenancePass) done() {
	p.remaining--
	if p.remaining == 0 {
		p.fut.Resolve(p.report)
	}
}

// RunMaintenance charges upkeep to every clan holding territory. A clan
// whose bank covers its cost is debited; otherwise its oldest chunk is
// removed. Each clan is processed independently, so a failure for one clan
// never prevents the others from being charged.
func (m *Manager) RunMaintenance(ctx context.Context) *loop.Future[MaintenanceReport] {
	fut := loop.NewFuture[MaintenanceReport]()
	clans := m.ClanIDs()

	pass := &maintenancePass{
		report: MaintenanceReport{
			Paid:     make(map[ulid.ULID]decimal.Decimal),
			Failures: make(map[ulid.ULID]error),
		},
		remaining: len(clans),
		fut:       fut,
	}
	if len(clans) == 0 {
		fut.Resolve(pass.report)
		return fut
	}

	for _, clanID := range clans {
		m.maintainClan(ctx, clanID, pass)
	}
	return fut
}

type upkeepQuote struct {
	cost decimal.Decimal
	bank Bank
}

func (m *Manager) maintainClan(ctx context.Context, clanID ulid.ULID, pass *maintenancePass) {
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (upkeepQuote, error) {
			cost := m.GetMaintenanceCost(clanID)
			if cost.IsZero() {
				return upkeepQuote{cost: cost}, nil
			}
			bank, err := m.store.GetClanBank(ctx, clanID)
			return upkeepQuote{cost: cost, bank: bank}, err
		},
		func(q upkeepQuote, err error) {
			if err != nil {
				m.maintenanceFailed(pass, clanID, oops.With("operation", "maintenance quote").Wrap(err))
				return
			}
			if q.cost.IsZero() {
				pass.done()
				return
			}
			m.cacheBalance(q.bank)
			if q.bank.Balance.GreaterThanOrEqual(q.cost) {
				m.chargeUpkeep(ctx, clanID, q.cost, pass)
				return
			}
			m.decayOldest(ctx, clanID, q, pass)
		},
		pass.fut.Reject,
	)
}

func (m *Manager) chargeUpkeep(ctx context.Context, clanID ulid.ULID, cost decimal.Decimal, pass *maintenancePass) {
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (Bank, error) {
			return m.store.WithdrawFromClanBank(ctx, clanID, cost)
		},
		func(b Bank, err error) {
			if errors.Is(err, ErrInsufficientFunds) {
				// The balance dropped between quote and charge.
				m.decayOldest(ctx, clanID, upkeepQuote{cost: cost, bank: b}, pass)
				return
			}
			if err != nil {
				m.maintenanceFailed(pass, clanID, oops.With("operation", "maintenance charge").Wrap(err))
				return
			}
			m.cacheBalance(b)
			recordOperation(OpWithdraw, BankSuccess)
			pass.report.Paid[clanID] = cost
			m.logger.Debug("maintenance paid",
				"clan_id", clanID.String(),
				"cost", cost.String(),
				"balance", b.Balance.String(),
			)
			pass.done()
		},
		pass.fut.Reject,
	)
}

// decayOldest runs on the loop and removes clanID's oldest chunk that is not
// already being mutated.
func (m *Manager) decayOldest(ctx context.Context, clanID ulid.ULID, q upkeepQuote, pass *maintenancePass) {
	var victim Chunk
	found := false
	for _, c := range m.GetClanTerritories(clanID) {
		if _, busy := m.pending[c.Key()]; !busy {
			victim, found = c, true
			break
		}
	}
	if !found {
		m.maintenanceFailed(pass, clanID, oops.Code("NO_DECAY_CANDIDATE").Errorf("no territory available to decay"))
		return
	}

	key := victim.Key()
	m.pending[key] = struct{}{}
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.store.RemoveTerritory(ctx, victim.ID)
		},
		func(_ struct{}, err error) {
			delete(m.pending, key)
			if err != nil && !errors.Is(err, ErrNotFound) {
				m.maintenanceFailed(pass, clanID, oops.With("operation", "maintenance decay").With("chunk", key.String()).Wrap(err))
				return
			}
			m.evict(key, victim.ID)
			DecaysTotal.Inc()
			pass.report.Decayed = append(pass.report.Decayed, victim)
			m.logger.Warn("territory decayed for unpaid maintenance",
				"clan_id", clanID.String(),
				"world", key.World,
				"chunk_x", key.X,
				"chunk_z", key.Z,
				"cost", q.cost.String(),
				"balance", q.bank.Balance.String(),
			)
			m.events.Publish(notify.EventTerritoryDecayed, DecayNotice{
				ClanID: clanID.String(),
				World:  key.World,
				ChunkX: key.X,
				ChunkZ: key.Z,
				Cost:   q.cost.String(),
			}, clanID)
			pass.done()
		},
		pass.fut.Reject,
	)
}

func (m *Manager) maintenanceFailed(pass *maintenancePass, clanID ulid.ULID, err error) {
	errutil.LogError(m.logger.With("clan_id", clanID.String()), "maintenance failed for clan", err)
	pass.report.Failures[clanID] = err
	pass.done()
}

// MaintenanceScheduler runs RunMaintenance on a fixed interval until closed.
type MaintenanceScheduler struct {
	m        *Manager
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewMaintenanceScheduler starts a background goroutine that runs a
// maintenance pass every Settings.MaintenanceInterval. Call Close to stop it.
func NewMaintenanceScheduler(m *Manager) *MaintenanceScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &MaintenanceScheduler{
		m:        m,
		interval: m.settings.MaintenanceInterval,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *MaintenanceScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.ctx)
		}
	}
}

func (s *MaintenanceScheduler) tick(ctx context.Context) {
	start := time.Now()
	report, err := s.m.RunMaintenance(ctx).Wait(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			errutil.LogError(s.m.logger, "maintenance pass aborted", err)
		}
		return
	}

	status := "ok"
	if len(report.Failures) > 0 {
		status = "partial"
	}
	MaintenanceRuns.WithLabelValues(status).Inc()
	s.m.logger.Info("maintenance pass complete",
		"paid", len(report.Paid),
		"decayed", len(report.Decayed),
		"failed", len(report.Failures),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// Close stops the scheduler. A pass in progress is abandoned at its next
// store call.
func (s *MaintenanceScheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
