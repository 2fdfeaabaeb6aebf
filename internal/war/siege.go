// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package war

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/clanwar/internal/clan"
	"github.com/holomush/clanwar/internal/loop"
	"github.com/holomush/clanwar/internal/notify"
	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/pkg/errutil"
)

// SiegeNotice is the payload of siege_started, siege_ended and
// pillage_started events.
type SiegeNotice struct {
	SiegeID   string `json:"siege_id"`
	WarID     string `json:"war_id"`
	Aggressor string `json:"aggressor_clan_id"`
	Defender  string `json:"defender_clan_id"`
	World     string `json:"world"`
	ChunkX    int    `json:"chunk_x"`
	ChunkZ    int    `json:"chunk_z"`
	Status    string `json:"status"`
	Until     string `json:"until,omitempty"`
}

func siegeNotice(s Siege) SiegeNotice {
	return SiegeNotice{
		SiegeID:   s.ID.String(),
		WarID:     s.WarID.String(),
		Aggressor: s.AggressorClanID.String(),
		Defender:  s.DefenderClanID.String(),
		World:     s.World,
		ChunkX:    s.X,
		ChunkZ:    s.Z,
		Status:    s.Status.String(),
	}
}

type siegeCheck struct {
	result SiegeResult
	chunk  territory.Chunk
	war    War
}

// StartSiege besieges the chunk containing pos on behalf of the actor's
// clan.
//
// Checks run in order: the position is claimed territory, the actor has a
// clan, the chunk is not the actor's clan's own, the actor's clan declared
// war on the owner, the war's exclusivity window is open, no live siege
// holds the cell, and the actor can pay the siege cost. The countdown starts
// once the siege is persisted as ACTIVE.
func (m *Manager) StartSiege(ctx context.Context, actor clan.ActorID, pos territory.Position) *loop.Future[SiegeOutcome] {
	fut := loop.NewFuture[SiegeOutcome]()
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (siegeCheck, error) {
			return m.checkSiege(ctx, actor, pos.Chunk())
		},
		func(chk siegeCheck, err error) {
			m.reserveSiege(ctx, actor, chk, err, fut)
		},
		fut.Reject,
	)
	return fut
}

func (m *Manager) checkSiege(ctx context.Context, actor clan.ActorID, key territory.ChunkKey) (siegeCheck, error) {
	chunk, ok := m.territory.TerritoryAtKey(key)
	if !ok {
		return siegeCheck{result: SiegeNotTerritory}, nil
	}

	membership, err := m.clans.FactionOf(ctx, actor)
	if errors.Is(err, clan.ErrNotFound) {
		return siegeCheck{result: SiegeNoClan}, nil
	}
	if err != nil {
		return siegeCheck{}, oops.With("operation", "siege lookup faction").With("actor", actor.String()).Wrap(err)
	}
	own := membership.Clan.ID
	if chunk.ClanID == own {
		return siegeCheck{result: SiegeOwnTerritory}, nil
	}

	w, ok := m.declaredWar(own, chunk.ClanID)
	if !ok {
		return siegeCheck{result: SiegeNoWar}, nil
	}
	if w.Expired(m.now()) {
		return siegeCheck{result: SiegeExpiredWar}, nil
	}
	if _, ok := m.siegeAt(key); ok {
		return siegeCheck{result: SiegeAlreadyActive}, nil
	}

	if cost := m.settings.SiegeCost; cost.IsPositive() {
		balance, err := m.economy.Balance(ctx, actor)
		if err != nil {
			return siegeCheck{}, oops.With("operation", "siege check balance").With("actor", actor.String()).Wrap(err)
		}
		if balance.LessThan(cost) {
			return siegeCheck{result: SiegeInsufficientFunds}, nil
		}
	}
	return siegeCheck{result: SiegeSuccess, chunk: chunk, war: w}, nil
}

// reserveSiege runs on the loop.
func (m *Manager) reserveSiege(ctx context.Context, actor clan.ActorID, chk siegeCheck, err error, fut *loop.Future[SiegeOutcome]) {
	if err != nil {
		m.finishSiege(fut, SiegeOutcome{Result: SiegeDatabaseError, Err: err})
		return
	}
	if chk.result != SiegeSuccess {
		m.finishSiege(fut, SiegeOutcome{Result: chk.result})
		return
	}

	key := chk.chunk.Key()
	if _, busy := m.pendingSieges[key]; busy {
		m.finishSiege(fut, SiegeOutcome{Result: SiegeAlreadyActive})
		return
	}
	if _, ok := m.siegeAt(key); ok {
		m.finishSiege(fut, SiegeOutcome{Result: SiegeAlreadyActive})
		return
	}
	if current, ok := m.territory.TerritoryAtKey(key); !ok || current.ID != chk.chunk.ID {
		m.finishSiege(fut, SiegeOutcome{Result: SiegeNotTerritory})
		return
	}
	w, ok := m.declaredWar(chk.war.AggressorClanID, chk.war.DefenderClanID)
	if !ok || w.ID != chk.war.ID {
		m.finishSiege(fut, SiegeOutcome{Result: SiegeNoWar})
		return
	}
	if w.Expired(m.now()) {
		m.finishSiege(fut, SiegeOutcome{Result: SiegeExpiredWar})
		return
	}

	s := Siege{
		ID:              ulid.Make(),
		WarID:           w.ID,
		TerritoryID:     chk.chunk.ID,
		AggressorClanID: w.AggressorClanID,
		DefenderClanID:  w.DefenderClanID,
		World:           key.World,
		X:               key.X,
		Z:               key.Z,
		Duration:        m.settings.SiegeDuration,
		StartedAt:       m.now(),
		Status:          SiegePending,
	}
	m.pendingSieges[key] = struct{}{}

	type started struct {
		result SiegeResult
		siege  Siege
	}
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (started, error) {
			charged, err := m.chargeSiege(ctx, actor)
			if err != nil {
				return started{}, err
			}
			if !charged {
				return started{result: SiegeInsufficientFunds}, nil
			}
			active, err := m.persistSiege(ctx, s)
			if err != nil {
				m.refundSiege(ctx, actor)
				return started{}, err
			}
			return started{result: SiegeSuccess, siege: active}, nil
		},
		func(st started, err error) {
			delete(m.pendingSieges, key)
			if errors.Is(err, ErrConflict) {
				m.finishSiege(fut, SiegeOutcome{Result: SiegeAlreadyActive})
				return
			}
			if err != nil {
				m.finishSiege(fut, SiegeOutcome{
					Result: SiegeDatabaseError,
					Err:    oops.With("operation", "start siege").With("chunk", key.String()).Wrap(err),
				})
				return
			}
			if st.result != SiegeSuccess {
				m.finishSiege(fut, SiegeOutcome{Result: st.result})
				return
			}

			// The chunk may have been unclaimed or decayed while persisting.
			if current, ok := m.territory.TerritoryAtKey(key); !ok || current.ID != st.siege.TerritoryID {
				m.refundSiegeAsync(ctx, actor)
				m.cancel(context.WithoutCancel(ctx), st.siege, loop.NewFuture[ResolveOutcome]())
				m.finishSiege(fut, SiegeOutcome{Result: SiegeNotTerritory})
				return
			}

			m.mu.Lock()
			m.sieges[key] = st.siege
			m.mu.Unlock()
			m.arm(st.siege)

			m.logger.Info("siege started",
				"siege_id", st.siege.ID.String(),
				"war_id", st.siege.WarID.String(),
				"aggressor_clan_id", st.siege.AggressorClanID.String(),
				"defender_clan_id", st.siege.DefenderClanID.String(),
				"chunk", key.String(),
				"duration", st.siege.Duration,
			)
			notice := siegeNotice(st.siege)
			notice.Until = st.siege.Deadline().UTC().Format(time.RFC3339)
			m.events.Publish(notify.EventSiegeStarted, notice, st.siege.AggressorClanID, st.siege.DefenderClanID)
			m.finishSiege(fut, SiegeOutcome{Result: SiegeSuccess, Siege: st.siege})
		},
		fut.Reject,
	)
}

// chargeSiege withdraws the siege cost from the actor. Runs off the loop.
func (m *Manager) chargeSiege(ctx context.Context, actor clan.ActorID) (bool, error) {
	cost := m.settings.SiegeCost
	if !cost.IsPositive() {
		return true, nil
	}
	ok, err := m.economy.Withdraw(ctx, actor, cost, "siege")
	if err != nil {
		return false, oops.With("operation", "charge siege").With("actor", actor.String()).Wrap(err)
	}
	return ok, nil
}

// refundSiege returns the siege cost to the actor. Runs off the loop.
func (m *Manager) refundSiege(ctx context.Context, actor clan.ActorID) {
	cost := m.settings.SiegeCost
	if !cost.IsPositive() {
		return
	}
	if err := m.economy.Deposit(context.WithoutCancel(ctx), actor, cost, "siege refund"); err != nil {
		errutil.LogErrorContext(ctx, m.logger.With("actor", actor.String(), "amount", cost.String()), "siege refund failed", err)
	}
}

// refundSiegeAsync runs refundSiege on a worker. Runs on the loop.
func (m *Manager) refundSiegeAsync(ctx context.Context, actor clan.ActorID) {
	if !m.settings.SiegeCost.IsPositive() {
		return
	}
	loop.Go(m.loop, context.WithoutCancel(ctx),
		func(ctx context.Context) (struct{}, error) {
			m.refundSiege(ctx, actor)
			return struct{}{}, nil
		},
		func(struct{}, error) {},
		nil,
	)
}

// persistSiege writes s as PENDING, then promotes it to ACTIVE. If the
// promotion fails the row is marked CANCELLED. Runs off the loop.
func (m *Manager) persistSiege(ctx context.Context, s Siege) (Siege, error) {
	if err := m.store.CreateActiveSiege(ctx, s); err != nil {
		return Siege{}, err
	}
	s.Status = SiegeActive
	if err := m.store.UpdateActiveSiege(ctx, s); err != nil {
		s.Status = SiegeCancelled
		if cancelErr := m.store.UpdateActiveSiege(context.WithoutCancel(ctx), s); cancelErr != nil {
			m.logger.Error("pending siege left behind", "siege_id", s.ID.String(), "error", cancelErr)
		}
		return Siege{}, err
	}
	return s, nil
}

func (m *Manager) finishSiege(fut *loop.Future[SiegeOutcome], out SiegeOutcome) {
	recordOperation(OpSiege, out.Result)
	fut.Resolve(out)
}

// EndSiege resolves a live siege with winnerClanID, which must be the
// siege's aggressor or defender. An attacker win transfers the chunk to the
// aggressor and opens the pillage phase; a defender win grants the defender
// a temporary moral bonus. Either way the siege leaves the live table, its
// countdown is stopped, and the war that enabled it is concluded.
func (m *Manager) EndSiege(ctx context.Context, siege Siege, winnerClanID ulid.ULID) *loop.Future[ResolveOutcome] {
	fut := loop.NewFuture[ResolveOutcome]()
	m.loop.PostAsync(func() {
		live, ok := m.siegeAt(siege.Key())
		if !ok || live.ID != siege.ID {
			err := oops.Code("SIEGE_NOT_ACTIVE").With("siege_id", siege.ID.String()).Wrap(ErrNotFound)
			recordOutcome(OpEnd, err)
			fut.Resolve(ResolveOutcome{Siege: siege, Err: err})
			return
		}
		m.resolve(ctx, live, winnerClanID, fut)
	}, fut.Reject)
	return fut
}

// resolve runs on the loop with s taken from the live table.
func (m *Manager) resolve(ctx context.Context, s Siege, winner ulid.ULID, fut *loop.Future[ResolveOutcome]) {
	switch winner {
	case s.AggressorClanID:
		s.Status = SiegeAttackerWin
	case s.DefenderClanID:
		s.Status = SiegeDefenderWin
	default:
		err := oops.Code("INVALID_WINNER").
			With("siege_id", s.ID.String()).
			With("winner", winner.String()).
			Errorf("winner is not a party to the siege")
		recordOutcome(OpEnd, err)
		fut.Resolve(ResolveOutcome{Siege: s, Err: err})
		return
	}

	key := s.Key()
	m.disarm(s.ID)
	m.mu.Lock()
	delete(m.sieges, key)
	m.mu.Unlock()
	m.pendingSieges[key] = struct{}{}

	if s.Status == SiegeDefenderWin {
		m.territory.GrantMoralBonus(s.DefenderClanID, m.settings.DefenderMoralBonus, m.now().Add(m.settings.DefenderBonusDuration))
		m.finishResolve(ctx, s, fut)
		return
	}

	loop.Await(m.loop, m.territory.TransferTerritory(ctx, key, s.AggressorClanID),
		func(out territory.TransferOutcome, err error) {
			if err == nil {
				err = out.Err
			}
			if err != nil {
				delete(m.pendingSieges, key)
				err = oops.With("operation", "transfer besieged territory").With("siege_id", s.ID.String()).Wrap(err)
				live := s
				live.Status = SiegeActive
				if !m.holdsTerritory(s) {
					m.cancel(ctx, live, loop.NewFuture[ResolveOutcome]())
					recordOutcome(OpEnd, err)
					fut.Resolve(ResolveOutcome{Siege: live, Err: err})
					return
				}

				// Put the siege back so the resolution can be retried.
				m.mu.Lock()
				m.sieges[key] = live
				m.mu.Unlock()
				m.arm(live)
				recordOutcome(OpEnd, err)
				fut.Resolve(ResolveOutcome{Siege: live, Err: err})
				return
			}

			notice := siegeNotice(s)
			notice.Until = m.now().Add(m.settings.PillageDuration).UTC().Format(time.RFC3339)
			m.events.Publish(notify.EventPillageStarted, notice, s.AggressorClanID, s.DefenderClanID)
			m.finishResolve(ctx, s, fut)
		},
		fut.Reject,
	)
}

// finishResolve persists the terminal siege and concludes its war. Runs on
// the loop.
func (m *Manager) finishResolve(ctx context.Context, s Siege, fut *loop.Future[ResolveOutcome]) {
	loop.Go(m.loop, context.WithoutCancel(ctx),
		func(ctx context.Context) (struct{}, error) {
			if err := m.store.UpdateActiveSiege(ctx, s); err != nil {
				return struct{}{}, err
			}
			if err := m.store.ConcludeWar(ctx, s.WarID); err != nil && !errors.Is(err, ErrNotFound) {
				return struct{}{}, err
			}
			return struct{}{}, nil
		},
		func(_ struct{}, err error) {
			delete(m.pendingSieges, s.Key())

			winner := "attacker"
			if s.Status == SiegeDefenderWin {
				winner = "defender"
			}
			SiegesResolved.WithLabelValues(winner).Inc()

			if err != nil {
				err = oops.With("operation", "persist siege resolution").With("siege_id", s.ID.String()).Wrap(err)
				errutil.LogError(m.logger, "siege resolution not persisted", err)
			} else {
				m.mu.Lock()
				p := pair{aggressor: s.AggressorClanID, defender: s.DefenderClanID}
				if w, ok := m.wars[p]; ok && w.ID == s.WarID {
					delete(m.wars, p)
				}
				m.mu.Unlock()
			}

			m.logger.Info("siege resolved",
				"siege_id", s.ID.String(),
				"war_id", s.WarID.String(),
				"status", s.Status.String(),
				"chunk", s.Key().String(),
			)
			m.events.Publish(notify.EventSiegeEnded, siegeNotice(s), s.AggressorClanID, s.DefenderClanID)
			recordOutcome(OpEnd, err)
			fut.Resolve(ResolveOutcome{Siege: s, Err: err})
		},
		fut.Reject,
	)
}

// CancelSiege stops the live siege on the grid cell containing pos without
// resolving it. The war stays in force.
func (m *Manager) CancelSiege(ctx context.Context, pos territory.Position) *loop.Future[ResolveOutcome] {
	fut := loop.NewFuture[ResolveOutcome]()
	key := pos.Chunk()
	m.loop.PostAsync(func() {
		s, ok := m.siegeAt(key)
		if !ok {
			err := oops.Code("SIEGE_NOT_ACTIVE").With("chunk", key.String()).Wrap(ErrNotFound)
			recordOutcome(OpCancel, err)
			fut.Resolve(ResolveOutcome{Err: err})
			return
		}
		m.cancel(ctx, s, fut)
	}, fut.Reject)
	return fut
}

// cancel runs on the loop.
func (m *Manager) cancel(ctx context.Context, s Siege, fut *loop.Future[ResolveOutcome]) {
	key := s.Key()
	m.disarm(s.ID)
	m.mu.Lock()
	if live, ok := m.sieges[key]; ok && live.ID == s.ID {
		delete(m.sieges, key)
	}
	m.mu.Unlock()
	s.Status = SiegeCancelled

	loop.Go(m.loop, ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.store.UpdateActiveSiege(ctx, s)
		},
		func(_ struct{}, err error) {
			if err != nil {
				err = oops.With("operation", "cancel siege").With("siege_id", s.ID.String()).Wrap(err)
				m.logger.Error("siege cancellation not persisted", "siege_id", s.ID.String(), "error", err)
			}
			m.logger.Info("siege cancelled", "siege_id", s.ID.String(), "chunk", key.String())
			m.events.Publish(notify.EventSiegeEnded, siegeNotice(s), s.AggressorClanID, s.DefenderClanID)
			recordOutcome(OpCancel, err)
			fut.Resolve(ResolveOutcome{Siege: s, Err: err})
		},
		fut.Reject,
	)
}
