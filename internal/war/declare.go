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
)

// WarNotice is the payload of war_declared events.
type WarNotice struct {
	WarID              string `json:"war_id"`
	Aggressor          string `json:"aggressor"`
	Defender           string `json:"defender"`
	EndTimeExclusivity string `json:"end_time_exclusivity"`
}

type declareCheck struct {
	result    DeclareResult
	aggressor clan.Clan
	defender  clan.Clan
}

// DeclareWar declares war on the clan named targetName on behalf of the
// actor's clan.
//
// Checks run in order: the actor has a clan, holds PermDeclareWar, the
// target exists, is not the actor's clan, is not already at war with it, is
// vulnerable, the actor's clan bank covers the declaration cost, and no
// truce is in force. On success the cost is debited from the clan bank.
func (m *Manager) DeclareWar(ctx context.Context, actor clan.ActorID, targetName string) *loop.Future[DeclareOutcome] {
	fut := loop.NewFuture[DeclareOutcome]()
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (declareCheck, error) {
			return m.checkDeclare(ctx, actor, targetName)
		},
		func(chk declareCheck, err error) {
			m.reserveDeclare(ctx, chk, err, fut)
		},
		fut.Reject,
	)
	return fut
}

func (m *Manager) checkDeclare(ctx context.Context, actor clan.ActorID, targetName string) (declareCheck, error) {
	membership, err := m.clans.FactionOf(ctx, actor)
	if errors.Is(err, clan.ErrNotFound) {
		return declareCheck{result: DeclareNoClan}, nil
	}
	if err != nil {
		return declareCheck{}, oops.With("operation", "declare lookup faction").With("actor", actor.String()).Wrap(err)
	}
	if !membership.Permissions.Has(clan.PermDeclareWar) {
		return declareCheck{result: DeclareNoPermission}, nil
	}

	target, err := m.clans.ByName(ctx, targetName)
	if errors.Is(err, clan.ErrNotFound) {
		return declareCheck{result: DeclareTargetNotFound}, nil
	}
	if err != nil {
		return declareCheck{}, oops.With("operation", "declare lookup target").With("target", targetName).Wrap(err)
	}

	chk := declareCheck{aggressor: membership.Clan, defender: *target}
	own := membership.Clan.ID
	if target.ID == own {
		chk.result = DeclareSameClan
		return chk, nil
	}
	if m.HasActiveWar(own, target.ID) {
		chk.result = DeclareAlreadyAtWar
		return chk, nil
	}

	vulnerable, err := m.territory.IsClanVulnerable(ctx, target.ID)
	if err != nil {
		return declareCheck{}, err
	}
	if !vulnerable {
		chk.result = DeclareTargetNotVulnerable
		return chk, nil
	}

	if cost := m.settings.DeclarationCost; cost.IsPositive() {
		balance, err := m.territory.FetchClanBalance(ctx, own)
		if err != nil {
			return declareCheck{}, err
		}
		if balance.LessThan(cost) {
			chk.result = DeclareInsufficientFunds
			return chk, nil
		}
	}

	truce, err := m.store.HasActiveTruce(ctx, own, target.ID, m.now())
	if err != nil {
		return declareCheck{}, oops.With("operation", "declare check truce").Wrap(err)
	}
	if truce {
		chk.result = DeclareTruceActive
		return chk, nil
	}

	chk.result = DeclareSuccess
	return chk, nil
}

// reserveDeclare runs on the loop.
func (m *Manager) reserveDeclare(ctx context.Context, chk declareCheck, err error, fut *loop.Future[DeclareOutcome]) {
	if err != nil {
		m.finishDeclare(fut, DeclareOutcome{Result: DeclareDatabaseError, Err: err})
		return
	}
	if chk.result != DeclareSuccess {
		m.finishDeclare(fut, DeclareOutcome{Result: chk.result})
		return
	}

	key := unordered(chk.aggressor.ID, chk.defender.ID)
	if _, busy := m.pendingWars[key]; busy || m.HasActiveWar(chk.aggressor.ID, chk.defender.ID) {
		m.finishDeclare(fut, DeclareOutcome{Result: DeclareAlreadyAtWar})
		return
	}
	m.pendingWars[key] = struct{}{}

	now := m.now()
	w := War{
		ID:                 ulid.Make(),
		AggressorClanID:    chk.aggressor.ID,
		DefenderClanID:     chk.defender.ID,
		StartTime:          now,
		EndTimeExclusivity: now.Add(m.settings.Exclusivity),
		Status:             StatusActive,
	}

	cost := m.settings.DeclarationCost
	if !cost.IsPositive() {
		m.persistWar(ctx, w, chk, false, fut)
		return
	}

	loop.Await(m.loop, m.territory.WithdrawFromClanBank(ctx, w.AggressorClanID, cost),
		func(out territory.BankOutcome, err error) {
			if err == nil && out.Result == territory.BankSuccess {
				m.persistWar(ctx, w, chk, true, fut)
				return
			}
			delete(m.pendingWars, key)
			if err == nil && out.Result == territory.BankInsufficientFunds {
				m.finishDeclare(fut, DeclareOutcome{Result: DeclareInsufficientFunds})
				return
			}
			if err == nil {
				err = out.Err
			}
			m.finishDeclare(fut, DeclareOutcome{
				Result: DeclareDatabaseError,
				Err:    oops.With("operation", "debit declaration cost").With("clan_id", w.AggressorClanID.String()).Wrap(err),
			})
		},
		fut.Reject,
	)
}

// errTruceSigned reports a truce that landed after the declare check.
var errTruceSigned = errors.New("truce signed during declaration")

// persistWar runs on the loop once the cost is paid. The truce is checked
// again since one may have been signed after the check. An expired war
// between the pair is concluded first so the new war may take its place.
func (m *Manager) persistWar(ctx context.Context, w War, chk declareCheck, charged bool, fut *loop.Future[DeclareOutcome]) {
	key := unordered(w.AggressorClanID, w.DefenderClanID)
	prev, hasPrev := m.WarBetween(w.AggressorClanID, w.DefenderClanID)

	loop.Go(m.loop, ctx,
		func(ctx context.Context) (struct{}, error) {
			truce, err := m.store.HasActiveTruce(ctx, w.AggressorClanID, w.DefenderClanID, w.StartTime)
			if err != nil {
				return struct{}{}, err
			}
			if truce {
				return struct{}{}, errTruceSigned
			}
			if hasPrev {
				if err := m.store.ConcludeWar(ctx, prev.ID); err != nil && !errors.Is(err, ErrNotFound) {
					return struct{}{}, err
				}
			}
			return struct{}{}, m.store.CreateActiveWar(ctx, w)
		},
		func(_ struct{}, err error) {
			delete(m.pendingWars, key)
			if err != nil {
				if charged {
					m.refundDeclaration(ctx, w.AggressorClanID)
				}
				if errors.Is(err, ErrConflict) {
					m.finishDeclare(fut, DeclareOutcome{Result: DeclareAlreadyAtWar})
					return
				}
				if errors.Is(err, errTruceSigned) {
					m.finishDeclare(fut, DeclareOutcome{Result: DeclareTruceActive})
					return
				}
				m.finishDeclare(fut, DeclareOutcome{
					Result: DeclareDatabaseError,
					Err:    oops.With("operation", "declare war").With("war_id", w.ID.String()).Wrap(err),
				})
				return
			}

			m.mu.Lock()
			if hasPrev {
				delete(m.wars, pair{aggressor: prev.AggressorClanID, defender: prev.DefenderClanID})
			}
			m.wars[pair{aggressor: w.AggressorClanID, defender: w.DefenderClanID}] = w
			m.mu.Unlock()

			m.logger.Info("war declared",
				"war_id", w.ID.String(),
				"aggressor_clan_id", w.AggressorClanID.String(),
				"defender_clan_id", w.DefenderClanID.String(),
				"end_time_exclusivity", w.EndTimeExclusivity,
			)
			m.events.Publish(notify.EventWarDeclared, WarNotice{
				WarID:              w.ID.String(),
				Aggressor:          chk.aggressor.Name,
				Defender:           chk.defender.Name,
				EndTimeExclusivity: w.EndTimeExclusivity.UTC().Format(time.RFC3339),
			}, w.AggressorClanID, w.DefenderClanID)
			m.finishDeclare(fut, DeclareOutcome{Result: DeclareSuccess, War: w})
		},
		fut.Reject,
	)
}

// refundDeclaration credits the declaration cost back. Runs on the loop.
func (m *Manager) refundDeclaration(ctx context.Context, clanID ulid.ULID) {
	loop.Await(m.loop, m.territory.DepositToClanBank(context.WithoutCancel(ctx), clanID, m.settings.DeclarationCost),
		func(out territory.BankOutcome, err error) {
			if err == nil && out.Result != territory.BankSuccess {
				err = out.Err
			}
			if err != nil {
				m.logger.Error("declaration refund failed",
					"clan_id", clanID.String(),
					"amount", m.settings.DeclarationCost.String(),
					"error", err,
				)
			}
		},
		nil,
	)
}

func (m *Manager) finishDeclare(fut *loop.Future[DeclareOutcome], out DeclareOutcome) {
	recordOperation(OpDeclare, out.Result)
	fut.Resolve(out)
}
