// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/clan"
	"github.com/holomush/clanwar/internal/loop"
)

// claimCheck is the result of validating a claim off the loop.
type claimCheck struct {
	result ClaimResult
	clanID ulid.ULID
	moral  decimal.Decimal
}

// ClaimTerritory claims the grid cell containing pos for the actor's clan.
//
// Checks run in order: the cell is unowned, the actor has a clan, the actor
// holds PermClaim, the clan's moral covers one more chunk, and the clan is
// below the configured cap.
func (m *Manager) ClaimTerritory(ctx context.Context, actor clan.ActorID, pos Position) *loop.Future[ClaimOutcome] {
	fut := loop.NewFuture[ClaimOutcome]()
	key := pos.Chunk()

	loop.Go(m.loop, ctx,
		func(ctx context.Context) (claimCheck, error) {
			return m.checkClaim(ctx, actor, key)
		},
		func(chk claimCheck, err error) {
			m.reserveClaim(ctx, key, chk, err, fut)
		},
		fut.Reject,
	)
	return fut
}

func (m *Manager) checkClaim(ctx context.Context, actor clan.ActorID, key ChunkKey) (claimCheck, error) {
	if _, ok := m.TerritoryAtKey(key); ok {
		return claimCheck{result: ClaimAlreadyClaimed}, nil
	}

	membership, err := m.clans.FactionOf(ctx, actor)
	if errors.Is(err, clan.ErrNotFound) {
		return claimCheck{result: ClaimNoClan}, nil
	}
	if err != nil {
		return claimCheck{}, oops.With("operation", "claim lookup faction").With("actor", actor.String()).Wrap(err)
	}
	if !membership.Permissions.Has(clan.PermClaim) {
		return claimCheck{result: ClaimNoPermission}, nil
	}

	clanID := membership.Clan.ID
	moral, err := m.EffectiveMoral(ctx, clanID)
	if err != nil {
		return claimCheck{}, err
	}

	chk := claimCheck{clanID: clanID, moral: moral}
	chk.result = m.capacityResult(moral, m.GetTerritoryCount(clanID))
	return chk, nil
}

// capacityResult applies the moral and cap rules to a prospective count.
func (m *Manager) capacityResult(moral decimal.Decimal, held int) ClaimResult {
	if moral.LessThan(decimal.NewFromInt(int64(held + 1))) {
		return ClaimInsufficientMoral
	}
	if held >= m.settings.MaxPerClan {
		return ClaimLimitExceeded
	}
	return ClaimSuccess
}

// reserveClaim runs on the loop. It re-checks the cache against claims that
// completed or started since validation, then persists.
func (m *Manager) reserveClaim(ctx context.Context, key ChunkKey, chk claimCheck, err error, fut *loop.Future[ClaimOutcome]) {
	if err != nil {
		m.finishClaim(fut, ClaimOutcome{Result: ClaimDatabaseError, Err: err})
		return
	}
	if chk.result != ClaimSuccess {
		m.finishClaim(fut, ClaimOutcome{Result: chk.result})
		return
	}

	if _, busy := m.pending[key]; busy {
		m.finishClaim(fut, ClaimOutcome{Result: ClaimAlreadyClaimed})
		return
	}
	if _, ok := m.TerritoryAtKey(key); ok {
		m.finishClaim(fut, ClaimOutcome{Result: ClaimAlreadyClaimed})
		return
	}
	held := m.GetTerritoryCount(chk.clanID) + m.pendingClaims[chk.clanID]
	if res := m.capacityResult(chk.moral, held); res != ClaimSuccess {
		m.finishClaim(fut, ClaimOutcome{Result: res})
		return
	}

	chunk := Chunk{
		ID:        ulid.Make(),
		ClanID:    chk.clanID,
		World:     key.World,
		X:         key.X,
		Z:         key.Z,
		ClaimedAt: m.now(),
	}
	m.pending[key] = struct{}{}
	m.pendingClaims[chk.clanID]++

	loop.Go(m.loop, ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.store.CreateTerritory(ctx, chunk)
		},
		func(_ struct{}, err error) {
			delete(m.pending, key)
			m.pendingClaims[chunk.ClanID]--
			if m.pendingClaims[chunk.ClanID] <= 0 {
				delete(m.pendingClaims, chunk.ClanID)
			}

			if errors.Is(err, ErrAlreadyClaimed) {
				m.finishClaim(fut, ClaimOutcome{Result: ClaimAlreadyClaimed})
				return
			}
			if err != nil {
				m.finishClaim(fut, ClaimOutcome{
					Result: ClaimDatabaseError,
					Err:    oops.With("operation", "claim").With("chunk", key.String()).Wrap(err),
				})
				return
			}

			m.mu.Lock()
			if _, taken := m.chunks[key]; taken {
				m.mu.Unlock()
				m.logger.Error("claim persisted for an owned chunk", "chunk", key.String(), "chunk_id", chunk.ID.String())
				m.finishClaim(fut, ClaimOutcome{Result: ClaimAlreadyClaimed})
				return
			}
			m.insertLocked(chunk)
			m.mu.Unlock()

			m.logger.Info("territory claimed",
				"clan_id", chunk.ClanID.String(),
				"world", chunk.World,
				"chunk_x", chunk.X,
				"chunk_z", chunk.Z,
			)
			m.finishClaim(fut, ClaimOutcome{Result: ClaimSuccess, Chunk: chunk})
		},
		fut.Reject,
	)
}

func (m *Manager) finishClaim(fut *loop.Future[ClaimOutcome], out ClaimOutcome) {
	recordOperation(OpClaim, out.Result)
	fut.Resolve(out)
}

// unclaimCheck is the result of validating an unclaim off the loop.
type unclaimCheck struct {
	result UnclaimResult
	chunk  Chunk
}

// UnclaimTerritory releases the grid cell containing pos. The cell must be
// owned by the actor's clan and the actor must hold PermUnclaim.
func (m *Manager) UnclaimTerritory(ctx context.Context, actor clan.ActorID, pos Position) *loop.Future[UnclaimOutcome] {
	fut := loop.NewFuture[UnclaimOutcome]()
	key := pos.Chunk()

	loop.Go(m.loop, ctx,
		func(ctx context.Context) (unclaimCheck, error) {
			chunk, ok := m.TerritoryAtKey(key)
			if !ok {
				return unclaimCheck{result: UnclaimNotClaimed}, nil
			}
			membership, err := m.clans.FactionOf(ctx, actor)
			if errors.Is(err, clan.ErrNotFound) {
				return unclaimCheck{result: UnclaimNoPermission}, nil
			}
			if err != nil {
				return unclaimCheck{}, oops.With("operation", "unclaim lookup faction").With("actor", actor.String()).Wrap(err)
			}
			if membership.Clan.ID != chunk.ClanID || !membership.Permissions.Has(clan.PermUnclaim) {
				return unclaimCheck{result: UnclaimNoPermission}, nil
			}
			return unclaimCheck{result: UnclaimSuccess, chunk: chunk}, nil
		},
		func(chk unclaimCheck, err error) {
			m.reserveUnclaim(ctx, key, chk, err, fut)
		},
		fut.Reject,
	)
	return fut
}

func (m *Manager) reserveUnclaim(ctx context.Context, key ChunkKey, chk unclaimCheck, err error, fut *loop.Future[UnclaimOutcome]) {
	if err != nil {
		m.finishUnclaim(fut, UnclaimOutcome{Result: UnclaimDatabaseError, Err: err})
		return
	}
	if chk.result != UnclaimSuccess {
		m.finishUnclaim(fut, UnclaimOutcome{Result: chk.result})
		return
	}
	current, ok := m.TerritoryAtKey(key)
	if _, busy := m.pending[key]; busy || !ok || current.ID != chk.chunk.ID {
		m.finishUnclaim(fut, UnclaimOutcome{Result: UnclaimNotClaimed})
		return
	}

	m.pending[key] = struct{}{}
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.store.RemoveTerritory(ctx, chk.chunk.ID)
		},
		func(_ struct{}, err error) {
			delete(m.pending, key)
			if err != nil && !errors.Is(err, ErrNotFound) {
				m.finishUnclaim(fut, UnclaimOutcome{
					Result: UnclaimDatabaseError,
					Err:    oops.With("operation", "unclaim").With("chunk", key.String()).Wrap(err),
				})
				return
			}

			m.evict(key, chk.chunk.ID)
			m.logger.Info("territory unclaimed",
				"clan_id", chk.chunk.ClanID.String(),
				"world", key.World,
				"chunk_x", key.X,
				"chunk_z", key.Z,
			)
			m.finishUnclaim(fut, UnclaimOutcome{Result: UnclaimSuccess, Chunk: chk.chunk})
		},
		fut.Reject,
	)
}

func (m *Manager) finishUnclaim(fut *loop.Future[UnclaimOutcome], out UnclaimOutcome) {
	recordOperation(OpUnclaim, out.Result)
	fut.Resolve(out)
}

// TransferTerritory hands the chunk at key to newClanID, keeping the grid
// cell and replacing the row. It fails with ErrNotFound if the cell is
// unowned and with ErrAlreadyClaimed if another mutation of the cell is in
// flight.
func (m *Manager) TransferTerritory(ctx context.Context, key ChunkKey, newClanID ulid.ULID) *loop.Future[TransferOutcome] {
	fut := loop.NewFuture[TransferOutcome]()

	m.loop.PostAsync(func() {
		prev, ok := m.TerritoryAtKey(key)
		if !ok {
			m.finishTransfer(fut, TransferOutcome{Err: oops.Code("TERRITORY_NOT_FOUND").With("chunk", key.String()).Wrap(ErrNotFound)})
			return
		}
		if _, busy := m.pending[key]; busy {
			m.finishTransfer(fut, TransferOutcome{Previous: prev, Err: oops.Code("CHUNK_BUSY").With("chunk", key.String()).Wrap(ErrAlreadyClaimed)})
			return
		}

		next := Chunk{
			ID:        ulid.Make(),
			ClanID:    newClanID,
			World:     key.World,
			X:         key.X,
			Z:         key.Z,
			ClaimedAt: m.now(),
		}
		m.pending[key] = struct{}{}

		loop.Go(m.loop, ctx,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, m.store.ReplaceTerritory(ctx, prev.ID, next)
			},
			func(_ struct{}, err error) {
				delete(m.pending, key)
				if err != nil {
					m.finishTransfer(fut, TransferOutcome{
						Previous: prev,
						Err:      oops.With("operation", "transfer territory").With("chunk", key.String()).Wrap(err),
					})
					return
				}

				m.mu.Lock()
				m.removeLocked(key, prev.ID)
				m.insertLocked(next)
				m.mu.Unlock()

				m.logger.Info("territory transferred",
					"from_clan_id", prev.ClanID.String(),
					"to_clan_id", newClanID.String(),
					"world", key.World,
					"chunk_x", key.X,
					"chunk_z", key.Z,
				)
				m.finishTransfer(fut, TransferOutcome{Previous: prev, Chunk: next})
			},
			fut.Reject,
		)
	}, fut.Reject)
	return fut
}

func (m *Manager) finishTransfer(fut *loop.Future[TransferOutcome], out TransferOutcome) {
	result := "SUCCESS"
	if out.Err != nil {
		result = "FAILED"
	}
	OperationsTotal.WithLabelValues(OpTransfer, result).Inc()
	fut.Resolve(out)
}
