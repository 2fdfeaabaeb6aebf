// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package war

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/clanwar/internal/loop"
	"github.com/holomush/clanwar/internal/notify"
)

// TruceNotice is the payload of truce_signed events.
type TruceNotice struct {
	TruceID        string `json:"truce_id"`
	ClanA          string `json:"clan_a"`
	ClanB          string `json:"clan_b"`
	Until          string `json:"until"`
	ConcludedWarID string `json:"concluded_war_id,omitempty"`
}

// SignTruce forbids war between a and b for Settings.TruceDuration. A war
// between them is concluded and its live sieges are cancelled.
func (m *Manager) SignTruce(ctx context.Context, a, b ulid.ULID) *loop.Future[TruceOutcome] {
	if a == b {
		err := oops.Code("SAME_CLAN").With("clan_id", a.String()).Errorf("a clan cannot sign a truce with itself")
		recordOutcome(OpTruce, err)
		return loop.Resolved(TruceOutcome{Err: err})
	}

	fut := loop.NewFuture[TruceOutcome]()
	m.loop.PostAsync(func() {
		key := unordered(a, b)
		if _, busy := m.pendingWars[key]; busy {
			m.finishTruce(fut, TruceOutcome{Err: oops.Code("WAR_PENDING").
				With("clan_a", a.String()).
				With("clan_b", b.String()).
				Errorf("a declaration between the clans is in progress")})
			return
		}
		m.pendingWars[key] = struct{}{}

		existing, hasWar := m.WarBetween(a, b)
		now := m.now()
		t := Truce{
			ID:        ulid.Make(),
			ClanA:     a,
			ClanB:     b,
			StartTime: now,
			EndTime:   now.Add(m.settings.TruceDuration),
		}

		loop.Go(m.loop, ctx,
			func(ctx context.Context) (struct{}, error) {
				if err := m.store.CreateTruce(ctx, t); err != nil {
					return struct{}{}, err
				}
				if hasWar {
					if err := m.store.ConcludeWar(ctx, existing.ID); err != nil && !errors.Is(err, ErrNotFound) {
						return struct{}{}, err
					}
				}
				return struct{}{}, nil
			},
			func(_ struct{}, err error) {
				delete(m.pendingWars, key)
				if err != nil {
					m.finishTruce(fut, TruceOutcome{Err: oops.With("operation", "sign truce").With("truce_id", t.ID.String()).Wrap(err)})
					return
				}

				out := TruceOutcome{Truce: t}
				notice := TruceNotice{
					TruceID: t.ID.String(),
					ClanA:   a.String(),
					ClanB:   b.String(),
					Until:   t.EndTime.UTC().Format(time.RFC3339),
				}
				if hasWar {
					m.endWar(existing)
					concluded := existing
					concluded.Status = StatusConcluded
					out.Concluded = &concluded
					notice.ConcludedWarID = existing.ID.String()
				}

				m.logger.Info("truce signed",
					"truce_id", t.ID.String(),
					"clan_a", a.String(),
					"clan_b", b.String(),
					"until", t.EndTime,
				)
				m.events.Publish(notify.EventTruceSigned, notice, a, b)
				m.finishTruce(fut, out)
			},
			fut.Reject,
		)
	}, fut.Reject)
	return fut
}

// endWar drops w from the live table and cancels its sieges. Runs on the
// loop.
func (m *Manager) endWar(w War) {
	m.mu.Lock()
	p := pair{aggressor: w.AggressorClanID, defender: w.DefenderClanID}
	if cur, ok := m.wars[p]; ok && cur.ID == w.ID {
		delete(m.wars, p)
	}
	var sieges []Siege
	for _, s := range m.sieges {
		if s.WarID == w.ID {
			sieges = append(sieges, s)
		}
	}
	m.mu.Unlock()

	for _, s := range sieges {
		m.cancel(context.Background(), s, loop.NewFuture[ResolveOutcome]())
	}
}

func (m *Manager) finishTruce(fut *loop.Future[TruceOutcome], out TruceOutcome) {
	recordOutcome(OpTruce, out.Err)
	fut.Resolve(out)
}
