// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package wartest provides an in-memory war.Store for tests.
package wartest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/clanwar/internal/war"
)

// Store operation names accepted by FailOn.
const (
	OpListWars    = "list_wars"
	OpCreateWar   = "create_war"
	OpConcludeWar = "conclude_war"
	OpListSieges  = "list_sieges"
	OpCreateSiege = "create_siege"
	OpUpdateSiege = "update_siege"
	OpCreateTruce = "create_truce"
	OpHasTruce    = "has_truce"
)

// Store is an in-memory war.Store enforcing the same uniqueness rules as the
// database.
type Store struct {
	mu     sync.Mutex
	wars   map[ulid.ULID]war.War
	sieges map[ulid.ULID]war.Siege
	truces []war.Truce
	fail   map[string]error
	after  map[string]func()
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		wars:   make(map[ulid.ULID]war.War),
		sieges: make(map[ulid.ULID]war.Siege),
		fail:   make(map[string]error),
		after:  make(map[string]func()),
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// After runs fn once each call of op has finished, outside the store lock.
// A nil fn clears the hook.
func (s *Store) After(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.after, op)
		return
	}
	s.after[op] = fn
}

func (s *Store) runAfter(op string) {
	s.mu.Lock()
	fn := s.after[op]
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SeedWar stores w directly.
func (s *Store) SeedWar(w war.War) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wars[w.ID] = w
}

// SeedSiege stores sg directly.
func (s *Store) SeedSiege(sg war.Siege) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sieges[sg.ID] = sg
}

// SeedTruce stores t directly.
func (s *Store) SeedTruce(t war.Truce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truces = append(s.truces, t)
}

// War returns a stored war.
func (s *Store) War(id ulid.ULID) (war.War, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[id]
	return w, ok
}

// Siege returns a stored siege.
func (s *Store) Siege(id ulid.ULID) (war.Siege, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.sieges[id]
	return sg, ok
}

// Truces returns every stored truce.
func (s *Store) Truces() []war.Truce {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]war.Truce(nil), s.truces...)
}

// ListActiveWars implements war.Store.
func (s *Store) ListActiveWars(_ context.Context) ([]war.War, error) {
	defer s.runAfter(OpListWars)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpListWars]; err != nil {
		return nil, err
	}
	var out []war.War
	for _, w := range s.wars {
		if w.Status == war.StatusActive {
			out = append(out, w)
		}
	}
	return out, nil
}

// CreateActiveWar implements war.Store.
func (s *Store) CreateActiveWar(_ context.Context, w war.War) error {
	defer s.runAfter(OpCreateWar)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpCreateWar]; err != nil {
		return err
	}
	for _, cur := range s.wars {
		if cur.Status != war.StatusActive {
			continue
		}
		if (cur.AggressorClanID == w.AggressorClanID && cur.DefenderClanID == w.DefenderClanID) ||
			(cur.AggressorClanID == w.DefenderClanID && cur.DefenderClanID == w.AggressorClanID) {
			return war.ErrConflict
		}
	}
	s.wars[w.ID] = w
	return nil
}

// ConcludeWar implements war.Store.
func (s *Store) ConcludeWar(_ context.Context, id ulid.ULID) error {
	defer s.runAfter(OpConcludeWar)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpConcludeWar]; err != nil {
		return err
	}
	w, ok := s.wars[id]
	if !ok || w.Status != war.StatusActive {
		return war.ErrNotFound
	}
	w.Status = war.StatusConcluded
	s.wars[id] = w
	return nil
}

// ListLiveSieges implements war.Store.
func (s *Store) ListLiveSieges(_ context.Context) ([]war.Siege, error) {
	defer s.runAfter(OpListSieges)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpListSieges]; err != nil {
		return nil, err
	}
	var out []war.Siege
	for _, sg := range s.sieges {
		if !sg.Status.Terminal() {
			out = append(out, sg)
		}
	}
	return out, nil
}

// CreateActiveSiege implements war.Store.
func (s *Store) CreateActiveSiege(_ context.Context, sg war.Siege) error {
	defer s.runAfter(OpCreateSiege)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpCreateSiege]; err != nil {
		return err
	}
	for _, cur := range s.sieges {
		if !cur.Status.Terminal() && cur.Key() == sg.Key() {
			return war.ErrConflict
		}
	}
	s.sieges[sg.ID] = sg
	return nil
}

// UpdateActiveSiege implements war.Store.
func (s *Store) UpdateActiveSiege(_ context.Context, sg war.Siege) error {
	defer s.runAfter(OpUpdateSiege)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpUpdateSiege]; err != nil {
		return err
	}
	if _, ok := s.sieges[sg.ID]; !ok {
		return war.ErrNotFound
	}
	s.sieges[sg.ID] = sg
	return nil
}

// CreateTruce implements war.Store.
func (s *Store) CreateTruce(_ context.Context, t war.Truce) error {
	defer s.runAfter(OpCreateTruce)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpCreateTruce]; err != nil {
		return err
	}
	s.truces = append(s.truces, t)
	return nil
}

// HasActiveTruce implements war.Store.
func (s *Store) HasActiveTruce(_ context.Context, a, b ulid.ULID, now time.Time) (bool, error) {
	defer s.runAfter(OpHasTruce)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpHasTruce]; err != nil {
		return false, err
	}
	for _, t := range s.truces {
		pairMatch := (t.ClanA == a && t.ClanB == b) || (t.ClanA == b && t.ClanB == a)
		if pairMatch && !now.Before(t.StartTime) && now.Before(t.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

var _ war.Store = (*Store)(nil)
