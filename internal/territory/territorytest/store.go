// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package territorytest provides an in-memory territory.Store for tests.
package territorytest

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/territory"
)

// Store operation names accepted by FailOn.
const (
	OpList     = "list"
	OpCreate   = "create"
	OpRemove   = "remove"
	OpReplace  = "replace"
	OpBank     = "bank"
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
)

// Store is an in-memory territory.Store. It enforces one owner per grid
// cell like the database unique constraint does.
type Store struct {
	mu     sync.Mutex
	chunks map[ulid.ULID]territory.Chunk
	banks  map[ulid.ULID]decimal.Decimal
	fail   map[string]func(args ...any) error
	calls  map[string]int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		chunks: make(map[ulid.ULID]territory.Chunk),
		banks:  make(map[ulid.ULID]decimal.Decimal),
		fail:   make(map[string]func(args ...any) error),
		calls:  make(map[string]int),
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	if err == nil {
		s.FailWhen(op, nil)
		return
	}
	s.FailWhen(op, func(...any) error { return err })
}

// FailWhen installs a predicate consulted before op runs. The args are the
// call's arguments after the context. A nil fn clears the failure.
func (s *Store) FailWhen(op string, fn func(args ...any) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = fn
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Seed stores chunks directly.
func (s *Store) Seed(chunks ...territory.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
}

// SetBalance sets a clan bank balance directly.
func (s *Store) SetBalance(clanID ulid.ULID, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banks[clanID] = decimal.NewFromInt(amount)
}

// Balance returns a clan bank balance.
func (s *Store) Balance(clanID ulid.ULID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banks[clanID]
}

// Len returns how many chunks are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// begin records the call and returns any injected failure. Caller holds mu.
func (s *Store) begin(op string, args ...any) error {
	s.calls[op]++
	if fn := s.fail[op]; fn != nil {
		return fn(args...)
	}
	return nil
}

// ListTerritories implements territory.Store.
func (s *Store) ListTerritories(_ context.Context) ([]territory.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpList); err != nil {
		return nil, err
	}
	out := make([]territory.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out, nil
}

// CreateTerritory implements territory.Store.
func (s *Store) CreateTerritory(_ context.Context, c territory.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreate, c); err != nil {
		return err
	}
	return s.insertLocked(c)
}

func (s *Store) insertLocked(c territory.Chunk) error {
	for _, existing := range s.chunks {
		if existing.Key() == c.Key() {
			return territory.ErrAlreadyClaimed
		}
	}
	s.chunks[c.ID] = c
	return nil
}

// RemoveTerritory implements territory.Store.
func (s *Store) RemoveTerritory(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpRemove, id); err != nil {
		return err
	}
	if _, ok := s.chunks[id]; !ok {
		return territory.ErrNotFound
	}
	delete(s.chunks, id)
	return nil
}

// ReplaceTerritory implements territory.Store.
func (s *Store) ReplaceTerritory(_ context.Context, oldID ulid.ULID, next territory.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpReplace, oldID, next); err != nil {
		return err
	}
	old, ok := s.chunks[oldID]
	if !ok {
		return territory.ErrNotFound
	}
	delete(s.chunks, oldID)
	if err := s.insertLocked(next); err != nil {
		s.chunks[oldID] = old
		return err
	}
	return nil
}

// GetClanBank implements territory.Store.
func (s *Store) GetClanBank(_ context.Context, clanID ulid.ULID) (territory.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpBank, clanID); err != nil {
		return territory.Bank{}, err
	}
	return territory.Bank{ClanID: clanID, Balance: s.banks[clanID]}, nil
}

// DepositToClanBank implements territory.Store.
func (s *Store) DepositToClanBank(_ context.Context, clanID ulid.ULID, amount decimal.Decimal) (territory.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpDeposit, clanID, amount); err != nil {
		return territory.Bank{}, err
	}
	s.banks[clanID] = s.banks[clanID].Add(amount)
	return territory.Bank{ClanID: clanID, Balance: s.banks[clanID]}, nil
}

// WithdrawFromClanBank implements territory.Store.
func (s *Store) WithdrawFromClanBank(_ context.Context, clanID ulid.ULID, amount decimal.Decimal) (territory.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpWithdraw, clanID, amount); err != nil {
		return territory.Bank{}, err
	}
	if s.banks[clanID].LessThan(amount) {
		return territory.Bank{}, territory.ErrInsufficientFunds
	}
	s.banks[clanID] = s.banks[clanID].Sub(amount)
	return territory.Bank{ClanID: clanID, Balance: s.banks[clanID]}, nil
}

var _ territory.Store = (*Store)(nil)
