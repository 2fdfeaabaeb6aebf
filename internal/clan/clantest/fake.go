// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package clantest provides in-memory clan collaborators for tests.
package clantest

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/clan"
)

// Directory is an in-memory clan.Service, clan.Economy and clan.Identity.
// It is safe for concurrent use.
type Directory struct {
	mu       sync.Mutex
	clans    map[ulid.ULID]*clan.Clan
	members  map[clan.ActorID]clan.Membership
	moral    map[ulid.ULID]decimal.Decimal
	balances map[clan.ActorID]decimal.Decimal
	names    map[clan.ActorID]string

	// Err, when set, is returned by every call.
	Err error
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		clans:    make(map[ulid.ULID]*clan.Clan),
		members:  make(map[clan.ActorID]clan.Membership),
		moral:    make(map[ulid.ULID]decimal.Decimal),
		balances: make(map[clan.ActorID]decimal.Decimal),
		names:    make(map[clan.ActorID]string),
	}
}

// AddClan registers a clan with the given moral and returns it.
func (d *Directory) AddClan(name string, moral int64) *clan.Clan {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &clan.Clan{ID: ulid.Make(), Name: name}
	d.clans[c.ID] = c
	d.moral[c.ID] = decimal.NewFromInt(moral)
	return c
}

// AddMember creates an actor in c with the given rights and returns its ID.
// The first member added becomes the leader.
func (d *Directory) AddMember(c *clan.Clan, name string, perms clan.Permission) clan.ActorID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := ulid.Make()
	if c.LeaderID.IsZero() {
		c.LeaderID = id
	}
	d.members[id] = clan.Membership{Clan: *c, Permissions: perms}
	d.names[id] = name
	return id
}

// AddLoner creates an actor that belongs to no clan.
func (d *Directory) AddLoner(name string) clan.ActorID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := ulid.Make()
	d.names[id] = name
	return id
}

// SetMoral overrides a clan's moral.
func (d *Directory) SetMoral(id ulid.ULID, moral int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.moral[id] = decimal.NewFromInt(moral)
}

// SetBalance sets an actor's wallet.
func (d *Directory) SetBalance(actor clan.ActorID, amount int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances[actor] = decimal.NewFromInt(amount)
}

// FactionOf implements clan.Service.
func (d *Directory) FactionOf(_ context.Context, actor clan.ActorID) (*clan.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	m, ok := d.members[actor]
	if !ok {
		return nil, clan.ErrNotFound
	}
	m.Clan = *d.clans[m.Clan.ID]
	return &m, nil
}

// ByID implements clan.Service.
func (d *Directory) ByID(_ context.Context, id ulid.ULID) (*clan.Clan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	c, ok := d.clans[id]
	if !ok {
		return nil, clan.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ByName implements clan.Service.
func (d *Directory) ByName(_ context.Context, name string) (*clan.Clan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	for _, c := range d.clans {
		if strings.EqualFold(c.Name, name) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, clan.ErrNotFound
}

// Moral implements clan.Service.
func (d *Directory) Moral(_ context.Context, id ulid.ULID) (decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return decimal.Zero, d.Err
	}
	return d.moral[id], nil
}

// Balance implements clan.Economy.
func (d *Directory) Balance(_ context.Context, actor clan.ActorID) (decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return decimal.Zero, d.Err
	}
	return d.balances[actor], nil
}

// Withdraw implements clan.Economy.
func (d *Directory) Withdraw(_ context.Context, actor clan.ActorID, amount decimal.Decimal, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	if d.balances[actor].LessThan(amount) {
		return false, nil
	}
	d.balances[actor] = d.balances[actor].Sub(amount)
	return true, nil
}

// Deposit implements clan.Economy.
func (d *Directory) Deposit(_ context.Context, actor clan.ActorID, amount decimal.Decimal, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.balances[actor] = d.balances[actor].Add(amount)
	return nil
}

// Resolve implements clan.Identity.
func (d *Directory) Resolve(_ context.Context, name string) (clan.ActorID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, n := range d.names {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	return clan.ActorID{}, clan.ErrNotFound
}

// Name implements clan.Identity.
func (d *Directory) Name(_ context.Context, actor clan.ActorID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.names[actor]
	if !ok {
		return "", clan.ErrNotFound
	}
	return n, nil
}

// Verify interfaces are satisfied.
var (
	_ clan.Service  = (*Directory)(nil)
	_ clan.Economy  = (*Directory)(nil)
	_ clan.Identity = (*Directory)(nil)
)
