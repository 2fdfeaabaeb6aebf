// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package clan defines the collaborators the territory and war engines depend
// on but do not own: faction membership and moral (Service), actor-level
// currency (Economy), and actor identity (Identity).
package clan

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a clan or actor does not exist.
var ErrNotFound = errors.New("not found")

// ActorID is the durable identity of a player.
type ActorID = ulid.ULID

// Permission is a bit set of clan role rights.
type Permission uint32

// Clan role rights consulted by the engines.
const (
	PermClaim Permission = 1 << iota
	PermUnclaim
	PermDeclareWar
	PermSiege
	PermBank
	PermTruce

	PermAll = PermClaim | PermUnclaim | PermDeclareWar | PermSiege | PermBank | PermTruce
)

// Has reports whether every bit of want is set.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

var permissionNames = map[string]Permission{
	"claim":   PermClaim,
	"unclaim": PermUnclaim,
	"declare": PermDeclareWar,
	"siege":   PermSiege,
	"bank":    PermBank,
	"truce":   PermTruce,
	"all":     PermAll,
}

// ParsePermissions folds role right names such as "claim" or "all" into a
// Permission. Names are case-insensitive.
func ParsePermissions(names ...string) (Permission, error) {
	var p Permission
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		bit, ok := permissionNames[n]
		if !ok {
			return 0, oops.Code("UNKNOWN_PERMISSION").With("name", n).Errorf("unknown permission %q", n)
		}
		p |= bit
	}
	return p, nil
}

// Clan is a read-only view of a faction.
type Clan struct {
	ID       ulid.ULID
	Name     string
	LeaderID ActorID
}

// Membership is an actor's clan together with their role rights in it.
type Membership struct {
	Clan        Clan
	Permissions Permission
}

// Service resolves factions.
type Service interface {
	// FactionOf returns the clan membership of an actor, or ErrNotFound
	// if the actor belongs to no clan.
	FactionOf(ctx context.Context, actor ActorID) (*Membership, error)

	// ByID returns a clan by ID, or ErrNotFound.
	ByID(ctx context.Context, id ulid.ULID) (*Clan, error)

	// ByName returns a clan by case-insensitive name, or ErrNotFound.
	ByName(ctx context.Context, name string) (*Clan, error)

	// Moral returns the clan's moral score.
	Moral(ctx context.Context, id ulid.ULID) (decimal.Decimal, error)
}

// Economy is the actor-level currency ledger. Clan banks are not stored here.
type Economy interface {
	Balance(ctx context.Context, actor ActorID) (decimal.Decimal, error)

	// Withdraw debits amount from the actor. It returns false, nil when the
	// actor cannot cover the amount.
	Withdraw(ctx context.Context, actor ActorID, amount decimal.Decimal, reason string) (bool, error)

	Deposit(ctx context.Context, actor ActorID, amount decimal.Decimal, reason string) error
}

// Identity maps actor names to durable actor IDs and back.
type Identity interface {
	// Resolve returns the actor ID for a name, or ErrNotFound.
	Resolve(ctx context.Context, name string) (ActorID, error)

	// Name returns the display name of an actor, or ErrNotFound.
	Name(ctx context.Context, actor ActorID) (string, error)
}
