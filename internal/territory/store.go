// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a territory does not exist.
	ErrNotFound = errors.New("territory not found")

	// ErrAlreadyClaimed is returned when a grid cell already has an owner.
	ErrAlreadyClaimed = errors.New("chunk already claimed")

	// ErrInsufficientFunds is returned when a withdrawal exceeds a balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Store persists territories and clan banks.
type Store interface {
	// ListTerritories returns every claimed chunk.
	ListTerritories(ctx context.Context) ([]Chunk, error)

	// CreateTerritory persists a new chunk.
	// Returns ErrAlreadyClaimed if the grid cell is already owned.
	CreateTerritory(ctx context.Context, c Chunk) error

	// RemoveTerritory deletes a chunk by ID. Returns ErrNotFound if absent.
	RemoveTerritory(ctx context.Context, id ulid.ULID) error

	// ReplaceTerritory atomically deletes oldID and persists next.
	ReplaceTerritory(ctx context.Context, oldID ulid.ULID, next Chunk) error

	// GetClanBank returns the clan's bank. A clan without a bank row has a
	// zero balance.
	GetClanBank(ctx context.Context, clanID ulid.ULID) (Bank, error)

	// DepositToClanBank credits amount and returns the new balance.
	DepositToClanBank(ctx context.Context, clanID ulid.ULID, amount decimal.Decimal) (Bank, error)

	// WithdrawFromClanBank debits amount and returns the new balance.
	// Returns ErrInsufficientFunds, leaving the balance unchanged, when the
	// balance does not cover amount.
	WithdrawFromClanBank(ctx context.Context, clanID ulid.ULID, amount decimal.Decimal) (Bank, error)
}
