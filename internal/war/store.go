// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package war

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound is returned when a war or siege does not exist.
	ErrNotFound = errors.New("war not found")

	// ErrConflict is returned when a row would duplicate a live war between
	// the same clans or a live siege on the same grid cell.
	ErrConflict = errors.New("conflicting war or siege")
)

// Store persists wars, sieges and truces.
type Store interface {
	// ListActiveWars returns every war with status ACTIVE.
	ListActiveWars(ctx context.Context) ([]War, error)

	// CreateActiveWar persists a new war. Returns ErrConflict if an ACTIVE
	// war already exists between the two clans in either direction.
	CreateActiveWar(ctx context.Context, w War) error

	// ConcludeWar marks a war CONCLUDED. Returns ErrNotFound if absent.
	ConcludeWar(ctx context.Context, id ulid.ULID) error

	// ListLiveSieges returns every PENDING or ACTIVE siege.
	ListLiveSieges(ctx context.Context) ([]Siege, error)

	// CreateActiveSiege persists a new siege. Returns ErrConflict if a live
	// siege already occupies the grid cell.
	CreateActiveSiege(ctx context.Context, s Siege) error

	// UpdateActiveSiege stores the siege's status and start time.
	// Returns ErrNotFound if absent.
	UpdateActiveSiege(ctx context.Context, s Siege) error

	// CreateTruce persists a truce.
	CreateTruce(ctx context.Context, t Truce) error

	// HasActiveTruce reports whether a truce between a and b, in either
	// order, is in force at now.
	HasActiveTruce(ctx context.Context, a, b ulid.ULID, now time.Time) (bool, error)
}
