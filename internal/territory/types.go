// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// ChunkSize is the edge length of a grid cell in world units.
const ChunkSize = 16

// Position is a point in a world.
type Position struct {
	World string
	X     float64
	Y     float64
	Z     float64
}

// Chunk returns the key of the grid cell containing p.
func (p Position) Chunk() ChunkKey {
	return ChunkKey{
		World: p.World,
		X:     int(math.Floor(p.X / ChunkSize)),
		Z:     int(math.Floor(p.Z / ChunkSize)),
	}
}

// ChunkKey identifies a grid cell.
type ChunkKey struct {
	World string
	X     int
	Z     int
}

// String returns "world:x,z".
func (k ChunkKey) String() string {
	return fmt.Sprintf("%s:%d,%d", k.World, k.X, k.Z)
}

// Less orders keys by world, then X, then Z.
func (k ChunkKey) Less(o ChunkKey) bool {
	if k.World != o.World {
		return k.World < o.World
	}
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Z < o.Z
}

// Chunk is a claimed grid cell.
type Chunk struct {
	ID        ulid.ULID
	ClanID    ulid.ULID
	World     string
	X         int
	Z         int
	ClaimedAt time.Time
}

// Key returns the grid cell the chunk occupies.
func (c Chunk) Key() ChunkKey {
	return ChunkKey{World: c.World, X: c.X, Z: c.Z}
}

// olderThan orders chunks for decay: earliest claim first, ties broken by key.
func (c Chunk) olderThan(o Chunk) bool {
	if !c.ClaimedAt.Equal(o.ClaimedAt) {
		return c.ClaimedAt.Before(o.ClaimedAt)
	}
	return c.Key().Less(o.Key())
}

// Bank is a clan's upkeep ledger.
type Bank struct {
	ClanID  ulid.ULID
	Balance decimal.Decimal
}

// State is a clan's defensive classification.
type State int

// Defensive states.
const (
	Fortified State = iota
	Vulnerable
)

func (s State) String() string {
	switch s {
	case Fortified:
		return "FORTIFIED"
	case Vulnerable:
		return "VULNERABLE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
