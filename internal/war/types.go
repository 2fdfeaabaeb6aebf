// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package war runs the declare, siege and resolve lifecycle on top of
// territory ownership.
package war

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/clanwar/internal/territory"
)

// Status is the lifecycle state of a war.
type Status int

// War states.
const (
	StatusActive Status = iota
	StatusConcluded
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusConcluded:
		return "CONCLUDED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "ACTIVE":
		return StatusActive, nil
	case "CONCLUDED":
		return StatusConcluded, nil
	default:
		return 0, oops.Errorf("unknown war status %q", s)
	}
}

// War is a declared war. The aggressor may besiege the defender until
// EndTimeExclusivity.
type War struct {
	ID                 ulid.ULID
	AggressorClanID    ulid.ULID
	DefenderClanID     ulid.ULID
	StartTime          time.Time
	EndTimeExclusivity time.Time
	Status             Status
}

// Expired reports whether the exclusivity window has closed at now.
func (w War) Expired(now time.Time) bool {
	return !now.Before(w.EndTimeExclusivity)
}

// SiegeStatus is the lifecycle state of a siege.
type SiegeStatus int

// Siege states. AttackerWin, DefenderWin and Cancelled are terminal.
const (
	SiegePending SiegeStatus = iota
	SiegeActive
	SiegeAttackerWin
	SiegeDefenderWin
	SiegeCancelled
)

var siegeStatusNames = map[SiegeStatus]string{
	SiegePending:     "PENDING",
	SiegeActive:      "ACTIVE",
	SiegeAttackerWin: "ATTACKER_WIN",
	SiegeDefenderWin: "DEFENDER_WIN",
	SiegeCancelled:   "CANCELLED",
}

func (s SiegeStatus) String() string {
	if n, ok := siegeStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("SiegeStatus(%d)", int(s))
}

// ParseSiegeStatus is the inverse of SiegeStatus.String.
func ParseSiegeStatus(s string) (SiegeStatus, error) {
	for status, name := range siegeStatusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, oops.Errorf("unknown siege status %q", s)
}

// Terminal reports whether the siege is over.
func (s SiegeStatus) Terminal() bool {
	return s >= SiegeAttackerWin
}

// Siege is a timed contest over one claimed chunk.
type Siege struct {
	ID              ulid.ULID
	WarID           ulid.ULID
	TerritoryID     ulid.ULID
	AggressorClanID ulid.ULID
	DefenderClanID  ulid.ULID
	World           string
	X               int
	Z               int
	Duration        time.Duration
	StartedAt       time.Time
	Status          SiegeStatus
}

// Key returns the grid cell under siege.
func (s Siege) Key() territory.ChunkKey {
	return territory.ChunkKey{World: s.World, X: s.X, Z: s.Z}
}

// Deadline is the instant the countdown elapses.
func (s Siege) Deadline() time.Time {
	return s.StartedAt.Add(s.Duration)
}

// Truce forbids war between two clans until EndTime.
type Truce struct {
	ID        ulid.ULID
	ClanA     ulid.ULID
	ClanB     ulid.ULID
	StartTime time.Time
	EndTime   time.Time
}

// pair is an ordered (aggressor, defender) key.
type pair struct {
	aggressor ulid.ULID
	defender  ulid.ULID
}

func (p pair) reversed() pair {
	return pair{aggressor: p.defender, defender: p.aggressor}
}
