// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package war

import "fmt"

// DeclareResult is the outcome class of a war declaration.
type DeclareResult int

// Declaration results, in validation order.
const (
	DeclareSuccess DeclareResult = iota
	DeclareNoClan
	DeclareNoPermission
	DeclareTargetNotFound
	DeclareSameClan
	DeclareAlreadyAtWar
	DeclareTargetNotVulnerable
	DeclareInsufficientFunds
	DeclareTruceActive
	DeclareDatabaseError
)

var declareResultNames = map[DeclareResult]string{
	DeclareSuccess:             "SUCCESS",
	DeclareNoClan:              "NO_CLAN",
	DeclareNoPermission:        "NO_PERMISSION",
	DeclareTargetNotFound:      "TARGET_NOT_FOUND",
	DeclareSameClan:            "SAME_CLAN",
	DeclareAlreadyAtWar:        "ALREADY_AT_WAR",
	DeclareTargetNotVulnerable: "TARGET_NOT_VULNERABLE",
	DeclareInsufficientFunds:   "INSUFFICIENT_FUNDS",
	DeclareTruceActive:         "TRUCE_ACTIVE",
	DeclareDatabaseError:       "DATABASE_ERROR",
}

func (r DeclareResult) String() string {
	if s, ok := declareResultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("DeclareResult(%d)", int(r))
}

// DeclareOutcome is delivered when a declaration completes. War is set on
// success.
type DeclareOutcome struct {
	Result DeclareResult
	War    War
	Err    error
}

// SiegeResult is the outcome class of a siege start.
type SiegeResult int

// Siege start results, in validation order.
const (
	SiegeSuccess SiegeResult = iota
	SiegeNotTerritory
	SiegeNoClan
	SiegeOwnTerritory
	SiegeNoWar
	SiegeExpiredWar
	SiegeAlreadyActive
	SiegeInsufficientFunds
	SiegeDatabaseError
)

var siegeResultNames = map[SiegeResult]string{
	SiegeSuccess:           "SUCCESS",
	SiegeNotTerritory:      "NOT_TERRITORY",
	SiegeNoClan:            "NO_CLAN",
	SiegeOwnTerritory:      "OWN_TERRITORY",
	SiegeNoWar:             "NO_WAR",
	SiegeExpiredWar:        "EXPIRED_WAR",
	SiegeAlreadyActive:     "SIEGE_ACTIVE",
	SiegeInsufficientFunds: "SIEGE_INSUFFICIENT_FUNDS",
	SiegeDatabaseError:     "DATABASE_ERROR",
}

func (r SiegeResult) String() string {
	if s, ok := siegeResultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("SiegeResult(%d)", int(r))
}

// SiegeOutcome is delivered when a siege start completes. Siege is set on
// success.
type SiegeOutcome struct {
	Result SiegeResult
	Siege  Siege
	Err    error
}

// ResolveOutcome is delivered when a siege ends or is cancelled. Siege holds
// the terminal state. Err is set if any part of the resolution failed.
type ResolveOutcome struct {
	Siege Siege
	Err   error
}

// TruceOutcome is delivered when a truce is signed.
type TruceOutcome struct {
	Truce Truce
	// Concluded is the war the truce ended, if there was one.
	Concluded *War
	Err       error
}
