// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ClaimResult is the outcome class of a claim.
type ClaimResult int

// Claim results.
const (
	ClaimSuccess ClaimResult = iota
	ClaimAlreadyClaimed
	ClaimNoClan
	ClaimNoPermission
	ClaimInsufficientMoral
	ClaimLimitExceeded
	ClaimDatabaseError
)

var claimResultNames = map[ClaimResult]string{
	ClaimSuccess:           "SUCCESS",
	ClaimAlreadyClaimed:    "ALREADY_CLAIMED",
	ClaimNoClan:            "NO_CLAN",
	ClaimNoPermission:      "NO_PERMISSION",
	ClaimInsufficientMoral: "INSUFFICIENT_MORAL",
	ClaimLimitExceeded:     "LIMIT_EXCEEDED",
	ClaimDatabaseError:     "DATABASE_ERROR",
}

func (r ClaimResult) String() string {
	if s, ok := claimResultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ClaimResult(%d)", int(r))
}

// ClaimOutcome is delivered when a claim completes. Chunk is set on success.
// Err carries the underlying failure for ClaimDatabaseError.
type ClaimOutcome struct {
	Result ClaimResult
	Chunk  Chunk
	Err    error
}

// UnclaimResult is the outcome class of an unclaim.
type UnclaimResult int

// Unclaim results.
const (
	UnclaimSuccess UnclaimResult = iota
	UnclaimNotClaimed
	UnclaimNoPermission
	UnclaimDatabaseError
)

var unclaimResultNames = map[UnclaimResult]string{
	UnclaimSuccess:       "SUCCESS",
	UnclaimNotClaimed:    "NOT_CLAIMED",
	UnclaimNoPermission:  "NO_PERMISSION",
	UnclaimDatabaseError: "DATABASE_ERROR",
}

func (r UnclaimResult) String() string {
	if s, ok := unclaimResultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("UnclaimResult(%d)", int(r))
}

// UnclaimOutcome is delivered when an unclaim completes. Chunk is the removed
// territory on success.
type UnclaimOutcome struct {
	Result UnclaimResult
	Chunk  Chunk
	Err    error
}

// BankResult is the outcome class of a bank operation.
type BankResult int

// Bank results.
const (
	BankSuccess BankResult = iota
	BankInvalidAmount
	BankInsufficientFunds
	BankNoClan
	BankDatabaseError
)

var bankResultNames = map[BankResult]string{
	BankSuccess:           "SUCCESS",
	BankInvalidAmount:     "INVALID_AMOUNT",
	BankInsufficientFunds: "INSUFFICIENT_FUNDS",
	BankNoClan:            "NO_CLAN",
	BankDatabaseError:     "DATABASE_ERROR",
}

func (r BankResult) String() string {
	if s, ok := bankResultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("BankResult(%d)", int(r))
}

// BankOutcome is delivered when a bank operation completes. Balance is the
// balance after the operation, or the last known balance on failure.
type BankOutcome struct {
	Result  BankResult
	Balance decimal.Decimal
	Err     error
}

// TransferOutcome is delivered when a territory changes hands.
// Err is nil on success.
type TransferOutcome struct {
	Previous Chunk
	Chunk    Chunk
	Err      error
}
