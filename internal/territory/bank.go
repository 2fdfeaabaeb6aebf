// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/clan"
	"github.com/holomush/clanwar/internal/loop"
)

// CachedBalance returns the last balance observed for clanID's bank.
func (m *Manager) CachedBalance(clanID ulid.ULID) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.banks[clanID]
	return b, ok
}

// FetchClanBalance reads clanID's balance from the store and blocks until it
// returns. It must not be called on the loop goroutine.
func (m *Manager) FetchClanBalance(ctx context.Context, clanID ulid.ULID) (decimal.Decimal, error) {
	b, err := m.store.GetClanBank(ctx, clanID)
	if err != nil {
		return decimal.Zero, oops.With("operation", "fetch clan balance").With("clan_id", clanID.String()).Wrap(err)
	}
	return b.Balance, nil
}

func (m *Manager) cacheBalance(b Bank) {
	m.mu.Lock()
	m.banks[b.ClanID] = b.Balance
	m.mu.Unlock()
}

// GetClanBank fetches clanID's bank and refreshes the cached balance.
func (m *Manager) GetClanBank(ctx context.Context, clanID ulid.ULID) *loop.Future[BankOutcome] {
	fut := loop.NewFuture[BankOutcome]()
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (Bank, error) {
			return m.store.GetClanBank(ctx, clanID)
		},
		func(b Bank, err error) {
			if err != nil {
				fut.Resolve(m.bankFailure(clanID, oops.With("operation", "get clan bank").With("clan_id", clanID.String()).Wrap(err)))
				return
			}
			m.cacheBalance(b)
			fut.Resolve(BankOutcome{Result: BankSuccess, Balance: b.Balance})
		},
		fut.Reject,
	)
	return fut
}

// DepositToClanBank credits a positive amount to clanID's bank.
func (m *Manager) DepositToClanBank(ctx context.Context, clanID ulid.ULID, amount decimal.Decimal) *loop.Future[BankOutcome] {
	if !amount.IsPositive() {
		return m.rejectAmount(OpDeposit, clanID)
	}

	fut := loop.NewFuture[BankOutcome]()
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (Bank, error) {
			return m.store.DepositToClanBank(ctx, clanID, amount)
		},
		func(b Bank, err error) {
			m.finishBankMutation(OpDeposit, clanID, b, err, fut)
		},
		fut.Reject,
	)
	return fut
}

// WithdrawFromClanBank debits a positive amount from clanID's bank. The
// balance is checked against a fresh snapshot and again atomically by the
// store; a refused withdrawal leaves the balance and cache untouched.
func (m *Manager) WithdrawFromClanBank(ctx context.Context, clanID ulid.ULID, amount decimal.Decimal) *loop.Future[BankOutcome] {
	if !amount.IsPositive() {
		return m.rejectAmount(OpWithdraw, clanID)
	}

	fut := loop.NewFuture[BankOutcome]()
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (Bank, error) {
			return m.withdraw(ctx, clanID, amount)
		},
		func(b Bank, err error) {
			m.finishBankMutation(OpWithdraw, clanID, b, err, fut)
		},
		fut.Reject,
	)
	return fut
}

// withdraw runs off the loop. On ErrInsufficientFunds the returned bank holds
// the snapshot balance.
func (m *Manager) withdraw(ctx context.Context, clanID ulid.ULID, amount decimal.Decimal) (Bank, error) {
	snapshot, err := m.store.GetClanBank(ctx, clanID)
	if err != nil {
		return Bank{}, err
	}
	if snapshot.Balance.LessThan(amount) {
		return snapshot, ErrInsufficientFunds
	}
	b, err := m.store.WithdrawFromClanBank(ctx, clanID, amount)
	if errors.Is(err, ErrInsufficientFunds) {
		return snapshot, err
	}
	return b, err
}

// ContributeToClanBank moves amount from the actor's wallet into their
// clan's bank. The actor is refunded if the bank credit fails.
func (m *Manager) ContributeToClanBank(ctx context.Context, actor clan.ActorID, amount decimal.Decimal) *loop.Future[BankOutcome] {
	if !amount.IsPositive() {
		return m.rejectAmount(OpDeposit, ulid.ULID{})
	}
	if m.economy == nil {
		return loop.Resolved(BankOutcome{Result: BankDatabaseError, Err: oops.Errorf("economy service is not configured")})
	}

	type contribution struct {
		result BankResult
		bank   Bank
	}

	fut := loop.NewFuture[BankOutcome]()
	loop.Go(m.loop, ctx,
		func(ctx context.Context) (contribution, error) {
			membership, err := m.clans.FactionOf(ctx, actor)
			if errors.Is(err, clan.ErrNotFound) {
				return contribution{result: BankNoClan}, nil
			}
			if err != nil {
				return contribution{}, err
			}
			clanID := membership.Clan.ID

			ok, err := m.economy.Withdraw(ctx, actor, amount, "clan bank contribution")
			if err != nil {
				return contribution{}, err
			}
			if !ok {
				return contribution{result: BankInsufficientFunds, bank: Bank{ClanID: clanID}}, nil
			}

			b, err := m.store.DepositToClanBank(ctx, clanID, amount)
			if err != nil {
				if refundErr := m.economy.Deposit(ctx, actor, amount, "clan bank contribution refund"); refundErr != nil {
					m.logger.Error("contribution refund failed",
						"actor", actor.String(),
						"amount", amount.String(),
						"error", refundErr,
					)
				}
				return contribution{bank: Bank{ClanID: clanID}}, err
			}
			return contribution{result: BankSuccess, bank: b}, nil
		},
		func(c contribution, err error) {
			if err != nil {
				fut.Resolve(m.bankFailure(c.bank.ClanID, oops.With("operation", "contribute").With("actor", actor.String()).Wrap(err)))
				return
			}
			if c.result != BankSuccess {
				recordOperation(OpDeposit, c.result)
				last, _ := m.CachedBalance(c.bank.ClanID)
				fut.Resolve(BankOutcome{Result: c.result, Balance: last})
				return
			}
			m.finishBankMutation(OpDeposit, c.bank.ClanID, c.bank, nil, fut)
		},
		fut.Reject,
	)
	return fut
}

func (m *Manager) finishBankMutation(op string, clanID ulid.ULID, b Bank, err error, fut *loop.Future[BankOutcome]) {
	if errors.Is(err, ErrInsufficientFunds) {
		recordOperation(op, BankInsufficientFunds)
		fut.Resolve(BankOutcome{Result: BankInsufficientFunds, Balance: b.Balance})
		return
	}
	if err != nil {
		out := m.bankFailure(clanID, oops.With("operation", op).With("clan_id", clanID.String()).Wrap(err))
		recordOperation(op, out.Result)
		fut.Resolve(out)
		return
	}
	m.cacheBalance(b)
	recordOperation(op, BankSuccess)
	fut.Resolve(BankOutcome{Result: BankSuccess, Balance: b.Balance})
}

func (m *Manager) bankFailure(clanID ulid.ULID, err error) BankOutcome {
	last, _ := m.CachedBalance(clanID)
	return BankOutcome{Result: BankDatabaseError, Balance: last, Err: err}
}

func (m *Manager) rejectAmount(op string, clanID ulid.ULID) *loop.Future[BankOutcome] {
	recordOperation(op, BankInvalidAmount)
	last, _ := m.CachedBalance(clanID)
	return loop.Resolved(BankOutcome{Result: BankInvalidAmount, Balance: last})
}
