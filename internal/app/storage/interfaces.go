// Package storage defines the persistence contracts for the wallet engine.
// The stores are the only components permitted to mutate accounts,
// transactions and escrows; services read and write exclusively through them.
package storage

import (
	"context"
	"time"

	"github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	"github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
)

// LedgerStore persists accounts and the append-only transaction log.
//
// Commit is the core contract: every entry's balance delta and transaction
// record become durable as one atomic unit. A partial commit must never be
// observable, even across a crash. Commit enforces the non-negative balance
// invariant (ledger.ErrInsufficientFunds) and optimistic version checks
// (ledger.ErrVersionConflict).
type LedgerStore interface {
	CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	Commit(ctx context.Context, entries ...ledger.Entry) ([]ledger.Transaction, error)
	// ListTransactions returns transactions newest first. cursor is the
	// sequence bound returned by the previous page ("" for the first page);
	// nextCursor is "" when the history is exhausted.
	ListTransactions(ctx context.Context, accountID string, limit int, cursor string) ([]ledger.Transaction, string, error)
}

// EscrowStore persists escrows. Creation and resolution bundle the escrow
// record change with its ledger entries in the same atomic unit used by
// LedgerStore.Commit.
type EscrowStore interface {
	// CreateEscrow commits the hold entry and inserts the escrow in one unit.
	// If the hold fails no escrow record exists.
	CreateEscrow(ctx context.Context, esc escrow.Escrow, hold ledger.Entry) (escrow.Escrow, ledger.Transaction, error)
	GetEscrow(ctx context.Context, id string) (escrow.Escrow, error)
	// ResolveEscrow transitions the escrow from created to state, committing
	// the given ledger entries in the same unit. It fails with
	// escrow.ErrInvalidState when the escrow is already terminal.
	ResolveEscrow(ctx context.Context, id string, state string, entries ...ledger.Entry) (escrow.Escrow, []ledger.Transaction, error)
	// ListEscrows returns escrows where the account is payer or payee,
	// newest first.
	ListEscrows(ctx context.Context, accountID string) ([]escrow.Escrow, error)
	// ListExpired returns open escrows whose expiry has passed at now.
	ListExpired(ctx context.Context, now time.Time) ([]escrow.Escrow, error)
}
