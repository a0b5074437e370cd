// Package ledger defines the wallet ledger domain model: accounts, immutable
// transactions and the entries used to commit balance changes atomically.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction kinds. The sign of the balance change is implied by the kind;
// Transaction.Amount is always positive.
const (
	KindDeposit       = "deposit"
	KindWithdraw      = "withdraw"
	KindEscrowHold    = "escrow_hold"
	KindEscrowRelease = "escrow_release"
	KindEscrowRefund  = "escrow_refund"
)

// Transaction statuses. The engine itself only commits completed transactions;
// pending and failed exist for the reconciliation hook an asynchronous funds
// mover would use.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Account holds the spendable and escrowed balances for one user. Available
// and Held are non-negative at all times. Version increments by exactly one on
// every committed mutation and doubles as the transaction sequence source.
type Account struct {
	ID        string
	Owner     string
	Available decimal.Decimal
	Held      decimal.Decimal
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable record of one ledger-affecting event. Once its
// status is terminal it is never edited; corrections are new compensating
// transactions.
type Transaction struct {
	ID             string
	AccountID      string
	Kind           string
	Amount         decimal.Decimal
	AvailableAfter decimal.Decimal
	Sequence       uint64
	Status         string
	Counterparty   string
	EscrowID       string
	Note           string
	CreatedAt      time.Time
}

// Entry describes one account mutation inside an atomic commit. A commit of
// several entries applies all of them or none.
type Entry struct {
	AccountID      string
	Kind           string
	Amount         decimal.Decimal
	AvailableDelta decimal.Decimal
	HeldDelta      decimal.Decimal
	// ExpectedVersion, when non-zero, makes the commit fail with
	// ErrVersionConflict unless it matches the stored account version.
	ExpectedVersion uint64
	Counterparty    string
	EscrowID        string
	Note            string
}
