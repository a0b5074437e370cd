// Package escrow defines the two-party hold-and-release transfer model.
package escrow

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Escrow states. Created is the only non-terminal state: an escrow exists only
// after its hold transaction committed, and reaches exactly one terminal state.
const (
	StateCreated  = "created"
	StateReleased = "released"
	StateRefunded = "refunded"
	// StateExpired marks an escrow refunded by the expiry sweeper rather than
	// an explicit refund call.
	StateExpired = "expired"
)

var (
	// ErrNotFound is returned for unknown escrow identifiers.
	ErrNotFound = errors.New("escrow not found")
	// ErrInvalidState is returned when an operation is attempted on an escrow
	// outside the created state. Callers should treat it as "already
	// resolved" and stop retrying.
	ErrInvalidState = errors.New("escrow not in a valid state for this operation")
)

// Escrow represents one held transfer between a payer and a payee. Terminal
// escrows are immutable and never deleted.
type Escrow struct {
	ID          string
	PayerID     string
	PayeeID     string
	Amount      decimal.Decimal
	State       string
	HoldTxID    string
	ResolveTxID string
	CreatedAt   time.Time
	// ExpiresAt is zero when the escrow never expires.
	ExpiresAt  time.Time
	ResolvedAt time.Time
}

// Terminal reports whether the escrow has reached a final state.
func (e Escrow) Terminal() bool {
	return e.State != StateCreated
}
