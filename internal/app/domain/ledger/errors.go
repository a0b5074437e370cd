package ledger

import "errors"

// Stable error kinds returned by the ledger. Callers match them with
// errors.Is; wrapped messages add context but never replace the kind.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLockTimeout       = errors.New("account lock acquisition timed out")
	ErrVersionConflict   = errors.New("account version conflict")
	ErrStorageFailure    = errors.New("storage failure")
)
