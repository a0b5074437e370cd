// Package wallet is the operation surface consumed by the transport layer.
// It orchestrates the transaction recorder and the escrow coordinator; every
// mutating call is synchronous end to end and returns either the resulting
// record or a typed failure.
package wallet

import (
	"context"

	"github.com/shopspring/decimal"

	escrowdomain "github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	ledgerdomain "github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
	escrowsvc "github.com/pi-work-link/wallet-engine/internal/app/services/escrow"
	ledgersvc "github.com/pi-work-link/wallet-engine/internal/app/services/ledger"
	"github.com/pi-work-link/wallet-engine/pkg/logger"
)

// Balance is the read model returned by GetBalance.
type Balance struct {
	AccountID string
	Available decimal.Decimal
	Held      decimal.Decimal
	Total     decimal.Decimal
	Version   uint64
}

// Service is the wallet operation facade.
type Service struct {
	recorder *ledgersvc.Recorder
	escrows  *escrowsvc.Coordinator
	log      *logger.Logger
}

// New constructs the wallet service.
func New(recorder *ledgersvc.Recorder, escrows *escrowsvc.Coordinator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	return &Service{
		recorder: recorder,
		escrows:  escrows,
		log:      log,
	}
}

// CreateAccount registers a zero-balance wallet account.
func (s *Service) CreateAccount(ctx context.Context, owner string) (ledgerdomain.Account, error) {
	return s.recorder.CreateAccount(ctx, owner)
}

// GetBalance returns the current balances for an account.
func (s *Service) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	acct, err := s.recorder.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		AccountID: acct.ID,
		Available: acct.Available,
		Held:      acct.Held,
		Total:     acct.Available.Add(acct.Held),
		Version:   acct.Version,
	}, nil
}

// GetHistory pages through the account's transactions, newest first.
func (s *Service) GetHistory(ctx context.Context, accountID string, limit int, cursor string) ([]ledgerdomain.Transaction, string, error) {
	return s.recorder.ListTransactions(ctx, accountID, limit, cursor)
}

// Deposit credits available funds.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, note string) (ledgerdomain.Account, ledgerdomain.Transaction, error) {
	return s.recorder.Deposit(ctx, accountID, amount, note)
}

// Withdraw debits available funds.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, note string) (ledgerdomain.Account, ledgerdomain.Transaction, error) {
	return s.recorder.Withdraw(ctx, accountID, amount, note)
}

// CreateEscrow holds amount from payer for payee.
func (s *Service) CreateEscrow(ctx context.Context, payerID, payeeID string, amount decimal.Decimal) (escrowdomain.Escrow, error) {
	return s.escrows.Create(ctx, payerID, payeeID, amount)
}

// ReleaseEscrow pays a held escrow out to its payee.
func (s *Service) ReleaseEscrow(ctx context.Context, escrowID string) (escrowdomain.Escrow, error) {
	return s.escrows.Release(ctx, escrowID)
}

// RefundEscrow returns a held escrow to its payer.
func (s *Service) RefundEscrow(ctx context.Context, escrowID string) (escrowdomain.Escrow, error) {
	return s.escrows.Refund(ctx, escrowID)
}

// GetEscrow returns one escrow.
func (s *Service) GetEscrow(ctx context.Context, escrowID string) (escrowdomain.Escrow, error) {
	return s.escrows.Get(ctx, escrowID)
}

// ListEscrows returns escrows involving the account.
func (s *Service) ListEscrows(ctx context.Context, accountID string) ([]escrowdomain.Escrow, error) {
	return s.escrows.List(ctx, accountID)
}
