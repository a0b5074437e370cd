// Package ledger implements the transaction recorder: the only path through
// which deposits, withdrawals and escrow entries reach the ledger store. Every
// mutation runs inside the account guard and commits the transaction record
// together with its balance delta as one atomic unit.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/guard"
	"github.com/pi-work-link/wallet-engine/internal/app/metrics"
	"github.com/pi-work-link/wallet-engine/internal/app/storage"
	"github.com/pi-work-link/wallet-engine/pkg/logger"
)

// FundsMover is the settlement collaborator for deposits and withdrawals.
// Real payment rails live behind this interface; the engine only requires a
// synchronous verdict. A mover failure aborts the operation before anything
// is recorded.
type FundsMover interface {
	MoveIn(ctx context.Context, accountID string, amount decimal.Decimal, note string) error
	MoveOut(ctx context.Context, accountID string, amount decimal.Decimal, note string) error
}

type syncFundsMover struct{}

func (syncFundsMover) MoveIn(context.Context, string, decimal.Decimal, string) error  { return nil }
func (syncFundsMover) MoveOut(context.Context, string, decimal.Decimal, string) error { return nil }

// NewSyncFundsMover returns the simulated mover that settles immediately.
func NewSyncFundsMover() FundsMover { return syncFundsMover{} }

// Recorder creates immutable transaction records paired atomically with
// balance deltas.
type Recorder struct {
	store       storage.LedgerStore
	guard       *guard.Guard
	mover       FundsMover
	log         *logger.Logger
	afterCommit func(domain.Transaction)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFundsMover replaces the default synchronous mover.
func WithFundsMover(m FundsMover) Option {
	return func(r *Recorder) {
		if m != nil {
			r.mover = m
		}
	}
}

// WithAfterCommit installs an observer invoked in its own goroutine after a
// successful commit. It never runs before the commit and never gates it.
func WithAfterCommit(fn func(domain.Transaction)) Option {
	return func(r *Recorder) { r.afterCommit = fn }
}

// NewRecorder constructs a recorder.
func NewRecorder(store storage.LedgerStore, g *guard.Guard, log *logger.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	r := &Recorder{
		store: store,
		guard: g,
		mover: syncFundsMover{},
		log:   log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Guard exposes the account guard for callers composing multi-step
// operations (the escrow coordinator).
func (r *Recorder) Guard() *guard.Guard { return r.guard }

// CreateAccount registers a new zero-balance account.
func (r *Recorder) CreateAccount(ctx context.Context, owner string) (domain.Account, error) {
	owner = strings.TrimSpace(owner)
	acct, err := r.store.CreateAccount(ctx, domain.Account{Owner: owner})
	if err != nil {
		return domain.Account{}, err
	}
	r.log.WithField("account_id", acct.ID).Info("account created")
	return acct, nil
}

// GetAccount returns the current account state.
func (r *Recorder) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return r.store.GetAccount(ctx, accountID)
}

// Deposit credits available funds. Settlement is simulated as synchronous:
// the only failure mode is rejection, so the transaction commits as completed.
func (r *Recorder) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, note string) (domain.Account, domain.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	var tx domain.Transaction
	err := r.guard.WithExclusive(ctx, []string{accountID}, func(ctx context.Context) error {
		if _, err := r.store.GetAccount(ctx, accountID); err != nil {
			return err
		}
		if err := r.mover.MoveIn(ctx, accountID, amount, note); err != nil {
			return fmt.Errorf("funds mover rejected deposit: %w", err)
		}
		var err error
		tx, err = r.commitOne(ctx, domain.DepositEntry(accountID, amount, note))
		return err
	})
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}
	return acct, tx, nil
}

// Withdraw debits available funds. The eligibility read happens inside the
// guard so a concurrent operation cannot invalidate it before commit.
func (r *Recorder) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, note string) (domain.Account, domain.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	var tx domain.Transaction
	err := r.guard.WithExclusive(ctx, []string{accountID}, func(ctx context.Context) error {
		acct, err := r.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if acct.Available.LessThan(amount) {
			return fmt.Errorf("%w: available %s, requested %s",
				domain.ErrInsufficientFunds, acct.Available, amount)
		}
		if err := r.mover.MoveOut(ctx, accountID, amount, note); err != nil {
			return fmt.Errorf("funds mover rejected withdrawal: %w", err)
		}
		tx, err = r.commitOne(ctx, domain.WithdrawEntry(accountID, amount, note))
		return err
	})
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}
	return acct, tx, nil
}

// Record commits a prepared entry. The caller must hold the account guard for
// the entry's account.
func (r *Recorder) Record(ctx context.Context, entry domain.Entry) (domain.Transaction, error) {
	if err := validateAmount(entry.Amount); err != nil {
		return domain.Transaction{}, err
	}
	return r.commitOne(ctx, entry)
}

// ListTransactions pages through an account's history, newest first.
func (r *Recorder) ListTransactions(ctx context.Context, accountID string, limit int, cursor string) ([]domain.Transaction, string, error) {
	return r.store.ListTransactions(ctx, accountID, limit, cursor)
}

// NotifyCommitted feeds committed transactions to the observer hook. Exposed
// so collaborators sharing the commit path (the escrow coordinator) report
// through the same channel.
func (r *Recorder) NotifyCommitted(txs ...domain.Transaction) {
	if r.afterCommit == nil {
		return
	}
	for _, tx := range txs {
		go r.afterCommit(tx)
	}
}

func (r *Recorder) commitOne(ctx context.Context, entry domain.Entry) (domain.Transaction, error) {
	start := time.Now()
	txs, err := r.store.Commit(ctx, entry)
	metrics.RecordCommit(entry.Kind, time.Since(start), err)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx := txs[0]
	r.log.WithFields(map[string]interface{}{
		"transaction_id": tx.ID,
		"account_id":     tx.AccountID,
		"kind":           tx.Kind,
		"amount":         tx.Amount.String(),
		"sequence":       tx.Sequence,
	}).Info("transaction committed")
	r.NotifyCommitted(tx)
	return tx, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	return nil
}
