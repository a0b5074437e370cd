// Package escrow implements the two-phase hold-and-release coordinator. Funds
// are debited from the payer's available balance into held at creation, then
// either released to the payee or refunded to the payer; each step is one
// atomic ledger commit bundled with the escrow state transition.
package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	ledgerdomain "github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/metrics"
	ledgersvc "github.com/pi-work-link/wallet-engine/internal/app/services/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/storage"
	"github.com/pi-work-link/wallet-engine/pkg/logger"
)

// Coordinator manages the escrow state machine.
type Coordinator struct {
	store        storage.EscrowStore
	recorder     *ledgersvc.Recorder
	ttl          time.Duration
	log          *logger.Logger
	afterResolve func(domain.Escrow)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTTL sets the lifetime after which an open escrow is refunded by the
// sweeper. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.ttl = ttl }
}

// WithAfterResolve installs an observer invoked in its own goroutine after an
// escrow reaches a terminal state. Never before the commit, never gating it.
func WithAfterResolve(fn func(domain.Escrow)) Option {
	return func(c *Coordinator) { c.afterResolve = fn }
}

// New constructs a coordinator.
func New(store storage.EscrowStore, recorder *ledgersvc.Recorder, log *logger.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.NewDefault("escrow")
	}
	c := &Coordinator{
		store:    store,
		recorder: recorder,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create holds amount from the payer for the payee. The escrow record only
// exists if the hold transaction committed; a failed hold creates nothing.
func (c *Coordinator) Create(ctx context.Context, payerID, payeeID string, amount decimal.Decimal) (domain.Escrow, error) {
	if !amount.IsPositive() {
		return domain.Escrow{}, fmt.Errorf("%w: %s", ledgerdomain.ErrInvalidAmount, amount)
	}
	if payerID == "" || payeeID == "" || payerID == payeeID {
		return domain.Escrow{}, fmt.Errorf("%w: payer and payee must be distinct accounts", ledgerdomain.ErrInvalidAmount)
	}

	var esc domain.Escrow
	err := c.recorder.Guard().WithExclusive(ctx, []string{payerID}, func(ctx context.Context) error {
		// The payee is not mutated by the hold, but it must exist before
		// funds are locked against it.
		if _, err := c.recorder.GetAccount(ctx, payeeID); err != nil {
			return err
		}

		draft := domain.Escrow{
			PayerID: payerID,
			PayeeID: payeeID,
			Amount:  amount,
		}
		if c.ttl > 0 {
			draft.ExpiresAt = time.Now().UTC().Add(c.ttl)
		}

		start := time.Now()
		created, holdTx, err := c.store.CreateEscrow(ctx, draft, ledgerdomain.HoldEntry(payerID, amount, payeeID))
		metrics.RecordCommit(ledgerdomain.KindEscrowHold, time.Since(start), err)
		if err != nil {
			return err
		}
		esc = created
		c.recorder.NotifyCommitted(holdTx)
		return nil
	})
	if err != nil {
		return domain.Escrow{}, err
	}

	c.log.WithFields(map[string]interface{}{
		"escrow_id": esc.ID,
		"payer_id":  esc.PayerID,
		"payee_id":  esc.PayeeID,
		"amount":    esc.Amount.String(),
	}).Info("escrow created")
	return esc, nil
}

// Release pays the held amount out to the payee. Both guards are taken, in
// sorted order, because the commit touches both accounts; the two ledger
// entries become visible together.
func (c *Coordinator) Release(ctx context.Context, escrowID string) (domain.Escrow, error) {
	esc, err := c.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return domain.Escrow{}, err
	}
	if esc.Terminal() {
		return domain.Escrow{}, fmt.Errorf("%w: escrow %s is %s", domain.ErrInvalidState, escrowID, esc.State)
	}

	var resolved domain.Escrow
	err = c.recorder.Guard().WithExclusive(ctx, []string{esc.PayerID, esc.PayeeID}, func(ctx context.Context) error {
		start := time.Now()
		updated, txs, err := c.store.ResolveEscrow(ctx, escrowID, domain.StateReleased,
			ledgerdomain.ReleaseDebitEntry(esc.PayerID, esc.Amount, esc.PayeeID),
			ledgerdomain.ReleaseCreditEntry(esc.PayeeID, esc.Amount, esc.PayerID),
		)
		metrics.RecordCommit(ledgerdomain.KindEscrowRelease, time.Since(start), err)
		if err != nil {
			return err
		}
		resolved = updated
		c.recorder.NotifyCommitted(txs...)
		return nil
	})
	if err != nil {
		return domain.Escrow{}, err
	}

	metrics.RecordEscrowResolution(resolved.State)
	c.notifyResolved(resolved)
	c.log.WithField("escrow_id", resolved.ID).Info("escrow released")
	return resolved, nil
}

// Refund returns the held amount to the payer.
func (c *Coordinator) Refund(ctx context.Context, escrowID string) (domain.Escrow, error) {
	return c.refund(ctx, escrowID, domain.StateRefunded, "")
}

// Expire refunds an escrow whose lifetime has passed, marking it expired so
// an explicit refund remains distinguishable in the audit trail.
func (c *Coordinator) Expire(ctx context.Context, escrowID string) (domain.Escrow, error) {
	return c.refund(ctx, escrowID, domain.StateExpired, "escrow expired")
}

func (c *Coordinator) refund(ctx context.Context, escrowID, state, note string) (domain.Escrow, error) {
	esc, err := c.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return domain.Escrow{}, err
	}
	if esc.Terminal() {
		return domain.Escrow{}, fmt.Errorf("%w: escrow %s is %s", domain.ErrInvalidState, escrowID, esc.State)
	}

	var resolved domain.Escrow
	err = c.recorder.Guard().WithExclusive(ctx, []string{esc.PayerID}, func(ctx context.Context) error {
		start := time.Now()
		updated, txs, err := c.store.ResolveEscrow(ctx, escrowID, state,
			ledgerdomain.RefundEntry(esc.PayerID, esc.Amount, esc.PayeeID, note),
		)
		metrics.RecordCommit(ledgerdomain.KindEscrowRefund, time.Since(start), err)
		if err != nil {
			return err
		}
		resolved = updated
		c.recorder.NotifyCommitted(txs...)
		return nil
	})
	if err != nil {
		return domain.Escrow{}, err
	}

	metrics.RecordEscrowResolution(resolved.State)
	c.notifyResolved(resolved)
	c.log.WithField("escrow_id", resolved.ID).WithField("state", resolved.State).Info("escrow refunded")
	return resolved, nil
}

// Get returns one escrow.
func (c *Coordinator) Get(ctx context.Context, escrowID string) (domain.Escrow, error) {
	return c.store.GetEscrow(ctx, escrowID)
}

// List returns escrows involving the account as payer or payee.
func (c *Coordinator) List(ctx context.Context, accountID string) ([]domain.Escrow, error) {
	return c.store.ListEscrows(ctx, accountID)
}

func (c *Coordinator) notifyResolved(esc domain.Escrow) {
	if c.afterResolve == nil {
		return
	}
	go c.afterResolve(esc)
}
