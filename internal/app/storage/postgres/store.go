// Package postgres implements the storage interfaces backed by PostgreSQL.
// Every commit runs inside a database transaction with the touched account
// rows locked FOR UPDATE, so the transaction record and the balance delta
// become visible together or not at all.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	"github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.EscrowStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.Version = 0
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_accounts (id, owner, available, held, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acct.ID, acct.Owner, acct.Available, acct.Held, acct.Version, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return ledger.Account{}, storageErr(err)
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, available, held, version, created_at, updated_at
		FROM wallet_accounts
		WHERE id = $1
	`, id)
	return scanAccount(row, id)
}

func (s *Store) Commit(ctx context.Context, entries ...ledger.Entry) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = applyEntries(ctx, tx, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int, cursor string) ([]ledger.Transaction, string, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 50
	}

	bound := int64(0)
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
		bound = parsed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, available_after, sequence, status, counterparty, escrow_id, note, created_at
		FROM wallet_transactions
		WHERE account_id = $1 AND ($2 = 0 OR sequence < $2)
		ORDER BY sequence DESC
		LIMIT $3
	`, accountID, bound, limit)
	if err != nil {
		return nil, "", storageErr(err)
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var seq int64
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.AvailableAfter, &seq,
			&t.Status, &t.Counterparty, &t.EscrowID, &t.Note, &t.CreatedAt); err != nil {
			return nil, "", storageErr(err)
		}
		t.Sequence = uint64(seq)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", storageErr(err)
	}

	next := ""
	if len(result) == limit {
		next = strconv.FormatUint(result[len(result)-1].Sequence, 10)
	}
	return result, next, nil
}

// --- EscrowStore ------------------------------------------------------------

func (s *Store) CreateEscrow(ctx context.Context, esc escrow.Escrow, hold ledger.Entry) (escrow.Escrow, ledger.Transaction, error) {
	if esc.ID == "" {
		esc.ID = uuid.NewString()
	}
	hold.EscrowID = esc.ID
	esc.State = escrow.StateCreated
	esc.CreatedAt = time.Now().UTC()

	var holdTx ledger.Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		txs, err := applyEntries(ctx, tx, []ledger.Entry{hold})
		if err != nil {
			return err
		}
		holdTx = txs[0]
		esc.HoldTxID = holdTx.ID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallet_escrows (id, payer_id, payee_id, amount, state, hold_tx_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, esc.ID, esc.PayerID, esc.PayeeID, esc.Amount, esc.State, esc.HoldTxID, esc.CreatedAt, toNullTime(esc.ExpiresAt))
		if err != nil {
			return storageErr(err)
		}
		return nil
	})
	if err != nil {
		return escrow.Escrow{}, ledger.Transaction{}, err
	}
	return esc, holdTx, nil
}

func (s *Store) GetEscrow(ctx context.Context, id string) (escrow.Escrow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payer_id, payee_id, amount, state, hold_tx_id, resolve_tx_id, created_at, expires_at, resolved_at
		FROM wallet_escrows
		WHERE id = $1
	`, id)
	return scanEscrow(row, id)
}

func (s *Store) ResolveEscrow(ctx context.Context, id string, state string, entries ...ledger.Entry) (escrow.Escrow, []ledger.Transaction, error) {
	var (
		esc escrow.Escrow
		txs []ledger.Transaction
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, payer_id, payee_id, amount, state, hold_tx_id, resolve_tx_id, created_at, expires_at, resolved_at
			FROM wallet_escrows
			WHERE id = $1
			FOR UPDATE
		`, id)
		var err error
		esc, err = scanEscrow(row, id)
		if err != nil {
			return err
		}
		if esc.State != escrow.StateCreated {
			return fmt.Errorf("%w: escrow %s is %s", escrow.ErrInvalidState, id, esc.State)
		}

		for i := range entries {
			entries[i].EscrowID = id
		}
		txs, err = applyEntries(ctx, tx, entries)
		if err != nil {
			return err
		}

		esc.State = state
		esc.ResolvedAt = time.Now().UTC()
		if len(txs) > 0 {
			esc.ResolveTxID = txs[0].ID
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE wallet_escrows
			SET state = $2, resolve_tx_id = $3, resolved_at = $4
			WHERE id = $1 AND state = $5
		`, esc.ID, esc.State, esc.ResolveTxID, esc.ResolvedAt, escrow.StateCreated)
		if err != nil {
			return storageErr(err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("%w: escrow %s", escrow.ErrInvalidState, id)
		}
		return nil
	})
	if err != nil {
		return escrow.Escrow{}, nil, err
	}
	return esc, txs, nil
}

func (s *Store) ListEscrows(ctx context.Context, accountID string) ([]escrow.Escrow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payer_id, payee_id, amount, state, hold_tx_id, resolve_tx_id, created_at, expires_at, resolved_at
		FROM wallet_escrows
		WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]escrow.Escrow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payer_id, payee_id, amount, state, hold_tx_id, resolve_tx_id, created_at, expires_at, resolved_at
		FROM wallet_escrows
		WHERE state = $1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at
	`, escrow.StateCreated, now.UTC())
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	return collectEscrows(rows)
}

// --- helpers ----------------------------------------------------------------

// applyEntries locks each touched account row, validates the entry against the
// fresh row and writes the balance update plus the transaction record. The
// caller's database transaction makes the whole batch atomic.
func applyEntries(ctx context.Context, tx *sql.Tx, entries []ledger.Entry) ([]ledger.Transaction, error) {
	now := time.Now().UTC()
	result := make([]ledger.Transaction, 0, len(entries))

	for _, entry := range entries {
		row := tx.QueryRowContext(ctx, `
			SELECT id, owner, available, held, version, created_at, updated_at
			FROM wallet_accounts
			WHERE id = $1
			FOR UPDATE
		`, entry.AccountID)
		acct, err := scanAccount(row, entry.AccountID)
		if err != nil {
			return nil, err
		}
		if entry.ExpectedVersion != 0 && entry.ExpectedVersion != acct.Version {
			return nil, fmt.Errorf("%w: account %s at version %d, expected %d",
				ledger.ErrVersionConflict, entry.AccountID, acct.Version, entry.ExpectedVersion)
		}

		newAvailable := acct.Available.Add(entry.AvailableDelta)
		newHeld := acct.Held.Add(entry.HeldDelta)
		if newAvailable.IsNegative() || newHeld.IsNegative() {
			return nil, fmt.Errorf("%w: account %s", ledger.ErrInsufficientFunds, entry.AccountID)
		}
		newVersion := acct.Version + 1

		if _, err := tx.ExecContext(ctx, `
			UPDATE wallet_accounts
			SET available = $2, held = $3, version = $4, updated_at = $5
			WHERE id = $1
		`, entry.AccountID, newAvailable, newHeld, int64(newVersion), now); err != nil {
			return nil, storageErr(err)
		}

		t := ledger.Transaction{
			ID:             uuid.NewString(),
			AccountID:      entry.AccountID,
			Kind:           entry.Kind,
			Amount:         entry.Amount,
			AvailableAfter: newAvailable,
			Sequence:       newVersion,
			Status:         ledger.StatusCompleted,
			Counterparty:   entry.Counterparty,
			EscrowID:       entry.EscrowID,
			Note:           entry.Note,
			CreatedAt:      now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_transactions (id, account_id, kind, amount, available_after, sequence, status, counterparty, escrow_id, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, t.ID, t.AccountID, t.Kind, t.Amount, t.AvailableAfter, int64(t.Sequence), t.Status,
			t.Counterparty, t.EscrowID, t.Note, t.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		result = append(result, t)
	}
	return result, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner, id string) (ledger.Account, error) {
	var acct ledger.Account
	var version int64
	err := row.Scan(&acct.ID, &acct.Owner, &acct.Available, &acct.Held, &version, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err != nil {
		return ledger.Account{}, storageErr(err)
	}
	acct.Version = uint64(version)
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}

func scanEscrow(row rowScanner, id string) (escrow.Escrow, error) {
	var (
		esc        escrow.Escrow
		expiresAt  sql.NullTime
		resolvedAt sql.NullTime
	)
	err := row.Scan(&esc.ID, &esc.PayerID, &esc.PayeeID, &esc.Amount, &esc.State,
		&esc.HoldTxID, &esc.ResolveTxID, &esc.CreatedAt, &expiresAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Escrow{}, fmt.Errorf("%w: %s", escrow.ErrNotFound, id)
	}
	if err != nil {
		return escrow.Escrow{}, storageErr(err)
	}
	esc.CreatedAt = esc.CreatedAt.UTC()
	if expiresAt.Valid {
		esc.ExpiresAt = expiresAt.Time.UTC()
	}
	if resolvedAt.Valid {
		esc.ResolvedAt = resolvedAt.Time.UTC()
	}
	return esc, nil
}

func collectEscrows(rows *sql.Rows) ([]escrow.Escrow, error) {
	var result []escrow.Escrow
	for rows.Next() {
		var (
			esc        escrow.Escrow
			expiresAt  sql.NullTime
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&esc.ID, &esc.PayerID, &esc.PayeeID, &esc.Amount, &esc.State,
			&esc.HoldTxID, &esc.ResolveTxID, &esc.CreatedAt, &expiresAt, &resolvedAt); err != nil {
			return nil, storageErr(err)
		}
		esc.CreatedAt = esc.CreatedAt.UTC()
		if expiresAt.Valid {
			esc.ExpiresAt = expiresAt.Time.UTC()
		}
		if resolvedAt.Valid {
			esc.ResolvedAt = resolvedAt.Time.UTC()
		}
		result = append(result, esc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// storageErr tags an infrastructure error with the stable storage failure
// kind while preserving the underlying cause in the message.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ledger.ErrStorageFailure, err)
}
