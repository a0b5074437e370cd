package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	escrowdomain "github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	"github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
)

var errBoom = errors.New("boom")

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func accountRows(id string, available, held string, version int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "owner", "available", "held", "version", "created_at", "updated_at"}).
		AddRow(id, "owner", available, held, version, now, now)
}

func TestGetAccount(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery("SELECT id, owner, available, held, version").
		WithArgs("acct-1").
		WillReturnRows(accountRows("acct-1", "12.5", "2", 3))

	acct, err := store.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.ID != "acct-1" || acct.Version != 3 {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if acct.Available.String() != "12.5" || acct.Held.String() != "2" {
		t.Fatalf("balances not scanned: available %s held %s", acct.Available, acct.Held)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery("SELECT id, owner, available, held, version").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "available", "held", "version", "created_at", "updated_at"}))

	_, err := store.GetAccount(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestCommitHappyPath(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, owner, available, held, version(?s:.*)FOR UPDATE").
		WithArgs("acct-1").
		WillReturnRows(accountRows("acct-1", "10", "0", 2))
	mock.ExpectExec("UPDATE wallet_accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	txs, err := store.Commit(context.Background(), ledger.DepositEntry("acct-1", dec(t, "2.5"), "topup"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected one transaction, got %d", len(txs))
	}
	if txs[0].Sequence != 3 || txs[0].AvailableAfter.String() != "12.5" {
		t.Fatalf("unexpected transaction: sequence %d available_after %s", txs[0].Sequence, txs[0].AvailableAfter)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitOverdraftRollsBack(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, owner, available, held, version(?s:.*)FOR UPDATE").
		WithArgs("acct-1").
		WillReturnRows(accountRows("acct-1", "1", "0", 1))
	mock.ExpectRollback()

	_, err := store.Commit(context.Background(), ledger.WithdrawEntry("acct-1", dec(t, "5"), ""))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitVersionConflictRollsBack(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, owner, available, held, version(?s:.*)FOR UPDATE").
		WithArgs("acct-1").
		WillReturnRows(accountRows("acct-1", "10", "0", 7))
	mock.ExpectRollback()

	entry := ledger.DepositEntry("acct-1", dec(t, "1"), "")
	entry.ExpectedVersion = 2
	_, err := store.Commit(context.Background(), entry)
	if !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveEscrowAlreadyTerminal(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, payer_id, payee_id(?s:.*)FOR UPDATE").
		WithArgs("esc-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "payer_id", "payee_id", "amount", "state", "hold_tx_id", "resolve_tx_id",
			"created_at", "expires_at", "resolved_at",
		}).AddRow("esc-1", "p1", "p2", "4", escrowdomain.StateReleased, "tx-1", "tx-2", now, nil, now))
	mock.ExpectRollback()

	_, _, err := store.ResolveEscrow(context.Background(), "esc-1", escrowdomain.StateRefunded,
		ledger.RefundEntry("p1", dec(t, "4"), "p2", ""))
	if !errors.Is(err, escrowdomain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateEscrowInsertFailureRollsBack(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, owner, available, held, version(?s:.*)FOR UPDATE").
		WithArgs("p1").
		WillReturnRows(accountRows("p1", "10", "0", 1))
	mock.ExpectExec("UPDATE wallet_accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_escrows").
		WillReturnError(errBoom)
	mock.ExpectRollback()

	_, _, err := store.CreateEscrow(context.Background(),
		escrowdomain.Escrow{PayerID: "p1", PayeeID: "p2", Amount: dec(t, "4")},
		ledger.HoldEntry("p1", dec(t, "4"), "p2"))
	if !errors.Is(err, ledger.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListTransactionsBuildsCursor(t *testing.T) {
	store, mock, closeDB := newMock(t)
	defer closeDB()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, owner, available, held, version").
		WithArgs("acct-1").
		WillReturnRows(accountRows("acct-1", "10", "0", 4))
	mock.ExpectQuery("SELECT id, account_id, kind, amount, available_after").
		WithArgs("acct-1", int64(0), 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "kind", "amount", "available_after", "sequence",
			"status", "counterparty", "escrow_id", "note", "created_at",
		}).
			AddRow("tx-4", "acct-1", ledger.KindDeposit, "1", "10", int64(4), ledger.StatusCompleted, "", "", "", now).
			AddRow("tx-3", "acct-1", ledger.KindDeposit, "1", "9", int64(3), ledger.StatusCompleted, "", "", "", now))

	txs, next, err := store.ListTransactions(context.Background(), "acct-1", 2, "")
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 2 || txs[0].Sequence != 4 {
		t.Fatalf("unexpected page: %d records", len(txs))
	}
	if next != "3" {
		t.Fatalf("unexpected cursor: %q", next)
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}
