package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ledgerdomain "github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/guard"
	escrowsvc "github.com/pi-work-link/wallet-engine/internal/app/services/escrow"
	ledgersvc "github.com/pi-work-link/wallet-engine/internal/app/services/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/storage/memory"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func newService(t *testing.T) *Service {
	t.Helper()
	store := memory.New()
	recorder := ledgersvc.NewRecorder(store, guard.New(time.Second), nil)
	coordinator := escrowsvc.New(store, recorder, nil)
	return New(recorder, coordinator, nil)
}

func TestService_BalanceReflectsHolds(t *testing.T) {
	svc := newService(t)

	payer, err := svc.CreateAccount(context.Background(), "payer")
	if err != nil {
		t.Fatalf("create payer: %v", err)
	}
	payee, err := svc.CreateAccount(context.Background(), "payee")
	if err != nil {
		t.Fatalf("create payee: %v", err)
	}

	if _, _, err := svc.Deposit(context.Background(), payer.ID, dec(t, "30"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.CreateEscrow(context.Background(), payer.ID, payee.ID, dec(t, "12")); err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	balance, err := svc.GetBalance(context.Background(), payer.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Available.Equal(dec(t, "18")) || !balance.Held.Equal(dec(t, "12")) {
		t.Fatalf("split wrong: available %s held %s", balance.Available, balance.Held)
	}
	if !balance.Total.Equal(dec(t, "30")) {
		t.Fatalf("total must include held funds: %s", balance.Total)
	}
	if balance.Version != 2 {
		t.Fatalf("unexpected version: %d", balance.Version)
	}
}

func TestService_HistoryNewestFirst(t *testing.T) {
	svc := newService(t)

	acct, err := svc.CreateAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, _, err := svc.Deposit(context.Background(), acct.ID, dec(t, "10"), "first"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := svc.Withdraw(context.Background(), acct.ID, dec(t, "4"), "second"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	txs, next, err := svc.GetHistory(context.Background(), acct.ID, 10, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 2 || next != "" {
		t.Fatalf("unexpected page: %d records, cursor %q", len(txs), next)
	}
	if txs[0].Kind != ledgerdomain.KindWithdraw || txs[1].Kind != ledgerdomain.KindDeposit {
		t.Fatalf("not newest first: %s then %s", txs[0].Kind, txs[1].Kind)
	}
}

func TestService_UnknownAccount(t *testing.T) {
	svc := newService(t)
	if _, err := svc.GetBalance(context.Background(), "missing"); !errors.Is(err, ledgerdomain.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}
