// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and local
// development. A single mutex spans every commit, so the atomicity contract
// holds trivially: no reader can observe a transaction without its balance
// delta or vice versa.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	"github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/storage"
	"github.com/shopspring/decimal"
)

// Store keeps accounts, transactions and escrows in maps.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]ledger.Account
	transactions map[string][]ledger.Transaction // per account, ascending sequence
	escrows      map[string]escrow.Escrow
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.EscrowStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]ledger.Account),
		transactions: make(map[string][]ledger.Transaction),
		escrows:      make(map[string]escrow.Escrow),
	}
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return ledger.Account{}, fmt.Errorf("account %s already exists", acct.ID)
	}

	now := time.Now().UTC()
	acct.Available = decimal.Zero.Add(acct.Available)
	acct.Held = decimal.Zero.Add(acct.Held)
	acct.Version = 0
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	return acct, nil
}

func (s *Store) Commit(_ context.Context, entries ...ledger.Entry) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(entries)
}

// applyLocked validates every entry against staged balances before mutating
// anything, so a rejected entry leaves the store untouched.
func (s *Store) applyLocked(entries []ledger.Entry) ([]ledger.Transaction, error) {
	now := time.Now().UTC()
	staged := make(map[string]ledger.Account, len(entries))
	result := make([]ledger.Transaction, 0, len(entries))

	for _, entry := range entries {
		acct, ok := staged[entry.AccountID]
		if !ok {
			acct, ok = s.accounts[entry.AccountID]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, entry.AccountID)
			}
		}
		if entry.ExpectedVersion != 0 && entry.ExpectedVersion != acct.Version {
			return nil, fmt.Errorf("%w: account %s at version %d, expected %d",
				ledger.ErrVersionConflict, entry.AccountID, acct.Version, entry.ExpectedVersion)
		}

		acct.Available = acct.Available.Add(entry.AvailableDelta)
		acct.Held = acct.Held.Add(entry.HeldDelta)
		if acct.Available.IsNegative() || acct.Held.IsNegative() {
			return nil, fmt.Errorf("%w: account %s", ledger.ErrInsufficientFunds, entry.AccountID)
		}
		acct.Version++
		staged[entry.AccountID] = acct

		result = append(result, ledger.Transaction{
			ID:             uuid.NewString(),
			AccountID:      entry.AccountID,
			Kind:           entry.Kind,
			Amount:         entry.Amount,
			AvailableAfter: acct.Available,
			Sequence:       acct.Version,
			Status:         ledger.StatusCompleted,
			Counterparty:   entry.Counterparty,
			EscrowID:       entry.EscrowID,
			Note:           entry.Note,
			CreatedAt:      now,
		})
	}

	for id, acct := range staged {
		acct.UpdatedAt = now
		s.accounts[id] = acct
	}
	for _, tx := range result {
		s.transactions[tx.AccountID] = append(s.transactions[tx.AccountID], tx)
	}
	return result, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, limit int, cursor string) ([]ledger.Transaction, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, "", fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}
	if limit <= 0 {
		limit = 50
	}

	bound := uint64(0)
	bounded := false
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
		bound = parsed
		bounded = true
	}

	all := s.transactions[accountID]
	result := make([]ledger.Transaction, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if bounded && all[i].Sequence >= bound {
			continue
		}
		result = append(result, all[i])
	}

	next := ""
	if len(result) == limit && limit > 0 {
		next = strconv.FormatUint(result[len(result)-1].Sequence, 10)
	}
	return result, next, nil
}

// --- EscrowStore ------------------------------------------------------------

func (s *Store) CreateEscrow(_ context.Context, esc escrow.Escrow, hold ledger.Entry) (escrow.Escrow, ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if esc.ID == "" {
		esc.ID = uuid.NewString()
	}
	hold.EscrowID = esc.ID

	txs, err := s.applyLocked([]ledger.Entry{hold})
	if err != nil {
		return escrow.Escrow{}, ledger.Transaction{}, err
	}

	esc.State = escrow.StateCreated
	esc.HoldTxID = txs[0].ID
	esc.CreatedAt = time.Now().UTC()
	s.escrows[esc.ID] = esc
	return esc, txs[0], nil
}

func (s *Store) GetEscrow(_ context.Context, id string) (escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	esc, ok := s.escrows[id]
	if !ok {
		return escrow.Escrow{}, fmt.Errorf("%w: %s", escrow.ErrNotFound, id)
	}
	return esc, nil
}

func (s *Store) ResolveEscrow(_ context.Context, id string, state string, entries ...ledger.Entry) (escrow.Escrow, []ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escrows[id]
	if !ok {
		return escrow.Escrow{}, nil, fmt.Errorf("%w: %s", escrow.ErrNotFound, id)
	}
	if esc.State != escrow.StateCreated {
		return escrow.Escrow{}, nil, fmt.Errorf("%w: escrow %s is %s", escrow.ErrInvalidState, id, esc.State)
	}

	for i := range entries {
		entries[i].EscrowID = id
	}
	txs, err := s.applyLocked(entries)
	if err != nil {
		return escrow.Escrow{}, nil, err
	}

	esc.State = state
	esc.ResolvedAt = time.Now().UTC()
	if len(txs) > 0 {
		esc.ResolveTxID = txs[0].ID
	}
	s.escrows[id] = esc
	return esc, txs, nil
}

func (s *Store) ListEscrows(_ context.Context, accountID string) ([]escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []escrow.Escrow
	for _, esc := range s.escrows {
		if esc.PayerID == accountID || esc.PayeeID == accountID {
			result = append(result, esc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time) ([]escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []escrow.Escrow
	for _, esc := range s.escrows {
		if esc.State != escrow.StateCreated || esc.ExpiresAt.IsZero() {
			continue
		}
		if esc.ExpiresAt.Before(now) {
			result = append(result, esc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}
