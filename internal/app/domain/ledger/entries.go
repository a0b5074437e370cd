package ledger

import "github.com/shopspring/decimal"

// Entry constructors keep the pairing between a transaction kind and its
// balance deltas in one place. Amounts are positive; direction is carried by
// the deltas.

// DepositEntry credits available funds.
func DepositEntry(accountID string, amount decimal.Decimal, note string) Entry {
	return Entry{
		AccountID:      accountID,
		Kind:           KindDeposit,
		Amount:         amount,
		AvailableDelta: amount,
		Note:           note,
	}
}

// WithdrawEntry debits available funds.
func WithdrawEntry(accountID string, amount decimal.Decimal, note string) Entry {
	return Entry{
		AccountID:      accountID,
		Kind:           KindWithdraw,
		Amount:         amount,
		AvailableDelta: amount.Neg(),
		Note:           note,
	}
}

// HoldEntry moves payer funds from available to held. The account total is
// unchanged: an escrow hold is a ledger-internal transfer, not a withdrawal.
func HoldEntry(payerID string, amount decimal.Decimal, payeeID string) Entry {
	return Entry{
		AccountID:      payerID,
		Kind:           KindEscrowHold,
		Amount:         amount,
		AvailableDelta: amount.Neg(),
		HeldDelta:      amount,
		Counterparty:   payeeID,
	}
}

// ReleaseDebitEntry removes released funds from the payer's held balance.
func ReleaseDebitEntry(payerID string, amount decimal.Decimal, payeeID string) Entry {
	return Entry{
		AccountID:    payerID,
		Kind:         KindEscrowRelease,
		Amount:       amount,
		HeldDelta:    amount.Neg(),
		Counterparty: payeeID,
	}
}

// ReleaseCreditEntry credits released funds to the payee.
func ReleaseCreditEntry(payeeID string, amount decimal.Decimal, payerID string) Entry {
	return Entry{
		AccountID:      payeeID,
		Kind:           KindEscrowRelease,
		Amount:         amount,
		AvailableDelta: amount,
		Counterparty:   payerID,
	}
}

// RefundEntry returns held funds to the payer's available balance.
func RefundEntry(payerID string, amount decimal.Decimal, payeeID, note string) Entry {
	return Entry{
		AccountID:      payerID,
		Kind:           KindEscrowRefund,
		Amount:         amount,
		AvailableDelta: amount,
		HeldDelta:      amount.Neg(),
		Counterparty:   payeeID,
		Note:           note,
	}
}
