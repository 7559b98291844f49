// Package ledger maintains the append-only patient transaction ledger.
// Every movement of money in the system lands here as a row, and the
// cached balance_after column on the newest row is the authoritative
// patient balance.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxType classifies a ledger entry. The sign convention: charges are
// positive, payments and adjustments negative, refunds positive (they
// restore balance), reversals carry the negated amount of the original.
type TxType string

const (
	TxCharge     TxType = "charge"
	TxPayment    TxType = "payment"
	TxAdjustment TxType = "adjustment"
	TxRefund     TxType = "refund"
	TxWriteOff   TxType = "write_off"
	TxTransfer   TxType = "transfer"
	TxReversal   TxType = "reversal"
)

var validTxTypes = map[TxType]bool{
	TxCharge: true, TxPayment: true, TxAdjustment: true, TxRefund: true,
	TxWriteOff: true, TxTransfer: true, TxReversal: true,
}

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool { return validTxTypes[t] }

// Transaction is one immutable ledger entry. Rows are never updated or
// deleted; corrections happen by appending a reversal.
type Transaction struct {
	ID                    uuid.UUID       `json:"id"`
	PatientID             uuid.UUID       `json:"patient_id"`
	ClaimID               *uuid.UUID      `json:"claim_id,omitempty"`
	PaymentID             *uuid.UUID      `json:"payment_id,omitempty"`
	EntryDate             time.Time       `json:"entry_date"`
	Type                  TxType          `json:"type"`
	Amount                decimal.Decimal `json:"amount"`
	BalanceAfter          decimal.Decimal `json:"balance_after"`
	Description           string          `json:"description,omitempty"`
	ReversedTransactionID *uuid.UUID      `json:"reversed_transaction_id,omitempty"`
	CreatedBy             string          `json:"created_by,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// Filter narrows a patient history read.
type Filter struct {
	Types []TxType
	From  *time.Time
	To    *time.Time
}
