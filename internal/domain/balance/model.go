// Package balance computes read-only patient balance summaries from the
// transaction ledger.
//
// Sign conventions for the reported totals, given the ledger's signed
// amounts (charges positive, payments and adjustments negative, refunds
// positive):
//
//	TotalCharges     = sum of charge amounts
//	TotalPayments    = -(sum of payment amounts) - sum of refund amounts
//	TotalAdjustments = -(sum of adjustment, write_off, and transfer amounts)
//
// so all three totals read as positive magnitudes and refunds reduce net
// payments. A reversal entry counts against the bucket of the entry it
// negates (the repository resolves reversed_transaction_id), so reversing
// a charge shrinks TotalCharges instead of leaking out of the identity.
// Transfers are bucketed with adjustments: both are balance corrections
// that are neither care delivered nor money collected. CurrentBalance
// comes from the ledger's cached balance_after, and Reconciled reports
// whether it matches TotalCharges - TotalPayments - TotalAdjustments.
package balance

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PatientBalance is the aggregated money position of one patient.
type PatientBalance struct {
	PatientID        uuid.UUID       `json:"patient_id"`
	TotalCharges     decimal.Decimal `json:"total_charges"`
	TotalPayments    decimal.Decimal `json:"total_payments"`
	TotalAdjustments decimal.Decimal `json:"total_adjustments"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	UnappliedCredits decimal.Decimal `json:"unapplied_credits"`
	Reconciled       bool            `json:"reconciled"`
}
