// Package payments records patient and insurer payments, allocates them
// across claim, copay, deductible, and coinsurance buckets, and handles
// refunds.
package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCash       Method = "cash"
	MethodCheck      Method = "check"
	MethodCreditCard Method = "credit_card"
	MethodDebitCard  Method = "debit_card"
	MethodACH        Method = "ach"
	MethodOther      Method = "other"
)

var validMethods = map[Method]bool{
	MethodCash: true, MethodCheck: true, MethodCreditCard: true,
	MethodDebitCard: true, MethodACH: true, MethodOther: true,
}

func (m Method) Valid() bool { return validMethods[m] }

type Source string

const (
	SourcePatient            Source = "patient"
	SourceInsurancePrimary   Source = "insurance_primary"
	SourceInsuranceSecondary Source = "insurance_secondary"
	SourceInsuranceTertiary  Source = "insurance_tertiary"
	SourceThirdParty         Source = "third_party"
)

var validSources = map[Source]bool{
	SourcePatient: true, SourceInsurancePrimary: true,
	SourceInsuranceSecondary: true, SourceInsuranceTertiary: true,
	SourceThirdParty: true,
}

func (s Source) Valid() bool { return validSources[s] }

type Status string

const (
	StatusCompleted         Status = "completed"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusVoided            Status = "voided"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusPartiallyRefunded, StatusRefunded, StatusVoided:
		return true
	}
	return false
}

// Payment is one received payment. The allocation buckets always sum
// with UnappliedAmount to Amount; RefundedAmount never exceeds Amount.
type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	PatientID            uuid.UUID       `json:"patient_id"`
	ClaimID              *uuid.UUID      `json:"claim_id,omitempty"`
	PaymentNumber        string          `json:"payment_number"`
	PaymentDate          time.Time       `json:"payment_date"`
	Amount               decimal.Decimal `json:"amount"`
	Method               Method          `json:"method"`
	Source               Source          `json:"source"`
	Status               Status          `json:"status"`
	RefundedAmount       decimal.Decimal `json:"refunded_amount"`
	AppliedToClaim       decimal.Decimal `json:"applied_to_claim"`
	AppliedToCopay       decimal.Decimal `json:"applied_to_copay"`
	AppliedToDeductible  decimal.Decimal `json:"applied_to_deductible"`
	AppliedToCoinsurance decimal.Decimal `json:"applied_to_coinsurance"`
	UnappliedAmount      decimal.Decimal `json:"unapplied_amount"`
	RefundReason         *string         `json:"refund_reason,omitempty"`
	VersionID            int             `json:"version_id"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// AppliedTotal sums the four allocation buckets.
func (p *Payment) AppliedTotal() decimal.Decimal {
	return p.AppliedToClaim.
		Add(p.AppliedToCopay).
		Add(p.AppliedToDeductible).
		Add(p.AppliedToCoinsurance)
}

// Filter narrows a payment listing.
type Filter struct {
	PatientID *uuid.UUID
	ClaimID   *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
}
