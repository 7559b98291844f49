// Package claims manages the insurance claim lifecycle from draft
// through adjudication, payment, appeal, and void.
package claims

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the claim lifecycle state. Paid and Void are terminal.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusAccepted      Status = "accepted"
	StatusRejected      Status = "rejected"
	StatusDenied        Status = "denied"
	StatusAppealed      Status = "appealed"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusVoid          Status = "void"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusSubmitted: true, StatusAccepted: true,
	StatusRejected: true, StatusDenied: true, StatusAppealed: true,
	StatusPartiallyPaid: true, StatusPaid: true, StatusVoid: true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusVoid }

// transitions is the exhaustive state machine. Appeal eligibility for
// rejected claims is additionally gated by the service Policy; void from
// any non-terminal state is handled here directly.
var transitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusSubmitted: true,
		StatusVoid:      true,
	},
	StatusSubmitted: {
		StatusAccepted:      true,
		StatusRejected:      true,
		StatusDenied:        true,
		StatusPartiallyPaid: true,
		StatusPaid:          true,
		StatusVoid:          true,
	},
	StatusAccepted: {
		StatusPartiallyPaid: true,
		StatusPaid:          true,
		StatusVoid:          true,
	},
	StatusRejected: {
		StatusAppealed: true,
		StatusVoid:     true,
	},
	StatusDenied: {
		StatusAppealed: true,
		StatusVoid:     true,
	},
	StatusAppealed: {
		StatusAccepted: true,
		StatusRejected: true,
		StatusDenied:   true,
		StatusVoid:     true,
	},
	StatusPartiallyPaid: {
		StatusPartiallyPaid: true,
		StatusPaid:          true,
		StatusVoid:          true,
	},
	StatusPaid: {},
	StatusVoid: {},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// ClaimType distinguishes professional, institutional, dental, vision,
// and pharmacy claims. Stored as free-form-validated text.
type ClaimType string

const (
	ClaimProfessional  ClaimType = "professional"
	ClaimInstitutional ClaimType = "institutional"
	ClaimDental        ClaimType = "dental"
	ClaimVision        ClaimType = "vision"
	ClaimPharmacy      ClaimType = "pharmacy"
)

var validClaimTypes = map[ClaimType]bool{
	ClaimProfessional: true, ClaimInstitutional: true, ClaimDental: true,
	ClaimVision: true, ClaimPharmacy: true,
}

func (t ClaimType) Valid() bool { return validClaimTypes[t] }

// Claim is one insurance claim. ClaimNumber is immutable after create;
// VersionID guards every status-changing update.
type Claim struct {
	ID                uuid.UUID       `json:"id"`
	PatientID         uuid.UUID       `json:"patient_id"`
	ProviderID        uuid.UUID       `json:"provider_id"`
	InsurancePolicyID uuid.UUID       `json:"insurance_policy_id"`
	ClaimNumber       string          `json:"claim_number"`
	ClaimType         ClaimType       `json:"claim_type"`
	Status            Status          `json:"status"`
	ServiceDateFrom   time.Time       `json:"service_date_from"`
	ServiceDateTo     time.Time       `json:"service_date_to"`
	TotalCharge       decimal.Decimal `json:"total_charge"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	AdjustmentAmount  decimal.Decimal `json:"adjustment_amount"`
	DenialReason      *string         `json:"denial_reason,omitempty"`
	DenialCode        *string         `json:"denial_code,omitempty"`
	SubmissionMethod  *string         `json:"submission_method,omitempty"`
	SubmissionDate    *time.Time      `json:"submission_date,omitempty"`
	ResponseDate      *time.Time      `json:"response_date,omitempty"`
	PaymentDate       *time.Time      `json:"payment_date,omitempty"`
	DiagnosisCodes    []string        `json:"diagnosis_codes"`
	ProcedureCodes    []string        `json:"procedure_codes"`
	VersionID         int             `json:"version_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// OutstandingBalance is what remains to collect on the claim.
func (c *Claim) OutstandingBalance() decimal.Decimal {
	return c.TotalCharge.Sub(c.PaidAmount).Sub(c.AdjustmentAmount)
}

// PaymentPercentage is paid/charged as a percentage, zero for a
// zero-charge claim.
func (c *Claim) PaymentPercentage() decimal.Decimal {
	if c.TotalCharge.IsZero() {
		return decimal.Zero
	}
	return c.PaidAmount.Div(c.TotalCharge).Mul(decimal.NewFromInt(100)).Round(2)
}

// IsFullyPaid reports whether nothing remains outstanding.
func (c *Claim) IsFullyPaid() bool {
	return !c.OutstandingBalance().IsPositive()
}

// Filter narrows a claim listing.
type Filter struct {
	PatientID *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
}
