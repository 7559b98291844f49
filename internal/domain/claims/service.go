package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/billing"
	"github.com/clearbill/clearbill/internal/domain/ledger"
	"github.com/clearbill/clearbill/internal/platform/db"
)

// Ledger is the slice of the transaction ledger the lifecycle manager
// needs: appending charges when a claim is submitted.
type Ledger interface {
	Append(ctx context.Context, in ledger.AppendInput) (*ledger.Transaction, error)
}

// Policy configures appeal eligibility. Denied claims are always
// appealable; whether rejected claims are is a practice decision, as is
// the window measured from the payer response date.
type Policy struct {
	RejectedAppealable bool
	AppealWindow       time.Duration
}

// DefaultPolicy allows appeals of both denied and rejected claims
// within 90 days of the response.
func DefaultPolicy() Policy {
	return Policy{RejectedAppealable: true, AppealWindow: 90 * 24 * time.Hour}
}

type Service struct {
	repo    Repository
	ledger  Ledger
	emitter billing.Emitter
	logger  zerolog.Logger
	policy  Policy

	withTx func(ctx context.Context, fn func(ctx context.Context) error) error
	now    func() time.Time
}

func NewService(repo Repository, lg Ledger, emitter billing.Emitter, policy Policy, logger zerolog.Logger) *Service {
	if emitter == nil {
		emitter = billing.NopEmitter{}
	}
	return &Service{
		repo:    repo,
		ledger:  lg,
		emitter: emitter,
		logger:  logger,
		policy:  policy,
		withTx:  db.WithTx,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput holds the fields the caller supplies for a new claim.
// Status, claim number, and money counters are assigned here.
type CreateInput struct {
	PatientID         uuid.UUID
	ProviderID        uuid.UUID
	InsurancePolicyID uuid.UUID
	ClaimType         ClaimType
	ServiceDateFrom   time.Time
	ServiceDateTo     time.Time
	TotalCharge       decimal.Decimal
	DiagnosisCodes    []string
	ProcedureCodes    []string
}

func (in CreateInput) validate() error {
	if in.PatientID == uuid.Nil {
		return billing.Validationf("patient_id", "is required")
	}
	if in.ProviderID == uuid.Nil {
		return billing.Validationf("provider_id", "is required")
	}
	if in.InsurancePolicyID == uuid.Nil {
		return billing.Validationf("insurance_policy_id", "is required")
	}
	if !in.ClaimType.Valid() {
		return billing.Validationf("claim_type", "unknown claim type %q", in.ClaimType)
	}
	if in.TotalCharge.IsNegative() {
		return billing.Validationf("total_charge", "must not be negative")
	}
	if in.ServiceDateFrom.IsZero() || in.ServiceDateTo.IsZero() {
		return billing.Validationf("service_dates", "service_date_from and service_date_to are required")
	}
	if in.ServiceDateTo.Before(in.ServiceDateFrom) {
		return billing.Validationf("service_dates", "service_date_to precedes service_date_from")
	}
	return nil
}

// Create stores a new draft claim. The claim number is regenerated on
// collision a bounded number of times before the create fails outright.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Claim, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c := &Claim{
		PatientID:         in.PatientID,
		ProviderID:        in.ProviderID,
		InsurancePolicyID: in.InsurancePolicyID,
		ClaimType:         in.ClaimType,
		Status:            StatusDraft,
		ServiceDateFrom:   in.ServiceDateFrom,
		ServiceDateTo:     in.ServiceDateTo,
		TotalCharge:       in.TotalCharge,
		PaidAmount:        decimal.Zero,
		AdjustmentAmount:  decimal.Zero,
		DiagnosisCodes:    in.DiagnosisCodes,
		ProcedureCodes:    in.ProcedureCodes,
	}

	for attempt := 0; attempt < billing.MaxRefAttempts; attempt++ {
		number, err := billing.NewClaimNumber(s.now())
		if err != nil {
			return nil, err
		}
		c.ClaimNumber = number
		err = s.repo.Create(ctx, c)
		if err == nil {
			s.logger.Info().
				Str("claim_id", c.ID.String()).
				Str("claim_number", c.ClaimNumber).
				Str("patient_id", c.PatientID.String()).
				Msg("claim created")
			return c, nil
		}
		if !billing.IsUniqueViolation(err, "claims_claim_number_key") {
			return nil, err
		}
	}
	return nil, &billing.IntegrityViolationError{
		Msg: fmt.Sprintf("claim number collision persisted after %d attempts", billing.MaxRefAttempts),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Claim, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Submit moves a draft claim to submitted and books the charge on the
// patient ledger in the same unit of work.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, method string) (*Claim, error) {
	var claim *Claim
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		claim, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if claim.Status != StatusDraft {
			return &billing.InvalidStateTransitionError{Entity: "claim", From: string(claim.Status), To: string(StatusSubmitted)}
		}

		now := s.now()
		claim.Status = StatusSubmitted
		claim.SubmissionDate = &now
		if method != "" {
			claim.SubmissionMethod = &method
		}
		if err := s.repo.UpdateVersioned(ctx, claim); err != nil {
			return err
		}

		_, err = s.ledger.Append(ctx, ledger.AppendInput{
			PatientID:   claim.PatientID,
			ClaimID:     &claim.ID,
			Type:        ledger.TxCharge,
			Amount:      claim.TotalCharge,
			Description: fmt.Sprintf("claim %s submitted", claim.ClaimNumber),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, billing.EventClaimSubmitted, claim)
	return claim, nil
}

// ReceiveResponse records the payer's adjudication outcome. Denials and
// rejections must carry a reason and code.
func (s *Service) ReceiveResponse(ctx context.Context, id uuid.UUID, outcome Status, denialReason, denialCode *string) (*Claim, error) {
	if outcome != StatusAccepted && outcome != StatusRejected && outcome != StatusDenied {
		return nil, billing.Validationf("status", "adjudication outcome must be accepted, rejected, or denied")
	}

	var claim *Claim
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		claim, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if claim.Status != StatusSubmitted && claim.Status != StatusAppealed {
			return &billing.InvalidStateTransitionError{Entity: "claim", From: string(claim.Status), To: string(outcome)}
		}
		if outcome == StatusRejected || outcome == StatusDenied {
			if denialReason == nil || *denialReason == "" || denialCode == nil || *denialCode == "" {
				return billing.Validationf("denial", "denial_reason and denial_code are required for %s", outcome)
			}
			claim.DenialReason = denialReason
			claim.DenialCode = denialCode
		}

		now := s.now()
		claim.Status = outcome
		claim.ResponseDate = &now
		return s.repo.UpdateVersioned(ctx, claim)
	})
	if err != nil {
		return nil, err
	}

	switch outcome {
	case StatusAccepted:
		s.emit(ctx, billing.EventClaimAccepted, claim)
	case StatusRejected:
		s.emit(ctx, billing.EventClaimRejected, claim)
	case StatusDenied:
		s.emit(ctx, billing.EventClaimDenied, claim)
	}
	return claim, nil
}

// ApplyPayment credits amount against the claim within the caller's
// transaction. The caller owns retrying on RetryableConflict and owns
// emitting the resulting claim.paid / claim.partially_paid event after
// its unit of work commits.
func (s *Service) ApplyPayment(ctx context.Context, claimID uuid.UUID, amount decimal.Decimal) (*Claim, error) {
	if !amount.IsPositive() {
		return nil, billing.Validationf("amount", "must be positive")
	}

	claim, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != StatusSubmitted && claim.Status != StatusAccepted && claim.Status != StatusPartiallyPaid {
		return nil, &billing.InvalidStateTransitionError{Entity: "claim", From: string(claim.Status), To: string(StatusPartiallyPaid)}
	}
	if outstanding := claim.OutstandingBalance(); amount.GreaterThan(outstanding) {
		return nil, billing.Validationf("amount", "application of %s exceeds outstanding balance %s on claim %s",
			amount, outstanding, claim.ClaimNumber)
	}

	claim.PaidAmount = claim.PaidAmount.Add(amount)
	now := s.now()
	claim.PaymentDate = &now
	if claim.IsFullyPaid() {
		claim.Status = StatusPaid
	} else {
		claim.Status = StatusPartiallyPaid
	}
	if err := s.repo.UpdateVersioned(ctx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

// Void terminates a non-terminal claim.
func (s *Service) Void(ctx context.Context, id uuid.UUID) (*Claim, error) {
	var claim *Claim
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		claim, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if claim.Status.Terminal() {
			return &billing.InvalidStateTransitionError{Entity: "claim", From: string(claim.Status), To: string(StatusVoid)}
		}
		claim.Status = StatusVoid
		return s.repo.UpdateVersioned(ctx, claim)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, billing.EventClaimVoided, claim)
	return claim, nil
}

// Appeal reopens adjudication for a denied claim, or a rejected one
// when the policy allows, within the policy's appeal window.
func (s *Service) Appeal(ctx context.Context, id uuid.UUID) (*Claim, error) {
	var claim *Claim
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		claim, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		switch claim.Status {
		case StatusDenied:
		case StatusRejected:
			if !s.policy.RejectedAppealable {
				return &billing.InvalidStateTransitionError{Entity: "claim", From: string(claim.Status), To: string(StatusAppealed)}
			}
		default:
			return &billing.InvalidStateTransitionError{Entity: "claim", From: string(claim.Status), To: string(StatusAppealed)}
		}
		if s.policy.AppealWindow > 0 && claim.ResponseDate != nil {
			if s.now().After(claim.ResponseDate.Add(s.policy.AppealWindow)) {
				return billing.Validationf("appeal", "appeal window closed %s after response", s.policy.AppealWindow)
			}
		}
		claim.Status = StatusAppealed
		return s.repo.UpdateVersioned(ctx, claim)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, billing.EventClaimAppealed, claim)
	return claim, nil
}

// Delete removes a claim that never left draft. Anything later has a
// ledger trail and must be voided instead.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context) error {
		claim, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if claim.Status != StatusDraft {
			return &billing.InvalidStateTransitionError{Entity: "claim", From: string(claim.Status), To: "deleted"}
		}
		return s.repo.Delete(ctx, id)
	})
}

func (s *Service) emit(ctx context.Context, eventType string, c *Claim) {
	practice := db.PracticeFromContext(ctx)
	s.emitter.Emit(ctx, billing.NewEvent(eventType, "claim", c.ID, c.PatientID, practice, c))
	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("claim_number", c.ClaimNumber).
		Str("status", string(c.Status)).
		Str("event", eventType).
		Msg("claim transition")
}
