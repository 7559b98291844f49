package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/billing"
	"github.com/clearbill/clearbill/internal/domain/claims"
	"github.com/clearbill/clearbill/internal/domain/ledger"
	"github.com/clearbill/clearbill/internal/platform/db"
)

// Ledger is the slice of the transaction ledger payments needs.
type Ledger interface {
	Append(ctx context.Context, in ledger.AppendInput) (*ledger.Transaction, error)
}

// Claims is the slice of the claim lifecycle manager payments needs.
// ApplyPayment runs inside our unit of work and may return
// RetryableConflictError, which we retry with backoff.
type Claims interface {
	ApplyPayment(ctx context.Context, claimID uuid.UUID, amount decimal.Decimal) (*claims.Claim, error)
}

type Service struct {
	repo    Repository
	ledger  Ledger
	claims  Claims
	emitter billing.Emitter
	logger  zerolog.Logger

	withTx func(ctx context.Context, fn func(ctx context.Context) error) error
	now    func() time.Time

	// applyBackoff builds the retry policy for claim application.
	// Overridable so tests don't sleep.
	applyBackoff func(ctx context.Context) backoff.BackOff
}

func NewService(repo Repository, lg Ledger, cl Claims, emitter billing.Emitter, logger zerolog.Logger) *Service {
	if emitter == nil {
		emitter = billing.NopEmitter{}
	}
	return &Service{
		repo:    repo,
		ledger:  lg,
		claims:  cl,
		emitter: emitter,
		logger:  logger,
		withTx:  db.WithTx,
		now:     func() time.Time { return time.Now().UTC() },
		applyBackoff: func(ctx context.Context) backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 50 * time.Millisecond
			bo.MaxElapsedTime = 5 * time.Second
			return backoff.WithContext(bo, ctx)
		},
	}
}

// Allocation splits a payment across buckets. Zero-value buckets are
// fine; whatever the buckets don't cover stays unapplied.
type Allocation struct {
	ToClaim       decimal.Decimal `json:"to_claim"`
	ToCopay       decimal.Decimal `json:"to_copay"`
	ToDeductible  decimal.Decimal `json:"to_deductible"`
	ToCoinsurance decimal.Decimal `json:"to_coinsurance"`
}

func (a Allocation) total() decimal.Decimal {
	return a.ToClaim.Add(a.ToCopay).Add(a.ToDeductible).Add(a.ToCoinsurance)
}

// RecordInput describes a payment to record. When Allocation is nil the
// whole amount goes to the claim if one is named, otherwise it stays
// unapplied as a patient credit.
type RecordInput struct {
	PatientID   uuid.UUID
	ClaimID     *uuid.UUID
	PaymentDate time.Time
	Amount      decimal.Decimal
	Method      Method
	Source      Source
	Allocation  *Allocation
	CreatedBy   string
}

func (s *Service) resolveAllocation(in RecordInput) (Allocation, decimal.Decimal, error) {
	if in.Allocation == nil {
		if in.ClaimID != nil {
			return Allocation{ToClaim: in.Amount}, decimal.Zero, nil
		}
		return Allocation{}, in.Amount, nil
	}

	a := *in.Allocation
	for _, bucket := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"to_claim", a.ToClaim},
		{"to_copay", a.ToCopay},
		{"to_deductible", a.ToDeductible},
		{"to_coinsurance", a.ToCoinsurance},
	} {
		if bucket.v.IsNegative() {
			return Allocation{}, decimal.Zero, billing.Validationf(bucket.name, "must not be negative")
		}
	}
	applied := a.total()
	if applied.GreaterThan(in.Amount) {
		return Allocation{}, decimal.Zero, billing.Validationf("allocation", "allocated %s exceeds payment amount %s", applied, in.Amount)
	}
	if a.ToClaim.IsPositive() && in.ClaimID == nil {
		return Allocation{}, decimal.Zero, billing.Validationf("claim_id", "required when allocating to a claim")
	}
	return a, in.Amount.Sub(applied), nil
}

// Record validates, persists, and books a payment in one unit of work:
// the payment row, a negative ledger entry, and when a claim is named
// the application against it. Version conflicts on the claim are
// retried with backoff inside the unit of work.
func (s *Service) Record(ctx context.Context, in RecordInput) (*Payment, error) {
	if in.PatientID == uuid.Nil {
		return nil, billing.Validationf("patient_id", "is required")
	}
	if !in.Amount.IsPositive() {
		return nil, billing.Validationf("amount", "must be positive")
	}
	if !in.Method.Valid() {
		return nil, billing.Validationf("method", "unknown payment method %q", in.Method)
	}
	if !in.Source.Valid() {
		return nil, billing.Validationf("source", "unknown payment source %q", in.Source)
	}
	alloc, unapplied, err := s.resolveAllocation(in)
	if err != nil {
		return nil, err
	}

	p := &Payment{
		PatientID:            in.PatientID,
		ClaimID:              in.ClaimID,
		PaymentDate:          in.PaymentDate,
		Amount:               in.Amount,
		Method:               in.Method,
		Source:               in.Source,
		Status:               StatusCompleted,
		RefundedAmount:       decimal.Zero,
		AppliedToClaim:       alloc.ToClaim,
		AppliedToCopay:       alloc.ToCopay,
		AppliedToDeductible:  alloc.ToDeductible,
		AppliedToCoinsurance: alloc.ToCoinsurance,
		UnappliedAmount:      unapplied,
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = s.now()
	}

	var appliedClaim *claims.Claim
	err = s.withTx(ctx, func(ctx context.Context) error {
		if err := s.createWithNumber(ctx, p); err != nil {
			return err
		}

		_, err := s.ledger.Append(ctx, ledger.AppendInput{
			PatientID:   p.PatientID,
			ClaimID:     p.ClaimID,
			PaymentID:   &p.ID,
			Type:        ledger.TxPayment,
			Amount:      p.Amount.Neg(),
			Description: fmt.Sprintf("payment %s received", p.PaymentNumber),
			CreatedBy:   in.CreatedBy,
		})
		if err != nil {
			return err
		}

		if p.ClaimID != nil && p.AppliedToClaim.IsPositive() {
			appliedClaim, err = s.applyToClaim(ctx, *p.ClaimID, p.AppliedToClaim)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	practice := db.PracticeFromContext(ctx)
	s.emitter.Emit(ctx, billing.NewEvent(billing.EventPaymentRecorded, "payment",
		p.ID, p.PatientID, practice, p))
	if appliedClaim != nil {
		eventType := billing.EventClaimPartiallyPaid
		if appliedClaim.Status == claims.StatusPaid {
			eventType = billing.EventClaimPaid
		}
		s.emitter.Emit(ctx, billing.NewEvent(eventType, "claim",
			appliedClaim.ID, appliedClaim.PatientID, practice, appliedClaim))
	}
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("payment_number", p.PaymentNumber).
		Str("patient_id", p.PatientID.String()).
		Str("amount", p.Amount.String()).
		Msg("payment recorded")
	return p, nil
}

func (s *Service) createWithNumber(ctx context.Context, p *Payment) error {
	for attempt := 0; attempt < billing.MaxRefAttempts; attempt++ {
		number, err := billing.NewPaymentNumber(s.now())
		if err != nil {
			return err
		}
		p.PaymentNumber = number
		err = s.repo.Create(ctx, p)
		if err == nil {
			return nil
		}
		if !billing.IsUniqueViolation(err, "payments_payment_number_key") {
			return err
		}
	}
	return &billing.IntegrityViolationError{
		Msg: fmt.Sprintf("payment number collision persisted after %d attempts", billing.MaxRefAttempts),
	}
}

func (s *Service) applyToClaim(ctx context.Context, claimID uuid.UUID, amount decimal.Decimal) (*claims.Claim, error) {
	var claim *claims.Claim
	op := func() error {
		var err error
		claim, err = s.claims.ApplyPayment(ctx, claimID, amount)
		if err == nil {
			return nil
		}
		var ce *billing.RetryableConflictError
		if errors.As(err, &ce) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, s.applyBackoff(ctx)); err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Refund returns part or all of a payment. The refund never exceeds
// what remains unrefunded, and the offsetting ledger entry commits with
// the payment update.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, reason string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, billing.Validationf("amount", "must be positive")
	}
	if reason == "" {
		return nil, billing.Validationf("reason", "is required")
	}

	var p *Payment
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
			return &billing.InvalidStateTransitionError{Entity: "payment", From: string(p.Status), To: string(StatusRefunded)}
		}
		remaining := p.Amount.Sub(p.RefundedAmount)
		if amount.GreaterThan(remaining) {
			return billing.Validationf("amount", "refund %s exceeds refundable %s", amount, remaining)
		}

		p.RefundedAmount = p.RefundedAmount.Add(amount)
		if p.RefundedAmount.Equal(p.Amount) {
			p.Status = StatusRefunded
		} else {
			p.Status = StatusPartiallyRefunded
		}
		p.RefundReason = &reason
		if err := s.repo.UpdateVersioned(ctx, p); err != nil {
			return err
		}

		_, err = s.ledger.Append(ctx, ledger.AppendInput{
			PatientID:   p.PatientID,
			ClaimID:     p.ClaimID,
			PaymentID:   &p.ID,
			Type:        ledger.TxRefund,
			Amount:      amount,
			Description: fmt.Sprintf("refund of payment %s: %s", p.PaymentNumber, reason),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	practice := db.PracticeFromContext(ctx)
	s.emitter.Emit(ctx, billing.NewEvent(billing.EventPaymentRefunded, "payment",
		p.ID, p.PatientID, practice, p))
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("amount", amount.String()).
		Str("status", string(p.Status)).
		Msg("payment refunded")
	return p, nil
}
