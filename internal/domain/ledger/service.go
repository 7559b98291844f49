package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/billing"
	"github.com/clearbill/clearbill/internal/platform/db"
)

// AppendInput describes a new ledger entry. BalanceAfter is computed by
// the repository, never supplied.
type AppendInput struct {
	PatientID   uuid.UUID
	ClaimID     *uuid.UUID
	PaymentID   *uuid.UUID
	EntryDate   time.Time
	Type        TxType
	Amount      decimal.Decimal
	Description string
	CreatedBy   string
}

type Service struct {
	repo    Repository
	emitter billing.Emitter
	logger  zerolog.Logger

	// withTx wraps a unit of work. Overridable so tests with in-memory
	// repositories need no database connection in context.
	withTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewService(repo Repository, emitter billing.Emitter, logger zerolog.Logger) *Service {
	if emitter == nil {
		emitter = billing.NopEmitter{}
	}
	return &Service{repo: repo, emitter: emitter, logger: logger, withTx: db.WithTx}
}

// Append validates and writes one ledger entry. Callers that need the
// entry atomic with their own writes run this inside db.WithTx; when no
// transaction is in flight one is opened just for the append.
func (s *Service) Append(ctx context.Context, in AppendInput) (*Transaction, error) {
	if in.PatientID == uuid.Nil {
		return nil, billing.Validationf("patient_id", "is required")
	}
	if !in.Type.Valid() {
		return nil, billing.Validationf("type", "unknown transaction type %q", in.Type)
	}
	if in.Amount.IsZero() {
		return nil, billing.Validationf("amount", "must be non-zero")
	}

	t := &Transaction{
		PatientID:   in.PatientID,
		ClaimID:     in.ClaimID,
		PaymentID:   in.PaymentID,
		EntryDate:   in.EntryDate,
		Type:        in.Type,
		Amount:      in.Amount,
		Description: in.Description,
		CreatedBy:   in.CreatedBy,
	}
	err := s.withTx(ctx, func(ctx context.Context) error {
		return s.repo.Append(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CurrentBalance returns balance_after of the newest entry, zero when
// the patient has no ledger rows.
func (s *Service) CurrentBalance(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.CurrentBalance(ctx, patientID)
}

// History lists a patient's entries newest first.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, f Filter, limit, offset int) ([]*Transaction, int, error) {
	return s.repo.ListByPatient(ctx, patientID, f, limit, offset)
}

// Reverse appends a compensating entry with the negated amount of the
// original. A reversal cannot itself be reversed, and each entry can be
// reversed at most once.
func (s *Service) Reverse(ctx context.Context, txID uuid.UUID, createdBy string) (*Transaction, error) {
	var reversal *Transaction
	err := s.withTx(ctx, func(ctx context.Context) error {
		orig, err := s.repo.GetByID(ctx, txID)
		if err != nil {
			return err
		}
		if orig.Type == TxReversal {
			return billing.Validationf("transaction_id", "cannot reverse a reversal")
		}
		reversed, err := s.repo.HasReversal(ctx, txID)
		if err != nil {
			return err
		}
		if reversed {
			return billing.Validationf("transaction_id", "transaction %s is already reversed", txID)
		}

		reversal = &Transaction{
			PatientID:             orig.PatientID,
			ClaimID:               orig.ClaimID,
			PaymentID:             orig.PaymentID,
			Type:                  TxReversal,
			Amount:                orig.Amount.Neg(),
			Description:           fmt.Sprintf("reversal of %s", orig.ID),
			ReversedTransactionID: &orig.ID,
			CreatedBy:             createdBy,
		}
		return s.repo.Append(ctx, reversal)
	})
	if err != nil {
		return nil, err
	}

	practice := db.PracticeFromContext(ctx)
	s.emitter.Emit(ctx, billing.NewEvent(billing.EventTransactionReversed, "transaction",
		reversal.ID, reversal.PatientID, practice, reversal))
	s.logger.Info().
		Str("transaction_id", reversal.ID.String()).
		Str("reversed_transaction_id", txID.String()).
		Str("patient_id", reversal.PatientID.String()).
		Msg("transaction reversed")
	return reversal, nil
}
