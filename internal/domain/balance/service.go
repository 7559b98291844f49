package balance

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/ledger"
)

// Ledger supplies the authoritative cached balance.
type Ledger interface {
	CurrentBalance(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error)
}

type Service struct {
	repo   Repository
	ledger Ledger
	logger zerolog.Logger
}

func NewService(repo Repository, lg Ledger, logger zerolog.Logger) *Service {
	return &Service{repo: repo, ledger: lg, logger: logger}
}

// PatientBalance aggregates the patient's position and cross-checks the
// aggregated totals against the ledger's cached balance. A mismatch is
// reported, never repaired here.
func (s *Service) PatientBalance(ctx context.Context, patientID uuid.UUID) (*PatientBalance, error) {
	sums, err := s.repo.SumsByType(ctx, patientID)
	if err != nil {
		return nil, err
	}
	current, err := s.ledger.CurrentBalance(ctx, patientID)
	if err != nil {
		return nil, err
	}
	unapplied, err := s.repo.UnappliedCredits(ctx, patientID)
	if err != nil {
		return nil, err
	}

	charges := sums[ledger.TxCharge]
	payments := sums[ledger.TxPayment].Neg().Sub(sums[ledger.TxRefund])
	adjustments := sums[ledger.TxAdjustment].Add(sums[ledger.TxWriteOff]).Add(sums[ledger.TxTransfer]).Neg()

	pb := &PatientBalance{
		PatientID:        patientID,
		TotalCharges:     charges,
		TotalPayments:    payments,
		TotalAdjustments: adjustments,
		CurrentBalance:   current,
		UnappliedCredits: unapplied,
	}

	expected := charges.Sub(payments).Sub(adjustments)
	pb.Reconciled = current.Equal(expected)
	if !pb.Reconciled {
		s.logger.Error().
			Str("patient_id", patientID.String()).
			Str("cached_balance", current.String()).
			Str("aggregated_balance", expected.String()).
			Msg("balance reconciliation mismatch")
	}
	return pb, nil
}
