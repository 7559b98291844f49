package balance

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/ledger"
)

// Repository serves the two aggregate reads the balance view needs.
type Repository interface {
	// SumsByType returns the signed amount total per transaction type
	// for one patient. Types with no entries are absent from the map.
	SumsByType(ctx context.Context, patientID uuid.UUID) (map[ledger.TxType]decimal.Decimal, error)

	// UnappliedCredits sums unapplied_amount over the patient's
	// non-voided payments.
	UnappliedCredits(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error)
}
