package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is append-only by construction: there is no update or
// delete. Append serializes per patient and fills in ID, BalanceAfter,
// and CreatedAt on the given transaction.
type Repository interface {
	Append(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	HasReversal(ctx context.Context, txID uuid.UUID) (bool, error)
	CurrentBalance(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, f Filter, limit, offset int) ([]*Transaction, int, error)
}
