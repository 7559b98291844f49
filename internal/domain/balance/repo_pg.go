package balance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/ledger"
	"github.com/clearbill/clearbill/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *PostgresRepository) SumsByType(ctx context.Context, patientID uuid.UUID) (map[ledger.TxType]decimal.Decimal, error) {
	// Reversal entries count against the bucket of the entry they negate,
	// so a charge plus its reversal nets to zero inside TotalCharges.
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT COALESCE(orig.type, t.type), COALESCE(SUM(t.amount), 0)
		 FROM transactions t
		 LEFT JOIN transactions orig ON orig.id = t.reversed_transaction_id
		 WHERE t.patient_id = $1
		 GROUP BY 1`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	sums := map[ledger.TxType]decimal.Decimal{}
	for rows.Next() {
		var txType ledger.TxType
		var sum decimal.Decimal
		if err := rows.Scan(&txType, &sum); err != nil {
			return nil, fmt.Errorf("scan type sum: %w", err)
		}
		sums[txType] = sum
	}
	return sums, rows.Err()
}

func (r *PostgresRepository) UnappliedCredits(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(unapplied_amount), 0)
		 FROM payments
		 WHERE patient_id = $1 AND status <> 'voided'`,
		patientID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum unapplied credits: %w", err)
	}
	return total, nil
}
