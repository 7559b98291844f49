package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/billing"
	"github.com/clearbill/clearbill/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository stores transactions in the practice schema resolved
// by the practice middleware.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// conn prefers the context transaction, then the practice-scoped
// connection, and falls back to the pool.
func (r *PostgresRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const txCols = `id, patient_id, claim_id, payment_id, entry_date, type, amount,
	balance_after, description, reversed_transaction_id, created_by, created_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.PatientID, &t.ClaimID, &t.PaymentID, &t.EntryDate,
		&t.Type, &t.Amount, &t.BalanceAfter, &t.Description,
		&t.ReversedTransactionID, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Append writes a new ledger row with balance_after computed from the
// newest prior row. The advisory lock serializes appends per patient
// inside the caller's transaction; without it two concurrent appends
// could read the same prior balance.
func (r *PostgresRepository) Append(ctx context.Context, t *Transaction) error {
	q := r.conn(ctx)

	if _, err := q.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
		t.PatientID,
	); err != nil {
		return &billing.RetryableConflictError{Resource: "ledger", ID: t.PatientID.String()}
	}

	var prior decimal.Decimal
	err := q.QueryRow(ctx,
		`SELECT balance_after FROM transactions
		 WHERE patient_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		t.PatientID,
	).Scan(&prior)
	if errors.Is(err, pgx.ErrNoRows) {
		prior = decimal.Zero
	} else if err != nil {
		return fmt.Errorf("read prior balance: %w", err)
	}

	t.ID = uuid.New()
	t.BalanceAfter = prior.Add(t.Amount)
	if t.EntryDate.IsZero() {
		t.EntryDate = time.Now().UTC()
	}

	err = q.QueryRow(ctx,
		`INSERT INTO transactions (id, patient_id, claim_id, payment_id, entry_date,
			type, amount, balance_after, description, reversed_transaction_id, created_by)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING created_at`,
		t.ID, t.PatientID, t.ClaimID, t.PaymentID, t.EntryDate, t.Type, t.Amount,
		t.BalanceAfter, t.Description, t.ReversedTransactionID, t.CreatedBy,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+txCols+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &billing.NotFoundError{Resource: "transaction", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) HasReversal(ctx context.Context, txID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE reversed_transaction_id = $1)`,
		txID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reversal: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) CurrentBalance(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT balance_after FROM transactions
		 WHERE patient_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		patientID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("current balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, f Filter, limit, offset int) ([]*Transaction, int, error) {
	q := r.conn(ctx)

	where := "WHERE patient_id = $1"
	args := []any{patientID}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		where += fmt.Sprintf(" AND type = ANY($%d)", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND entry_date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(" AND entry_date <= $%d", len(args))
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM transactions "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM transactions %s
			ORDER BY created_at DESC, id DESC
			LIMIT $%d OFFSET $%d`, txCols, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var items []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
