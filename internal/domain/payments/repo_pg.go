package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbill/clearbill/internal/domain/billing"
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

const paymentCols = `id, patient_id, claim_id, payment_number, payment_date, amount,
	method, source, status, refunded_amount, applied_to_claim, applied_to_copay,
	applied_to_deductible, applied_to_coinsurance, unapplied_amount,
	refund_reason, version_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PatientID, &p.ClaimID, &p.PaymentNumber,
		&p.PaymentDate, &p.Amount, &p.Method, &p.Source, &p.Status,
		&p.RefundedAmount, &p.AppliedToClaim, &p.AppliedToCopay,
		&p.AppliedToDeductible, &p.AppliedToCoinsurance, &p.UnappliedAmount,
		&p.RefundReason, &p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO payments (id, patient_id, claim_id, payment_number, payment_date,
			amount, method, source, status, refunded_amount, applied_to_claim,
			applied_to_copay, applied_to_deductible, applied_to_coinsurance,
			unapplied_amount, version_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1)
		 RETURNING version_id, created_at, updated_at`,
		p.ID, p.PatientID, p.ClaimID, p.PaymentNumber, p.PaymentDate, p.Amount,
		p.Method, p.Source, p.Status, p.RefundedAmount, p.AppliedToClaim,
		p.AppliedToCopay, p.AppliedToDeductible, p.AppliedToCoinsurance,
		p.UnappliedAmount,
	).Scan(&p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &billing.NotFoundError{Resource: "payment", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) UpdateVersioned(ctx context.Context, p *Payment) error {
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE payments SET
			status = $1, refunded_amount = $2, refund_reason = $3,
			version_id = version_id + 1, updated_at = now()
		 WHERE id = $4 AND version_id = $5
		 RETURNING version_id, updated_at`,
		p.Status, p.RefundedAmount, p.RefundReason, p.ID, p.VersionID,
	).Scan(&p.VersionID, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &billing.RetryableConflictError{Resource: "payment", ID: p.ID.String()}
	}
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error) {
	q := r.conn(ctx)

	where := "WHERE 1=1"
	var args []any
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if f.ClaimID != nil {
		args = append(args, *f.ClaimID)
		where += fmt.Sprintf(" AND claim_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND payment_date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(" AND payment_date <= $%d", len(args))
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM payments "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM payments %s
			ORDER BY created_at DESC
			LIMIT $%d OFFSET $%d`, paymentCols, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payment: %w", err)
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
