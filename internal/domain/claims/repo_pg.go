package claims

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

const claimCols = `id, patient_id, provider_id, insurance_policy_id, claim_number,
	claim_type, status, service_date_from, service_date_to, total_charge,
	paid_amount, adjustment_amount, denial_reason, denial_code,
	submission_method, submission_date, response_date, payment_date,
	diagnosis_codes, procedure_codes, version_id, created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.PatientID, &c.ProviderID, &c.InsurancePolicyID,
		&c.ClaimNumber, &c.ClaimType, &c.Status, &c.ServiceDateFrom,
		&c.ServiceDateTo, &c.TotalCharge, &c.PaidAmount, &c.AdjustmentAmount,
		&c.DenialReason, &c.DenialCode, &c.SubmissionMethod, &c.SubmissionDate,
		&c.ResponseDate, &c.PaymentDate, &c.DiagnosisCodes, &c.ProcedureCodes,
		&c.VersionID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO claims (id, patient_id, provider_id, insurance_policy_id,
			claim_number, claim_type, status, service_date_from, service_date_to,
			total_charge, paid_amount, adjustment_amount, diagnosis_codes,
			procedure_codes, version_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
		 RETURNING version_id, created_at, updated_at`,
		c.ID, c.PatientID, c.ProviderID, c.InsurancePolicyID, c.ClaimNumber,
		c.ClaimType, c.Status, c.ServiceDateFrom, c.ServiceDateTo,
		c.TotalCharge, c.PaidAmount, c.AdjustmentAmount, c.DiagnosisCodes,
		c.ProcedureCodes,
	).Scan(&c.VersionID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE id = $1`, id)
	c, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &billing.NotFoundError{Resource: "claim", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

// UpdateVersioned rewrites the mutable columns guarded by version_id.
// A zero-row update means either the claim vanished or another writer
// bumped the version; both surface as RetryableConflict so callers can
// re-read and retry.
func (r *PostgresRepository) UpdateVersioned(ctx context.Context, c *Claim) error {
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE claims SET
			status = $1, paid_amount = $2, adjustment_amount = $3,
			denial_reason = $4, denial_code = $5, submission_method = $6,
			submission_date = $7, response_date = $8, payment_date = $9,
			version_id = version_id + 1, updated_at = now()
		 WHERE id = $10 AND version_id = $11
		 RETURNING version_id, updated_at`,
		c.Status, c.PaidAmount, c.AdjustmentAmount, c.DenialReason,
		c.DenialCode, c.SubmissionMethod, c.SubmissionDate, c.ResponseDate,
		c.PaymentDate, c.ID, c.VersionID,
	).Scan(&c.VersionID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &billing.RetryableConflictError{Resource: "claim", ID: c.ID.String()}
	}
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	return nil
}

// Delete only removes drafts. The status guard closes the race where a
// submit lands between the service's status check and the delete; zero
// affected rows on a still-existing claim reports a conflict instead of
// bubbling up as a foreign key violation.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.conn(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM claims WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("delete claim: %w", err)
		}
		if exists {
			return &billing.RetryableConflictError{Resource: "claim", ID: id.String()}
		}
		return &billing.NotFoundError{Resource: "claim", ID: id.String()}
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter, limit, offset int) ([]*Claim, int, error) {
	q := r.conn(ctx)

	where := "WHERE 1=1"
	var args []any
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND service_date_from >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(" AND service_date_to <= $%d", len(args))
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM claims "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count claims: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM claims %s
			ORDER BY created_at DESC
			LIMIT $%d OFFSET $%d`, claimCols, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan claim: %w", err)
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
