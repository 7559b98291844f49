package claims

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists claims. UpdateVersioned compares the claim's
// VersionID against the stored row and returns RetryableConflictError
// when another writer got there first; on success it bumps VersionID and
// refreshes UpdatedAt on the passed claim.
type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	UpdateVersioned(ctx context.Context, c *Claim) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Claim, int, error)
}
