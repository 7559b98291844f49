package payments

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists payments. UpdateVersioned carries the same
// optimistic-lock contract as the claims repository.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	UpdateVersioned(ctx context.Context, p *Payment) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error)
}
