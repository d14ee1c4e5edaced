package uow

import (
	"context"

	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	domainuser "staybook/internal/domain/user"
)

// UnitOfWork groups repositories that must change together. Writes made through the
// repositories become visible to other units only after Commit.
type UnitOfWork interface {
	Listings() domainlistings.ListingRepository
	Users() domainuser.Repository
	Bookings() domainbooking.Repository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

type TxOptions struct {
	ReadOnly bool
}

// ContextInjector is implemented by units that carry driver state (a Mongo session)
// repositories must see through the context.
type ContextInjector interface {
	InjectContext(ctx context.Context) context.Context
}

// Begin starts a unit and returns the context repositories should be called with.
func Begin(ctx context.Context, factory UoWFactory, opts TxOptions) (UnitOfWork, context.Context, error) {
	unit, err := factory.Begin(ctx, opts)
	if err != nil {
		return nil, ctx, err
	}
	execCtx := ctx
	if injector, ok := unit.(ContextInjector); ok {
		execCtx = injector.InjectContext(ctx)
	}
	return unit, ContextWithUnitOfWork(execCtx, unit), nil
}
