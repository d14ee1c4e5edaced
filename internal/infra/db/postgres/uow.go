package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	domainuser "staybook/internal/domain/user"
)

var ErrUnitOfWorkNotConfigured = errors.New("postgres: unit of work factory missing pool")

// Factory opens a read committed transaction per write unit. Read-only units query the
// pool directly.
type Factory struct {
	Pool *pgxpool.Pool
}

func NewFactory(pool *pgxpool.Pool) Factory {
	return Factory{Pool: pool}
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.Pool == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	if opts.ReadOnly {
		return newUnit(f.Pool, nil), nil
	}
	tx, err := f.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return newUnit(tx, tx), nil
}

type Unit struct {
	q    querier
	tx   pgx.Tx
	done bool
}

func newUnit(q querier, tx pgx.Tx) *Unit {
	return &Unit{q: q, tx: tx}
}

func (u *Unit) Listings() domainlistings.ListingRepository { return ListingRepository{q: u.q} }
func (u *Unit) Users() domainuser.Repository               { return UserRepository{q: u.q} }
func (u *Unit) Bookings() domainbooking.Repository         { return BookingRepository{q: u.q} }

func (u *Unit) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if u.tx == nil {
		return nil
	}
	return u.tx.Commit(ctx)
}

func (u *Unit) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if u.tx == nil {
		return nil
	}
	return u.tx.Rollback(ctx)
}

// querierFrom returns the transaction of the unit in ctx, or fallback.
func querierFrom(ctx context.Context, fallback querier) querier {
	if unit, ok := uow.FromContext(ctx); ok {
		if pg, ok := unit.(*Unit); ok && pg.tx != nil && !pg.done {
			return pg.tx
		}
	}
	return fallback
}

var _ uow.UoWFactory = Factory{}
