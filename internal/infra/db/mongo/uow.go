package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	domainuser "staybook/internal/domain/user"
)

// Factory wires Mongo transactions into the generic UnitOfWork interface. Write units run
// in a multi-document transaction; read-only units use a plain causally consistent session.
type Factory struct {
	DB *mongo.Database

	ListingsRepo domainlistings.ListingRepository
	UsersRepo    domainuser.Repository
	BookingsRepo domainbooking.Repository
}

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

func NewFactory(db *mongo.Database) Factory {
	return Factory{
		DB:           db,
		ListingsRepo: NewListingRepository(db),
		UsersRepo:    NewUserRepository(db),
		BookingsRepo: NewBookingRepository(db),
	}
}

// Begin starts a MongoDB session, and a transaction unless opts.ReadOnly.
func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	session, err := f.DB.Client().StartSession(options.Session().SetCausalConsistency(true))
	if err != nil {
		return nil, err
	}
	if !opts.ReadOnly {
		txnOpts := options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority())
		if err := session.StartTransaction(txnOpts); err != nil {
			session.EndSession(ctx)
			return nil, err
		}
	}
	return &Unit{
		session:  session,
		inTxn:    !opts.ReadOnly,
		listings: f.ListingsRepo,
		users:    f.UsersRepo,
		bookings: f.BookingsRepo,
	}, nil
}

type Unit struct {
	session mongo.Session
	inTxn   bool
	done    bool

	listings domainlistings.ListingRepository
	users    domainuser.Repository
	bookings domainbooking.Repository
}

func (u *Unit) Listings() domainlistings.ListingRepository { return u.listings }
func (u *Unit) Users() domainuser.Repository               { return u.users }
func (u *Unit) Bookings() domainbooking.Repository         { return u.bookings }

func (u *Unit) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	defer u.session.EndSession(ctx)
	if !u.inTxn {
		return nil
	}
	return u.session.CommitTransaction(ctx)
}

func (u *Unit) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	defer u.session.EndSession(ctx)
	if !u.inTxn {
		return nil
	}
	return u.session.AbortTransaction(ctx)
}

// InjectContext ensures Mongo session is available in context for downstream repos.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, u.session)
}

var (
	_ uow.UoWFactory      = Factory{}
	_ uow.ContextInjector = (*Unit)(nil)
)
