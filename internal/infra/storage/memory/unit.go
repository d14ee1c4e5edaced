package memory

import (
	"context"
	"fmt"
	"slices"

	"staybook/internal/app/uow"
	"staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	domainuser "staybook/internal/domain/user"
)

// Unit sees committed state plus its own staged writes. Other units see nothing of it
// until Commit.
type Unit struct {
	store    *Store
	readOnly bool
	local    *overlay
	ops      []op
	done     bool

	afterCommit []func()
}

func (u *Unit) Listings() domainlistings.ListingRepository { return listingRepo{u} }
func (u *Unit) Users() domainuser.Repository               { return userRepo{u} }
func (u *Unit) Bookings() domainbooking.Repository         { return bookingRepo{u} }

func (u *Unit) Commit(ctx context.Context) error {
	if u.done {
		return ErrUnitClosed
	}
	u.done = true
	if len(u.ops) > 0 {
		if err := u.store.apply(u.ops); err != nil {
			return err
		}
	}
	for _, fn := range u.afterCommit {
		fn()
	}
	return nil
}

// AfterCommit registers fn to run once the unit's writes are published.
func (u *Unit) AfterCommit(fn func()) {
	u.afterCommit = append(u.afterCommit, fn)
}

func (u *Unit) Rollback(ctx context.Context) error {
	u.done = true
	u.ops = nil
	u.afterCommit = nil
	return nil
}

// read runs fn against the unit's view under the store read lock.
func (u *Unit) read(fn func(o *overlay)) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	fn(u.local)
}

// stage applies o to the unit's view right away, so later reads see it, and keeps it
// for replay on Commit.
func (u *Unit) stage(o op) error {
	if u.done {
		return ErrUnitClosed
	}
	if u.readOnly {
		return fmt.Errorf("memory: write in read-only unit")
	}
	u.store.mu.RLock()
	err := o(u.local)
	u.store.mu.RUnlock()
	if err != nil {
		return err
	}
	u.ops = append(u.ops, o)
	return nil
}

type listingRepo struct{ u *Unit }

func (r listingRepo) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	var out *domainlistings.Listing
	r.u.read(func(o *overlay) {
		if l, ok := o.listing(id); ok {
			out = l.Clone()
		}
	})
	if out == nil {
		return nil, domainlistings.ErrNotFound
	}
	return out, nil
}

func (r listingRepo) Save(ctx context.Context, listing *domainlistings.Listing) error {
	snapshot := listing.Clone()
	return r.u.stage(func(o *overlay) error {
		o.listings[snapshot.ID] = snapshot.Clone()
		return nil
	})
}

func (r listingRepo) UpdateAvailabilityAndBookings(ctx context.Context, id domainlistings.ListingID, expectedVersion int64, index availability.Index, bookingID string) error {
	return r.u.stage(func(o *overlay) error {
		l, ok := o.listing(id)
		if !ok {
			return domainlistings.ErrNotFound
		}
		if l.Version != expectedVersion {
			return fmt.Errorf("%w: listing %s at version %d, expected %d", domainlistings.ErrConcurrentUpdate, id, l.Version, expectedVersion)
		}
		l.Availability = index
		l.Bookings = append(l.Bookings, bookingID)
		l.Version++
		return nil
	})
}

type userRepo struct{ u *Unit }

func (r userRepo) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	var out *domainuser.User
	r.u.read(func(o *overlay) {
		if usr, ok := o.user(id); ok {
			out = usr.Clone()
		}
	})
	if out == nil {
		return nil, domainuser.ErrNotFound
	}
	return out, nil
}

func (r userRepo) Save(ctx context.Context, user *domainuser.User) error {
	snapshot := user.Clone()
	return r.u.stage(func(o *overlay) error {
		existing, ok := o.user(snapshot.ID)
		if !ok {
			o.users[snapshot.ID] = snapshot.Clone()
			return nil
		}
		existing.Email = snapshot.Email
		existing.Name = snapshot.Name
		existing.WalletID = snapshot.WalletID
		existing.UpdatedAt = snapshot.UpdatedAt
		return nil
	})
}

func (r userRepo) IncrementIncome(ctx context.Context, id domainuser.ID, amount int64) error {
	if amount < 0 {
		return domainuser.ErrNegativeIncome
	}
	return r.u.stage(func(o *overlay) error {
		usr, ok := o.user(id)
		if !ok {
			return domainuser.ErrNotFound
		}
		usr.Income += amount
		return nil
	})
}

func (r userRepo) AppendBooking(ctx context.Context, id domainuser.ID, bookingID string) error {
	return r.u.stage(func(o *overlay) error {
		usr, ok := o.user(id)
		if !ok {
			return domainuser.ErrNotFound
		}
		if slices.Contains(usr.Bookings, bookingID) {
			return domainuser.ErrDuplicateBooking
		}
		usr.Bookings = append(usr.Bookings, bookingID)
		return nil
	})
}

type bookingRepo struct{ u *Unit }

func (r bookingRepo) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var out *domainbooking.Booking
	r.u.read(func(o *overlay) {
		if b, ok := o.booking(id); ok {
			out = b.Clone()
		}
	})
	if out == nil {
		return nil, domainbooking.ErrNotFound
	}
	return out, nil
}

func (r bookingRepo) Insert(ctx context.Context, booking *domainbooking.Booking) error {
	snapshot := booking.Clone()
	return r.u.stage(func(o *overlay) error {
		if _, exists := o.booking(snapshot.ID); exists {
			return domainbooking.ErrDuplicateBooking
		}
		o.bookings[snapshot.ID] = snapshot.Clone()
		return nil
	})
}

func (r bookingRepo) ListByTenant(ctx context.Context, tenantID domainuser.ID) ([]*domainbooking.Booking, error) {
	var out []*domainbooking.Booking
	r.u.read(func(o *overlay) {
		out = o.bookingsOf(tenantID)
	})
	return out, nil
}

var (
	_ uow.UoWFactory                   = (*Store)(nil)
	_ uow.UnitOfWork                   = (*Unit)(nil)
	_ domainlistings.ListingRepository = listingRepo{}
	_ domainuser.Repository            = userRepo{}
	_ domainbooking.Repository         = bookingRepo{}
)
