package memory

import (
	"context"
	"errors"
	"sync"

	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	domainuser "staybook/internal/domain/user"
)

var ErrUnitClosed = errors.New("memory: unit of work already finished")

// Store keeps committed listings, accounts and bookings. Units stage their writes and
// apply them under the store lock on Commit, all or nothing.
type Store struct {
	mu    sync.RWMutex
	state state
}

func NewStore() *Store {
	return &Store{state: state{
		listings: make(map[domainlistings.ListingID]*domainlistings.Listing),
		users:    make(map[domainuser.ID]*domainuser.User),
		bookings: make(map[domainbooking.BookingID]*domainbooking.Booking),
	}}
}

func (s *Store) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	return &Unit{store: s, readOnly: opts.ReadOnly, local: newOverlay(&s.state)}, nil
}

// apply replays staged operations against the committed state and publishes the result
// only if every operation succeeds.
func (s *Store) apply(ops []op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scratch := newOverlay(&s.state)
	for _, o := range ops {
		if err := o(scratch); err != nil {
			return err
		}
	}
	for id, l := range scratch.listings {
		s.state.listings[id] = l
	}
	for id, u := range scratch.users {
		s.state.users[id] = u
	}
	for id, b := range scratch.bookings {
		s.state.bookings[id] = b
	}
	return nil
}

type state struct {
	listings map[domainlistings.ListingID]*domainlistings.Listing
	users    map[domainuser.ID]*domainuser.User
	bookings map[domainbooking.BookingID]*domainbooking.Booking
}

// overlay is a copy-on-write view over committed state.
type overlay struct {
	base     *state
	listings map[domainlistings.ListingID]*domainlistings.Listing
	users    map[domainuser.ID]*domainuser.User
	bookings map[domainbooking.BookingID]*domainbooking.Booking
}

type op func(o *overlay) error

func newOverlay(base *state) *overlay {
	return &overlay{
		base:     base,
		listings: make(map[domainlistings.ListingID]*domainlistings.Listing),
		users:    make(map[domainuser.ID]*domainuser.User),
		bookings: make(map[domainbooking.BookingID]*domainbooking.Booking),
	}
}

func (o *overlay) listing(id domainlistings.ListingID) (*domainlistings.Listing, bool) {
	if l, ok := o.listings[id]; ok {
		return l, true
	}
	l, ok := o.base.listings[id]
	if !ok {
		return nil, false
	}
	cp := l.Clone()
	o.listings[id] = cp
	return cp, true
}

func (o *overlay) user(id domainuser.ID) (*domainuser.User, bool) {
	if u, ok := o.users[id]; ok {
		return u, true
	}
	u, ok := o.base.users[id]
	if !ok {
		return nil, false
	}
	cp := u.Clone()
	o.users[id] = cp
	return cp, true
}

func (o *overlay) booking(id domainbooking.BookingID) (*domainbooking.Booking, bool) {
	if b, ok := o.bookings[id]; ok {
		return b, true
	}
	b, ok := o.base.bookings[id]
	return b, ok
}

// bookingsOf merges committed and staged bookings of a tenant.
func (o *overlay) bookingsOf(tenant domainuser.ID) []*domainbooking.Booking {
	var out []*domainbooking.Booking
	for id, b := range o.base.bookings {
		if _, staged := o.bookings[id]; staged {
			continue
		}
		if b.TenantID == tenant {
			out = append(out, b.Clone())
		}
	}
	for _, b := range o.bookings {
		if b.TenantID == tenant {
			out = append(out, b.Clone())
		}
	}
	return out
}
