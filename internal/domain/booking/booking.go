package booking

import (
	"context"
	"errors"
	"time"

	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/events"
	"staybook/internal/domain/shared/money"
	"staybook/internal/domain/user"
)

var ErrDuplicateBooking = errors.New("booking: id already exists")

type BookingID string

// Booking is created once per committed reservation and never changes afterwards.
type Booking struct {
	ID        BookingID
	ListingID listings.ListingID
	HostID    user.ID
	TenantID  user.ID
	Range     daterange.DateRange
	Nights    int
	Total     money.Money
	ChargeID  string
	CreatedAt time.Time
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	Insert(ctx context.Context, booking *Booking) error
	ListByTenant(ctx context.Context, tenantID user.ID) ([]*Booking, error)
}

type CreateParams struct {
	ID        BookingID
	ListingID listings.ListingID
	HostID    user.ID
	TenantID  user.ID
	Quote     Quote
	ChargeID  string
	CreatedAt time.Time
}

func NewBooking(params CreateParams) (*Booking, error) {
	if params.ID == "" {
		return nil, errors.New("booking: id required")
	}
	if params.TenantID == "" {
		return nil, ErrUnauthenticated
	}
	if !params.Quote.Total.IsPositive() {
		return nil, errors.New("booking: total must be positive")
	}
	now := params.CreatedAt.UTC()
	b := &Booking{
		ID:        params.ID,
		ListingID: params.ListingID,
		HostID:    params.HostID,
		TenantID:  params.TenantID,
		Range:     params.Quote.Range,
		Nights:    params.Quote.Nights,
		Total:     params.Quote.Total,
		ChargeID:  params.ChargeID,
		CreatedAt: now,
	}
	b.Record(BookingCreated{
		BookingID: b.ID,
		ListingID: b.ListingID,
		HostID:    b.HostID,
		TenantID:  b.TenantID,
		CheckIn:   b.Range.CheckIn,
		CheckOut:  b.Range.CheckOut,
		Nights:    b.Nights,
		Total:     b.Total,
		ChargeID:  b.ChargeID,
		At:        now,
	})
	return b, nil
}

// Clone copies the booking without its pending events.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	return &Booking{
		ID:        b.ID,
		ListingID: b.ListingID,
		HostID:    b.HostID,
		TenantID:  b.TenantID,
		Range:     b.Range,
		Nights:    b.Nights,
		Total:     b.Total,
		ChargeID:  b.ChargeID,
		CreatedAt: b.CreatedAt,
	}
}
