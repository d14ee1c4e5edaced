package listings

import (
	"context"
	"errors"
	"strings"
	"time"

	"staybook/internal/domain/availability"
	"staybook/internal/domain/shared/money"
)

var (
	ErrIDRequired       = errors.New("listings: id is required")
	ErrHostRequired     = errors.New("listings: host is required")
	ErrTitleRequired    = errors.New("listings: title is required")
	ErrPricePerDay      = errors.New("listings: price per day must be positive")
	ErrNotFound         = errors.New("listings: not found")
	ErrConcurrentUpdate = errors.New("listings: concurrent update detected")
)

type ListingID string
type HostID string

type Listing struct {
	ID           ListingID
	Host         HostID
	Title        string
	City         string
	PricePerDay  int64
	Currency     string
	Availability availability.Index
	Bookings     []string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ListingRepository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	Save(ctx context.Context, listing *Listing) error
	// UpdateAvailabilityAndBookings replaces the index and appends bookingID only while the
	// stored version still equals expectedVersion; otherwise ErrConcurrentUpdate.
	UpdateAvailabilityAndBookings(ctx context.Context, id ListingID, expectedVersion int64, index availability.Index, bookingID string) error
}

type CreateListingParams struct {
	ID          ListingID
	Host        HostID
	Title       string
	City        string
	PricePerDay int64
	Currency    string
	Now         time.Time
}

func NewListing(params CreateListingParams) (*Listing, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrIDRequired
	}
	if strings.TrimSpace(string(params.Host)) == "" {
		return nil, ErrHostRequired
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, ErrTitleRequired
	}
	if params.PricePerDay <= 0 {
		return nil, ErrPricePerDay
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if len(currency) != 3 {
		return nil, money.ErrInvalidCurrency
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Listing{
		ID:          params.ID,
		Host:        params.Host,
		Title:       strings.TrimSpace(params.Title),
		City:        strings.TrimSpace(params.City),
		PricePerDay: params.PricePerDay,
		Currency:    currency,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

func (l *Listing) DailyRate() money.Money {
	return money.Money{Amount: l.PricePerDay, Currency: l.Currency}
}

// Clone returns a deep copy; the index is immutable and shared safely.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	out := *l
	out.Bookings = append([]string(nil), l.Bookings...)
	return &out
}
