package booking

import (
	"fmt"
	"time"

	"staybook/internal/domain/availability"
	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	"staybook/internal/domain/user"
)

// DefaultWindowDays bounds how far ahead check-in and check-out may be.
const DefaultWindowDays = 90

// Quote is the priced outcome of a successful validation.
type Quote struct {
	Range  daterange.DateRange
	Nights int
	Total  money.Money
	// Index is the listing index with Range merged in, as seen at validation time.
	Index availability.Index
}

// Validator applies the booking rules in a fixed order; the first violation wins.
type Validator struct {
	WindowDays int
	Now        func() time.Time
}

func (v Validator) Validate(listing *listings.Listing, host *user.User, requester user.ID, checkIn, checkOut daterange.Day) (Quote, error) {
	if requester == "" {
		return Quote{}, ErrUnauthenticated
	}
	if requester == user.ID(listing.Host) {
		return Quote{}, ErrSelfBooking
	}
	if host == nil || !host.CanReceivePayments() {
		return Quote{}, ErrHostNotPayable
	}

	window := v.Window()
	latest := daterange.DayOf(v.now()).AddDays(window)
	if checkIn > latest {
		return Quote{}, fmt.Errorf("%w: check-in %s is more than %d days ahead", ErrWindowExceeded, checkIn, window)
	}
	if checkOut > latest {
		return Quote{}, fmt.Errorf("%w: check-out %s is more than %d days ahead", ErrWindowExceeded, checkOut, window)
	}
	if checkOut < checkIn {
		return Quote{}, ErrInvertedRange
	}

	dr := daterange.DateRange{CheckIn: checkIn, CheckOut: checkOut}
	merged, err := listing.Availability.Merge(dr)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %w", ErrDateConflict, err)
	}

	nights := BilledNights(dr)
	return Quote{
		Range:  dr,
		Nights: nights,
		Total:  listing.DailyRate().Multiply(int64(nights)),
		Index:  merged,
	}, nil
}

// BilledNights is the elapsed-day difference of the range, with a same-day stay billed as
// one night. Index marking uses the inclusive day count instead.
func BilledNights(dr daterange.DateRange) int {
	nights := dr.Nights()
	if nights < 1 {
		nights = 1
	}
	return nights
}

// Window is the configured booking horizon in days.
func (v Validator) Window() int {
	if v.WindowDays <= 0 {
		return DefaultWindowDays
	}
	return v.WindowDays
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
