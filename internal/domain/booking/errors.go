package booking

import (
	"errors"
	"fmt"

	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/money"
)

// Rule violations are returned before any side effect happens.
var (
	ErrUnauthenticated = errors.New("booking: requester is not authenticated")
	ErrSelfBooking     = errors.New("booking: host cannot book own listing")
	ErrHostNotPayable  = errors.New("booking: host cannot receive payments")
	ErrWindowExceeded  = errors.New("booking: dates are beyond the booking window")
	ErrInvertedRange   = errors.New("booking: checkout precedes checkin")
	ErrDateConflict    = errors.New("booking: dates already reserved")
)

var (
	ErrGateway        = errors.New("booking: payment gateway rejected the charge")
	ErrInconsistent   = errors.New("booking: charge captured but booking not persisted")
	ErrNotFound       = errors.New("booking: not found")
	ErrListingBusy    = errors.New("booking: listing is locked by another booking")
	ErrInvalidRequest = errors.New("booking: invalid request")
)

// Persist steps named in InconsistentError.Step.
const (
	StepBegin         = "begin"
	StepReserveDates  = "reserve_dates"
	StepInsertBooking = "insert_booking"
	StepCreditHost    = "credit_host"
	StepLinkTenant    = "link_tenant"
	StepUpdateListing = "update_listing"
	StepRecordEvents  = "record_events"
	StepCommit        = "commit"
)

// InconsistentError is returned when the charge was acknowledged but the booking state
// could not be persisted. It matches ErrInconsistent.
type InconsistentError struct {
	BookingID BookingID
	ListingID listings.ListingID
	ChargeID  string
	Amount    money.Money
	Step      string
	Err       error
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("booking: charge %s of %s captured for booking %s on listing %s but step %s failed: %v",
		e.ChargeID, e.Amount, e.BookingID, e.ListingID, e.Step, e.Err)
}

func (e *InconsistentError) Is(target error) bool {
	return target == ErrInconsistent
}

func (e *InconsistentError) Unwrap() error {
	return e.Err
}
