package booking

import (
	"time"

	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	"staybook/internal/domain/user"
)

type BookingCreated struct {
	BookingID BookingID
	ListingID listings.ListingID
	HostID    user.ID
	TenantID  user.ID
	CheckIn   daterange.Day
	CheckOut  daterange.Day
	Nights    int
	Total     money.Money
	ChargeID  string
	At        time.Time
}

func (e BookingCreated) EventName() string     { return "booking.created" }
func (e BookingCreated) AggregateID() string   { return string(e.BookingID) }
func (e BookingCreated) OccurredAt() time.Time { return e.At }

// ChargeOrphaned is raised when a captured charge has no persisted booking behind it.
type ChargeOrphaned struct {
	BookingID BookingID
	ListingID listings.ListingID
	TenantID  user.ID
	ChargeID  string
	Amount    money.Money
	Step      string
	Reason    string
	At        time.Time
}

func (e ChargeOrphaned) EventName() string     { return "booking.inconsistent" }
func (e ChargeOrphaned) AggregateID() string   { return string(e.BookingID) }
func (e ChargeOrphaned) OccurredAt() time.Time { return e.At }
