package dto

import (
	"time"

	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/money"
)

type MoneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Booking struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	HostID    string    `json:"host_id"`
	TenantID  string    `json:"tenant_id"`
	CheckIn   string    `json:"check_in"`
	CheckOut  string    `json:"check_out"`
	Nights    int       `json:"nights"`
	Total     MoneyDTO  `json:"total"`
	ChargeID  string    `json:"charge_id"`
	CreatedAt time.Time `json:"created_at"`
}

type BookingListingSnapshot struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	City  string `json:"city"`
}

type TenantBookingSummary struct {
	Booking
	Listing BookingListingSnapshot `json:"listing"`
}

type TenantBookingCollection struct {
	Items []TenantBookingSummary `json:"items"`
}

func MapMoney(value money.Money) MoneyDTO {
	return MoneyDTO{
		Amount:   value.Amount,
		Currency: value.Currency,
	}
}

func MapBooking(b *domainbooking.Booking) Booking {
	if b == nil {
		return Booking{}
	}
	return Booking{
		ID:        string(b.ID),
		ListingID: string(b.ListingID),
		HostID:    string(b.HostID),
		TenantID:  string(b.TenantID),
		CheckIn:   b.Range.CheckIn.String(),
		CheckOut:  b.Range.CheckOut.String(),
		Nights:    b.Nights,
		Total:     MapMoney(b.Total),
		ChargeID:  b.ChargeID,
		CreatedAt: b.CreatedAt,
	}
}

// MapTenantBookingSummary tolerates a missing listing; only its id is reported then.
func MapTenantBookingSummary(b *domainbooking.Booking, listing *domainlistings.Listing) TenantBookingSummary {
	snapshot := BookingListingSnapshot{ID: string(b.ListingID)}
	if listing != nil {
		snapshot.Title = listing.Title
		snapshot.City = listing.City
	}
	return TenantBookingSummary{
		Booking: MapBooking(b),
		Listing: snapshot,
	}
}
