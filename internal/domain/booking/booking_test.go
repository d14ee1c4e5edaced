package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

func sampleQuote() Quote {
	d := daterange.DayOf(fixedNow).AddDays(3)
	return Quote{
		Range:  daterange.DateRange{CheckIn: d, CheckOut: d.AddDays(2)},
		Nights: 2,
		Total:  money.Must(200, "USD"),
	}
}

func TestNewBookingRecordsCreatedEvent(t *testing.T) {
	b, err := NewBooking(CreateParams{
		ID:        "bk-1",
		ListingID: "listing-1",
		HostID:    "host-1",
		TenantID:  "guest-1",
		Quote:     sampleQuote(),
		ChargeID:  "ch_1",
		CreatedAt: fixedNow,
	})
	require.NoError(t, err)

	pending := b.PendingEvents()
	require.Len(t, pending, 1)
	created, ok := pending[0].(BookingCreated)
	require.True(t, ok)
	assert.Equal(t, "booking.created", created.EventName())
	assert.Equal(t, BookingID("bk-1"), created.BookingID)
	assert.Equal(t, "ch_1", created.ChargeID)
	assert.Equal(t, int64(200), created.Total.Amount)

	clone := b.Clone()
	assert.Empty(t, clone.PendingEvents())
	assert.Equal(t, b.Range, clone.Range)
}

func TestNewBookingRejectsMissingTenant(t *testing.T) {
	_, err := NewBooking(CreateParams{ID: "bk-1", Quote: sampleQuote(), CreatedAt: fixedNow})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewBookingRejectsZeroTotal(t *testing.T) {
	q := sampleQuote()
	q.Total = money.Money{Currency: "USD"}
	_, err := NewBooking(CreateParams{ID: "bk-1", TenantID: "guest-1", Quote: q, CreatedAt: fixedNow})
	assert.Error(t, err)
}

func TestInconsistentErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("write failed")
	err := error(&InconsistentError{
		BookingID: "bk-1",
		ListingID: "listing-1",
		ChargeID:  "ch_1",
		Amount:    money.Must(100, "USD"),
		Step:      StepInsertBooking,
		Err:       cause,
	})
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ch_1")
	assert.Contains(t, err.Error(), StepInsertBooking)
	assert.False(t, errors.Is(err, ErrGateway))
}

func TestBilledNights(t *testing.T) {
	d := daterange.DayOf(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, BilledNights(daterange.DateRange{CheckIn: d, CheckOut: d}))
	assert.Equal(t, 1, BilledNights(daterange.DateRange{CheckIn: d, CheckOut: d.AddDays(1)}))
	assert.Equal(t, 7, BilledNights(daterange.DateRange{CheckIn: d, CheckOut: d.AddDays(7)}))
}
