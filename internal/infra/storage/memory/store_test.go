package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/app/middleware"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/uow"
	"staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	domainuser "staybook/internal/domain/user"
)

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	unit, err := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, unit.Listings().Save(ctx, &domainlistings.Listing{
		ID: "l1", Host: "host", Title: "Loft", PricePerDay: 100, Currency: "USD",
	}))
	require.NoError(t, unit.Users().Save(ctx, &domainuser.User{ID: "host", Name: "Host", WalletID: "acct"}))
	require.NoError(t, unit.Users().Save(ctx, &domainuser.User{ID: "guest", Name: "Guest"}))
	require.NoError(t, unit.Commit(ctx))
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s)

	writer, err := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, writer.Users().IncrementIncome(ctx, "host", 300))

	own, err := writer.Users().ByID(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, int64(300), own.Income)

	reader, err := s.Begin(ctx, uow.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	other, err := reader.Users().ByID(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.Income)

	require.NoError(t, writer.Commit(ctx))
	fresh, err := s.Begin(ctx, uow.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	after, err := fresh.Users().ByID(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, int64(300), after.Income)
}

func TestCommitIsAllOrNothingOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s)
	day := daterange.DayOf(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	idx, err := availability.Index{}.Merge(daterange.DateRange{CheckIn: day, CheckOut: day})
	require.NoError(t, err)

	first, _ := s.Begin(ctx, uow.TxOptions{})
	second, _ := s.Begin(ctx, uow.TxOptions{})

	require.NoError(t, first.Listings().UpdateAvailabilityAndBookings(ctx, "l1", 0, idx, "b1"))
	require.NoError(t, second.Users().IncrementIncome(ctx, "host", 100))
	require.NoError(t, second.Listings().UpdateAvailabilityAndBookings(ctx, "l1", 0, idx, "b2"))

	require.NoError(t, first.Commit(ctx))
	err = second.Commit(ctx)
	assert.ErrorIs(t, err, domainlistings.ErrConcurrentUpdate)

	check, _ := s.Begin(ctx, uow.TxOptions{ReadOnly: true})
	host, err := check.Users().ByID(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, int64(0), host.Income, "income of the failed unit must not leak")
	listing, err := check.Listings().ByID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, listing.Bookings)
	assert.Equal(t, int64(1), listing.Version)
}

func TestUserSaveKeepsIncomeAndBookings(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s)

	u1, _ := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, u1.Users().IncrementIncome(ctx, "host", 50))
	require.NoError(t, u1.Users().AppendBooking(ctx, "host", "b9"))
	require.NoError(t, u1.Commit(ctx))

	u2, _ := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, u2.Users().Save(ctx, &domainuser.User{ID: "host", Name: "Renamed"}))
	require.NoError(t, u2.Commit(ctx))

	check, _ := s.Begin(ctx, uow.TxOptions{ReadOnly: true})
	host, err := check.Users().ByID(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", host.Name)
	assert.Equal(t, "", host.WalletID)
	assert.Equal(t, int64(50), host.Income)
	assert.Equal(t, []string{"b9"}, host.Bookings)
}

func TestReadOnlyUnitRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s)
	unit, _ := s.Begin(ctx, uow.TxOptions{ReadOnly: true})
	assert.Error(t, unit.Users().IncrementIncome(ctx, "host", 1))
}

func TestNotFoundErrors(t *testing.T) {
	ctx := context.Background()
	unit, _ := NewStore().Begin(ctx, uow.TxOptions{})
	_, err := unit.Listings().ByID(ctx, "missing")
	assert.ErrorIs(t, err, domainlistings.ErrNotFound)
	_, err = unit.Users().ByID(ctx, "missing")
	assert.ErrorIs(t, err, domainuser.ErrNotFound)
	_, err = unit.Bookings().ByID(ctx, "missing")
	assert.ErrorIs(t, err, domainbooking.ErrNotFound)
}

func TestBookingsListedByTenant(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	day := daterange.DayOf(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	unit, _ := s.Begin(ctx, uow.TxOptions{})
	for _, id := range []domainbooking.BookingID{"b1", "b2"} {
		require.NoError(t, unit.Bookings().Insert(ctx, &domainbooking.Booking{
			ID: id, ListingID: "l1", TenantID: "guest",
			Range: daterange.DateRange{CheckIn: day, CheckOut: day},
			Total: money.Must(100, "USD"),
		}))
	}
	assert.ErrorIs(t, unit.Bookings().Insert(ctx, &domainbooking.Booking{ID: "b1"}), domainbooking.ErrDuplicateBooking)
	require.NoError(t, unit.Commit(ctx))

	check, _ := s.Begin(ctx, uow.TxOptions{ReadOnly: true})
	list, err := check.Bookings().ListByTenant(ctx, "guest")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	none, err := check.Bookings().ListByTenant(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOutboxRecordsInsideUnitWaitForCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	box := NewOutbox()

	unit, execCtx, err := uow.Begin(ctx, s, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, box.Add(execCtx, appoutbox.EventRecord{ID: "e1", Name: "booking.created"}))
	assert.Equal(t, 0, box.Pending())
	require.NoError(t, unit.Commit(execCtx))
	assert.Equal(t, 1, box.Pending())

	rolled, rbCtx, err := uow.Begin(ctx, s, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, box.Add(rbCtx, appoutbox.EventRecord{ID: "e2"}))
	require.NoError(t, rolled.Rollback(rbCtx))

	require.NoError(t, box.Flush(ctx))
	delivered := box.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "e1", delivered[0].ID)
}

func TestListingLockerSerializesPerKey(t *testing.T) {
	locker := NewListingLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "l1")
	require.NoError(t, err)

	other, err := locker.Acquire(ctx, "l2")
	require.NoError(t, err, "different listings never contend")
	other()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(short, "l1")
	assert.Error(t, err)

	release()
	release()
	again, err := locker.Acquire(ctx, "l1")
	require.NoError(t, err)
	again()
	assert.Empty(t, locker.slots)
}

func TestIdempotencyStoreExpires(t *testing.T) {
	store := NewIdempotencyStore(time.Hour)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, found, err := store.Reserve(ctx, middleware.IdempotencyRecord{Key: "k", Token: "t1", Pending: true, OccurredAt: now})
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, store.Complete(ctx, middleware.IdempotencyRecord{Key: "k", Token: "t1", Payload: []byte("{}"), OccurredAt: now}))

	existing, found, err := store.Reserve(ctx, middleware.IdempotencyRecord{Key: "k", Token: "t2", Pending: true, OccurredAt: now})
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, existing.Pending)

	now = now.Add(2 * time.Hour)
	_, found, err = store.Reserve(ctx, middleware.IdempotencyRecord{Key: "k", Token: "t3", Pending: true, OccurredAt: now})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyStoreNeverOverwritesAnotherHolder(t *testing.T) {
	store := NewIdempotencyStore(time.Hour)
	ctx := context.Background()
	now := time.Now()

	_, found, err := store.Reserve(ctx, middleware.IdempotencyRecord{Key: "k", Token: "winner", Pending: true, OccurredAt: now})
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Complete(ctx, middleware.IdempotencyRecord{Key: "k", Token: "loser", Error: "conflict", OccurredAt: now}))
	require.NoError(t, store.Release(ctx, "k", "loser"))
	held, found, err := store.Reserve(ctx, middleware.IdempotencyRecord{Key: "k", Token: "third", Pending: true, OccurredAt: now})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "winner", held.Token)
	assert.True(t, held.Pending)

	require.NoError(t, store.Complete(ctx, middleware.IdempotencyRecord{Key: "k", Token: "winner", Payload: []byte(`{"id":"b1"}`), OccurredAt: now}))
	require.NoError(t, store.Release(ctx, "k", "winner"))
	held, found, err = store.Reserve(ctx, middleware.IdempotencyRecord{Key: "k", Token: "third", Pending: true, OccurredAt: now})
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, held.Pending)
	assert.Equal(t, []byte(`{"id":"b1"}`), held.Payload)
}
