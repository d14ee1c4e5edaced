package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"staybook/internal/domain/availability"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

type ListingRepository struct {
	q querier
}

var listingColumns = []string{
	"id", "host_id", "title", "city", "price_per_day", "currency",
	"reserved_days", "bookings", "version", "created_at", "updated_at",
}

func (r ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	query, args, err := psql.Select(listingColumns...).
		From("listings").
		Where(squirrel.Eq{"id": string(id)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get listing query failed: %w", err)
	}
	var (
		l         domainlistings.Listing
		listingID string
		host      string
		reserved  []int32
	)
	if err := r.q.QueryRow(ctx, query, args...).Scan(
		&listingID, &host, &l.Title, &l.City, &l.PricePerDay, &l.Currency,
		&reserved, &l.Bookings, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainlistings.ErrNotFound
		}
		return nil, fmt.Errorf("get listing failed: %w", err)
	}
	l.ID = domainlistings.ListingID(listingID)
	l.Host = domainlistings.HostID(host)
	l.Availability = availability.FromDays(intsToDays(reserved))
	return &l, nil
}

// Save upserts the whole row. It is used for fixtures, not for the booking path.
func (r ListingRepository) Save(ctx context.Context, l *domainlistings.Listing) error {
	bookings := l.Bookings
	if bookings == nil {
		bookings = []string{}
	}
	query, args, err := psql.Insert("listings").
		Columns(listingColumns...).
		Values(string(l.ID), string(l.Host), l.Title, l.City, l.PricePerDay, l.Currency,
			daysToInts(l.Availability.Days()), bookings, l.Version, l.CreatedAt.UTC(), l.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (id) DO UPDATE SET host_id = EXCLUDED.host_id, title = EXCLUDED.title,
			city = EXCLUDED.city, price_per_day = EXCLUDED.price_per_day, currency = EXCLUDED.currency,
			reserved_days = EXCLUDED.reserved_days, bookings = EXCLUDED.bookings,
			version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save listing query failed: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save listing failed: %w", err)
	}
	return nil
}

// UpdateAvailabilityAndBookings matches on the expected version. A concurrent writer holds
// the row lock until it commits, after which the version no longer matches.
func (r ListingRepository) UpdateAvailabilityAndBookings(
	ctx context.Context,
	id domainlistings.ListingID,
	expectedVersion int64,
	index availability.Index,
	bookingID string,
) error {
	query, args, err := psql.Update("listings").
		Set("reserved_days", daysToInts(index.Days())).
		Set("bookings", squirrel.Expr("array_append(bookings, ?)", bookingID)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": string(id), "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update listing query failed: %w", err)
	}
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update listing failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: listing %s, expected version %d", domainlistings.ErrConcurrentUpdate, id, expectedVersion)
	}
	return nil
}

func daysToInts(days []daterange.Day) []int32 {
	out := make([]int32, 0, len(days))
	for _, d := range days {
		out = append(out, int32(d))
	}
	return out
}

func intsToDays(values []int32) []daterange.Day {
	out := make([]daterange.Day, 0, len(values))
	for _, v := range values {
		out = append(out, daterange.Day(v))
	}
	return out
}

var _ domainlistings.ListingRepository = ListingRepository{}
