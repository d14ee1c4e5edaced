package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	domainuser "staybook/internal/domain/user"
)

type BookingRepository struct {
	q querier
}

var bookingColumns = []string{
	"id", "listing_id", "host_id", "tenant_id", "check_in", "check_out",
	"nights", "total_amount", "currency", "charge_id", "created_at",
}

func (r BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	query, args, err := psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"id": string(id)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get booking query failed: %w", err)
	}
	b, err := scanBooking(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainbooking.ErrNotFound
		}
		return nil, fmt.Errorf("get booking failed: %w", err)
	}
	return b, nil
}

func (r BookingRepository) Insert(ctx context.Context, b *domainbooking.Booking) error {
	query, args, err := psql.Insert("bookings").
		Columns(bookingColumns...).
		Values(string(b.ID), string(b.ListingID), string(b.HostID), string(b.TenantID),
			int32(b.Range.CheckIn), int32(b.Range.CheckOut), b.Nights,
			b.Total.Amount, b.Total.Currency, b.ChargeID, b.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert booking query failed: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return domainbooking.ErrDuplicateBooking
			case pgerrcode.ForeignKeyViolation:
				return fmt.Errorf("%w: %s", domainlistings.ErrNotFound, b.ListingID)
			}
		}
		return fmt.Errorf("insert booking failed: %w", err)
	}
	return nil
}

func (r BookingRepository) ListByTenant(ctx context.Context, tenantID domainuser.ID) ([]*domainbooking.Booking, error) {
	query, args, err := psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"tenant_id": string(tenantID)}).
		OrderBy("check_in ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bookings query failed: %w", err)
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings failed: %w", err)
	}
	defer rows.Close()

	var out []*domainbooking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking failed: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*domainbooking.Booking, error) {
	var (
		b                               domainbooking.Booking
		id, listingID, hostID, tenantID string
		checkIn, checkOut               int32
		amount                          int64
		currency                        string
	)
	if err := row.Scan(&id, &listingID, &hostID, &tenantID, &checkIn, &checkOut,
		&b.Nights, &amount, &currency, &b.ChargeID, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.ID = domainbooking.BookingID(id)
	b.ListingID = domainlistings.ListingID(listingID)
	b.HostID = domainuser.ID(hostID)
	b.TenantID = domainuser.ID(tenantID)
	b.Range = daterange.DateRange{CheckIn: daterange.Day(checkIn), CheckOut: daterange.Day(checkOut)}
	b.Total = money.Money{Amount: amount, Currency: currency}
	return &b, nil
}

var _ domainbooking.Repository = BookingRepository{}
