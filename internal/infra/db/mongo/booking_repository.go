package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	domainuser "staybook/internal/domain/user"
)

type BookingRepository struct {
	col *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) *BookingRepository {
	return &BookingRepository{col: db.Collection(colBookings)}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var doc bookingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainbooking.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *BookingRepository) Insert(ctx context.Context, b *domainbooking.Booking) error {
	if _, err := r.col.InsertOne(ctx, newBookingDocument(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainbooking.ErrDuplicateBooking
		}
		return err
	}
	return nil
}

func (r *BookingRepository) ListByTenant(ctx context.Context, tenantID domainuser.ID) ([]*domainbooking.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "check_in", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"tenant_id": string(tenantID)}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*domainbooking.Booking
	for cur.Next(ctx) {
		var doc bookingDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cur.Err()
}

type bookingDocument struct {
	ID        string    `bson:"_id"`
	ListingID string    `bson:"listing_id"`
	HostID    string    `bson:"host_id"`
	TenantID  string    `bson:"tenant_id"`
	CheckIn   int32     `bson:"check_in"`
	CheckOut  int32     `bson:"check_out"`
	Nights    int       `bson:"nights"`
	Amount    int64     `bson:"amount"`
	Currency  string    `bson:"currency"`
	ChargeID  string    `bson:"charge_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func newBookingDocument(b *domainbooking.Booking) bookingDocument {
	return bookingDocument{
		ID:        string(b.ID),
		ListingID: string(b.ListingID),
		HostID:    string(b.HostID),
		TenantID:  string(b.TenantID),
		CheckIn:   int32(b.Range.CheckIn),
		CheckOut:  int32(b.Range.CheckOut),
		Nights:    b.Nights,
		Amount:    b.Total.Amount,
		Currency:  b.Total.Currency,
		ChargeID:  b.ChargeID,
		CreatedAt: b.CreatedAt.UTC(),
	}
}

func (d bookingDocument) toAggregate() *domainbooking.Booking {
	return &domainbooking.Booking{
		ID:        domainbooking.BookingID(d.ID),
		ListingID: listings.ListingID(d.ListingID),
		HostID:    domainuser.ID(d.HostID),
		TenantID:  domainuser.ID(d.TenantID),
		Range:     daterange.DateRange{CheckIn: daterange.Day(d.CheckIn), CheckOut: daterange.Day(d.CheckOut)},
		Nights:    d.Nights,
		Total:     money.Money{Amount: d.Amount, Currency: d.Currency},
		ChargeID:  d.ChargeID,
		CreatedAt: d.CreatedAt,
	}
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
