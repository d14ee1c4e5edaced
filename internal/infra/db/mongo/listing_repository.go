package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"staybook/internal/domain/availability"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

type ListingRepository struct {
	col *mongo.Collection
}

func NewListingRepository(db *mongo.Database) *ListingRepository {
	return &ListingRepository{col: db.Collection(colListings)}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	var doc listingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainlistings.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// Save replaces the whole document. It is used for fixtures, not for the booking path.
func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	doc := newListingDocument(listing)
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// UpdateAvailabilityAndBookings matches on the expected version and on none of the newly
// reserved days being stored already.
func (r *ListingRepository) UpdateAvailabilityAndBookings(
	ctx context.Context,
	id domainlistings.ListingID,
	expectedVersion int64,
	index availability.Index,
	bookingID string,
) error {
	current, err := r.ByID(ctx, id)
	if err != nil {
		return err
	}
	added := make([]int32, 0)
	for _, d := range index.Days() {
		if !current.Availability.Contains(d) {
			added = append(added, int32(d))
		}
	}
	filter := bson.M{
		"_id":           string(id),
		"version":       expectedVersion,
		"reserved_days": bson.M{"$nin": added},
	}
	update := bson.M{
		"$set":  bson.M{"reserved_days": daysToInts(index.Days()), "updated_at": time.Now().UTC()},
		"$push": bson.M{"bookings": bookingID},
		"$inc":  bson.M{"version": 1},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: listing %s, expected version %d", domainlistings.ErrConcurrentUpdate, id, expectedVersion)
	}
	return nil
}

type listingDocument struct {
	ID           string    `bson:"_id"`
	HostID       string    `bson:"host_id"`
	Title        string    `bson:"title"`
	City         string    `bson:"city"`
	PricePerDay  int64     `bson:"price_per_day"`
	Currency     string    `bson:"currency"`
	ReservedDays []int32   `bson:"reserved_days"`
	Bookings     []string  `bson:"bookings"`
	Version      int64     `bson:"version"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func newListingDocument(l *domainlistings.Listing) listingDocument {
	bookings := l.Bookings
	if bookings == nil {
		bookings = []string{}
	}
	return listingDocument{
		ID:           string(l.ID),
		HostID:       string(l.Host),
		Title:        l.Title,
		City:         l.City,
		PricePerDay:  l.PricePerDay,
		Currency:     l.Currency,
		ReservedDays: daysToInts(l.Availability.Days()),
		Bookings:     bookings,
		Version:      l.Version,
		CreatedAt:    l.CreatedAt.UTC(),
		UpdatedAt:    l.UpdatedAt.UTC(),
	}
}

func (d listingDocument) toAggregate() *domainlistings.Listing {
	days := make([]daterange.Day, 0, len(d.ReservedDays))
	for _, v := range d.ReservedDays {
		days = append(days, daterange.Day(v))
	}
	return &domainlistings.Listing{
		ID:           domainlistings.ListingID(d.ID),
		Host:         domainlistings.HostID(d.HostID),
		Title:        d.Title,
		City:         d.City,
		PricePerDay:  d.PricePerDay,
		Currency:     d.Currency,
		Availability: availability.FromDays(days),
		Bookings:     append([]string(nil), d.Bookings...),
		Version:      d.Version,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func daysToInts(days []daterange.Day) []int32 {
	out := make([]int32, 0, len(days))
	for _, d := range days {
		out = append(out, int32(d))
	}
	return out
}

var _ domainlistings.ListingRepository = (*ListingRepository)(nil)
