package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainuser "staybook/internal/domain/user"
)

type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{col: db.Collection(colUsers)}
}

func (r *UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainuser.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// Save upserts profile fields; income and bookings are only seeded on insert.
func (r *UserRepository) Save(ctx context.Context, u *domainuser.User) error {
	bookings := u.Bookings
	if bookings == nil {
		bookings = []string{}
	}
	update := bson.M{
		"$set": bson.M{
			"email":      u.Email,
			"name":       u.Name,
			"wallet_id":  u.WalletID,
			"updated_at": u.UpdatedAt.UTC(),
		},
		"$setOnInsert": bson.M{
			"income":     u.Income,
			"bookings":   bookings,
			"created_at": u.CreatedAt.UTC(),
		},
	}
	_, err := r.col.UpdateByID(ctx, string(u.ID), update, options.Update().SetUpsert(true))
	return err
}

func (r *UserRepository) IncrementIncome(ctx context.Context, id domainuser.ID, amount int64) error {
	if amount < 0 {
		return domainuser.ErrNegativeIncome
	}
	res, err := r.col.UpdateByID(ctx, string(id), bson.M{
		"$inc": bson.M{"income": amount},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainuser.ErrNotFound
	}
	return nil
}

func (r *UserRepository) AppendBooking(ctx context.Context, id domainuser.ID, bookingID string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": string(id), "bookings": bson.M{"$ne": bookingID}},
		bson.M{"$push": bson.M{"bookings": bookingID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if n == 0 {
		return domainuser.ErrNotFound
	}
	return domainuser.ErrDuplicateBooking
}

type userDocument struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Name      string    `bson:"name"`
	WalletID  string    `bson:"wallet_id"`
	Income    int64     `bson:"income"`
	Bookings  []string  `bson:"bookings"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d userDocument) toAggregate() *domainuser.User {
	return &domainuser.User{
		ID:        domainuser.ID(d.ID),
		Email:     d.Email,
		Name:      d.Name,
		WalletID:  d.WalletID,
		Income:    d.Income,
		Bookings:  append([]string(nil), d.Bookings...),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ domainuser.Repository = (*UserRepository)(nil)
