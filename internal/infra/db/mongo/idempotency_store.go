package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"staybook/internal/app/middleware"
)

type IdempotencyStore struct {
	col *mongo.Collection
}

// NewIdempotencyStore prepares the collection; records expire ttl after creation.
func NewIdempotencyStore(ctx context.Context, db *mongo.Database, ttl time.Duration) (*IdempotencyStore, error) {
	col := db.Collection(colIdempotency)
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(ttl.Seconds())),
	})
	if err != nil {
		return nil, err
	}
	return &IdempotencyStore{col: col}, nil
}

// Reserve inserts rec only when the key is free. A concurrent insert of the same key loses
// on the unique _id and reads the winner's record.
func (s *IdempotencyStore) Reserve(ctx context.Context, rec middleware.IdempotencyRecord) (middleware.IdempotencyRecord, bool, error) {
	doc := newIdempotencyDocument(rec)
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": doc.Key},
		bson.M{"$setOnInsert": bson.M{
			"command":     doc.Command,
			"fingerprint": doc.Fingerprint,
			"token":       doc.Token,
			"pending":     doc.Pending,
			"occurred_at": doc.OccurredAt,
			"created_at":  doc.CreatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return middleware.IdempotencyRecord{}, false, err
	}
	if err == nil && res.UpsertedCount == 1 {
		return middleware.IdempotencyRecord{}, false, nil
	}
	var existing idempotencyDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": doc.Key}).Decode(&existing); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Expired between the two calls; report it as held so the caller retries later.
			return middleware.IdempotencyRecord{Key: rec.Key, Pending: true, OccurredAt: time.Now().UTC()}, true, nil
		}
		return middleware.IdempotencyRecord{}, false, err
	}
	return existing.toRecord(), true, nil
}

// Complete only replaces the reservation held by rec.Token.
func (s *IdempotencyStore) Complete(ctx context.Context, rec middleware.IdempotencyRecord) error {
	doc := newIdempotencyDocument(rec)
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": doc.Key, "token": rec.Token, "pending": true}, doc)
	return err
}

func (s *IdempotencyStore) Release(ctx context.Context, key, token string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": key, "token": token, "pending": true})
	return err
}

type idempotencyDocument struct {
	Key         string    `bson:"_id"`
	Command     string    `bson:"command"`
	Fingerprint string    `bson:"fingerprint,omitempty"`
	Token       string    `bson:"token"`
	Pending     bool      `bson:"pending"`
	Payload     []byte    `bson:"payload,omitempty"`
	Error       string    `bson:"error,omitempty"`
	Status      int       `bson:"status,omitempty"`
	OccurredAt  time.Time `bson:"occurred_at"`
	CreatedAt   time.Time `bson:"created_at"`
}

func newIdempotencyDocument(rec middleware.IdempotencyRecord) idempotencyDocument {
	return idempotencyDocument{
		Key:         rec.Key,
		Command:     rec.Command,
		Fingerprint: rec.Fingerprint,
		Token:       rec.Token,
		Pending:     rec.Pending,
		Payload:     rec.Payload,
		Error:       rec.Error,
		Status:      rec.Status,
		OccurredAt:  rec.OccurredAt,
		CreatedAt:   time.Now().UTC(),
	}
}

func (d idempotencyDocument) toRecord() middleware.IdempotencyRecord {
	return middleware.IdempotencyRecord{
		Key:         d.Key,
		Command:     d.Command,
		Fingerprint: d.Fingerprint,
		Token:       d.Token,
		Pending:     d.Pending,
		Payload:     d.Payload,
		Error:       d.Error,
		Status:      d.Status,
		OccurredAt:  d.OccurredAt,
	}
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
