package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"staybook/internal/app/policies"
)

// ListingLocker holds per-listing leases in app_listing_locks so that several API
// instances serialise commits on the same listing. A lease left by a crashed holder is
// taken over once expires_at has passed.
type ListingLocker struct {
	col  *mongo.Collection
	TTL  time.Duration
	Wait time.Duration
	Poll time.Duration
	Now  func() time.Time
}

func NewListingLocker(db *mongo.Database, ttl time.Duration) *ListingLocker {
	return &ListingLocker{col: db.Collection(colLocks), TTL: ttl}
}

type lockDocument struct {
	ID        string    `bson:"_id"`
	Owner     string    `bson:"owner"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

func (l *ListingLocker) Acquire(ctx context.Context, listingID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait())
	defer cancel()

	owner := uuid.NewString()
	key := "listing:" + listingID
	poll := l.Poll
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	for {
		ok, err := l.tryAcquire(ctx, key, owner)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if ok {
			return l.releaser(key, owner), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", policies.ErrLockTimeout, listingID, ctx.Err())
		case <-time.After(poll):
		}
		if poll < 200*time.Millisecond {
			poll *= 2
		}
	}
}

func (l *ListingLocker) tryAcquire(ctx context.Context, key, owner string) (bool, error) {
	now := l.now()
	doc := lockDocument{ID: key, Owner: owner, ExpiresAt: now.Add(l.ttl()), CreatedAt: now}
	_, err := l.col.InsertOne(ctx, doc)
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, err
	}
	res, err := l.col.UpdateOne(ctx,
		bson.M{"_id": key, "expires_at": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"owner": owner, "expires_at": doc.ExpiresAt, "created_at": now}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// releaser deletes the lease only while this holder still owns it.
func (l *ListingLocker) releaser(key, owner string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = l.col.DeleteOne(ctx, bson.M{"_id": key, "owner": owner})
		})
	}
}

func (l *ListingLocker) ttl() time.Duration {
	if l.TTL <= 0 {
		return 30 * time.Second
	}
	return l.TTL
}

func (l *ListingLocker) wait() time.Duration {
	if l.Wait <= 0 {
		return 5 * time.Second
	}
	return l.Wait
}

func (l *ListingLocker) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ policies.ListingLocker = (*ListingLocker)(nil)
