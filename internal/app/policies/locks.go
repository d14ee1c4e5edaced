package policies

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("locks: listing lock not acquired")

// ListingLocker serializes booking commits per listing. Release is safe to call once.
type ListingLocker interface {
	Acquire(ctx context.Context, listingID string) (release func(), err error)
}
