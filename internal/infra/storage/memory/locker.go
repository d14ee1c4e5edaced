package memory

import (
	"context"
	"fmt"
	"sync"

	"staybook/internal/app/policies"
)

// ListingLocker is an in-process keyed mutex. Each key owns a one-slot channel so
// acquisition can give up when ctx is done.
type ListingLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewListingLocker() *ListingLocker {
	return &ListingLocker{slots: make(map[string]*lockSlot)}
}

func (l *ListingLocker) Acquire(ctx context.Context, listingID string) (func(), error) {
	slot := l.ref(listingID)
	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(listingID)
		return nil, fmt.Errorf("%w: %s: %w", policies.ErrLockTimeout, listingID, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.unref(listingID)
		})
	}, nil
}

func (l *ListingLocker) ref(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *ListingLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

var _ policies.ListingLocker = (*ListingLocker)(nil)
