package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"staybook/internal/app/policies"
)

// AdvisoryLocker holds a session advisory lock per listing on a connection of its own
// pool. Pool must not be the one repositories use: every holder pins a connection for the
// whole commit, and the commit itself needs connections for load and persist. A crashed
// holder loses its session and with it the lock.
type AdvisoryLocker struct {
	Pool *pgxpool.Pool
	// Wait bounds how long Acquire blocks.
	Wait time.Duration
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{Pool: pool, Wait: 5 * time.Second}
}

func (l *AdvisoryLocker) Acquire(ctx context.Context, listingID string) (func(), error) {
	key := "listing:" + listingID
	waitCtx, cancel := context.WithTimeout(ctx, l.wait())
	defer cancel()

	conn, err := l.Pool.Acquire(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: no lock connection: %w", policies.ErrLockTimeout, listingID, waitCtx.Err())
		}
		return nil, fmt.Errorf("acquire connection for lock: %w", err)
	}
	if _, err := conn.Exec(waitCtx, "SELECT pg_advisory_lock(hashtextextended($1, 0))", key); err != nil {
		// The connection may still hold a lock granted as the wait was cancelled.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		if waitCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", policies.ErrLockTimeout, listingID, waitCtx.Err())
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock(hashtextextended($1, 0))", key); err != nil {
				_ = conn.Conn().Close(unlockCtx)
			}
			conn.Release()
		})
	}, nil
}

func (l *AdvisoryLocker) wait() time.Duration {
	if l.Wait <= 0 {
		return 5 * time.Second
	}
	return l.Wait
}

var _ policies.ListingLocker = (*AdvisoryLocker)(nil)
