package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"staybook/internal/app/middleware"
)

// IdempotencyStore keeps command outcomes for TTL. Expired keys read as missing and are
// taken by the next reservation.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewIdempotencyStore(pool *pgxpool.Pool, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{pool: pool, ttl: ttl}
}

var idempotencyColumns = []string{
	"key", "command", "fingerprint", "token", "pending", "payload", "error", "status", "occurred_at",
}

// Reserve inserts rec when the key is free or its record expired. Otherwise the live record
// is returned.
func (s *IdempotencyStore) Reserve(ctx context.Context, rec middleware.IdempotencyRecord) (middleware.IdempotencyRecord, bool, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	query, args, err := psql.Insert("idempotency_keys").
		Columns(append(idempotencyColumns, "created_at")...).
		Values(rec.Key, rec.Command, rec.Fingerprint, rec.Token, true, nil, "", 0, rec.OccurredAt.UTC(), time.Now().UTC()).
		Suffix(`ON CONFLICT (key) DO UPDATE SET command = EXCLUDED.command, fingerprint = EXCLUDED.fingerprint,
			token = EXCLUDED.token, pending = TRUE, payload = NULL, error = '', status = 0,
			occurred_at = EXCLUDED.occurred_at, created_at = EXCLUDED.created_at
			WHERE idempotency_keys.created_at <= ? RETURNING key`, cutoff).
		ToSql()
	if err != nil {
		return middleware.IdempotencyRecord{}, false, fmt.Errorf("build idempotency reserve failed: %w", err)
	}
	var key string
	err = s.pool.QueryRow(ctx, query, args...).Scan(&key)
	if err == nil {
		return middleware.IdempotencyRecord{}, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return middleware.IdempotencyRecord{}, false, fmt.Errorf("reserve idempotency key failed: %w", err)
	}

	query, args, err = psql.Select(idempotencyColumns...).
		From("idempotency_keys").
		Where(squirrel.Eq{"key": rec.Key}).
		ToSql()
	if err != nil {
		return middleware.IdempotencyRecord{}, false, fmt.Errorf("build idempotency query failed: %w", err)
	}
	var (
		existing middleware.IdempotencyRecord
		status   int32
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&existing.Key, &existing.Command, &existing.Fingerprint, &existing.Token, &existing.Pending,
		&existing.Payload, &existing.Error, &status, &existing.OccurredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Released between the two statements; report it as held so the caller retries later.
			return middleware.IdempotencyRecord{Key: rec.Key, Pending: true, OccurredAt: time.Now().UTC()}, true, nil
		}
		return middleware.IdempotencyRecord{}, false, fmt.Errorf("get idempotency record failed: %w", err)
	}
	existing.Status = int(status)
	return existing, true, nil
}

// Complete only replaces the reservation held by rec.Token.
func (s *IdempotencyStore) Complete(ctx context.Context, rec middleware.IdempotencyRecord) error {
	query, args, err := psql.Update("idempotency_keys").
		Set("pending", false).
		Set("payload", rec.Payload).
		Set("error", rec.Error).
		Set("status", rec.Status).
		Set("occurred_at", rec.OccurredAt.UTC()).
		Where(squirrel.Eq{"key": rec.Key, "token": rec.Token, "pending": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build idempotency complete failed: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("complete idempotency record failed: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key, token string) error {
	query, args, err := psql.Delete("idempotency_keys").
		Where(squirrel.Eq{"key": key, "token": token, "pending": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build idempotency release failed: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("release idempotency key failed: %w", err)
	}
	return nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
