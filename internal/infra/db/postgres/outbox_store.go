package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/infra/outbox"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateSent    = "SENT"
	stateFailed  = "FAILED"
)

// OutboxStore keeps records in outbox_events. Add joins the transaction of the unit in
// ctx, so records commit together with the booking that raised them.
type OutboxStore struct {
	pool *pgxpool.Pool
	// ClaimTimeout releases records claimed by a worker that never reported back.
	ClaimTimeout time.Duration
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool, ClaimTimeout: time.Minute}
}

func (s *OutboxStore) Add(ctx context.Context, rec appoutbox.EventRecord) error {
	headers := rec.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	now := time.Now().UTC()
	query, args, err := psql.Insert("outbox_events").
		Columns("id", "name", "payload", "occurred_at", "aggregate", "headers", "state", "next_attempt_at", "created_at").
		Values(rec.ID, rec.Name, rec.Payload, rec.OccurredAt.UTC(), rec.Aggregate, headers, stateNew, now, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox insert failed: %w", err)
	}
	if _, err := querierFrom(ctx, s.pool).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outbox record failed: %w", err)
	}
	return nil
}

// Flush is a no-op; the worker polls the table.
func (s *OutboxStore) Flush(context.Context) error {
	return nil
}

// Claim takes the oldest due record. SKIP LOCKED lets several workers poll concurrently.
func (s *OutboxStore) Claim(ctx context.Context, workerID string) (*outbox.EventDocument, error) {
	now := time.Now().UTC()
	// The subquery keeps ? placeholders; the outer builder numbers them all.
	due, dueArgs, err := squirrel.Select("id").
		From("outbox_events").
		Where(squirrel.Or{
			squirrel.And{squirrel.Eq{"state": []string{stateNew, stateFailed}}, squirrel.LtOrEq{"next_attempt_at": now}},
			squirrel.And{squirrel.Eq{"state": stateClaimed}, squirrel.LtOrEq{"claimed_at": now.Add(-s.claimTimeout())}},
		}).
		OrderBy("created_at").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build outbox claim query failed: %w", err)
	}
	query, args, err := psql.Update("outbox_events").
		Set("state", stateClaimed).
		Set("claimed_by", workerID).
		Set("claimed_at", now).
		Where(squirrel.Expr("id = ("+due+")", dueArgs...)).
		Suffix("RETURNING id, name, payload, occurred_at, aggregate, headers, state, attempts, next_attempt_at, claimed_by, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build outbox claim query failed: %w", err)
	}
	var doc outbox.EventDocument
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.Name, &doc.Payload, &doc.OccurredAt, &doc.Aggregate, &doc.Headers,
		&doc.State, &doc.Attempts, &doc.NextAttempt, &doc.ClaimedBy, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim outbox record failed: %w", err)
	}
	doc.ClaimedAt = now
	return &doc, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "UPDATE outbox_events SET state = $2, sent_at = $3 WHERE id = $1", id, stateSent, time.Now().UTC())
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE outbox_events SET state = $2, next_attempt_at = $3, last_error = $4, attempts = attempts + 1 WHERE id = $1",
		id, stateFailed, next.UTC(), errMsg)
	return err
}

func (s *OutboxStore) claimTimeout() time.Duration {
	if s.ClaimTimeout <= 0 {
		return time.Minute
	}
	return s.ClaimTimeout
}

var (
	_ appoutbox.Outbox = (*OutboxStore)(nil)
	_ outbox.Queue     = (*OutboxStore)(nil)
)
