package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	domainuser "staybook/internal/domain/user"
)

type UserRepository struct {
	q querier
}

func (r UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	query, args, err := psql.Select("id", "email", "name", "wallet_id", "income", "bookings", "created_at", "updated_at").
		From("users").
		Where(squirrel.Eq{"id": string(id)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get user query failed: %w", err)
	}
	var (
		u      domainuser.User
		userID string
	)
	if err := r.q.QueryRow(ctx, query, args...).Scan(
		&userID, &u.Email, &u.Name, &u.WalletID, &u.Income, &u.Bookings, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainuser.ErrNotFound
		}
		return nil, fmt.Errorf("get user failed: %w", err)
	}
	u.ID = domainuser.ID(userID)
	return &u, nil
}

// Save upserts profile fields; income and bookings are only seeded on insert.
func (r UserRepository) Save(ctx context.Context, u *domainuser.User) error {
	bookings := u.Bookings
	if bookings == nil {
		bookings = []string{}
	}
	query, args, err := psql.Insert("users").
		Columns("id", "email", "name", "wallet_id", "income", "bookings", "created_at", "updated_at").
		Values(string(u.ID), u.Email, u.Name, u.WalletID, u.Income, bookings, u.CreatedAt.UTC(), u.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name,
			wallet_id = EXCLUDED.wallet_id, updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save user query failed: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save user failed: %w", err)
	}
	return nil
}

func (r UserRepository) IncrementIncome(ctx context.Context, id domainuser.ID, amount int64) error {
	if amount < 0 {
		return domainuser.ErrNegativeIncome
	}
	query, args, err := psql.Update("users").
		Set("income", squirrel.Expr("income + ?", amount)).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": string(id)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build increment income query failed: %w", err)
	}
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("increment income failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainuser.ErrNotFound
	}
	return nil
}

func (r UserRepository) AppendBooking(ctx context.Context, id domainuser.ID, bookingID string) error {
	query, args, err := psql.Update("users").
		Set("bookings", squirrel.Expr("array_append(bookings, ?)", bookingID)).
		Where(squirrel.Eq{"id": string(id)}).
		Where(squirrel.Expr("NOT (? = ANY(bookings))", bookingID)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append booking query failed: %w", err)
	}
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("append booking failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("check user failed: %w", err)
	}
	if !exists {
		return domainuser.ErrNotFound
	}
	return domainuser.ErrDuplicateBooking
}

var _ domainuser.Repository = UserRepository{}
