package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired       = errors.New("user: id is required")
	ErrNameRequired     = errors.New("user: name is required")
	ErrWalletRequired   = errors.New("user: wallet id is required")
	ErrNegativeIncome   = errors.New("user: income increment must not be negative")
	ErrNotFound         = errors.New("user: not found")
	ErrDuplicateBooking = errors.New("user: booking already referenced")
)

type ID string

// User is an account that can host listings and book other hosts' listings.
type User struct {
	ID        ID
	Email     string
	Name      string
	WalletID  string
	Income    int64
	Bookings  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	// Save upserts profile fields. Income and Bookings of an existing account are owned
	// by IncrementIncome and AppendBooking and are left untouched.
	Save(ctx context.Context, user *User) error
	IncrementIncome(ctx context.Context, id ID, amount int64) error
	AppendBooking(ctx context.Context, id ID, bookingID string) error
}

type CreateParams struct {
	ID        ID
	Email     string
	Name      string
	WalletID  string
	CreatedAt time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return &User{
		ID:        ID(id),
		Email:     normalizeEmail(params.Email),
		Name:      name,
		WalletID:  strings.TrimSpace(params.WalletID),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanReceivePayments reports whether charges can be routed to this account.
func (u *User) CanReceivePayments() bool {
	return strings.TrimSpace(u.WalletID) != ""
}

func (u *User) ConnectWallet(walletID string, now time.Time) error {
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		return ErrWalletRequired
	}
	u.WalletID = walletID
	u.touch(now)
	return nil
}

func (u *User) DisconnectWallet(now time.Time) {
	u.WalletID = ""
	u.touch(now)
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Bookings = append([]string(nil), u.Bookings...)
	return &out
}

func (u *User) touch(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	u.UpdatedAt = now.UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
