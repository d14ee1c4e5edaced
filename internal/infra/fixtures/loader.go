package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"staybook/internal/app/uow"
	domainlistings "staybook/internal/domain/listings"
	domainuser "staybook/internal/domain/user"
)

type listingFixture struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Title       string `json:"title"`
	City        string `json:"city"`
	PricePerDay int64  `json:"price_per_day"`
	Currency    string `json:"currency"`
}

type accountFixture struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	WalletID string `json:"wallet_id"`
}

// Loader imports listings and accounts from JSON files into storage. Invalid entries are
// logged and skipped. Existing listings are never overwritten so a restart keeps their calendars.
type Loader struct {
	Units    uow.UoWFactory
	Logger   *slog.Logger
	Currency string
	Now      func() time.Time
}

type Result struct {
	Listings int
	Accounts int
}

func (l Loader) Load(ctx context.Context, listingsPath, accountsPath string) (Result, error) {
	var (
		listings []listingFixture
		accounts []accountFixture
	)
	if err := readFixtures(listingsPath, &listings); err != nil {
		return Result{}, err
	}
	if err := readFixtures(accountsPath, &accounts); err != nil {
		return Result{}, err
	}
	if len(listings) == 0 && len(accounts) == 0 {
		return Result{}, nil
	}

	unit, execCtx, err := uow.Begin(ctx, l.Units, uow.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(execCtx)
		}
	}()

	now := l.now()
	var res Result
	for _, fx := range accounts {
		user, err := domainuser.NewUser(domainuser.CreateParams{
			ID:        domainuser.ID(fx.ID),
			Email:     fx.Email,
			Name:      fx.Name,
			WalletID:  fx.WalletID,
			CreatedAt: now,
		})
		if err != nil {
			l.logger().Error("account fixture invalid", "account_id", fx.ID, "error", err)
			continue
		}
		if err := unit.Users().Save(execCtx, user); err != nil {
			return Result{}, fmt.Errorf("store account %s: %w", fx.ID, err)
		}
		res.Accounts++
	}
	for _, fx := range listings {
		currency := fx.Currency
		if currency == "" {
			currency = l.Currency
		}
		listing, err := domainlistings.NewListing(domainlistings.CreateListingParams{
			ID:          domainlistings.ListingID(fx.ID),
			Host:        domainlistings.HostID(fx.Host),
			Title:       fx.Title,
			City:        fx.City,
			PricePerDay: fx.PricePerDay,
			Currency:    currency,
			Now:         now,
		})
		if err != nil {
			l.logger().Error("listing fixture invalid", "listing_id", fx.ID, "error", err)
			continue
		}
		if _, err := unit.Listings().ByID(execCtx, listing.ID); err == nil {
			l.logger().Debug("listing fixture already stored", "listing_id", listing.ID)
			continue
		} else if !errors.Is(err, domainlistings.ErrNotFound) {
			return Result{}, err
		}
		if err := unit.Listings().Save(execCtx, listing); err != nil {
			return Result{}, fmt.Errorf("store listing %s: %w", fx.ID, err)
		}
		res.Listings++
	}

	if err := unit.Commit(execCtx); err != nil {
		return Result{}, err
	}
	committed = true
	l.logger().Info("fixtures imported", "listings", res.Listings, "accounts", res.Accounts)
	return res, nil
}

func readFixtures(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode fixtures %s: %w", path, err)
	}
	return nil
}

func (l Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (l Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
