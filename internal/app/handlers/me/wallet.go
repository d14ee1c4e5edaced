package me

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"staybook/internal/app/dto"
	"staybook/internal/app/middleware"
	"staybook/internal/app/uow"
	domainuser "staybook/internal/domain/user"
	"staybook/internal/pkg/apperror"
)

const (
	connectWalletKey    = "me.wallet.connect"
	disconnectWalletKey = "me.wallet.disconnect"
)

type ConnectWalletCommand struct {
	UserID   string
	WalletID string
}

func (c ConnectWalletCommand) Key() string         { return connectWalletKey }
func (c ConnectWalletCommand) Transactional() bool { return true }

type DisconnectWalletCommand struct {
	UserID string
}

func (c DisconnectWalletCommand) Key() string         { return disconnectWalletKey }
func (c DisconnectWalletCommand) Transactional() bool { return true }

// WalletHandler changes the payout wallet of the caller. It expects the unit opened by
// the transaction middleware.
type WalletHandler struct {
	Now func() time.Time
}

func (h *WalletHandler) Connect(ctx context.Context, cmd ConnectWalletCommand) (dto.Wallet, error) {
	walletID := strings.TrimSpace(cmd.WalletID)
	if walletID == "" {
		return dto.Wallet{}, apperror.Wrap(domainuser.ErrWalletRequired, http.StatusBadRequest, "wallet_id is required")
	}
	return h.update(ctx, cmd.UserID, func(u *domainuser.User) error {
		return u.ConnectWallet(walletID, h.now())
	})
}

func (h *WalletHandler) Disconnect(ctx context.Context, cmd DisconnectWalletCommand) (dto.Wallet, error) {
	return h.update(ctx, cmd.UserID, func(u *domainuser.User) error {
		u.DisconnectWallet(h.now())
		return nil
	})
}

func (h *WalletHandler) update(ctx context.Context, userID string, change func(*domainuser.User) error) (dto.Wallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return dto.Wallet{}, apperror.New(http.StatusUnauthorized, "authentication required")
	}
	unit, ok := uow.FromContext(ctx)
	if !ok {
		return dto.Wallet{}, uow.ErrUnitOfWorkMissing
	}
	user, err := unit.Users().ByID(ctx, domainuser.ID(userID))
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return dto.Wallet{}, apperror.Wrap(err, http.StatusNotFound, "account not found")
		}
		return dto.Wallet{}, err
	}
	if err := change(user); err != nil {
		return dto.Wallet{}, apperror.Wrap(err, http.StatusBadRequest, "invalid wallet")
	}
	if err := unit.Users().Save(ctx, user); err != nil {
		return dto.Wallet{}, err
	}
	return dto.MapWallet(user), nil
}

func (h *WalletHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ middleware.TransactionalCommand = ConnectWalletCommand{}
	_ middleware.TransactionalCommand = DisconnectWalletCommand{}
)
