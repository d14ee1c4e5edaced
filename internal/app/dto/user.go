package dto

import (
	"time"

	domainuser "staybook/internal/domain/user"
)

type Wallet struct {
	UserID             string    `json:"user_id"`
	WalletID           string    `json:"wallet_id,omitempty"`
	CanReceivePayments bool      `json:"can_receive_payments"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func MapWallet(user *domainuser.User) Wallet {
	if user == nil {
		return Wallet{}
	}
	return Wallet{
		UserID:             string(user.ID),
		WalletID:           user.WalletID,
		CanReceivePayments: user.CanReceivePayments(),
		UpdatedAt:          user.UpdatedAt,
	}
}
