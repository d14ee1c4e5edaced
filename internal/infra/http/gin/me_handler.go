package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	meapp "staybook/internal/app/handlers/me"
	"staybook/internal/app/queries"
)

type MeHTTP interface {
	ListBookings(c *gin.Context)
	ConnectWallet(c *gin.Context)
	DisconnectWallet(c *gin.Context)
}

type MeHandler struct {
	Queries  queries.Bus
	Commands commands.Bus
	Logger   *slog.Logger
}

type connectWalletRequest struct {
	WalletID string `json:"wallet_id"`
}

func (h MeHandler) ListBookings(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if h.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queries unavailable"})
		return
	}
	query := meapp.ListTenantBookingsQuery{TenantID: user.ID}
	result, err := queries.Ask[meapp.ListTenantBookingsQuery, dto.TenantBookingCollection](c.Request.Context(), h.Queries, query)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h MeHandler) ConnectWallet(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	var req connectWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	cmd := meapp.ConnectWalletCommand{UserID: user.ID, WalletID: req.WalletID}
	result, err := commands.Dispatch[meapp.ConnectWalletCommand, dto.Wallet](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h MeHandler) DisconnectWallet(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	cmd := meapp.DisconnectWalletCommand{UserID: user.ID}
	result, err := commands.Dispatch[meapp.DisconnectWalletCommand, dto.Wallet](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

var _ MeHTTP = MeHandler{}
