package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserNormalizes(t *testing.T) {
	u, err := NewUser(CreateParams{ID: " u-1 ", Name: " Ada ", Email: " Ada@Example.COM "})
	require.NoError(t, err)
	assert.Equal(t, ID("u-1"), u.ID)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.False(t, u.CanReceivePayments())
}

func TestNewUserRequiresIdentity(t *testing.T) {
	_, err := NewUser(CreateParams{Name: "Ada"})
	assert.ErrorIs(t, err, ErrIDRequired)

	_, err = NewUser(CreateParams{ID: "u-1"})
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestWalletLifecycle(t *testing.T) {
	u, err := NewUser(CreateParams{ID: "host", Name: "Host"})
	require.NoError(t, err)

	assert.ErrorIs(t, u.ConnectWallet("  ", time.Now()), ErrWalletRequired)

	later := time.Date(2026, time.October, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, u.ConnectWallet("acct_123", later))
	assert.True(t, u.CanReceivePayments())
	assert.Equal(t, later, u.UpdatedAt)

	u.DisconnectWallet(later.Add(time.Hour))
	assert.False(t, u.CanReceivePayments())
}

func TestCloneCopiesBookings(t *testing.T) {
	u := &User{ID: "u", Bookings: []string{"b-1"}}
	c := u.Clone()
	c.Bookings[0] = "changed"
	assert.Equal(t, "b-1", u.Bookings[0])
}
