package ginserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	availabilityapp "staybook/internal/app/handlers/availability"
	bookingapp "staybook/internal/app/handlers/booking"
	meapp "staybook/internal/app/handlers/me"
	"staybook/internal/app/middleware"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	domainuser "staybook/internal/domain/user"
	"staybook/internal/infra/obs"
	"staybook/internal/infra/payments"
	"staybook/internal/infra/storage/memory"
)

const testSecret = "test-secret"

type testApp struct {
	router  *gin.Engine
	sandbox *payments.Sandbox
	outbox  *memory.Outbox
}

func newTestApp(t *testing.T, probes map[string]obs.Probe) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := memory.NewStore()
	unit, err := store.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, unit.Listings().Save(ctx, &domainlistings.Listing{
		ID: "listing-1", Host: "host-1", Title: "Loft", City: "Lisbon", PricePerDay: 120, Currency: "EUR",
	}))
	require.NoError(t, unit.Users().Save(ctx, &domainuser.User{ID: "host-1", Name: "Ana", WalletID: "acct_ana"}))
	require.NoError(t, unit.Users().Save(ctx, &domainuser.User{ID: "guest-1", Name: "Bo"}))
	require.NoError(t, unit.Users().Save(ctx, &domainuser.User{ID: "guest-2", Name: "Cy"}))
	require.NoError(t, unit.Commit(ctx))

	sandbox := payments.NewSandbox()
	box := memory.NewOutbox()
	committer := &bookingapp.Committer{
		Units:     store,
		Locker:    memory.NewListingLocker(),
		Gateway:   sandbox,
		Validator: domainbooking.Validator{WindowDays: 90},
		Outbox:    box,
	}

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler[bookingapp.CreateBookingCommand, *dto.Booking](commandBus,
		bookingapp.CreateBookingCommand{}.Key(), &bookingapp.CreateBookingHandler{Committer: committer})
	wallets := &meapp.WalletHandler{}
	commands.RegisterHandler[meapp.ConnectWalletCommand, dto.Wallet](commandBus,
		meapp.ConnectWalletCommand{}.Key(), commands.HandlerFunc[meapp.ConnectWalletCommand, dto.Wallet](wallets.Connect))
	commands.RegisterHandler[meapp.DisconnectWalletCommand, dto.Wallet](commandBus,
		meapp.DisconnectWalletCommand{}.Key(), commands.HandlerFunc[meapp.DisconnectWalletCommand, dto.Wallet](wallets.Disconnect))
	cmdBus := middleware.ChainCommands(commandBus,
		middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), middleware.IdempotencyOptions{Transient: bookingapp.IsTransient}),
		middleware.Transaction(store, nil),
		middleware.OutboxFlush(box, nil),
	)

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler[availabilityapp.GetCalendarQuery, dto.Calendar](queryBus,
		availabilityapp.GetCalendarQuery{}.Key(), &availabilityapp.GetCalendarHandler{UoWFactory: store, WindowDays: 90})
	queries.RegisterHandler[meapp.ListTenantBookingsQuery, dto.TenantBookingCollection](queryBus,
		meapp.ListTenantBookingsQuery{}.Key(), &meapp.ListTenantBookingsHandler{UoWFactory: store})

	auth := AuthMiddleware{Verifier: NewTokenVerifier(testSecret)}
	router := NewRouter(obs.Middleware{}, obs.HealthHandlers{Probes: probes}, Handlers{
		Booking:        BookingHandler{Commands: cmdBus},
		Availability:   AvailabilityHandler{Queries: queryBus},
		Me:             MeHandler{Queries: queryBus, Commands: cmdBus},
		AuthMiddleware: auth.Handle,
	})
	return &testApp{router: router, sandbox: sandbox, outbox: box}
}

func token(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := Claims{
		UserID: sub,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (a *testApp) do(t *testing.T, method, path, bearer, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func inDays(n int) string {
	return daterange.DayOf(time.Now()).AddDays(n).String()
}

func bookingBody(in, out int) string {
	return `{"listing_id":"listing-1","check_in":"` + inDays(in) + `","check_out":"` + inDays(out) + `","source":"tok_visa"}`
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCreateBookingEndpoint(t *testing.T) {
	app := newTestApp(t, nil)
	guest := token(t, testSecret, "guest-1")

	rec := app.do(t, http.MethodPost, "/api/v1/bookings", guest, bookingBody(2, 5), map[string]string{obs.RequestIDHeader: "req-abc"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "req-abc", rec.Header().Get(obs.RequestIDHeader))
	var booking dto.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, "guest-1", booking.TenantID)
	assert.Equal(t, 3, booking.Nights)
	assert.Equal(t, dto.MoneyDTO{Amount: 360, Currency: "EUR"}, booking.Total)
	assert.Len(t, app.sandbox.Charges(), 1)
	delivered := app.outbox.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "booking.created", delivered[0].Name)
	assert.Equal(t, "req-abc", delivered[0].Headers[appoutbox.CorrelationHeader])

	rec = app.do(t, http.MethodPost, "/api/v1/bookings", guest, bookingBody(4, 6), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "the selected dates are not available", errorMessage(t, rec))
	assert.Len(t, app.sandbox.Charges(), 1)
}

func TestCreateBookingEndpointFailures(t *testing.T) {
	cases := []struct {
		name   string
		bearer func(t *testing.T) string
		body   string
		status int
	}{
		{name: "anonymous", bearer: func(*testing.T) string { return "" }, body: bookingBody(1, 2), status: http.StatusUnauthorized},
		{name: "wrong secret", bearer: func(t *testing.T) string { return token(t, "other", "guest-1") }, body: bookingBody(1, 2), status: http.StatusUnauthorized},
		{name: "malformed body", bearer: func(t *testing.T) string { return token(t, testSecret, "guest-1") }, body: `{"listing_id":`, status: http.StatusBadRequest},
		{name: "own listing", bearer: func(t *testing.T) string { return token(t, testSecret, "host-1") }, body: bookingBody(1, 2), status: http.StatusForbidden},
		{name: "declined", bearer: func(t *testing.T) string { return token(t, testSecret, "guest-1") },
			body:   `{"listing_id":"listing-1","check_in":"` + inDays(1) + `","check_out":"` + inDays(2) + `","source":"` + payments.SourceDecline + `"}`,
			status: http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, nil)
			rec := app.do(t, http.MethodPost, "/api/v1/bookings", tc.bearer(t), tc.body, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, errorMessage(t, rec))
		})
	}
}

func TestCreateBookingEndpointReplaysIdempotencyKey(t *testing.T) {
	app := newTestApp(t, nil)
	guest := token(t, testSecret, "guest-1")
	headers := map[string]string{"Idempotency-Key": "req-1"}

	first := app.do(t, http.MethodPost, "/api/v1/bookings", guest, bookingBody(1, 3), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := app.do(t, http.MethodPost, "/api/v1/bookings", guest, bookingBody(1, 3), headers)
	require.Equal(t, http.StatusCreated, second.Code)

	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, app.sandbox.Charges(), 1)
}

func TestCreateBookingEndpointIdempotencyKeyBelongsToCaller(t *testing.T) {
	app := newTestApp(t, nil)
	first := token(t, testSecret, "guest-1")
	second := token(t, testSecret, "guest-2")
	headers := map[string]string{"Idempotency-Key": "shared-key"}

	rec := app.do(t, http.MethodPost, "/api/v1/bookings", first, bookingBody(1, 3), headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/v1/bookings", second, bookingBody(5, 7), headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking dto.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, "guest-2", booking.TenantID)
	assert.Equal(t, inDays(5), booking.CheckIn)

	rec = app.do(t, http.MethodPost, "/api/v1/bookings", first, bookingBody(10, 12), headers)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, app.sandbox.Charges(), 2)
}

func TestCalendarEndpoint(t *testing.T) {
	app := newTestApp(t, nil)
	guest := token(t, testSecret, "guest-1")
	require.Equal(t, http.StatusCreated, app.do(t, http.MethodPost, "/api/v1/bookings", guest, bookingBody(1, 2), nil).Code)

	rec := app.do(t, http.MethodGet, "/api/v1/listings/listing-1/calendar?from="+inDays(0)+"&to="+inDays(10), "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cal dto.Calendar
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cal))
	assert.Equal(t, []string{inDays(1), inDays(2)}, cal.Reserved)

	rec = app.do(t, http.MethodGet, "/api/v1/listings/missing/calendar", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = app.do(t, http.MethodGet, "/api/v1/listings/listing-1/calendar?from=tomorrow", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeEndpoints(t *testing.T) {
	app := newTestApp(t, nil)
	guest := token(t, testSecret, "guest-1")

	rec := app.do(t, http.MethodGet, "/api/v1/me/bookings", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Equal(t, http.StatusCreated, app.do(t, http.MethodPost, "/api/v1/bookings", guest, bookingBody(3, 4), nil).Code)
	rec = app.do(t, http.MethodGet, "/api/v1/me/bookings", guest, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list dto.TenantBookingCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Loft", list.Items[0].Listing.Title)

	rec = app.do(t, http.MethodPost, "/api/v1/me/wallet", guest, `{"wallet_id":"acct_bo"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var wallet dto.Wallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wallet))
	assert.True(t, wallet.CanReceivePayments)

	rec = app.do(t, http.MethodDelete, "/api/v1/me/wallet", guest, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wallet))
	assert.False(t, wallet.CanReceivePayments)

	rec = app.do(t, http.MethodPost, "/api/v1/me/wallet", guest, `{"wallet_id":" "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	app := newTestApp(t, map[string]obs.Probe{
		"mongo": func(context.Context) error { return errors.New("no primary") },
	})
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/livez", "", "", nil).Code)
	rec := app.do(t, http.MethodGet, "/readyz", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "mongo: no primary")

	rec = app.do(t, http.MethodGet, "/docs/openapi.json", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))
	rec = app.do(t, http.MethodGet, "/docs", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `url: "/docs/openapi.json"`)
}

func TestTokenVerifierRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{UserID: "guest-1"}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenVerifier(testSecret).ParseAndValidate(signed)
	assert.Error(t, err)

	parsed, err := NewTokenVerifier(testSecret).ParseAndValidate(token(t, testSecret, "guest-1"))
	require.NoError(t, err)
	assert.Equal(t, "guest-1", parsed.UserID)
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer  abc "))
	assert.Empty(t, extractBearerToken("Basic abc"))
	assert.Empty(t, extractBearerToken(""))
}
