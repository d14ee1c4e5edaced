package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	"staybook/internal/app/middleware"
	"staybook/internal/app/policies"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	domainuser "staybook/internal/domain/user"
	"staybook/internal/pkg/apperror"
)

const createBookingKey = "booking.create"

type CreateBookingCommand struct {
	ListingID       string
	TenantID        string
	CheckIn         string
	CheckOut        string
	Source          string
	IdempotencyKeyV string
}

func (c CreateBookingCommand) Key() string { return createBookingKey }

func (c CreateBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c CreateBookingCommand) ResultPrototype() any { return &dto.Booking{} }

func (c CreateBookingCommand) IdempotencyScope() string { return strings.TrimSpace(c.TenantID) }

func (c CreateBookingCommand) IdempotencyFingerprint() string {
	return strings.Join([]string{
		strings.TrimSpace(c.ListingID),
		strings.TrimSpace(c.CheckIn),
		strings.TrimSpace(c.CheckOut),
		strings.TrimSpace(c.Source),
	}, "|")
}

// CreateBookingHandler turns a request into a commit and every failure into an
// apperror.AppError the HTTP layer can render as is.
type CreateBookingHandler struct {
	Committer *Committer
	Logger    *slog.Logger
	IDs       func() string
}

func (h *CreateBookingHandler) Handle(ctx context.Context, cmd CreateBookingCommand) (*dto.Booking, error) {
	req, err := h.parse(cmd)
	if err != nil {
		return nil, err
	}
	outcome, err := h.Committer.Commit(ctx, req)
	if err != nil {
		return nil, h.resolve(err, req)
	}
	result := dto.MapBooking(outcome.Booking)
	return &result, nil
}

func (h *CreateBookingHandler) parse(cmd CreateBookingCommand) (CommitRequest, error) {
	tenant := strings.TrimSpace(cmd.TenantID)
	if tenant == "" {
		return CommitRequest{}, apperror.Wrap(domainbooking.ErrUnauthenticated, http.StatusUnauthorized, "authentication required")
	}
	listingID := strings.TrimSpace(cmd.ListingID)
	if listingID == "" {
		return CommitRequest{}, invalid("listing_id is required")
	}
	checkIn, err := daterange.ParseDay(cmd.CheckIn)
	if err != nil {
		return CommitRequest{}, invalid("check_in must be a date in YYYY-MM-DD format")
	}
	checkOut, err := daterange.ParseDay(cmd.CheckOut)
	if err != nil {
		return CommitRequest{}, invalid("check_out must be a date in YYYY-MM-DD format")
	}
	source := strings.TrimSpace(cmd.Source)
	if source == "" {
		return CommitRequest{}, invalid("payment source is required")
	}
	return CommitRequest{
		BookingID: domainbooking.BookingID(h.nextID()),
		ListingID: domainlistings.ListingID(listingID),
		TenantID:  domainuser.ID(tenant),
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		Source:    source,
	}, nil
}

// resolve maps commit failures to caller-facing errors. Inconsistent is checked first
// because it wraps the persistence cause, which may itself be a rule violation.
func (h *CreateBookingHandler) resolve(err error, req CommitRequest) error {
	switch {
	case errors.Is(err, domainbooking.ErrInconsistent):
		return apperror.Wrap(err, http.StatusInternalServerError,
			"payment was taken but the booking could not be saved; support has been notified")
	case errors.Is(err, domainbooking.ErrUnauthenticated):
		return apperror.Wrap(err, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, domainbooking.ErrSelfBooking):
		return apperror.Wrap(err, http.StatusForbidden, "you cannot book your own listing")
	case errors.Is(err, domainbooking.ErrHostNotPayable):
		return apperror.Wrap(err, http.StatusUnprocessableEntity, "the host cannot accept payments yet")
	case errors.Is(err, domainbooking.ErrWindowExceeded):
		return apperror.Wrap(err, http.StatusUnprocessableEntity,
			fmt.Sprintf("bookings can be made at most %d days in advance", h.Committer.Validator.Window()))
	case errors.Is(err, domainbooking.ErrInvertedRange):
		return apperror.Wrap(err, http.StatusBadRequest, "check-out date must not be before check-in date")
	case errors.Is(err, domainbooking.ErrDateConflict):
		return apperror.Wrap(err, http.StatusConflict, "the selected dates are not available")
	case errors.Is(err, domainbooking.ErrGateway):
		var chargeErr *policies.ChargeError
		if errors.As(err, &chargeErr) && chargeErr.Message != "" {
			return apperror.Wrap(err, http.StatusPaymentRequired, chargeErr.Message)
		}
		return apperror.Wrap(err, http.StatusPaymentRequired, "the payment could not be processed")
	case errors.Is(err, domainbooking.ErrNotFound):
		if errors.Is(err, domainuser.ErrNotFound) {
			return apperror.Wrap(err, http.StatusNotFound, "listing host not found")
		}
		return apperror.Wrap(err, http.StatusNotFound, "listing not found")
	case errors.Is(err, domainbooking.ErrListingBusy):
		return apperror.Wrap(err, http.StatusServiceUnavailable, "the listing is busy, please retry")
	}
	if h.Logger != nil {
		h.Logger.Error("create booking failed", "booking_id", req.BookingID, "listing_id", req.ListingID, "error", err)
	}
	return apperror.Wrap(err, http.StatusInternalServerError, "internal error")
}

func (h *CreateBookingHandler) nextID() string {
	if h.IDs != nil {
		return h.IDs()
	}
	return uuid.NewString()
}

// finalKinds are outcomes decided by the request itself; retrying cannot change them.
var finalKinds = []error{
	domainbooking.ErrGateway,
	domainbooking.ErrInconsistent,
	domainbooking.ErrUnauthenticated,
	domainbooking.ErrSelfBooking,
	domainbooking.ErrHostNotPayable,
	domainbooking.ErrWindowExceeded,
	domainbooking.ErrInvertedRange,
	domainbooking.ErrDateConflict,
	domainbooking.ErrNotFound,
	domainbooking.ErrInvalidRequest,
}

// IsTransient reports create-booking failures worth retrying under the same idempotency key.
// Anything that reached the gateway is final; so is every rule violation. Infrastructure
// failures before the charge (lock, load, timeouts) are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range finalKinds {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}

func invalid(message string) error {
	return apperror.Wrap(domainbooking.ErrInvalidRequest, http.StatusBadRequest, message)
}

var _ commands.Handler[CreateBookingCommand, *dto.Booking] = (*CreateBookingHandler)(nil)
var (
	_ middleware.IdempotentCommand    = CreateBookingCommand{}
	_ middleware.ScopedCommand        = CreateBookingCommand{}
	_ middleware.FingerprintedCommand = CreateBookingCommand{}
)
