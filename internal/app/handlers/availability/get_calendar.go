package availability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"staybook/internal/app/dto"
	handlersupport "staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/pkg/apperror"
)

const getCalendarKey = "availability.calendar"

// GetCalendarQuery asks for the reserved days of a listing in [From, To]. Empty bounds
// default to today and today plus the booking window.
type GetCalendarQuery struct {
	ListingID string
	From      string
	To        string
}

func (q GetCalendarQuery) Key() string { return getCalendarKey }

type GetCalendarHandler struct {
	UoWFactory uow.UoWFactory
	WindowDays int
	Now        func() time.Time
}

func (h *GetCalendarHandler) Handle(ctx context.Context, q GetCalendarQuery) (dto.Calendar, error) {
	listingID := strings.TrimSpace(q.ListingID)
	if listingID == "" {
		return dto.Calendar{}, apperror.New(http.StatusBadRequest, "listing id is required")
	}
	from, to, err := h.window(q)
	if err != nil {
		return dto.Calendar{}, err
	}

	unit, execCtx, cleanup, err := handlersupport.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return dto.Calendar{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	listing, err := unit.Listings().ByID(execCtx, domainlistings.ListingID(listingID))
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			return dto.Calendar{}, apperror.Wrap(err, http.StatusNotFound, "listing not found")
		}
		return dto.Calendar{}, err
	}
	return dto.MapCalendar(listingID, from, to, listing.Availability.Between(from, to)), nil
}

func (h *GetCalendarHandler) window(q GetCalendarQuery) (daterange.Day, daterange.Day, error) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	span := h.WindowDays
	if span <= 0 {
		span = domainbooking.DefaultWindowDays
	}
	from := daterange.DayOf(now())
	if strings.TrimSpace(q.From) != "" {
		d, err := daterange.ParseDay(q.From)
		if err != nil {
			return 0, 0, apperror.Wrap(err, http.StatusBadRequest, "from must be a date in YYYY-MM-DD format")
		}
		from = d
	}
	to := from.AddDays(span)
	if strings.TrimSpace(q.To) != "" {
		d, err := daterange.ParseDay(q.To)
		if err != nil {
			return 0, 0, apperror.Wrap(err, http.StatusBadRequest, "to must be a date in YYYY-MM-DD format")
		}
		to = d
	}
	if to < from {
		return 0, 0, apperror.New(http.StatusBadRequest, "to must not be before from")
	}
	return from, to, nil
}

var _ queries.Handler[GetCalendarQuery, dto.Calendar] = (*GetCalendarHandler)(nil)
